package savedata

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/toxecho/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, passphrase string) (*Store, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.data")
	return NewStore(path, path+".tmp", passphrase, nil), path
}

func TestSaveLoadPlain(t *testing.T) {
	store, path := newTestStore(t, "")
	blob := []byte(`{"friends":{}}`)

	require.NoError(t, store.Save(blob))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, blob, raw)
	assert.NoFileExists(t, path+".tmp")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)
}

func TestSaveLoadEncrypted(t *testing.T) {
	store, path := newTestStore(t, "correct horse")
	blob := []byte("session blob")

	require.NoError(t, store.Save(blob))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, IsEncrypted(raw))
	assert.NotContains(t, string(raw), "session blob")

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, blob, loaded)

	wrong := NewStore(path, path+".tmp", "battery staple", nil)
	_, err = wrong.Load()
	assert.ErrorIs(t, err, ErrDecrypt)

	none := NewStore(path, path+".tmp", "", nil)
	_, err = none.Load()
	assert.ErrorIs(t, err, ErrPassphraseRequired)
}

func TestSaveReplacesPrevious(t *testing.T) {
	store, _ := newTestStore(t, "")
	require.NoError(t, store.Save([]byte("first")))
	require.NoError(t, store.Save([]byte("second")))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "second", string(loaded))
}

func TestSaveFailureKeepsCanonicalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bot.data")
	m := metrics.Discard()

	good := NewStore(path, path+".tmp", "", m)
	require.NoError(t, good.Save([]byte("good")))

	// tmp path inside a missing directory cannot be opened
	bad := NewStore(path, filepath.Join(dir, "missing", "bot.tmp"), "", m)
	assert.Error(t, bad.Save([]byte("bad")))

	loaded, err := good.Load()
	require.NoError(t, err)
	assert.Equal(t, "good", string(loaded))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.Saves.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Saves.WithLabelValues("error")))
}

func TestLoadMissingFile(t *testing.T) {
	store, _ := newTestStore(t, "")
	data, err := store.Load()
	assert.NoError(t, err)
	assert.Nil(t, data)
}

func TestDecryptRejectsDamage(t *testing.T) {
	sealed, err := Encrypt([]byte("payload"), "pw")
	require.NoError(t, err)

	_, err = Decrypt(sealed[:headerSize], "pw")
	assert.ErrorIs(t, err, ErrTruncated)

	flipped := append([]byte(nil), sealed...)
	flipped[len(flipped)-1] ^= 0xFF
	_, err = Decrypt(flipped, "pw")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = Decrypt([]byte("plain"), "pw")
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestEncryptUsesFreshSalt(t *testing.T) {
	a, err := Encrypt([]byte("same"), "pw")
	require.NoError(t, err)
	b, err := Encrypt([]byte("same"), "pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
