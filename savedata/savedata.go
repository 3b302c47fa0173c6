// Package savedata persists the transport's session blob.
//
// The blob is opaque to the bot. Store writes it to a temporary path and
// renames it over the canonical path, so a crash never leaves a truncated
// file under the canonical name. With a passphrase the blob is sealed with
// NaCl secretbox under a PBKDF2-SHA256 key:
//
//	"TOXECHO1" | salt (32 bytes) | nonce (24 bytes) | secretbox
//
// Connection, transfer and call state is never part of the blob.
package savedata

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"os"

	"github.com/minio/sha256-simd"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// Magic prefixes every encrypted blob.
	Magic = "TOXECHO1"
	// SaltSize is the size of the PBKDF2 salt.
	SaltSize = 32
	// NonceSize is the secretbox nonce size.
	NonceSize = 24
	// KeySize is the secretbox key size.
	KeySize = 32
	// PBKDF2Iterations is the number of iterations for key derivation (NIST recommendation)
	PBKDF2Iterations = 100000

	headerSize = len(Magic) + SaltSize + NonceSize
)

var (
	// ErrPassphraseRequired indicates an encrypted blob was loaded without
	// a passphrase.
	ErrPassphraseRequired = errors.New("save data is encrypted, passphrase required")

	// ErrDecrypt indicates a wrong passphrase or a corrupted blob.
	ErrDecrypt = errors.New("save data decryption failed")

	// ErrTruncated indicates an encrypted blob shorter than its header.
	ErrTruncated = errors.New("save data truncated")
)

// IsEncrypted reports whether data starts with the encryption magic.
func IsEncrypted(data []byte) bool {
	return bytes.HasPrefix(data, []byte(Magic))
}

func deriveKey(passphrase string, salt []byte) *[KeySize]byte {
	var key [KeySize]byte
	copy(key[:], pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KeySize, sha256.New))
	return &key
}

// Encrypt seals data under passphrase with a fresh salt and nonce.
func Encrypt(data []byte, passphrase string) ([]byte, error) {
	out := make([]byte, headerSize, headerSize+len(data)+secretbox.Overhead)
	copy(out, Magic)

	salt := out[len(Magic) : len(Magic)+SaltSize]
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	copy(out[len(Magic)+SaltSize:], nonce[:])

	return secretbox.Seal(out, data, &nonce, deriveKey(passphrase, salt)), nil
}

// Decrypt opens a blob produced by Encrypt.
func Decrypt(data []byte, passphrase string) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, fmt.Errorf("%w: missing magic", ErrDecrypt)
	}
	if len(data) < headerSize+secretbox.Overhead {
		return nil, ErrTruncated
	}

	salt := data[len(Magic) : len(Magic)+SaltSize]
	var nonce [NonceSize]byte
	copy(nonce[:], data[len(Magic)+SaltSize:headerSize])

	plain, ok := secretbox.Open(nil, data[headerSize:], &nonce, deriveKey(passphrase, salt))
	if !ok {
		return nil, ErrDecrypt
	}
	return plain, nil
}

// Store reads and writes the save file.
type Store struct {
	path       string
	tmpPath    string
	passphrase string
	metrics    *metrics.Metrics
}

// NewStore creates a store writing through tmpPath into path. An empty
// passphrase stores the blob as-is.
func NewStore(path, tmpPath, passphrase string, m *metrics.Metrics) *Store {
	return &Store{
		path:       path,
		tmpPath:    tmpPath,
		passphrase: passphrase,
		metrics:    metrics.Or(m),
	}
}

// Path returns the canonical save path.
func (s *Store) Path() string {
	return s.path
}

// Save writes data atomically.
func (s *Store) Save(data []byte) error {
	err := s.save(data)

	result := "ok"
	if err != nil {
		result = "error"
	}
	s.metrics.Saves.WithLabelValues(result).Inc()

	fields := logrus.Fields{
		"function":  "Save",
		"path":      s.path,
		"bytes":     len(data),
		"encrypted": s.passphrase != "",
	}
	if err != nil {
		logrus.WithFields(fields).WithError(err).Error("Failed to save data")
		return err
	}
	logrus.WithFields(fields).Debug("Save data written")
	return nil
}

func (s *Store) save(data []byte) error {
	if s.passphrase != "" {
		sealed, err := Encrypt(data, s.passphrase)
		if err != nil {
			return err
		}
		data = sealed
	}

	f, err := os.OpenFile(s.tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.tmpPath, err)
	}

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to write %s: %w", s.tmpPath, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to sync %s: %w", s.tmpPath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to close %s: %w", s.tmpPath, err)
	}

	if err := os.Rename(s.tmpPath, s.path); err != nil {
		os.Remove(s.tmpPath)
		return fmt.Errorf("failed to rename %s to %s: %w", s.tmpPath, s.path, err)
	}
	return nil
}

// Load reads the save file. A missing file returns nil data and no error so
// the bot starts with a fresh identity.
func (s *Store) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		logrus.WithFields(logrus.Fields{
			"function": "Load",
			"path":     s.path,
		}).Info("No save file, starting fresh")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}

	if !IsEncrypted(data) {
		return data, nil
	}
	if s.passphrase == "" {
		return nil, ErrPassphraseRequired
	}
	return Decrypt(data, s.passphrase)
}
