package file

import (
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/opd-ai/toxecho/limits"
	"github.com/opd-ai/toxecho/transport"
)

// TransferDirection indicates whether a transfer is incoming or outgoing.
type TransferDirection uint8

const (
	// TransferDirectionIncoming represents a file being received.
	TransferDirectionIncoming TransferDirection = iota
	// TransferDirectionOutgoing represents a file being sent.
	TransferDirectionOutgoing
)

// String returns the label used in logs and metrics.
func (d TransferDirection) String() string {
	if d == TransferDirectionOutgoing {
		return "outgoing"
	}
	return "incoming"
}

// transferKey uniquely identifies a file transfer. Transfer numbers are
// scoped to a friend and reused by the transport once a transfer ends.
type transferKey struct {
	friendID uint32
	fileID   uint32
}

// Transfer is one open chunked transfer and its file handle.
type Transfer struct {
	FriendID  uint32
	FileID    uint32
	Direction TransferDirection
	Kind      transport.FileKind
	FileSize  uint64
	// Position is the byte offset of the handle's cursor.
	Position uint64
	// ID is the 32 byte content id announced by the sender.
	ID        []byte
	FileName  string
	Path      string
	StartTime time.Time

	handle *os.File
}

// HexID returns the content id as lower-case hex.
func (t *Transfer) HexID() string {
	return hex.EncodeToString(t.ID)
}

// seek moves the cursor to position when it diverges from the tracked one.
// Peers may deliver or request chunks out of order.
func (t *Transfer) seek(position uint64) error {
	if position == t.Position {
		return nil
	}
	if position > math.MaxInt64 {
		return fmt.Errorf("%w: position %d out of range", ErrResource, position)
	}
	if _, err := t.handle.Seek(int64(position), io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek %s: %w", ErrResource, t.Path, err)
	}
	t.Position = position
	return nil
}

// writeAt writes data at position and advances the cursor.
func (t *Transfer) writeAt(position uint64, data []byte) error {
	if err := t.seek(position); err != nil {
		return err
	}
	n, err := t.handle.Write(data)
	t.Position += uint64(n)
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrResource, t.Path, err)
	}
	return nil
}

// readAt reads up to length bytes at position and advances the cursor.
// A short read at end of file is not an error.
func (t *Transfer) readAt(position uint64, length int) ([]byte, error) {
	if length > limits.MaxChunkSize {
		length = limits.MaxChunkSize
	}
	if err := t.seek(position); err != nil {
		return nil, err
	}

	buf := make([]byte, length)
	n, err := io.ReadFull(t.handle, buf)
	t.Position += uint64(n)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("%w: read %s: %w", ErrResource, t.Path, err)
	}
	return buf[:n], nil
}

// finished reports whether an incoming transfer has run past its size.
func (t *Transfer) finished() bool {
	return t.Position > t.FileSize
}

func (t *Transfer) close() error {
	if t.handle == nil {
		return nil
	}
	err := t.handle.Close()
	t.handle = nil
	if err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrResource, t.Path, err)
	}
	return nil
}
