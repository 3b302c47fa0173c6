// Package limits provides the size and count limits shared by the echo bot's
// components. Keeping them in one place keeps admission, chunk I/O and
// message echoing consistent with each other.
package limits

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// MaxMessageLength is the Tox protocol limit for one text message (1372 bytes).
	MaxMessageLength = 1372

	// MaxNameLength is the Tox protocol limit for the node's name.
	MaxNameLength = 128

	// MaxStatusMessageLength is the Tox protocol limit for the status message.
	MaxStatusMessageLength = 1007

	// MaxFileNameLength is the longest file name a peer may announce.
	// The value (255) matches typical filesystem limits.
	MaxFileNameLength = 255

	// MaxChunkSize bounds a single chunk read or write so a misbehaving peer
	// cannot make the bot allocate arbitrary buffers.
	MaxChunkSize = 65536

	// DefaultMaxTransfersPerPeer is the number of concurrent transfers, in
	// both directions, one peer may hold before new offers are rejected.
	DefaultMaxTransfersPerPeer = 20
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a message exceeds MaxMessageLength.
	ErrMessageTooLarge = errors.New("message too large")

	// ErrFileNameTooLong indicates a file name exceeds MaxFileNameLength.
	ErrFileNameTooLong = errors.New("file name too long")

	// ErrChunkTooLarge indicates a chunk exceeds MaxChunkSize.
	ErrChunkTooLarge = errors.New("chunk size exceeds maximum allowed")

	// ErrDirectoryTraversal indicates a name that would escape its directory.
	ErrDirectoryTraversal = errors.New("path contains directory traversal")
)

// ValidateMessage checks a text message against MaxMessageLength.
func ValidateMessage(message string) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > MaxMessageLength {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrMessageTooLarge, len(message), MaxMessageLength)
	}
	return nil
}

// ValidateChunk checks a chunk length against MaxChunkSize.
func ValidateChunk(length int) error {
	if length > MaxChunkSize {
		return fmt.Errorf("%w: %d > %d", ErrChunkTooLarge, length, MaxChunkSize)
	}
	return nil
}

// SanitizeFileName reduces a peer-supplied name to a single safe path element.
// Directory components are stripped; names that still point outside their
// directory are rejected.
func SanitizeFileName(name string) (string, error) {
	if len(name) > MaxFileNameLength {
		return "", fmt.Errorf("%w: %d bytes", ErrFileNameTooLong, len(name))
	}

	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/")))
	if base == "/" || base == "." || base == ".." || strings.Contains(base, "..") {
		return "", ErrDirectoryTraversal
	}
	return base, nil
}
