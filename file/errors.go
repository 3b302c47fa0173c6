package file

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxecho/transport"
)

// Protocol errors. The offending event is abandoned.
var (
	// ErrUnknownKind indicates a file offer whose kind is neither data nor avatar.
	ErrUnknownKind = fmt.Errorf("unknown file kind: %w", transport.ErrProtocolViolation)

	// ErrUnknownControl indicates a control command outside resume, pause and cancel.
	ErrUnknownControl = fmt.Errorf("unknown file control: %w", transport.ErrProtocolViolation)

	// ErrOversizedChunk indicates an incoming chunk above limits.MaxChunkSize.
	// The transfer is aborted.
	ErrOversizedChunk = fmt.Errorf("oversized chunk: %w", transport.ErrProtocolViolation)
)

// ErrResource wraps local file open, seek, read, write and close failures.
// Only the affected transfer is aborted.
var ErrResource = errors.New("file resource error")
