package av

import (
	"errors"
	"fmt"

	"github.com/opd-ai/toxecho/transport"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Signaling errors.
var (
	// ErrUnknownCallState indicates a call state bitmask with bits outside
	// the known set. The event is dropped without touching the session.
	ErrUnknownCallState = fmt.Errorf("unknown call state bits: %w", transport.ErrProtocolViolation)
)

// Capture errors.
var (
	// ErrCaptureRunning indicates Start was called on running workers.
	ErrCaptureRunning = errors.New("capture already running")

	// ErrSourceClosed is returned by a source that has no more frames.
	// Workers stop quietly when they see it.
	ErrSourceClosed = errors.New("media source closed")
)
