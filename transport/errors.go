package transport

import "errors"

// Error classes shared by every package that talks to a Transport.
// Package-specific sentinels wrap one of these so callers can classify
// failures with errors.Is.
var (
	// ErrProtocolViolation marks a peer or transport breaking an assumption
	// about kinds, controls or bitmasks. The triggering path is abandoned.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrTransport marks a command the transport refused. Such commands are
	// dropped; retrying is the transport's business.
	ErrTransport = errors.New("transport command failed")
)

// Errors returned by transport implementations.
var (
	// ErrFriendNotFound indicates the friend number is not known.
	ErrFriendNotFound = errors.New("friend not found")

	// ErrFriendNotConnected indicates the friend is offline.
	ErrFriendNotConnected = errors.New("friend not connected")

	// ErrFileNotFound indicates the transfer number is not known.
	ErrFileNotFound = errors.New("file transfer not found")

	// ErrNoCall indicates there is no call with the friend. Media senders
	// treat it as a dropped frame.
	ErrNoCall = errors.New("friend not in call")

	// ErrKilled indicates the transport was already released.
	ErrKilled = errors.New("transport killed")
)
