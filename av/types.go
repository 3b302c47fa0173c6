package av

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is where a call session is in its lifecycle.
type SessionState uint8

const (
	// SessionRinging is a call that has been offered and is being answered.
	SessionRinging SessionState = iota
	// SessionActive is an answered call.
	SessionActive
	// SessionEnded is a finished or failed call. Ended sessions are removed
	// from the manager immediately.
	SessionEnded
)

// String returns a human readable state name.
func (s SessionState) String() string {
	switch s {
	case SessionRinging:
		return "ringing"
	case SessionActive:
		return "active"
	case SessionEnded:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Call represents one call session with a friend.
//
// The enabled flags are read by media workers while the driver goroutine
// updates them, so every accessor takes the read lock.
type Call struct {
	friendNumber uint32
	sessionID    uuid.UUID
	state        SessionState
	audioEnabled bool
	videoEnabled bool

	audioBitRate uint32
	videoBitRate uint32

	startTime time.Time

	mu sync.RWMutex
}

// NewCall creates a ringing session for the specified friend.
func NewCall(friendNumber uint32, audioEnabled, videoEnabled bool) *Call {
	return &Call{
		friendNumber: friendNumber,
		sessionID:    uuid.New(),
		state:        SessionRinging,
		audioEnabled: audioEnabled,
		videoEnabled: videoEnabled,
		startTime:    time.Now(),
	}
}

// GetFriendNumber returns the friend number associated with this call.
func (c *Call) GetFriendNumber() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.friendNumber
}

// GetSessionID returns the id used to correlate this session in logs.
func (c *Call) GetSessionID() uuid.UUID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// GetState returns the current session state.
func (c *Call) GetState() SessionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Call) setState(state SessionState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// IsAudioEnabled reports whether audio should be sent to the friend.
func (c *Call) IsAudioEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.audioEnabled
}

// IsVideoEnabled reports whether video should be sent to the friend.
func (c *Call) IsVideoEnabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.videoEnabled
}

// enable sets the flags named by audio and video. Flags are never cleared
// within a session.
func (c *Call) enable(audio, video bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioEnabled = c.audioEnabled || audio
	c.videoEnabled = c.videoEnabled || video
}

// GetBitRates returns the bit rates the call was answered with, in kbit/s.
func (c *Call) GetBitRates() (audio, video uint32) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.audioBitRate, c.videoBitRate
}

func (c *Call) setBitRates(audio, video uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioBitRate = audio
	c.videoBitRate = video
}

// GetStartTime returns when the call was offered.
func (c *Call) GetStartTime() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.startTime
}
