package av

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/toxecho/config"
	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
)

// Config is the call answering policy.
type Config struct {
	AcceptCalls bool
	// Bit rates, in kbit/s, every call is answered with.
	AudioBitRate uint32
	VideoBitRate uint32
	// EchoMedia sends received frames back to the caller.
	EchoMedia bool
}

// ConfigFromOptions builds the answering policy from bot options.
func ConfigFromOptions(o *config.Options) Config {
	return Config{
		AcceptCalls:  o.AcceptCalls,
		AudioBitRate: o.AudioBitRate,
		VideoBitRate: o.VideoBitRate,
		EchoMedia:    o.EchoMedia,
	}
}

// Worker is a media pipeline the manager runs while at least one session
// exists. Capture is the production implementation.
type Worker interface {
	Start() error
	Stop() error
}

// Manager owns every call session, keyed by friend number.
//
// Signaling events arrive on the driver goroutine. Media workers only read
// flags through IsAudioEnabled, IsVideoEnabled and Friends.
type Manager struct {
	transport transport.Transport
	config    Config
	metrics   *metrics.Metrics

	mu    sync.RWMutex
	calls map[uint32]*Call
	// capturing is true between the first session starting and the last one
	// ending. It makes the stop signal fire exactly once per period.
	capturing bool
	// closed refuses new calls once Close has started.
	closed  bool
	worker  Worker
	stopped []func()
}

// NewManager creates a call manager issuing commands through t.
func NewManager(t transport.Transport, cfg Config, m *metrics.Metrics) *Manager {
	logrus.WithFields(logrus.Fields{
		"function":       "NewManager",
		"accept_calls":   cfg.AcceptCalls,
		"audio_bit_rate": cfg.AudioBitRate,
		"video_bit_rate": cfg.VideoBitRate,
	}).Info("Creating call manager")

	return &Manager{
		transport: t,
		config:    cfg,
		metrics:   metrics.Or(m),
		calls:     make(map[uint32]*Call),
	}
}

// SetWorker installs the media pipeline gated by session lifetime.
func (m *Manager) SetWorker(w Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.worker = w
}

// OnCaptureStopped registers fn to run when the last session ends.
func (m *Manager) OnCaptureStopped(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = append(m.stopped, fn)
}

// HandleCall answers an incoming call with the configured bit rates.
// Calls are ignored when not accepting or when a session already exists.
func (m *Manager) HandleCall(friendNumber uint32, audioEnabled, videoEnabled bool) error {
	fields := logrus.Fields{
		"function":      "HandleCall",
		"friend_number": friendNumber,
		"audio_enabled": audioEnabled,
		"video_enabled": videoEnabled,
	}

	if !m.config.AcceptCalls {
		logrus.WithFields(fields).Info("Not accepting calls, ignoring")
		return nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		logrus.WithFields(fields).Info("Call manager closed, ignoring")
		return nil
	}
	if _, exists := m.calls[friendNumber]; exists {
		m.mu.Unlock()
		logrus.WithFields(fields).Warn("Call offered while a session exists, ignoring")
		return nil
	}
	call := NewCall(friendNumber, audioEnabled, videoEnabled)
	m.calls[friendNumber] = call
	m.metrics.CallsActive.Set(float64(len(m.calls)))
	m.mu.Unlock()

	fields["session_id"] = call.GetSessionID().String()
	logrus.WithFields(fields).Info("Answering call")

	if err := m.transport.AnswerCall(friendNumber, m.config.AudioBitRate, m.config.VideoBitRate); err != nil {
		m.metrics.Calls.WithLabelValues(metrics.CallAnswerFailed).Inc()
		m.end(friendNumber, call, metrics.CallAnswerFailed)

		logrus.WithFields(fields).WithError(err).Warn("Transport refused to answer call")
		return fmt.Errorf("%w: answer friend %d: %w", transport.ErrTransport, friendNumber, err)
	}

	// Close or PeerLost may have ended the session during the answer.
	// Workers start under the lock so a concurrent end sees capturing.
	m.mu.Lock()
	if m.closed || m.calls[friendNumber] != call {
		m.mu.Unlock()
		logrus.WithFields(fields).Info("Call ended while answering")
		return nil
	}
	call.setBitRates(m.config.AudioBitRate, m.config.VideoBitRate)
	call.setState(SessionActive)
	m.metrics.Calls.WithLabelValues(metrics.CallAnswered).Inc()

	if !m.capturing && m.worker != nil {
		if err := m.worker.Start(); err != nil && !errors.Is(err, ErrCaptureRunning) {
			logrus.WithFields(fields).WithError(err).Error("Failed to start media workers")
		}
	}
	m.capturing = true
	m.mu.Unlock()

	logrus.WithFields(fields).Info("Call active")
	return nil
}

// HandleCallState applies a peer's call state bitmask. Finished or error
// ends the session; accepting bits enable the matching media direction.
func (m *Manager) HandleCallState(friendNumber uint32, state transport.CallState) error {
	if unknown := state &^ transport.CallStateKnownMask; unknown != 0 {
		return fmt.Errorf("friend %d state %#x: %w", friendNumber, uint32(state), ErrUnknownCallState)
	}

	m.mu.RLock()
	call, ok := m.calls[friendNumber]
	m.mu.RUnlock()

	fields := logrus.Fields{
		"function":      "HandleCallState",
		"friend_number": friendNumber,
		"state":         fmt.Sprintf("%#x", uint32(state)),
	}

	if !ok {
		logrus.WithFields(fields).Debug("Call state for friend without session ignored")
		return nil
	}
	fields["session_id"] = call.GetSessionID().String()

	if state.Terminal() {
		outcome := metrics.CallFinished
		if state.Has(transport.CallStateError) {
			outcome = metrics.CallError
		}
		m.metrics.Calls.WithLabelValues(outcome).Inc()
		logrus.WithFields(fields).Info("Call ended by friend")
		m.end(friendNumber, call, outcome)
		return nil
	}

	call.enable(state.Has(transport.CallStateAcceptingA), state.Has(transport.CallStateAcceptingV))

	logrus.WithFields(fields).WithFields(logrus.Fields{
		"audio_enabled": call.IsAudioEnabled(),
		"video_enabled": call.IsVideoEnabled(),
	}).Debug("Call state updated")
	return nil
}

// HandleBitRate records a bit rate advisory from the transport.
func (m *Manager) HandleBitRate(friendNumber uint32, audioBitRate, videoBitRate uint32) {
	logrus.WithFields(logrus.Fields{
		"function":       "HandleBitRate",
		"friend_number":  friendNumber,
		"audio_bit_rate": audioBitRate,
		"video_bit_rate": videoBitRate,
	}).Info("Bit rate advisory")

	label := metrics.FriendLabel(friendNumber)
	m.metrics.AudioBitRate.WithLabelValues(label).Set(float64(audioBitRate))
	m.metrics.VideoBitRate.WithLabelValues(label).Set(float64(videoBitRate))
}

// HandleAudioFrame echoes a received audio frame when echo is on and the
// friend accepts audio.
func (m *Manager) HandleAudioFrame(friendNumber uint32, frame transport.AudioFrame) {
	if !m.config.EchoMedia || !m.IsAudioEnabled(friendNumber) {
		return
	}
	m.countFrame("audio", m.transport.AudioSendFrame(friendNumber, frame))
}

// HandleVideoFrame echoes a received video frame when echo is on and the
// friend accepts video.
func (m *Manager) HandleVideoFrame(friendNumber uint32, frame transport.VideoFrame) {
	if !m.config.EchoMedia || !m.IsVideoEnabled(friendNumber) {
		return
	}
	m.countFrame("video", m.transport.VideoSendFrame(friendNumber, frame))
}

// countFrame records the result of a frame send. A missing call is a drop:
// the session may end between the flag check and the send.
func (m *Manager) countFrame(media string, err error) {
	result := frameResult(err)
	m.metrics.MediaFrames.WithLabelValues(media, result).Inc()
	if result == "failed" {
		logrus.WithFields(logrus.Fields{
			"function": "countFrame",
			"media":    media,
			"error":    err.Error(),
		}).Debug("Frame send failed")
	}
}

func frameResult(err error) string {
	switch {
	case err == nil:
		return "sent"
	case errors.Is(err, transport.ErrNoCall):
		return "dropped"
	default:
		return "failed"
	}
}

// IsAudioEnabled reports whether audio should be sent to the friend. Safe
// for concurrent use by media workers.
func (m *Manager) IsAudioEnabled(friendNumber uint32) bool {
	m.mu.RLock()
	call, ok := m.calls[friendNumber]
	m.mu.RUnlock()
	return ok && call.GetState() == SessionActive && call.IsAudioEnabled()
}

// IsVideoEnabled reports whether video should be sent to the friend. Safe
// for concurrent use by media workers.
func (m *Manager) IsVideoEnabled(friendNumber uint32) bool {
	m.mu.RLock()
	call, ok := m.calls[friendNumber]
	m.mu.RUnlock()
	return ok && call.GetState() == SessionActive && call.IsVideoEnabled()
}

// GetCall returns the session with a friend, or nil.
func (m *Manager) GetCall(friendNumber uint32) *Call {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[friendNumber]
}

// GetCallCount returns the number of sessions.
func (m *Manager) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.calls)
}

// Friends returns the friends with a session in ascending order.
func (m *Manager) Friends() []uint32 {
	m.mu.RLock()
	ids := make([]uint32, 0, len(m.calls))
	for id := range m.calls {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// PeerLost ends the friend's session as if it had finished.
func (m *Manager) PeerLost(friendNumber uint32) {
	m.mu.RLock()
	call, ok := m.calls[friendNumber]
	m.mu.RUnlock()
	if !ok {
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":      "PeerLost",
		"friend_number": friendNumber,
		"session_id":    call.GetSessionID().String(),
	}).Info("Friend went offline, ending call")

	m.metrics.Calls.WithLabelValues(metrics.CallFinished).Inc()
	m.end(friendNumber, call, metrics.CallFinished)
}

// Close ends every session and stops the media workers. Calls offered
// afterwards are ignored.
func (m *Manager) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	for _, friendNumber := range m.Friends() {
		if call := m.GetCall(friendNumber); call != nil {
			m.end(friendNumber, call, metrics.CallFinished)
		}
	}

	m.mu.RLock()
	worker := m.worker
	m.mu.RUnlock()

	if worker == nil {
		return nil
	}
	return worker.Stop()
}

// end removes the session. When it was the last one of a capture period the
// workers are stopped and every OnCaptureStopped callback runs, outside the
// lock so workers reading flags can drain.
func (m *Manager) end(friendNumber uint32, call *Call, outcome string) {
	call.setState(SessionEnded)

	m.mu.Lock()
	if m.calls[friendNumber] != call {
		m.mu.Unlock()
		return
	}
	delete(m.calls, friendNumber)
	remaining := len(m.calls)
	stop := remaining == 0 && m.capturing
	if stop {
		m.capturing = false
	}
	worker := m.worker
	callbacks := m.stopped
	m.mu.Unlock()

	label := metrics.FriendLabel(friendNumber)
	m.metrics.CallsActive.Set(float64(remaining))
	m.metrics.AudioBitRate.DeleteLabelValues(label)
	m.metrics.VideoBitRate.DeleteLabelValues(label)

	logrus.WithFields(logrus.Fields{
		"function":      "end",
		"friend_number": friendNumber,
		"session_id":    call.GetSessionID().String(),
		"outcome":       outcome,
		"remaining":     remaining,
	}).Info("Call session removed")

	if !stop {
		return
	}

	if worker != nil {
		if err := worker.Stop(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "end",
				"error":    err.Error(),
			}).Warn("Media workers stopped with error")
		}
	}
	for _, fn := range callbacks {
		fn()
	}
}
