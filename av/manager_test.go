package av

import (
	"sync"
	"testing"

	"github.com/opd-ai/toxecho/metrics"
	"github.com/opd-ai/toxecho/transport"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{AcceptCalls: true, AudioBitRate: 32, VideoBitRate: 5000, EchoMedia: true}
}

func TestCallExampleScenario(t *testing.T) {
	trans := newMockTransport()
	manager := NewManager(trans, testConfig(), nil)

	require.NoError(t, manager.HandleCall(3, true, false))
	call := manager.GetCall(3)
	require.NotNil(t, call)
	assert.Equal(t, SessionActive, call.GetState())
	assert.True(t, manager.IsAudioEnabled(3))
	assert.False(t, manager.IsVideoEnabled(3))
	assert.Equal(t, []uint32{3}, trans.answered)

	audio, video := call.GetBitRates()
	assert.Equal(t, uint32(32), audio)
	assert.Equal(t, uint32(5000), video)

	require.NoError(t, manager.HandleCallState(3, transport.CallStateAcceptingV))
	assert.True(t, manager.IsVideoEnabled(3))
	assert.True(t, manager.IsAudioEnabled(3))

	require.NoError(t, manager.HandleCallState(3, transport.CallStateFinished))
	assert.Nil(t, manager.GetCall(3))
	assert.Equal(t, 0, manager.GetCallCount())
	assert.Equal(t, SessionEnded, call.GetState())
}

func TestFlagsAreMonotonic(t *testing.T) {
	manager := NewManager(newMockTransport(), testConfig(), nil)
	require.NoError(t, manager.HandleCall(1, false, false))

	require.NoError(t, manager.HandleCallState(1, transport.CallStateAcceptingA|transport.CallStateAcceptingV))
	require.NoError(t, manager.HandleCallState(1, transport.CallStateSendingA))

	assert.True(t, manager.IsAudioEnabled(1))
	assert.True(t, manager.IsVideoEnabled(1))
}

func TestTerminalStates(t *testing.T) {
	tests := []struct {
		name    string
		state   transport.CallState
		outcome string
	}{
		{"finished", transport.CallStateFinished, metrics.CallFinished},
		{"error", transport.CallStateError, metrics.CallError},
		{"finished with other bits", transport.CallStateFinished | transport.CallStateAcceptingA, metrics.CallFinished},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.Discard()
			manager := NewManager(newMockTransport(), testConfig(), m)
			require.NoError(t, manager.HandleCall(1, true, true))

			require.NoError(t, manager.HandleCallState(1, tt.state))
			assert.Nil(t, manager.GetCall(1))
			assert.Equal(t, float64(1), testutil.ToFloat64(m.Calls.WithLabelValues(tt.outcome)))
			assert.Equal(t, float64(0), testutil.ToFloat64(m.CallsActive))
		})
	}
}

func TestUnknownCallStateBits(t *testing.T) {
	manager := NewManager(newMockTransport(), testConfig(), nil)
	require.NoError(t, manager.HandleCall(1, false, false))

	err := manager.HandleCallState(1, transport.CallStateAcceptingA|transport.CallState(1<<9))
	assert.ErrorIs(t, err, ErrUnknownCallState)
	assert.ErrorIs(t, err, transport.ErrProtocolViolation)

	// the session was not touched
	assert.False(t, manager.IsAudioEnabled(1))
	assert.NotNil(t, manager.GetCall(1))
}

func TestCallStateWithoutSessionIgnored(t *testing.T) {
	manager := NewManager(newMockTransport(), testConfig(), nil)
	assert.NoError(t, manager.HandleCallState(8, transport.CallStateFinished))
	assert.NoError(t, manager.HandleCallState(8, transport.CallStateAcceptingA))
	assert.Equal(t, 0, manager.GetCallCount())
}

func TestHandleCallPolicy(t *testing.T) {
	t.Run("not accepting", func(t *testing.T) {
		trans := newMockTransport()
		cfg := testConfig()
		cfg.AcceptCalls = false
		manager := NewManager(trans, cfg, nil)

		require.NoError(t, manager.HandleCall(1, true, true))
		assert.Nil(t, manager.GetCall(1))
		assert.Empty(t, trans.answered)
	})

	t.Run("existing session", func(t *testing.T) {
		trans := newMockTransport()
		manager := NewManager(trans, testConfig(), nil)

		require.NoError(t, manager.HandleCall(1, true, false))
		first := manager.GetCall(1)
		require.NoError(t, manager.HandleCall(1, false, true))

		assert.Same(t, first, manager.GetCall(1))
		assert.Len(t, trans.answered, 1)
		assert.False(t, manager.IsVideoEnabled(1))
	})

	t.Run("answer refused", func(t *testing.T) {
		trans := newMockTransport()
		trans.answerErr = transport.ErrFriendNotConnected
		worker := &mockWorker{}
		manager := NewManager(trans, testConfig(), nil)
		manager.SetWorker(worker)

		signals := 0
		manager.OnCaptureStopped(func() { signals++ })

		err := manager.HandleCall(1, true, true)
		assert.ErrorIs(t, err, transport.ErrTransport)
		assert.Nil(t, manager.GetCall(1))

		starts, stops := worker.counts()
		assert.Equal(t, 0, starts)
		assert.Equal(t, 0, stops)
		assert.Equal(t, 0, signals)
	})
}

func TestCaptureShutdownFiresOncePerPeriod(t *testing.T) {
	worker := &mockWorker{}
	manager := NewManager(newMockTransport(), testConfig(), nil)
	manager.SetWorker(worker)

	signals := 0
	manager.OnCaptureStopped(func() { signals++ })

	require.NoError(t, manager.HandleCall(1, true, false))
	require.NoError(t, manager.HandleCall(2, true, false))
	starts, _ := worker.counts()
	assert.Equal(t, 1, starts)

	require.NoError(t, manager.HandleCallState(1, transport.CallStateFinished))
	assert.Equal(t, 0, signals)

	require.NoError(t, manager.HandleCallState(2, transport.CallStateError))
	assert.Equal(t, 1, signals)

	// repeated terminal events for a removed session do not fire again
	require.NoError(t, manager.HandleCallState(2, transport.CallStateFinished))
	manager.PeerLost(2)
	assert.Equal(t, 1, signals)

	// a new period starts and stops the workers again
	require.NoError(t, manager.HandleCall(5, false, true))
	manager.PeerLost(5)
	assert.Equal(t, 2, signals)

	starts, stops := worker.counts()
	assert.Equal(t, 2, starts)
	assert.Equal(t, 2, stops)
}

func TestCloseEndsEverything(t *testing.T) {
	worker := &mockWorker{}
	manager := NewManager(newMockTransport(), testConfig(), nil)
	manager.SetWorker(worker)

	signals := 0
	manager.OnCaptureStopped(func() { signals++ })

	require.NoError(t, manager.HandleCall(1, true, false))
	require.NoError(t, manager.HandleCall(2, true, false))

	require.NoError(t, manager.Close())
	assert.Equal(t, 0, manager.GetCallCount())
	assert.Equal(t, 1, signals)
}

func TestCloseDuringAnswer(t *testing.T) {
	trans := newMockTransport()
	answering, release := trans.blockAnswers()

	worker := &mockWorker{}
	manager := NewManager(trans, testConfig(), nil)
	manager.SetWorker(worker)

	done := make(chan error, 1)
	go func() { done <- manager.HandleCall(6, true, true) }()

	<-answering
	call := manager.GetCall(6)
	require.NotNil(t, call)
	require.NoError(t, manager.Close())
	release()
	require.NoError(t, <-done)

	starts, _ := worker.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 0, manager.GetCallCount())
	assert.Equal(t, SessionEnded, call.GetState())
	assert.False(t, manager.IsAudioEnabled(6))
}

func TestCallsIgnoredAfterClose(t *testing.T) {
	trans := newMockTransport()
	manager := NewManager(trans, testConfig(), nil)
	require.NoError(t, manager.Close())

	require.NoError(t, manager.HandleCall(1, true, true))
	assert.Equal(t, 0, manager.GetCallCount())
	assert.Empty(t, trans.answered)
}

func TestPeerLostDuringAnswer(t *testing.T) {
	trans := newMockTransport()
	answering, release := trans.blockAnswers()

	worker := &mockWorker{}
	manager := NewManager(trans, testConfig(), nil)
	manager.SetWorker(worker)

	done := make(chan error, 1)
	go func() { done <- manager.HandleCall(2, true, false) }()

	<-answering
	manager.PeerLost(2)
	release()
	require.NoError(t, <-done)

	starts, stops := worker.counts()
	assert.Equal(t, 0, starts)
	assert.Equal(t, 0, stops)
	assert.Nil(t, manager.GetCall(2))
}

func TestHandleBitRateExportsGauges(t *testing.T) {
	m := metrics.Discard()
	manager := NewManager(newMockTransport(), testConfig(), m)
	require.NoError(t, manager.HandleCall(4, true, true))

	manager.HandleBitRate(4, 24, 2500)
	assert.Equal(t, float64(24), testutil.ToFloat64(m.AudioBitRate.WithLabelValues("4")))
	assert.Equal(t, float64(2500), testutil.ToFloat64(m.VideoBitRate.WithLabelValues("4")))

	// advisories never change session state
	call := manager.GetCall(4)
	audio, video := call.GetBitRates()
	assert.Equal(t, uint32(32), audio)
	assert.Equal(t, uint32(5000), video)

	manager.PeerLost(4)
	assert.Equal(t, 0, testutil.CollectAndCount(m.AudioBitRate))
}

func TestEchoMedia(t *testing.T) {
	trans := newMockTransport()
	manager := NewManager(trans, testConfig(), nil)
	require.NoError(t, manager.HandleCall(1, true, false))

	manager.HandleAudioFrame(1, transport.AudioFrame{SampleCount: 1})
	manager.HandleVideoFrame(1, transport.VideoFrame{Width: 1})
	assert.Equal(t, 1, trans.audioCount(1))
	assert.Equal(t, 0, trans.videoCount(1))

	// no session, nothing echoed
	manager.HandleAudioFrame(2, transport.AudioFrame{SampleCount: 1})
	assert.Equal(t, 0, trans.audioCount(2))

	cfg := testConfig()
	cfg.EchoMedia = false
	quiet := NewManager(trans, cfg, nil)
	require.NoError(t, quiet.HandleCall(6, true, true))
	quiet.HandleAudioFrame(6, transport.AudioFrame{SampleCount: 1})
	assert.Equal(t, 0, trans.audioCount(6))
}

func TestEchoMediaNoCallIsDropped(t *testing.T) {
	trans := newMockTransport()
	m := metrics.Discard()
	manager := NewManager(trans, testConfig(), m)
	require.NoError(t, manager.HandleCall(1, true, false))

	trans.setSendErr(transport.ErrNoCall)
	manager.HandleAudioFrame(1, transport.AudioFrame{SampleCount: 1})
	assert.Equal(t, float64(1), testutil.ToFloat64(m.MediaFrames.WithLabelValues("audio", "dropped")))
}

func TestConcurrentFlagReads(t *testing.T) {
	manager := NewManager(newMockTransport(), testConfig(), nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				for _, id := range manager.Friends() {
					manager.IsAudioEnabled(id)
					manager.IsVideoEnabled(id)
				}
			}
		}()
	}

	for i := uint32(0); i < 200; i++ {
		require.NoError(t, manager.HandleCall(i%5, true, false))
		require.NoError(t, manager.HandleCallState(i%5, transport.CallStateAcceptingV))
		require.NoError(t, manager.HandleCallState(i%5, transport.CallStateFinished))
	}

	close(stop)
	wg.Wait()
	assert.Equal(t, 0, manager.GetCallCount())
}
