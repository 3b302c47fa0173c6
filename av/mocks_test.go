package av

import (
	"context"
	"sync"
	"time"

	"github.com/opd-ai/toxecho/transport"
)

// mockTransport implements transport.Transport for testing. It is safe for
// concurrent use because media workers send from their own goroutines.
type mockTransport struct {
	mu sync.Mutex

	answered    []uint32
	audioFrames map[uint32]int
	videoFrames map[uint32]int

	answerErr error
	sendErr   error

	// When set, AnswerCall signals answering and waits on release.
	answering chan struct{}
	release   chan struct{}
}

func newMockTransport() *mockTransport {
	return &mockTransport{
		audioFrames: make(map[uint32]int),
		videoFrames: make(map[uint32]int),
	}
}

func (m *mockTransport) audioCount(friendNumber uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.audioFrames[friendNumber]
}

func (m *mockTransport) videoCount(friendNumber uint32) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.videoFrames[friendNumber]
}

func (m *mockTransport) setSendErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

func (m *mockTransport) SetHandler(transport.Handler) {}

func (m *mockTransport) Iterate() time.Duration { return 50 * time.Millisecond }

func (m *mockTransport) Bootstrap(string, uint16, string) error { return nil }

func (m *mockTransport) SetSelfName(string) error { return nil }

func (m *mockTransport) SetSelfStatusMessage(string) error { return nil }

func (m *mockTransport) SelfConnectionStatus() transport.ConnectionStatus {
	return transport.ConnectionUDP
}

func (m *mockTransport) FriendName(uint32) (string, error) { return "friend", nil }

func (m *mockTransport) FriendAddNoRequest(string) (uint32, error) { return 0, nil }

func (m *mockTransport) FriendSendMessage(uint32, transport.MessageType, string) (uint32, error) {
	return 0, nil
}

func (m *mockTransport) FileSend(uint32, transport.FileKind, uint64, []byte, string) (uint32, error) {
	return 0, nil
}

func (m *mockTransport) FileGetFileID(uint32, uint32) ([]byte, error) { return nil, nil }

func (m *mockTransport) FileControl(uint32, uint32, transport.FileControl) error { return nil }

func (m *mockTransport) FileSendChunk(uint32, uint32, uint64, []byte) error { return nil }

// blockAnswers makes AnswerCall wait until the returned release func runs.
func (m *mockTransport) blockAnswers() (answering <-chan struct{}, release func()) {
	m.answering = make(chan struct{}, 1)
	m.release = make(chan struct{})
	return m.answering, func() { close(m.release) }
}

func (m *mockTransport) AnswerCall(friendNumber uint32, _, _ uint32) error {
	if m.release != nil {
		m.answering <- struct{}{}
		<-m.release
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answerErr != nil {
		return m.answerErr
	}
	m.answered = append(m.answered, friendNumber)
	return nil
}

func (m *mockTransport) AudioSendFrame(friendNumber uint32, _ transport.AudioFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.audioFrames[friendNumber]++
	return nil
}

func (m *mockTransport) VideoSendFrame(friendNumber uint32, _ transport.VideoFrame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.videoFrames[friendNumber]++
	return nil
}

func (m *mockTransport) SaveData() []byte { return nil }

func (m *mockTransport) Kill() {}

// mockWorker records lifecycle calls.
type mockWorker struct {
	mu     sync.Mutex
	starts int
	stops  int
}

func (w *mockWorker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.starts++
	return nil
}

func (w *mockWorker) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stops++
	return nil
}

func (w *mockWorker) counts() (int, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.starts, w.stops
}

// tickSource yields a frame every interval until closed after limit frames.
// A limit of zero never closes.
type tickSource struct {
	interval time.Duration
	limit    int
	reads    int
}

func (s *tickSource) wait(ctx context.Context) error {
	if s.limit > 0 && s.reads >= s.limit {
		return ErrSourceClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.interval):
	}
	s.reads++
	return nil
}

func (s *tickSource) ReadAudio(ctx context.Context) (transport.AudioFrame, error) {
	if err := s.wait(ctx); err != nil {
		return transport.AudioFrame{}, err
	}
	return transport.AudioFrame{PCM: make([]int16, 960), SampleCount: 960, Channels: 1, SamplingRate: 48000}, nil
}

func (s *tickSource) ReadVideo(ctx context.Context) (transport.VideoFrame, error) {
	if err := s.wait(ctx); err != nil {
		return transport.VideoFrame{}, err
	}
	return transport.VideoFrame{Width: 2, Height: 2, Y: make([]byte, 4), U: []byte{0}, V: []byte{0}, YStride: 2, UStride: 1, VStride: 1}, nil
}
