package file

import (
	"bytes"
	"fmt"
	"time"

	"github.com/opd-ai/toxecho/transport"
)

// mockTransport implements transport.Transport for testing. Only the file
// commands carry behaviour; everything else is inert.
type mockTransport struct {
	nextFileID uint32
	fileIDs    map[uint32][]byte

	controls []controlCall
	chunks   []chunkCall
	offers   []offerCall

	failSend    error
	failChunk   error
	failControl error
	failFileID  error
}

type controlCall struct {
	friendID uint32
	fileID   uint32
	control  transport.FileControl
}

type chunkCall struct {
	friendID uint32
	fileID   uint32
	position uint64
	data     []byte
}

type offerCall struct {
	friendID uint32
	kind     transport.FileKind
	size     uint64
	id       []byte
	name     string
}

func newMockTransport() *mockTransport {
	return &mockTransport{fileIDs: make(map[uint32][]byte)}
}

// testFileID derives a stable 32 byte id from a transfer number.
func testFileID(fileID uint32) []byte {
	return bytes.Repeat([]byte{byte(fileID) + 0xA0}, transport.FileIDLength)
}

func (m *mockTransport) lastControl() (controlCall, bool) {
	if len(m.controls) == 0 {
		return controlCall{}, false
	}
	return m.controls[len(m.controls)-1], true
}

func (m *mockTransport) SetHandler(transport.Handler) {}
func (m *mockTransport) Iterate() time.Duration { return 50 * time.Millisecond }
func (m *mockTransport) Bootstrap(string, uint16, string) error { return nil }

func (m *mockTransport) SetSelfName(string) error { return nil }

func (m *mockTransport) SetSelfStatusMessage(string) error { return nil }

func (m *mockTransport) SelfConnectionStatus() transport.ConnectionStatus {
	return transport.ConnectionUDP
}

func (m *mockTransport) FriendName(friendID uint32) (string, error) {
	return fmt.Sprintf("friend-%d", friendID), nil
}

func (m *mockTransport) FriendAddNoRequest(string) (uint32, error) { return 0, nil }

func (m *mockTransport) FriendSendMessage(uint32, transport.MessageType, string) (uint32, error) {
	return 0, nil
}

func (m *mockTransport) FileSend(friendID uint32, kind transport.FileKind, size uint64, id []byte, name string) (uint32, error) {
	if m.failSend != nil {
		return 0, m.failSend
	}
	m.offers = append(m.offers, offerCall{friendID: friendID, kind: kind, size: size, id: id, name: name})

	fileID := m.nextFileID
	m.nextFileID++
	if id == nil {
		id = testFileID(fileID)
	}
	m.fileIDs[fileID] = id
	return fileID, nil
}

func (m *mockTransport) FileGetFileID(friendID, fileID uint32) ([]byte, error) {
	if m.failFileID != nil {
		return nil, m.failFileID
	}
	if id, ok := m.fileIDs[fileID]; ok {
		return id, nil
	}
	return testFileID(fileID), nil
}

func (m *mockTransport) FileControl(friendID, fileID uint32, control transport.FileControl) error {
	if m.failControl != nil {
		return m.failControl
	}
	m.controls = append(m.controls, controlCall{friendID: friendID, fileID: fileID, control: control})
	return nil
}

func (m *mockTransport) FileSendChunk(friendID, fileID uint32, position uint64, data []byte) error {
	if m.failChunk != nil {
		return m.failChunk
	}
	m.chunks = append(m.chunks, chunkCall{friendID: friendID, fileID: fileID, position: position, data: data})
	return nil
}

func (m *mockTransport) AnswerCall(uint32, uint32, uint32) error { return nil }

func (m *mockTransport) AudioSendFrame(uint32, transport.AudioFrame) error { return nil }

func (m *mockTransport) VideoSendFrame(uint32, transport.VideoFrame) error { return nil }

func (m *mockTransport) SaveData() []byte { return nil }

func (m *mockTransport) Kill() {}
