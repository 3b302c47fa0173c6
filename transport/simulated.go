package transport

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultSimulatedInterval is the iteration interval Simulated advises.
const DefaultSimulatedInterval = 50 * time.Millisecond

// CommandKind names a command recorded by Simulated.
type CommandKind string

const (
	CommandBootstrap        CommandKind = "bootstrap"
	CommandSetName          CommandKind = "set_name"
	CommandSetStatusMessage CommandKind = "set_status_message"
	CommandFriendAdd        CommandKind = "friend_add"
	CommandSendMessage      CommandKind = "send_message"
	CommandFileSend         CommandKind = "file_send"
	CommandFileControl      CommandKind = "file_control"
	CommandFileSendChunk    CommandKind = "file_send_chunk"
	CommandAnswerCall       CommandKind = "answer_call"
	CommandAudioFrame       CommandKind = "audio_frame"
	CommandVideoFrame       CommandKind = "video_frame"
)

// Command is one call the bot made on a Simulated transport.
type Command struct {
	Kind         CommandKind
	FriendID     uint32
	FileID       uint32
	FileKind     FileKind
	FileSize     uint64
	Position     uint64
	Data         []byte
	Control      FileControl
	Text         string
	AudioBitRate uint32
	VideoBitRate uint32
}

type simFriend struct {
	PublicKey string           `json:"public_key"`
	Name      string           `json:"name"`
	Status    ConnectionStatus `json:"-"`
	nextFile  uint32
	fileIDs   map[uint32][]byte
	inCall    bool
}

type simState struct {
	Name          string                `json:"name"`
	StatusMessage string                `json:"status_message"`
	Friends       map[uint32]*simFriend `json:"friends"`
	Next          uint32                `json:"next_friend"`
}

// Simulated is an in-process Transport. Events queued through its helper
// methods are dispatched on the next Iterate; every command the bot issues
// is recorded and can be inspected with Commands.
type Simulated struct {
	mu            sync.Mutex
	handler       Handler
	pending       []func(Handler)
	interval      time.Duration
	selfStatus    ConnectionStatus
	name          string
	statusMessage string
	friends       map[uint32]*simFriend
	nextFriend    uint32
	commands      []Command
	failures      map[CommandKind][]error
	killed        bool
}

// NewSimulated creates a simulated transport, restoring the friend list from
// a blob previously returned by SaveData when saved is non-empty.
func NewSimulated(saved []byte) (*Simulated, error) {
	s := &Simulated{
		interval: DefaultSimulatedInterval,
		friends:  make(map[uint32]*simFriend),
		failures: make(map[CommandKind][]error),
	}

	if len(saved) > 0 {
		var state simState
		if err := json.Unmarshal(saved, &state); err != nil {
			return nil, fmt.Errorf("invalid simulated save data: %w", err)
		}
		for id, f := range state.Friends {
			f.fileIDs = make(map[uint32][]byte)
			s.friends[id] = f
		}
		s.nextFriend = state.Next
		s.name = state.Name
		s.statusMessage = state.StatusMessage

		logrus.WithFields(logrus.Fields{
			"function": "NewSimulated",
			"friends":  len(s.friends),
		}).Debug("Restored simulated transport state")
	}

	return s, nil
}

// SetInterval changes the interval returned by Iterate.
func (s *Simulated) SetInterval(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interval = d
}

// FailNext makes the next command of the given kind fail with err. Repeated
// calls fail successive commands in order.
func (s *Simulated) FailNext(kind CommandKind, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[kind] = append(s.failures[kind], err)
}

// Commands returns a copy of the recorded commands.
func (s *Simulated) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// CommandsOf returns the recorded commands of one kind.
func (s *Simulated) CommandsOf(kind CommandKind) []Command {
	var out []Command
	for _, c := range s.Commands() {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Pending returns the number of queued events.
func (s *Simulated) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Friends returns the known friend numbers in ascending order.
func (s *Simulated) Friends() []uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint32, 0, len(s.friends))
	for id := range s.friends {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Simulated) queue(fn func(Handler)) {
	s.mu.Lock()
	s.pending = append(s.pending, fn)
	s.mu.Unlock()
}

// record appends a command unless a failure was injected for its kind.
// Callers hold s.mu.
func (s *Simulated) record(c Command) error {
	if s.killed {
		return ErrKilled
	}
	if queued := s.failures[c.Kind]; len(queued) > 0 {
		s.failures[c.Kind] = queued[1:]
		return queued[0]
	}
	s.commands = append(s.commands, c)
	return nil
}

func (s *Simulated) friend(friendID uint32) (*simFriend, error) {
	f, ok := s.friends[friendID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrFriendNotFound, friendID)
	}
	return f, nil
}

// SetSelfStatus changes the local DHT status and queues the event.
func (s *Simulated) SetSelfStatus(status ConnectionStatus) {
	s.mu.Lock()
	s.selfStatus = status
	s.mu.Unlock()
	s.queue(func(h Handler) { h.OnSelfConnectionStatus(status) })
}

// ConnectFriend creates the friend if needed, sets its status and queues the
// status event.
func (s *Simulated) ConnectFriend(friendID uint32, name string, status ConnectionStatus) {
	s.mu.Lock()
	f, ok := s.friends[friendID]
	if !ok {
		f = &simFriend{PublicKey: randomHex(32), fileIDs: make(map[uint32][]byte)}
		s.friends[friendID] = f
		if friendID >= s.nextFriend {
			s.nextFriend = friendID + 1
		}
	}
	if name != "" {
		f.Name = name
	}
	f.Status = status
	if !status.Connected() {
		f.inCall = false
	}
	s.mu.Unlock()
	s.queue(func(h Handler) { h.OnFriendConnectionStatus(friendID, status) })
}

// FriendRequest queues an incoming friend request.
func (s *Simulated) FriendRequest(publicKey, message string) {
	s.queue(func(h Handler) { h.OnFriendRequest(publicKey, message) })
}

// Message queues an incoming text message.
func (s *Simulated) Message(friendID uint32, messageType MessageType, message string) {
	s.queue(func(h Handler) { h.OnFriendMessage(friendID, messageType, message) })
}

// OfferFile queues an incoming file offer. A nil id gets a random one.
func (s *Simulated) OfferFile(friendID, fileID uint32, kind FileKind, size uint64, name string, id []byte) {
	if id == nil {
		id = randomBytes(FileIDLength)
	}
	s.mu.Lock()
	if f, ok := s.friends[friendID]; ok {
		f.fileIDs[fileID] = id
	}
	s.mu.Unlock()
	s.queue(func(h Handler) { h.OnFileRecv(friendID, fileID, kind, size, name) })
}

// DeliverChunk queues an incoming data chunk. Empty data ends the transfer.
func (s *Simulated) DeliverChunk(friendID, fileID uint32, position uint64, data []byte) {
	s.queue(func(h Handler) { h.OnFileRecvChunk(friendID, fileID, position, data) })
}

// RequestChunk queues a chunk request for an outgoing transfer.
func (s *Simulated) RequestChunk(friendID, fileID uint32, position uint64, length int) {
	s.queue(func(h Handler) { h.OnFileChunkRequest(friendID, fileID, position, length) })
}

// Control queues a file control command sent by the friend.
func (s *Simulated) Control(friendID, fileID uint32, control FileControl) {
	s.queue(func(h Handler) { h.OnFileRecvControl(friendID, fileID, control) })
}

// Call queues an incoming call.
func (s *Simulated) Call(friendID uint32, audio, video bool) {
	s.queue(func(h Handler) { h.OnCall(friendID, audio, video) })
}

// CallState queues a call state change. Terminal states end the call on the
// transport side as well.
func (s *Simulated) CallState(friendID uint32, state CallState) {
	if state.Terminal() {
		s.mu.Lock()
		if f, ok := s.friends[friendID]; ok {
			f.inCall = false
		}
		s.mu.Unlock()
	}
	s.queue(func(h Handler) { h.OnCallState(friendID, state) })
}

// BitRate queues a bit-rate advisory.
func (s *Simulated) BitRate(friendID, audio, video uint32) {
	s.queue(func(h Handler) { h.OnBitRateStatus(friendID, audio, video) })
}

// AudioFrame queues a received audio frame.
func (s *Simulated) AudioFrame(friendID uint32, frame AudioFrame) {
	s.queue(func(h Handler) { h.OnAudioReceiveFrame(friendID, frame) })
}

// VideoFrame queues a received video frame.
func (s *Simulated) VideoFrame(friendID uint32, frame VideoFrame) {
	s.queue(func(h Handler) { h.OnVideoReceiveFrame(friendID, frame) })
}

// SetHandler implements Transport.
func (s *Simulated) SetHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Iterate implements Transport. Events queued while dispatching wait for the
// next call.
func (s *Simulated) Iterate() time.Duration {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	h := s.handler
	interval := s.interval
	s.mu.Unlock()

	if h != nil {
		for _, ev := range batch {
			ev(h)
		}
	}
	return interval
}

// Bootstrap implements Transport.
func (s *Simulated) Bootstrap(host string, port uint16, publicKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record(Command{Kind: CommandBootstrap, Text: fmt.Sprintf("%s:%d %s", host, port, publicKey)})
}

// SetSelfName implements Transport.
func (s *Simulated) SetSelfName(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Command{Kind: CommandSetName, Text: name}); err != nil {
		return err
	}
	s.name = name
	return nil
}

// SetSelfStatusMessage implements Transport.
func (s *Simulated) SetSelfStatusMessage(message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(Command{Kind: CommandSetStatusMessage, Text: message}); err != nil {
		return err
	}
	s.statusMessage = message
	return nil
}

// SelfName returns the name last set on the node.
func (s *Simulated) SelfName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// SelfStatusMessage returns the status message last set on the node.
func (s *Simulated) SelfStatusMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusMessage
}

// SelfConnectionStatus implements Transport.
func (s *Simulated) SelfConnectionStatus() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selfStatus
}

// FriendConnectionStatus returns a friend's current link status.
func (s *Simulated) FriendConnectionStatus(friendID uint32) (ConnectionStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return ConnectionNone, err
	}
	return f.Status, nil
}

// FriendName implements Transport.
func (s *Simulated) FriendName(friendID uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return "", err
	}
	return f.Name, nil
}

// FriendAddNoRequest implements Transport.
func (s *Simulated) FriendAddNoRequest(publicKey string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, f := range s.friends {
		if f.PublicKey == publicKey {
			return id, nil
		}
	}
	if err := s.record(Command{Kind: CommandFriendAdd, Text: publicKey}); err != nil {
		return 0, err
	}
	id := s.nextFriend
	s.nextFriend++
	s.friends[id] = &simFriend{PublicKey: publicKey, fileIDs: make(map[uint32][]byte)}
	return id, nil
}

// FriendSendMessage implements Transport.
func (s *Simulated) FriendSendMessage(friendID uint32, messageType MessageType, message string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return 0, err
	}
	if !f.Status.Connected() {
		return 0, ErrFriendNotConnected
	}
	if err := s.record(Command{Kind: CommandSendMessage, FriendID: friendID, Text: message}); err != nil {
		return 0, err
	}
	return uint32(len(s.commands)), nil
}

// FileSend implements Transport.
func (s *Simulated) FileSend(friendID uint32, kind FileKind, fileSize uint64, fileID []byte, fileName string) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return 0, err
	}
	if !f.Status.Connected() {
		return 0, ErrFriendNotConnected
	}
	number := f.nextFile
	if err := s.record(Command{
		Kind:     CommandFileSend,
		FriendID: friendID,
		FileID:   number,
		FileKind: kind,
		FileSize: fileSize,
		Text:     fileName,
	}); err != nil {
		return 0, err
	}
	f.nextFile++
	if fileID == nil {
		fileID = randomBytes(FileIDLength)
	}
	id := make([]byte, len(fileID))
	copy(id, fileID)
	f.fileIDs[number] = id
	return number, nil
}

// FileGetFileID implements Transport.
func (s *Simulated) FileGetFileID(friendID, fileID uint32) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return nil, err
	}
	id, ok := f.fileIDs[fileID]
	if !ok {
		return nil, fmt.Errorf("%w: friend %d file %d", ErrFileNotFound, friendID, fileID)
	}
	out := make([]byte, len(id))
	copy(out, id)
	return out, nil
}

// FileControl implements Transport.
func (s *Simulated) FileControl(friendID, fileID uint32, control FileControl) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.friend(friendID); err != nil {
		return err
	}
	return s.record(Command{Kind: CommandFileControl, FriendID: friendID, FileID: fileID, Control: control})
}

// FileSendChunk implements Transport.
func (s *Simulated) FileSendChunk(friendID, fileID uint32, position uint64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.friend(friendID); err != nil {
		return err
	}
	chunk := make([]byte, len(data))
	copy(chunk, data)
	return s.record(Command{Kind: CommandFileSendChunk, FriendID: friendID, FileID: fileID, Position: position, Data: chunk})
}

// AnswerCall implements Transport.
func (s *Simulated) AnswerCall(friendID uint32, audioBitRate, videoBitRate uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return err
	}
	if err := s.record(Command{Kind: CommandAnswerCall, FriendID: friendID, AudioBitRate: audioBitRate, VideoBitRate: videoBitRate}); err != nil {
		return err
	}
	f.inCall = true
	return nil
}

// AudioSendFrame implements Transport.
func (s *Simulated) AudioSendFrame(friendID uint32, frame AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return err
	}
	if !f.inCall {
		return ErrNoCall
	}
	return s.record(Command{Kind: CommandAudioFrame, FriendID: friendID, Position: uint64(frame.SampleCount)})
}

// VideoSendFrame implements Transport.
func (s *Simulated) VideoSendFrame(friendID uint32, frame VideoFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, err := s.friend(friendID)
	if err != nil {
		return err
	}
	if !f.inCall {
		return ErrNoCall
	}
	return s.record(Command{Kind: CommandVideoFrame, FriendID: friendID, Position: uint64(frame.Width) * uint64(frame.Height)})
}

// SaveData implements Transport. The profile and friend list survive; live
// statuses, transfers and calls do not.
func (s *Simulated) SaveData() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(simState{
		Name:          s.name,
		StatusMessage: s.statusMessage,
		Friends:       s.friends,
		Next:          s.nextFriend,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Simulated.SaveData",
			"error":    err.Error(),
		}).Error("Failed to encode simulated state")
		return nil
	}
	return data
}

// Kill implements Transport.
func (s *Simulated) Kill() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.killed = true
	s.pending = nil
}

// Killed reports whether Kill was called.
func (s *Simulated) Killed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.killed
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("crypto/rand failed: %v", err))
	}
	return b
}

func randomHex(n int) string {
	return hex.EncodeToString(randomBytes(n))
}

var _ Transport = (*Simulated)(nil)
