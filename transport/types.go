package transport

import (
	"fmt"
	"math"
	"time"
)

// ConnectionStatus is the kind of link the transport currently has, either
// for the local node (DHT connectivity) or for a single friend.
type ConnectionStatus uint8

const (
	// ConnectionNone means no usable link.
	ConnectionNone ConnectionStatus = iota
	// ConnectionTCP means the link runs over a TCP relay.
	ConnectionTCP
	// ConnectionUDP means a direct UDP link.
	ConnectionUDP
)

// String returns a human readable status name.
func (s ConnectionStatus) String() string {
	switch s {
	case ConnectionNone:
		return "none"
	case ConnectionTCP:
		return "tcp"
	case ConnectionUDP:
		return "udp"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the known statuses.
func (s ConnectionStatus) Valid() bool {
	return s <= ConnectionUDP
}

// Connected reports whether s is a usable link.
func (s ConnectionStatus) Connected() bool {
	return s == ConnectionTCP || s == ConnectionUDP
}

// FileKind tells the receiver what a file transfer carries.
type FileKind uint32

const (
	// FileKindData is an arbitrary user file.
	FileKindData FileKind = iota
	// FileKindAvatar is the sender's avatar image.
	FileKindAvatar
)

// String returns a human readable kind name.
func (k FileKind) String() string {
	switch k {
	case FileKindData:
		return "data"
	case FileKindAvatar:
		return "avatar"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(k))
	}
}

// FileControl is a transfer control command exchanged between peers.
type FileControl uint8

const (
	// FileControlResume starts or resumes a transfer.
	FileControlResume FileControl = iota
	// FileControlPause pauses a transfer.
	FileControlPause
	// FileControlCancel aborts a transfer.
	FileControlCancel
)

// String returns a human readable control name.
func (c FileControl) String() string {
	switch c {
	case FileControlResume:
		return "resume"
	case FileControlPause:
		return "pause"
	case FileControlCancel:
		return "cancel"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// FileSizeUnknown is the size announced for streams of unknown length.
const FileSizeUnknown uint64 = math.MaxUint64

// FileIDLength is the length of a file id (a SHA-256 digest for avatars).
const FileIDLength = 32

// MessageType distinguishes normal text messages from /me actions.
type MessageType uint8

const (
	MessageTypeNormal MessageType = iota
	MessageTypeAction
)

// CallState is the bitmask a peer reports for an ongoing call.
type CallState uint32

const (
	// CallStateError is set when the call failed on the peer side.
	CallStateError CallState = 1 << iota
	// CallStateFinished is set when the peer hung up.
	CallStateFinished
	// CallStateSendingA is set while the peer sends audio.
	CallStateSendingA
	// CallStateSendingV is set while the peer sends video.
	CallStateSendingV
	// CallStateAcceptingA is set while the peer accepts our audio.
	CallStateAcceptingA
	// CallStateAcceptingV is set while the peer accepts our video.
	CallStateAcceptingV
)

// CallStateKnownMask covers every bit a peer may legitimately report.
const CallStateKnownMask = CallStateError | CallStateFinished |
	CallStateSendingA | CallStateSendingV |
	CallStateAcceptingA | CallStateAcceptingV

// Has reports whether every bit of flag is set in s.
func (s CallState) Has(flag CallState) bool {
	return s&flag == flag
}

// Terminal reports whether the call is over.
func (s CallState) Terminal() bool {
	return s&(CallStateError|CallStateFinished) != 0
}

// AudioFrame is one block of signed 16-bit PCM samples.
type AudioFrame struct {
	PCM          []int16
	SampleCount  int
	Channels     uint8
	SamplingRate uint32
}

// VideoFrame is one YUV420 picture.
type VideoFrame struct {
	Width   uint16
	Height  uint16
	Y, U, V []byte
	YStride int
	UStride int
	VStride int
}

// Handler receives the events a Transport dispatches from Iterate.
// All methods are invoked on the goroutine calling Iterate.
type Handler interface {
	OnSelfConnectionStatus(status ConnectionStatus)
	OnFriendConnectionStatus(friendID uint32, status ConnectionStatus)
	OnFriendRequest(publicKey, message string)
	OnFriendMessage(friendID uint32, messageType MessageType, message string)

	OnFileRecv(friendID, fileID uint32, kind FileKind, fileSize uint64, fileName string)
	OnFileRecvControl(friendID, fileID uint32, control FileControl)
	OnFileRecvChunk(friendID, fileID uint32, position uint64, data []byte)
	OnFileChunkRequest(friendID, fileID uint32, position uint64, length int)

	OnCall(friendID uint32, audioEnabled, videoEnabled bool)
	OnCallState(friendID uint32, state CallState)
	OnBitRateStatus(friendID uint32, audioBitRate, videoBitRate uint32)
	OnAudioReceiveFrame(friendID uint32, frame AudioFrame)
	OnVideoReceiveFrame(friendID uint32, frame VideoFrame)
}

// Transport is the peer-to-peer messaging capability the bot runs on.
// DHT routing, the crypto handshake and media codecs live behind it.
// Commands are fire-and-forget: a nil error means the command was queued,
// not that the peer received it.
type Transport interface {
	// SetHandler installs the receiver for events dispatched by Iterate.
	SetHandler(h Handler)

	// Iterate processes one batch of pending events and returns the
	// interval the transport wants before the next call.
	Iterate() time.Duration

	// Bootstrap adds a DHT node and starts connecting through it.
	Bootstrap(host string, port uint16, publicKey string) error

	// SetSelfName and SetSelfStatusMessage set what friends see for this node.
	SetSelfName(name string) error
	SetSelfStatusMessage(message string) error

	// SelfConnectionStatus reports the current DHT status. The driver polls
	// it so a missed status event cannot stall reconnects.
	SelfConnectionStatus() ConnectionStatus
	FriendName(friendID uint32) (string, error)
	FriendAddNoRequest(publicKey string) (uint32, error)
	FriendSendMessage(friendID uint32, messageType MessageType, message string) (uint32, error)

	// FileSend offers a file to a friend and returns the transfer number.
	// A nil fileID lets the transport pick a random one.
	FileSend(friendID uint32, kind FileKind, fileSize uint64, fileID []byte, fileName string) (uint32, error)
	FileGetFileID(friendID, fileID uint32) ([]byte, error)
	FileControl(friendID, fileID uint32, control FileControl) error
	FileSendChunk(friendID, fileID uint32, position uint64, data []byte) error

	AnswerCall(friendID uint32, audioBitRate, videoBitRate uint32) error
	AudioSendFrame(friendID uint32, frame AudioFrame) error
	VideoSendFrame(friendID uint32, frame VideoFrame) error

	// SaveData returns the opaque session blob to persist.
	SaveData() []byte

	// Kill releases the transport. No method may be called afterwards.
	Kill()
}
