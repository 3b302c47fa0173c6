package transport

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	NopHandler
	statuses []ConnectionStatus
	offers   []string
	states   []CallState
}

func (r *recordingHandler) OnFriendConnectionStatus(_ uint32, status ConnectionStatus) {
	r.statuses = append(r.statuses, status)
}

func (r *recordingHandler) OnFileRecv(_, _ uint32, _ FileKind, _ uint64, name string) {
	r.offers = append(r.offers, name)
}

func (r *recordingHandler) OnCallState(_ uint32, state CallState) {
	r.states = append(r.states, state)
}

func TestSimulatedDispatchesQueuedEventsInOrder(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)

	h := &recordingHandler{}
	sim.SetHandler(h)

	sim.ConnectFriend(1, "alice", ConnectionUDP)
	sim.OfferFile(1, 0, FileKindData, 10, "a.bin", nil)
	sim.ConnectFriend(1, "", ConnectionNone)
	assert.Equal(t, 3, sim.Pending())

	interval := sim.Iterate()
	assert.Equal(t, DefaultSimulatedInterval, interval)
	assert.Equal(t, 0, sim.Pending())
	assert.Equal(t, []ConnectionStatus{ConnectionUDP, ConnectionNone}, h.statuses)
	assert.Equal(t, []string{"a.bin"}, h.offers)
}

func TestSimulatedFileSendRequiresConnectedFriend(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)

	_, err = sim.FileSend(9, FileKindData, 1, nil, "x")
	assert.ErrorIs(t, err, ErrFriendNotFound)

	sim.ConnectFriend(9, "bob", ConnectionNone)
	_, err = sim.FileSend(9, FileKindData, 1, nil, "x")
	assert.ErrorIs(t, err, ErrFriendNotConnected)

	sim.ConnectFriend(9, "bob", ConnectionTCP)
	first, err := sim.FileSend(9, FileKindData, 1, nil, "x")
	require.NoError(t, err)
	second, err := sim.FileSend(9, FileKindAvatar, 1, []byte{1, 2, 3}, "y")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	id, err := sim.FileGetFileID(9, second)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, id)

	assert.Len(t, sim.CommandsOf(CommandFileSend), 2)
}

func TestSimulatedFailNext(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)
	sim.ConnectFriend(2, "carol", ConnectionUDP)

	boom := errors.New("boom")
	sim.FailNext(CommandFileControl, boom)

	assert.ErrorIs(t, sim.FileControl(2, 0, FileControlCancel), boom)
	assert.NoError(t, sim.FileControl(2, 0, FileControlCancel))
	assert.Len(t, sim.CommandsOf(CommandFileControl), 1)
}

func TestSimulatedMediaRequiresCall(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)
	sim.ConnectFriend(3, "dave", ConnectionUDP)

	assert.ErrorIs(t, sim.AudioSendFrame(3, AudioFrame{SampleCount: 480}), ErrNoCall)

	require.NoError(t, sim.AnswerCall(3, 32, 5000))
	assert.NoError(t, sim.AudioSendFrame(3, AudioFrame{SampleCount: 480}))
	assert.NoError(t, sim.VideoSendFrame(3, VideoFrame{Width: 4, Height: 4}))

	sim.CallState(3, CallStateFinished)
	assert.ErrorIs(t, sim.VideoSendFrame(3, VideoFrame{Width: 4, Height: 4}), ErrNoCall)
}

func TestSimulatedSaveDataRestoresProfileAndFriends(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)
	require.NoError(t, sim.SetSelfName("EchoBot"))
	require.NoError(t, sim.SetSelfStatusMessage("Send me a message"))
	sim.ConnectFriend(4, "erin", ConnectionUDP)
	require.NoError(t, sim.AnswerCall(4, 32, 5000))

	restored, err := NewSimulated(sim.SaveData())
	require.NoError(t, err)

	assert.Equal(t, "EchoBot", restored.SelfName())
	assert.Equal(t, "Send me a message", restored.SelfStatusMessage())
	assert.Equal(t, []uint32{4}, restored.Friends())
	name, err := restored.FriendName(4)
	require.NoError(t, err)
	assert.Equal(t, "erin", name)

	status, err := restored.FriendConnectionStatus(4)
	require.NoError(t, err)
	assert.Equal(t, ConnectionNone, status)
	assert.ErrorIs(t, restored.AudioSendFrame(4, AudioFrame{}), ErrNoCall)
	assert.Empty(t, restored.Commands())
}

func TestSimulatedKillRejectsCommands(t *testing.T) {
	sim, err := NewSimulated(nil)
	require.NoError(t, err)
	sim.ConnectFriend(5, "frank", ConnectionUDP)
	sim.Kill()

	assert.True(t, sim.Killed())
	assert.ErrorIs(t, sim.FileControl(5, 0, FileControlResume), ErrKilled)
}

func TestCallStateBits(t *testing.T) {
	tests := []struct {
		name     string
		state    CallState
		terminal bool
	}{
		{"accepting both", CallStateAcceptingA | CallStateAcceptingV, false},
		{"finished", CallStateFinished, true},
		{"error with flags", CallStateError | CallStateSendingA, true},
		{"none", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.terminal, tt.state.Terminal())
		})
	}

	assert.True(t, (CallStateAcceptingA | CallStateSendingV).Has(CallStateAcceptingA))
	assert.False(t, CallStateSendingV.Has(CallStateAcceptingV))
	assert.Equal(t, CallState(63), CallStateKnownMask)
}

func TestEnumStrings(t *testing.T) {
	assert.Equal(t, "udp", ConnectionUDP.String())
	assert.Equal(t, "avatar", FileKindAvatar.String())
	assert.Equal(t, "cancel", FileControlCancel.String())
	assert.Equal(t, "unknown(9)", FileKind(9).String())
	assert.False(t, ConnectionStatus(7).Valid())
}
