package main

import (
	"github.com/opd-ai/toxecho/transport"
	"github.com/sirupsen/logrus"
)

const (
	demoFriend    = 0
	demoPublicKey = "F404ABAA1C99A9D37D61AB54898F56793E1DEF8BD46B1038B9D822E8460FAB67"
)

var demoPayload = []byte("hello from the demo friend\n")

// scriptDemo queues a friend session on sim. Everything is dispatched by the
// bot's first tick.
func scriptDemo(sim *transport.Simulated) {
	logrus.WithFields(logrus.Fields{
		"function": "scriptDemo",
		"friend":   demoFriend,
	}).Info("Scripting demo friend")

	sim.SetSelfStatus(transport.ConnectionUDP)
	sim.FriendRequest(demoPublicKey, "echo me")
	sim.ConnectFriend(demoFriend, "demo", transport.ConnectionUDP)

	sim.Message(demoFriend, transport.MessageTypeNormal, "hello echobot")
	sim.Message(demoFriend, transport.MessageTypeAction, "waves")

	half := len(demoPayload) / 2
	sim.OfferFile(demoFriend, 0, transport.FileKindData, uint64(len(demoPayload)), "demo.txt", nil)
	sim.DeliverChunk(demoFriend, 0, 0, demoPayload[:half])
	sim.DeliverChunk(demoFriend, 0, uint64(half), demoPayload[half:])
	sim.DeliverChunk(demoFriend, 0, uint64(len(demoPayload)), nil)

	sim.Call(demoFriend, true, true)
	sim.CallState(demoFriend, transport.CallStateSendingA|transport.CallStateSendingV|
		transport.CallStateAcceptingA|transport.CallStateAcceptingV)
	sim.BitRate(demoFriend, 48, 4000)
	sim.AudioFrame(demoFriend, transport.AudioFrame{
		PCM:          make([]int16, 960),
		SampleCount:  960,
		Channels:     1,
		SamplingRate: 48000,
	})
	sim.VideoFrame(demoFriend, transport.VideoFrame{
		Width:   2,
		Height:  2,
		Y:       make([]byte, 4),
		U:       make([]byte, 1),
		V:       make([]byte, 1),
		YStride: 2,
		UStride: 1,
		VStride: 1,
	})
	sim.CallState(demoFriend, transport.CallStateFinished)
}
