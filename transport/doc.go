// Package transport describes the peer-to-peer messaging capability the echo
// bot is built on, and ships an in-process simulation of it.
//
// # Capability
//
// The Transport interface is the whole surface the bot needs from the
// underlying network stack: an event pump, friend and file commands, call
// answering and media frame sending, plus the opaque save blob. DHT routing,
// the crypto handshake and audio/video codecs stay behind it.
//
//	tr.SetHandler(bot)
//	for running {
//	    interval := tr.Iterate()
//	    time.Sleep(interval)
//	}
//
// Events are delivered through the Handler interface, always on the
// goroutine that calls Iterate. Commands never block on delivery.
//
// # Errors
//
// Implementations report refused commands with errors wrapping ErrTransport
// or with one of the specific sentinels (ErrFriendNotFound, ErrNoCall, ...).
// ErrProtocolViolation is the shared class for peers breaking the protocol's
// assumptions; packages built on top wrap it in their own sentinels.
//
// # Simulation
//
// Simulated implements Transport without a network. Tests and the demo
// command queue events on it and inspect the commands it recorded:
//
//	sim := transport.NewSimulated(nil)
//	sim.ConnectFriend(7, "alice", transport.ConnectionUDP)
//	sim.OfferFile(7, 1, transport.FileKindData, 1024, "a.bin", nil)
//	sim.Iterate()
//	cmds := sim.Commands()
package transport
