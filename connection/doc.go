// Package connection supervises the node's DHT link and the link state of
// every friend.
//
// A Supervisor is fed status events by the bot and answers two questions:
// which friends are online, and whether the node lost the DHT after having
// been connected. The second drives re-bootstrapping in the driver loop:
//
//	if sup.NeedsReconnect() {
//	    bootstrap()
//	    sup.MarkBootstrapped()
//	}
//
// Friends dropping to ConnectionNone are forgotten and every OnPeerLost
// callback runs, which is how the file and call managers release their
// per-friend state. Friends coming online fire OnPeerGained.
package connection
