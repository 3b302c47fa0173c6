// Package toxecho implements an echo bot on top of a Tox-style peer-to-peer
// transport.
//
// The transport (DHT routing, the crypto handshake, media codecs) is an
// external collaborator reached through [transport.Transport]. The bot owns
// per-peer state only: connection status, chunked file transfers and
// audio/video calls.
//
// # Getting Started
//
//	opts := config.Default()
//	opts.AcceptFiles = true
//	opts.FilesPath = "received"
//
//	store := savedata.NewStore(opts.SaveFile, opts.SaveTmpFile, opts.Passphrase, nil)
//	blob, err := store.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	tr, err := transport.NewSimulated(blob)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	bot, err := toxecho.New(opts, tr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := bot.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Event Routing
//
// [Bot] implements [transport.Handler]. Events arrive on the goroutine that
// calls Iterate and are routed as follows:
//
//   - connection status: [connection.Supervisor], which cascades a peer going
//     offline to the file and call managers
//   - friend requests: accepted without a request message when
//     AutoAcceptFriends is set
//   - text messages: echoed back with the same message type
//   - file offers, chunks, chunk requests and controls: [file.Manager]
//   - calls, call state, bit-rate advisories and media frames: [av.Manager]
//
// A completed incoming data file is offered back to its sender, and to every
// other online friend when EchoToAll is set. The configured avatar is
// pushed to every friend that comes online.
//
// # Shutdown
//
// Run returns once its context is cancelled and the shutdown sequence has
// completed:
//
//  1. media workers are stopped and joined
//  2. the driver finishes the tick in progress
//  3. every open transfer is closed
//  4. the session blob is saved
//  5. the transport is killed
//
// Handler errors are logged and never stop the driver.
package toxecho
