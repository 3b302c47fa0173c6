// Package av tracks audio/video call sessions and runs the media workers
// that feed them.
//
// # Architecture
//
//   - Manager: the session table keyed by friend number, driven by call,
//     call state and bit rate events from the transport
//   - Call: one session with its enabled flags and answered bit rates
//   - Capture: media workers reading an AudioSource and a VideoSource and
//     sending each frame to every session accepting that media
//
// # Session Lifecycle
//
// Sessions move Ringing, Active, Ended. An incoming call creates a ringing
// session and is answered at once with the configured bit rates; a refused
// answer removes it again. Call state bitmasks then update the session:
//
//	CallStateError | CallStateFinished  -> ended and removed
//	CallStateAcceptingA                 -> audio enabled
//	CallStateAcceptingV                 -> video enabled
//
// Enabled flags are never cleared while a session lives. Bits outside
// CallStateKnownMask return ErrUnknownCallState and leave the session alone.
//
// # Media Workers
//
// The first active session starts the Worker installed with SetWorker. When
// the last session ends the worker is stopped and joined, then every
// OnCaptureStopped callback runs, once per capture period:
//
//	capture := av.NewCapture(tr, manager, av.NewToneSource(), nil, m)
//	manager.SetWorker(capture)
//	manager.OnCaptureStopped(func() { log.Print("capture idle") })
//
// Workers read flags through IsAudioEnabled and IsVideoEnabled, which are
// safe for concurrent use. A session may end between that check and the
// send; transport.ErrNoCall from the send is counted as a dropped frame.
package av
