// Package file manages chunked file transfers with friends, in both
// directions, for data files and avatars.
//
// # Overview
//
// The package provides two primary components:
//
//   - Transfer: the state of one open transfer (friend, transfer number,
//     direction, kind, size, cursor position, content id, file handle)
//   - Manager: the table of open transfers keyed by (friend, transfer number),
//     the admission policy, and the chunk I/O driven by transport events
//
// # Admission
//
// Incoming offers go through Policy, evaluated in order:
//
//  1. a size of zero or FileSizeUnknown is a stream and is rejected
//  2. a friend already at MaxTransfersPerPeer open transfers is rejected
//  3. data files need AcceptFiles, a size within MaxFileSize (0 means
//     unlimited) and an existing FilesPath directory; avatars need the
//     matching avatar settings
//
// A rejection is a normal Decision, not an error. An unknown kind returns
// ErrUnknownKind, which wraps transport.ErrProtocolViolation.
//
//	decision, err := manager.RequestAccept(friendID, fileID, kind, size, name)
//
// HandleFileRecv runs the same check and then resumes or cancels the offer
// through the transport.
//
// # Chunk I/O
//
// Transports do not promise sequential chunks. Both HandleChunk and
// HandleChunkRequest seek when the requested position differs from the
// tracked cursor, and the cursor always ends at position plus the bytes
// processed:
//
//	manager.HandleChunk(friendID, fileID, position, data)       // incoming
//	data, err := manager.HandleChunkRequest(friendID, fileID, position, n) // outgoing
//
// An empty incoming chunk, a cursor past the announced size, or a zero length
// request completes the transfer and closes its handle. Completed incoming
// data files are passed to every OnReceived callback, which the bot uses to
// echo them back.
//
// # Errors
//
// Local I/O failures wrap ErrResource and abort only the affected transfer.
// Refused transport commands wrap transport.ErrTransport; chunk sends that the
// transport refuses are logged and dropped.
package file
