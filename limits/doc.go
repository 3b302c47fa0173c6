// Package limits provides centralized size and count limits for the echo bot.
//
// # Limits
//
//   - MaxMessageLength (1372 bytes): the Tox protocol limit for one text
//     message. Echoed messages are validated against it before sending.
//
//   - MaxFileNameLength (255 bytes): the longest name accepted in a file offer.
//
//   - MaxChunkSize (64 KiB): the largest chunk read or written in one call.
//
//   - DefaultMaxTransfersPerPeer (20): the per-peer concurrent transfer cap
//     applied by the file admission policy unless configured otherwise.
//
// # Validation Functions
//
//	if err := limits.ValidateMessage(text); err != nil {
//	    // errors.Is(err, limits.ErrMessageTooLarge)
//	}
//
//	name, err := limits.SanitizeFileName(peerSuppliedName)
//
// All errors wrap a package sentinel and can be matched with errors.Is.
package limits
