// Package printer defines the payloads cached per printer and the pure merge
// rules shared by the push dispatcher and the poll source.
//
// Payload fields that a printer may not report are pointers; nil means the
// value was null or absent on the wire. The rules in this package never touch
// the cache themselves:
//
//   - ProjectPhase derives the phase/error view from a full status
//   - DeriveHasError resolves the error flag when has_error is omitted
//   - ShouldWriteTray guards the tray type against being blanked by empty
//     updates unless the sender flags the change
package printer
