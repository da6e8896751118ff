// Package snapshot encodes store state for devtools bridges and the
// scenario harness.
//
// Snapshots are canonical JSON: sorted keys (UTF-16 order), NFC strings
// and no whitespace, so identical states always produce identical bytes
// and hashes. Decode turns a bridge message back into a state diff.
package snapshot
