// Package digest fingerprints lowered constructs for logging and dedup,
// the way the teacher's hash.go picks a hash.Hash constructor by name —
// here there's exactly one algorithm, blake2b-256, rather than a
// user-selectable table of them.
package digest

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint returns a short hex digest identifying a construct's shape:
// its kind and the start and end of the range it covers. Two constructs
// of the same kind over the same range produce the same fingerprint
// regardless of which *ir.Module they live in — useful for cmd/parallelrtc's log lines and for spotting
// accidental duplicate lowering of the same construct.
func Fingerprint(kind string, start, end int) string {
	h, err := blake2b.New256(nil)
	if err != nil {
		// New256 only errors on an oversized key, and we pass none.
		panic(fmt.Sprintf("digest: blake2b.New256: %v", err))
	}
	fmt.Fprintf(h, "%s:%d:%d", kind, start, end)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
