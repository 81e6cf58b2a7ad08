package roomkey

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Derive returns the room key of the unordered pair (a, b).
// Derive(a, b) == Derive(b, a) for every pair.
func Derive(a, b string) string {
	// order the pair before hashing, the JSON array keeps "a|bc" and "ab|c" apart
	if b < a {
		a, b = b, a
	}
	canonical, _ := json.Marshal([2]string{a, b})
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}
