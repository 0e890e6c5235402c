package vault

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"golang.org/x/crypto/sha3"
)

// SaltSize is the number of random bytes in a commitment salt.
const SaltSize = 16

// NewSalt returns a random hex-encoded salt.
func NewSalt() (string, error) {
	b := make([]byte, SaltSize)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// Commit returns keccak256(salt ":" answer) as lowercase hex. The answer is
// taken byte for byte; no trimming or case folding is applied.
func Commit(salt, answer string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(salt))
	h.Write([]byte{':'})
	h.Write([]byte(answer))
	return hex.EncodeToString(h.Sum(nil))
}

// CommitmentEqual reports whether answer opens commitment under salt. The
// comparison runs in constant time over the digest.
func CommitmentEqual(salt, answer, commitment string) bool {
	got := Commit(salt, answer)
	return subtle.ConstantTimeCompare([]byte(got), []byte(commitment)) == 1
}

// TagEqual compares two opaque tags in constant time.
func TagEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
