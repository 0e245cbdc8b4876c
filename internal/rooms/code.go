package rooms

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CodeLength is the length of generated room join codes.
const CodeLength = 6

// Ambiguous glyphs (0/O, 1/I) are left out so codes can be read aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewCode returns a random upper-case join code.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	max := big.NewInt(int64(len(codeAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate room code: %w", err)
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}
