package connection

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// codeAlphabet omits 0/O and 1/I/L so codes survive being read aloud or retyped
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

const codeGroupLen = 4

// CodeGenerator produces a candidate connection code. It makes no uniqueness
// promise; the registry enforces that at insert time.
type CodeGenerator func() (string, error)

// NewCodeGenerator returns a generator of PREFIX-XXXX-XXXX codes. The prefix
// is upper-cased so issued codes survive NormalizeCode unchanged.
func NewCodeGenerator(prefix string) CodeGenerator {
	prefix = NormalizeCode(prefix)
	return func() (string, error) {
		var b strings.Builder
		b.Grow(len(prefix) + 2*codeGroupLen + 2)
		b.WriteString(prefix)
		for group := 0; group < 2; group++ {
			b.WriteByte('-')
			for i := 0; i < codeGroupLen; i++ {
				n, err := rand.Int(rand.Reader, big.NewInt(int64(len(codeAlphabet))))
				if err != nil {
					return "", fmt.Errorf("reading entropy: %w", err)
				}
				b.WriteByte(codeAlphabet[n.Int64()])
			}
		}
		return b.String(), nil
	}
}

// NormalizeCode canonicalises a user-typed code for lookup
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
