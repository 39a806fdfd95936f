package lobby

import (
	crand "crypto/rand"
	"math/big"
	"math/rand"
	"strings"
)

const (
	// CodeLength is the length of generated lobby codes.
	CodeLength = 6

	// codeChars are the characters used for lobby codes, with the
	// ambiguous ones (0/O, 1/I) left out.
	codeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// GenerateCode creates a random lobby code.
func GenerateCode() string {
	code := make([]byte, CodeLength)
	for i := range code {
		n, err := crand.Int(crand.Reader, big.NewInt(int64(len(codeChars))))
		if err != nil {
			// fall back to math/rand if crypto fails
			code[i] = codeChars[rand.Intn(len(codeChars))]
			continue
		}
		code[i] = codeChars[n.Int64()]
	}
	return string(code)
}

// NormalizeCode maps user input onto the canonical code form. Codes are
// case-insensitive on the way in and uppercase everywhere else.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// ValidCode reports whether a string looks like a lobby code.
func ValidCode(code string) bool {
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		found := false
		for j := 0; j < len(codeChars); j++ {
			if code[i] == codeChars[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
