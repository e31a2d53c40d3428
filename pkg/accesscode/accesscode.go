// Package accesscode issues and checks the short codes a viewer types to
// reach a host.
package accesscode

import (
	"crypto/rand"
	"math/big"
	"strings"

	"screenlink/internal/core/domain"
)

// Alphabet is the 62-character set codes are drawn from.
const Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

const (
	MinLength = 6
	MaxLength = 8
)

// Generate returns a code of random length in [MinLength, MaxLength] with
// every character drawn uniformly from Alphabet.
func Generate() domain.AccessCode {
	n := MinLength + randIntn(MaxLength-MinLength+1)
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = Alphabet[randIntn(len(Alphabet))]
	}
	return domain.AccessCode(buf)
}

// Validate reports whether candidate has an acceptable length. Nothing else
// about the candidate is checked.
func Validate(candidate string) bool {
	n := len([]rune(candidate))
	return n >= MinLength && n <= MaxLength
}

// ValidateStrict is Validate that also requires every character be in Alphabet.
func ValidateStrict(candidate string) bool {
	if !Validate(candidate) {
		return false
	}
	for i := 0; i < len(candidate); i++ {
		if strings.IndexByte(Alphabet, candidate[i]) < 0 {
			return false
		}
	}
	return true
}

// Validator checks entered codes against configured bounds before any
// signaling is attempted.
type Validator struct {
	Min    int
	Max    int
	Strict bool
}

// DefaultValidator accepts any 6 to 8 characters.
func DefaultValidator() Validator {
	return Validator{Min: MinLength, Max: MaxLength}
}

// Check returns ErrEmptyCode, ErrInvalidCode, or nil.
func (v Validator) Check(candidate string) error {
	if candidate == "" {
		return domain.ErrEmptyCode
	}
	n := len([]rune(candidate))
	if n < v.Min || n > v.Max {
		return domain.ErrInvalidCode
	}
	if v.Strict {
		for _, r := range candidate {
			if r > 127 || strings.IndexByte(Alphabet, byte(r)) < 0 {
				return domain.ErrInvalidCode
			}
		}
	}
	return nil
}

// Normalize trims surrounding whitespace. Codes are case-sensitive.
func Normalize(code string) domain.AccessCode {
	return domain.AccessCode(strings.TrimSpace(code))
}

func randIntn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		panic("accesscode: crypto/rand unavailable: " + err.Error())
	}
	return int(v.Int64())
}
