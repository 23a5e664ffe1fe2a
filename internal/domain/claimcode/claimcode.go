// Package claimcode generates the short codes buyers present in store to
// collect an order.
package claimcode

import (
	"crypto/rand"
	"io"
	"math/big"
	"strings"

	"github.com/go-faster/errors"
)

const (
	// Alphabet omits characters that are easy to misread: I, L, O, 0 and 1.
	Alphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	// Length is the number of characters in a code.
	Length = 8
)

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate returns a fresh random code. Uniqueness is the caller's concern.
func Generate() (string, error) {
	return generate(rand.Reader)
}

func generate(r io.Reader) (string, error) {
	var b strings.Builder
	b.Grow(Length)
	for range Length {
		n, err := rand.Int(r, alphabetSize)
		if err != nil {
			return "", errors.Wrap(err, "read random")
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// Normalize canonicalises user input: surrounding space, separators and
// letter case are ignored.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	return strings.Map(func(r rune) rune {
		if r == '-' || r == ' ' {
			return -1
		}
		return r
	}, code)
}

// Valid reports whether code, already normalised, could have been generated.
func Valid(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := range len(code) {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
