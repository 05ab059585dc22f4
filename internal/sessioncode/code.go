// Package sessioncode generates and validates participant join codes.
package sessioncode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
)

const (
	// Alphabet omits 0, O, 1, I and L so codes survive being read aloud or
	// copied from a projector.
	Alphabet = "23456789ABCDEFGHJKMNPQRSTUVWXYZ"
	Length   = 6

	DefaultMaxRetries = 5
	displaySeparator  = "-"
)

// ErrCodeExhausted is returned when every drawn code already exists.
var ErrCodeExhausted = errors.New("failed to generate unique session code")

// Checker reports whether a code is already assigned to a session.
type Checker interface {
	CodeExists(ctx context.Context, code string) (bool, error)
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, code string) (bool, error)

func (f CheckerFunc) CodeExists(ctx context.Context, code string) (bool, error) {
	return f(ctx, code)
}

var alphabetSize = big.NewInt(int64(len(Alphabet)))

// Generate draws a random code. It does not check for collisions.
func Generate() (string, error) {
	var b strings.Builder
	b.Grow(Length)
	for i := 0; i < Length; i++ {
		n, err := rand.Int(rand.Reader, alphabetSize)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
	}
	return b.String(), nil
}

// GenerateUnique draws codes until the checker reports one as free. A
// non-positive maxRetries uses DefaultMaxRetries.
func GenerateUnique(ctx context.Context, checker Checker, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	for attempt := 0; attempt < maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		code, err := Generate()
		if err != nil {
			return "", err
		}
		exists, err := checker.CodeExists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check session code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("%w after %d attempts", ErrCodeExhausted, maxRetries)
}

// IsValidFormat reports whether code has the right length and only uses
// alphabet characters. It does not normalize.
func IsValidFormat(code string) bool {
	if len(code) != Length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}

// Normalize trims, uppercases and drops display separators.
func Normalize(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, displaySeparator, "")
	return strings.ReplaceAll(code, " ", "")
}

// FormatDisplay groups a code as ABC-DEF. Codes of unexpected length are
// returned normalized but ungrouped.
func FormatDisplay(code string) string {
	code = Normalize(code)
	if len(code) != Length {
		return code
	}
	half := Length / 2
	return code[:half] + displaySeparator + code[half:]
}

// EntropyBits is log2(|alphabet|^Length).
func EntropyBits() float64 {
	return float64(Length) * math.Log2(float64(len(Alphabet)))
}

// Combinations is |alphabet|^Length.
func Combinations() int64 {
	n := int64(1)
	for i := 0; i < Length; i++ {
		n *= int64(len(Alphabet))
	}
	return n
}
