// Package codegen produces random, human-friendly coupon codes.
package codegen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/kkkkikiki/couponcodes/internal/model"
)

// Alphabet holds the characters a code is drawn from: upper case letters and
// digits without the look-alikes 0, O, I and 1. Its size is exactly 32.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	bitsPerChar = 5
	charMask    = len(Alphabet) - 1

	// a call gives up after count*attemptFactor+minAttempts draws
	attemptFactor = 64
	minAttempts   = 1024
)

// ErrExhaustedKeyspace is returned when the requested number of distinct codes
// cannot be produced at the requested length.
var ErrExhaustedKeyspace = errors.New("code keyspace exhausted")

// Generator draws codes from a random source.
type Generator struct {
	rand io.Reader
}

// New returns a Generator backed by crypto/rand.
func New() *Generator {
	return &Generator{rand: rand.Reader}
}

// NewWithReader returns a Generator reading randomness from r.
func NewWithReader(r io.Reader) *Generator {
	return &Generator{rand: r}
}

// Generate returns count distinct codes of the given length, none of which is in excluded.
// Codes are returned in the order they were drawn.
func (g *Generator) Generate(count, length int, excluded model.CodeSet) ([]string, error) {
	if count < 0 || length < 1 {
		return nil, fmt.Errorf("%w: count %d, length %d", model.ErrInvalidInput, count, length)
	}
	if count == 0 {
		return []string{}, nil
	}

	if free, ok := freeKeyspace(length, excluded); ok && int64(count) > free {
		return nil, fmt.Errorf("%w: %d codes of length %d requested, %d available",
			ErrExhaustedKeyspace, count, length, free)
	}

	codes := make([]string, 0, count)
	seen := make(model.CodeSet, count)
	buf := make([]byte, length)
	maxAttempts := count*attemptFactor + minAttempts

	for attempts := 0; len(codes) < count; attempts++ {
		if attempts >= maxAttempts {
			return nil, fmt.Errorf("%w: %d of %d codes after %d attempts",
				ErrExhaustedKeyspace, len(codes), count, attempts)
		}

		code, err := g.draw(buf)
		if err != nil {
			return nil, err
		}
		if seen.Has(code) || excluded.Has(code) {
			continue
		}
		seen.Add(code)
		codes = append(codes, code)
	}

	return codes, nil
}

// draw fills buf with random bytes and maps each onto the alphabet.
// The alphabet has 32 entries, so masking a byte keeps the draw uniform.
func (g *Generator) draw(buf []byte) (string, error) {
	if _, err := io.ReadFull(g.rand, buf); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = Alphabet[int(b)&charMask]
	}
	return string(buf), nil
}

// freeKeyspace returns how many codes of the given length are still available
// once excluded is taken out. ok is false when the keyspace is too large to matter.
func freeKeyspace(length int, excluded model.CodeSet) (free int64, ok bool) {
	if length*bitsPerChar >= 62 {
		return 0, false
	}
	free = int64(1) << (length * bitsPerChar)
	for code := range excluded {
		if isGeneratable(code, length) {
			free--
		}
	}
	return free, true
}

func isGeneratable(code string, length int) bool {
	if len(code) != length {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(Alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
