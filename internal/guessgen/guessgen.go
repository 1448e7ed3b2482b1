// Package guessgen implements the guess-generation policy: deterministic
// enumeration of a zero-padded numeric OTP space plus random sampling
// without replacement for fingerprinting.
package guessgen

import (
	"fmt"
	"math/rand"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Space is the set of candidate codes 0..10^digits-1, zero padded.
type Space struct {
	digits int
	size   int
}

// NewSpace builds a space for codes of the given digit count.
func NewSpace(digits int) (Space, error) {
	if digits < 1 || digits > 9 {
		return Space{}, fmt.Errorf("digits must be between 1 and 9, got %d", digits)
	}
	size := 1
	for i := 0; i < digits; i++ {
		size *= 10
	}
	return Space{digits: digits, size: size}, nil
}

func (s Space) Size() int { return s.size }

// Guess returns the candidate at the given enumeration position.
func (s Space) Guess(position int) schemas.OtpGuess {
	return schemas.OtpGuess{
		Code:     fmt.Sprintf("%0*d", s.digits, position),
		Position: position,
	}
}

// Candidates returns the full enumeration in ascending order.
func (s Space) Candidates() []schemas.OtpGuess {
	out := make([]schemas.OtpGuess, s.size)
	for i := 0; i < s.size; i++ {
		out[i] = s.Guess(i)
	}
	return out
}

// RandomSample draws n guesses without replacement. n is clamped to the
// space size. The caller owns the RNG so sampling is reproducible under a
// fixed seed.
func (s Space) RandomSample(n int, rng *rand.Rand) []schemas.OtpGuess {
	if n > s.size {
		n = s.size
	}
	out := make([]schemas.OtpGuess, 0, n)
	for _, position := range rng.Perm(s.size)[:n] {
		out = append(out, s.Guess(position))
	}
	return out
}

// SequentialCursor walks the space in ascending order, never repeating a
// guess within one session.
type SequentialCursor struct {
	space Space
	next  int
}

func NewSequentialCursor(space Space) *SequentialCursor {
	return &SequentialCursor{space: space}
}

// Next returns the following guess, or false once the space is exhausted.
func (c *SequentialCursor) Next() (schemas.OtpGuess, bool) {
	if c.next >= c.space.Size() {
		return schemas.OtpGuess{}, false
	}
	g := c.space.Guess(c.next)
	c.next++
	return g, true
}
