package engine

import (
	"math/rand"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/guessgen"
)

// guessSource yields untried candidates one at a time. Sources are not safe
// for concurrent use; the dispatch loop is strictly sequential.
type guessSource interface {
	next() (schemas.OtpGuess, bool)
}

// listSource walks a fixed, pre-built candidate list.
type listSource struct {
	guesses []schemas.OtpGuess
	idx     int
}

func (s *listSource) next() (schemas.OtpGuess, bool) {
	if s.idx >= len(s.guesses) {
		return schemas.OtpGuess{}, false
	}
	g := s.guesses[s.idx]
	s.idx++
	return g, true
}

// cursorSource enumerates the full space in positional order.
type cursorSource struct {
	cursor *guessgen.SequentialCursor
}

func (s *cursorSource) next() (schemas.OtpGuess, bool) {
	return s.cursor.Next()
}

// rankedSource backs the model-guided mode. Until the ranker has a trained
// model it walks a shuffled permutation of the space, so the cold-start order
// carries no structure an observer could exploit. Once the ranker is ready,
// each pick is the highest-scoring untried candidate, with the enumeration
// position breaking score ties.
type rankedSource struct {
	untried []schemas.OtpGuess
	head    int
	ranker  Ranker
}

func newRankedSource(space guessgen.Space, rng *rand.Rand, ranker Ranker) *rankedSource {
	candidates := space.Candidates()
	rng.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	return &rankedSource{untried: candidates, ranker: ranker}
}

func (s *rankedSource) next() (schemas.OtpGuess, bool) {
	if s.head >= len(s.untried) {
		return schemas.OtpGuess{}, false
	}
	if !s.ranker.Ready() {
		g := s.untried[s.head]
		s.head++
		return g, true
	}

	best := s.head
	bestScore := s.ranker.Score(s.untried[best])
	for i := s.head + 1; i < len(s.untried); i++ {
		score := s.ranker.Score(s.untried[i])
		if score > bestScore ||
			(score == bestScore && s.untried[i].Position < s.untried[best].Position) {
			best = i
			bestScore = score
		}
	}

	g := s.untried[best]
	s.untried[best] = s.untried[s.head]
	s.head++
	return g, true
}
