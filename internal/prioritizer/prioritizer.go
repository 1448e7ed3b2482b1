// Package prioritizer ranks untried OTP candidates by success likelihood.
// It trains a smoothed naive-Bayes model over positional features of past
// guesses, using latency and body-size deviation as side-channel evidence,
// and degrades to a uniform ranking when too little data exists.
package prioritizer

import (
	"fmt"
	"math"
	"sort"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Candidates carry no response of their own, so features are limited to
// positional/encoding properties the model can associate with analogous
// past guesses.
func features(g schemas.OtpGuess) []string {
	code := g.Code
	if code == "" {
		return nil
	}
	feats := []string{
		fmt.Sprintf("len=%d", len(code)),
		fmt.Sprintf("lead=%c", code[0]),
		fmt.Sprintf("last=%c", code[len(code)-1]),
		fmt.Sprintf("dsum=%d", digitSum(code)/5),
	}
	if hasAdjacentRepeat(code) {
		feats = append(feats, "repeat")
	}
	return feats
}

func digitSum(code string) int {
	sum := 0
	for _, r := range code {
		if r >= '0' && r <= '9' {
			sum += int(r - '0')
		}
	}
	return sum
}

func hasAdjacentRepeat(code string) bool {
	for i := 1; i < len(code); i++ {
		if code[i] == code[i-1] {
			return true
		}
	}
	return false
}

// Model is the trained state. It is a value replaced wholesale on retrain;
// callers never observe in-place mutation.
type Model struct {
	TrainedOn int
	Ready     bool

	priorLogOdds   float64
	unseenLogOdds  float64
	featureLogOdds map[string]float64

	// Population statistics of non-success responses, used to flag
	// deviation signals during training.
	BaselineLatencyMS float64
	BaselineBodyLen   float64
}

// Deviation thresholds: a non-success response this far off the population
// baseline is treated as a near-true side-channel signal.
const (
	latencyDeviationFactor = 1.5
	bodyDeviationFactor    = 0.25
	deviationWeight        = 0.5
)

// Train fits a model from the record log. It is pure: the same records
// produce an equivalent model. Below minRecords the model is marked not
// ready and Score falls back to a uniform value.
func Train(records []schemas.ResponseRecord, minRecords int) *Model {
	m := &Model{TrainedOn: len(records)}
	if len(records) < minRecords {
		return m
	}

	m.BaselineLatencyMS = medianLatency(records)
	m.BaselineBodyLen = medianBodyLen(records)

	posCounts := make(map[string]float64)
	negCounts := make(map[string]float64)
	var totalPos, totalNeg float64

	for _, rec := range records {
		posW, negW := 0.0, 1.0
		switch {
		case rec.Success:
			posW, negW = 1.0, 0.0
		case rec.Outcome == schemas.OutcomeOK && m.deviates(rec):
			// Soft label: probably still a miss, but its features keep some
			// positive mass as side-channel evidence.
			posW, negW = deviationWeight, 1.0-deviationWeight
		}

		for _, f := range features(rec.Guess) {
			posCounts[f] += posW
			negCounts[f] += negW
		}
		totalPos += posW
		totalNeg += negW
	}

	vocab := make(map[string]struct{}, len(posCounts)+len(negCounts))
	for f := range posCounts {
		vocab[f] = struct{}{}
	}
	for f := range negCounts {
		vocab[f] = struct{}{}
	}
	vocabSize := float64(len(vocab))

	m.featureLogOdds = make(map[string]float64, len(vocab))
	for f := range vocab {
		logPos := math.Log((posCounts[f] + 1) / (totalPos + vocabSize))
		logNeg := math.Log((negCounts[f] + 1) / (totalNeg + vocabSize))
		m.featureLogOdds[f] = logPos - logNeg
	}
	m.unseenLogOdds = math.Log(1/(totalPos+vocabSize)) - math.Log(1/(totalNeg+vocabSize))
	m.priorLogOdds = math.Log((totalPos + 1) / (totalNeg + 1))
	m.Ready = true
	return m
}

// deviates reports whether a non-success record shows a timing or body-size
// side channel relative to the population baseline.
func (m *Model) deviates(rec schemas.ResponseRecord) bool {
	if m.BaselineLatencyMS > 0 && rec.LatencyMS > m.BaselineLatencyMS*latencyDeviationFactor {
		return true
	}
	if m.BaselineBodyLen > 0 && math.Abs(float64(rec.BodyLength)-m.BaselineBodyLen) > m.BaselineBodyLen*bodyDeviationFactor {
		return true
	}
	return false
}

// Score returns the success probability for a candidate in [0, 1]. With a
// nil or not-ready model every candidate scores exactly 0.5, making ranked
// selection equivalent to the caller's fallback order. Confidence is never
// fabricated.
func Score(m *Model, g schemas.OtpGuess) float64 {
	if m == nil || !m.Ready {
		return 0.5
	}
	s := m.priorLogOdds
	for _, f := range features(g) {
		lo, ok := m.featureLogOdds[f]
		if !ok {
			lo = m.unseenLogOdds
		}
		s += lo
	}
	return 1.0 / (1.0 + math.Exp(-s))
}

func medianLatency(records []schemas.ResponseRecord) float64 {
	var vals []float64
	for _, rec := range records {
		if rec.Outcome == schemas.OutcomeOK && !rec.Success {
			vals = append(vals, rec.LatencyMS)
		}
	}
	return median(vals)
}

func medianBodyLen(records []schemas.ResponseRecord) float64 {
	var vals []float64
	for _, rec := range records {
		if rec.Outcome == schemas.OutcomeOK && !rec.Success {
			vals = append(vals, float64(rec.BodyLength))
		}
	}
	return median(vals)
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}
