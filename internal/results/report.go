// Package results turns a finished session into an assessment report:
// aggregate timing statistics, response shape distribution, and the security
// findings the observed behavior supports.
package results

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/probe"
)

// TimingStats summarizes attempt latency in milliseconds. Only records with
// an OK outcome contribute; timeouts would dominate every percentile.
type TimingStats struct {
	MinMS    float64 `json:"min_ms"`
	MaxMS    float64 `json:"max_ms"`
	MeanMS   float64 `json:"mean_ms"`
	MedianMS float64 `json:"median_ms"`
	P95MS    float64 `json:"p95_ms"`
}

// TimingPoint is one attempt's latency, in dispatch order. The series is the
// raw material for external timing visualizations.
type TimingPoint struct {
	Seq       int     `json:"seq"`
	Code      string  `json:"code"`
	LatencyMS float64 `json:"latency_ms"`
}

// Summary counts attempt outcomes and response shapes.
type Summary struct {
	Attempts             int         `json:"attempts"`
	OK                   int         `json:"ok"`
	Timeouts             int         `json:"timeouts"`
	TransportErrors      int         `json:"transport_errors"`
	DistinctFingerprints int         `json:"distinct_fingerprints"`
	StatusCounts         map[int]int `json:"status_counts"`
}

// Report is the final artifact of an assessment run.
type Report struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Session     schemas.SessionOutcome `json:"session"`
	Summary     Summary                `json:"summary"`
	Timing      TimingStats            `json:"timing"`
	Series      []TimingPoint          `json:"series,omitempty"`
	Findings    []Finding              `json:"findings"`
	Events      []schemas.AuditEvent   `json:"events,omitempty"`
}

// Build compiles the report from a session's outcome, records and audit
// trail. Records must be in dispatch order.
func Build(outcome *schemas.SessionOutcome, records []schemas.ResponseRecord, events []schemas.AuditEvent) *Report {
	r := &Report{
		GeneratedAt: time.Now().UTC(),
		Session:     *outcome,
		Summary:     summarize(records),
		Timing:      timing(records),
		Series:      series(records),
		Events:      events,
	}
	r.Findings = deriveFindings(outcome, records, r.Summary, r.Timing)
	return r
}

// AddReuseResult folds a replay or race check into the report's findings.
func (r *Report) AddReuseResult(result *probe.ReuseResult, raced bool) {
	r.Findings = append(r.Findings, reuseFindings(result, raced)...)
}

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func summarize(records []schemas.ResponseRecord) Summary {
	s := Summary{
		Attempts:     len(records),
		StatusCounts: map[int]int{},
	}
	fingerprints := map[string]bool{}
	for _, rec := range records {
		switch rec.Outcome {
		case schemas.OutcomeOK:
			s.OK++
			s.StatusCounts[rec.StatusCode]++
			if rec.BodyFingerprint != "" {
				fingerprints[rec.BodyFingerprint] = true
			}
		case schemas.OutcomeTimeout:
			s.Timeouts++
		case schemas.OutcomeTransportError:
			s.TransportErrors++
		}
	}
	s.DistinctFingerprints = len(fingerprints)
	return s
}

func series(records []schemas.ResponseRecord) []TimingPoint {
	points := make([]TimingPoint, 0, len(records))
	for i, rec := range records {
		if rec.Outcome != schemas.OutcomeOK {
			continue
		}
		points = append(points, TimingPoint{Seq: i, Code: rec.Guess.Code, LatencyMS: rec.LatencyMS})
	}
	return points
}

func timing(records []schemas.ResponseRecord) TimingStats {
	var latencies []float64
	for _, rec := range records {
		if rec.Outcome == schemas.OutcomeOK {
			latencies = append(latencies, rec.LatencyMS)
		}
	}
	if len(latencies) == 0 {
		return TimingStats{}
	}
	sort.Float64s(latencies)

	var sum float64
	for _, l := range latencies {
		sum += l
	}
	return TimingStats{
		MinMS:    latencies[0],
		MaxMS:    latencies[len(latencies)-1],
		MeanMS:   sum / float64(len(latencies)),
		MedianMS: percentile(latencies, 0.5),
		P95MS:    percentile(latencies, 0.95),
	}
}

// percentile expects a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
