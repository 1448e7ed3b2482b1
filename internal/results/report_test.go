package results

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/probe"
)

func record(code string, latencyMS float64, status int, fingerprint string) schemas.ResponseRecord {
	return schemas.ResponseRecord{
		ID:              "rec-" + code,
		Guess:           schemas.OtpGuess{Code: code},
		Transport:       schemas.TransportProxy,
		LatencyMS:       latencyMS,
		StatusCode:      status,
		BodyLength:      40,
		BodyFingerprint: fingerprint,
		Outcome:         schemas.OutcomeOK,
		ObservedAt:      time.Now().UTC(),
	}
}

func TestBuildSummarizesOutcomes(t *testing.T) {
	outcome := &schemas.SessionOutcome{
		SessionID: "s-1",
		Mode:      schemas.ModeBruteForce,
		State:     schemas.StateExhausted,
	}
	records := []schemas.ResponseRecord{
		record("000000", 100, 401, "aa"),
		record("000001", 110, 401, "aa"),
		{Guess: schemas.OtpGuess{Code: "000002"}, Outcome: schemas.OutcomeTimeout},
		{Guess: schemas.OtpGuess{Code: "000003"}, Outcome: schemas.OutcomeTransportError},
	}

	r := Build(outcome, records, nil)

	assert.Equal(t, 4, r.Summary.Attempts)
	assert.Equal(t, 2, r.Summary.OK)
	assert.Equal(t, 1, r.Summary.Timeouts)
	assert.Equal(t, 1, r.Summary.TransportErrors)
	assert.Equal(t, 1, r.Summary.DistinctFingerprints)
	assert.Equal(t, 2, r.Summary.StatusCounts[401])

	assert.Equal(t, 100.0, r.Timing.MinMS)
	assert.Equal(t, 110.0, r.Timing.MaxMS)
	assert.Equal(t, 105.0, r.Timing.MeanMS)

	require.Len(t, r.Series, 2, "only OK attempts carry a timing point")
	assert.Equal(t, 0, r.Series[0].Seq)
	assert.Equal(t, "000001", r.Series[1].Code)
}

func TestRecoveredCodeIsCriticalFinding(t *testing.T) {
	winner := schemas.OtpGuess{Code: "424242", Position: 424242}
	outcome := &schemas.SessionOutcome{
		SessionID:     "s-1",
		Mode:          schemas.ModeBruteForce,
		State:         schemas.StateSuccess,
		WinningGuess:  &winner,
		GuessesIssued: 424243,
	}

	r := Build(outcome, nil, nil)

	require.NotEmpty(t, r.Findings)
	assert.Equal(t, "otp-recovered", r.Findings[0].ID)
	assert.Equal(t, SeverityCritical, r.Findings[0].Severity)
	assert.Contains(t, r.Findings[0].Description, "424242")
}

func TestMissingRateLimitDetected(t *testing.T) {
	outcome := &schemas.SessionOutcome{SessionID: "s-1", State: schemas.StateExhausted}

	var records []schemas.ResponseRecord
	for i := 0; i < 100; i++ {
		records = append(records, record(fmt.Sprintf("%06d", i), 100, 401, "aa"))
	}
	r := Build(outcome, records, nil)
	require.Len(t, r.Findings, 1)
	assert.Equal(t, "no-rate-limit", r.Findings[0].ID)

	// A single 429 anywhere in the run suppresses the finding.
	throttled := append(records, record("000100", 100, 429, "bb"))
	r = Build(outcome, throttled, nil)
	for _, f := range r.Findings {
		assert.NotEqual(t, "no-rate-limit", f.ID)
	}
}

func TestTimingSpreadDetected(t *testing.T) {
	outcome := &schemas.SessionOutcome{SessionID: "s-1", State: schemas.StateExhausted}

	var records []schemas.ResponseRecord
	for i := 0; i < 100; i++ {
		latency := 100.0
		if i >= 90 {
			latency = 400.0
		}
		records = append(records, record(fmt.Sprintf("%06d", i), latency, 429, "aa"))
	}

	r := Build(outcome, records, nil)
	var ids []string
	for _, f := range r.Findings {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "timing-spread")
}

func TestAddReuseResult(t *testing.T) {
	outcome := &schemas.SessionOutcome{SessionID: "s-1", State: schemas.StateSuccess}
	r := Build(outcome, nil, nil)

	r.AddReuseResult(&probe.ReuseResult{
		Code:     "424242",
		Attempts: make([]schemas.ResponseRecord, 3),
		Accepted: 3,
	}, false)
	last := r.Findings[len(r.Findings)-1]
	assert.Equal(t, "otp-replayable", last.ID)
	assert.Equal(t, SeverityHigh, last.Severity)

	r.AddReuseResult(&probe.ReuseResult{
		Code:     "424242",
		Attempts: make([]schemas.ResponseRecord, 10),
		Accepted: 1,
	}, true)
	last = r.Findings[len(r.Findings)-1]
	assert.Equal(t, "otp-race-negative", last.ID)
	assert.Equal(t, SeverityInfo, last.Severity)
}

func TestWriteJSONRoundTrips(t *testing.T) {
	outcome := &schemas.SessionOutcome{
		SessionID: "s-1",
		Mode:      schemas.ModeAIDriven,
		State:     schemas.StateExhausted,
	}
	events := []schemas.AuditEvent{{Kind: schemas.AuditColdStart, At: time.Now().UTC(), Detail: "model not trained"}}
	r := Build(outcome, []schemas.ResponseRecord{record("000000", 100, 401, "aa")}, events)

	var buf bytes.Buffer
	require.NoError(t, r.WriteJSON(&buf))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "s-1", decoded.Session.SessionID)
	assert.Equal(t, 1, decoded.Summary.Attempts)
	require.Len(t, decoded.Events, 1)
	assert.Equal(t, schemas.AuditColdStart, decoded.Events[0].Kind)
}
