package results

import (
	"fmt"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/probe"
)

// Severity ranks a finding for triage.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityInfo     Severity = "INFO"
)

// Finding is one conclusion the observed traffic supports.
type Finding struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Attempts below this count say nothing useful about rate limiting.
const rateLimitMinAttempts = 50

// deriveFindings inspects the session for the weaknesses this tool is built
// to detect. Absence of a finding is not a clean bill of health; it only
// means this run did not observe the behavior.
func deriveFindings(outcome *schemas.SessionOutcome, records []schemas.ResponseRecord, summary Summary, timing TimingStats) []Finding {
	var findings []Finding

	if outcome.State == schemas.StateSuccess && outcome.WinningGuess != nil {
		findings = append(findings, Finding{
			ID:       "otp-recovered",
			Title:    "OTP code recovered by guessing",
			Severity: SeverityCritical,
			Description: fmt.Sprintf(
				"The verification endpoint accepted code %s after %d attempts. The code space is enumerable within the code's validity window.",
				outcome.WinningGuess.Code, outcome.GuessesIssued),
		})
	}

	if summary.Attempts >= rateLimitMinAttempts && summary.StatusCounts[429] == 0 {
		findings = append(findings, Finding{
			ID:       "no-rate-limit",
			Title:    "No rate limiting observed",
			Severity: SeverityHigh,
			Description: fmt.Sprintf(
				"%d verification attempts were issued for one user without a single 429 response or lockout.",
				summary.Attempts),
		})
	}

	// More than a handful of distinct rejection bodies suggests the error
	// response leaks per-code state.
	if summary.DistinctFingerprints > 2 && summary.OK > rateLimitMinAttempts {
		findings = append(findings, Finding{
			ID:       "response-oracle",
			Title:    "Rejection responses vary across codes",
			Severity: SeverityMedium,
			Description: fmt.Sprintf(
				"%d distinct response body shapes were observed across rejected codes. Differential responses can act as a validity oracle.",
				summary.DistinctFingerprints),
		})
	}

	if timing.MedianMS > 0 && timing.P95MS > 2*timing.MedianMS {
		findings = append(findings, Finding{
			ID:       "timing-spread",
			Title:    "Wide latency spread across attempts",
			Severity: SeverityMedium,
			Description: fmt.Sprintf(
				"p95 latency (%.0fms) exceeds twice the median (%.0fms). Verification time may depend on how close a guess is to the true code.",
				timing.P95MS, timing.MedianMS),
		})
	}

	return findings
}

// reuseFindings converts a replay or race check into findings.
func reuseFindings(result *probe.ReuseResult, raced bool) []Finding {
	check := "sequential replay"
	id := "otp-replayable"
	title := "OTP accepted more than once"
	if raced {
		check = "concurrent race"
		id = "otp-race"
		title = "OTP verification races"
	}

	if result.Accepted <= 1 {
		return []Finding{{
			ID:       id + "-negative",
			Title:    "Single-use enforcement held under " + check,
			Severity: SeverityInfo,
			Description: fmt.Sprintf(
				"Code %s was accepted %d time(s) across %d %s attempts.",
				result.Code, result.Accepted, len(result.Attempts), check),
		}}
	}
	return []Finding{{
		ID:       id,
		Title:    title,
		Severity: SeverityHigh,
		Description: fmt.Sprintf(
			"Code %s was accepted %d times across %d %s attempts. Codes are not invalidated on first use.",
			result.Code, result.Accepted, len(result.Attempts), check),
	}}
}
