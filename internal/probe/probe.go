// Package probe issues individual OTP verification attempts and converts
// whatever happens on the wire into immutable ResponseRecords. Transport
// failures are outcomes, not errors: nothing here interrupts the dispatch
// loop.
package probe

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"net"
	"net/http"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Prober sends one guess per Issue call. Retry policy belongs to the
// engine; Issue never retries internally.
type Prober struct {
	target  schemas.Target
	cred    schemas.Credential
	success schemas.SuccessPredicate
	log     *zap.Logger
}

func New(target schemas.Target, cred schemas.Credential, success schemas.SuccessPredicate, logger *zap.Logger) *Prober {
	return &Prober{
		target:  target,
		cred:    cred,
		success: success,
		log:     logger.Named("probe"),
	}
}

// Issue submits the guess through the given transport and records latency,
// status, body shape and the configured success signal. Exactly one record
// comes back per call, whatever happened on the network.
func (p *Prober) Issue(ctx context.Context, guess schemas.OtpGuess, t schemas.Transport) schemas.ResponseRecord {
	rec := schemas.ResponseRecord{
		ID:        uuid.NewString(),
		Guess:     guess,
		Transport: t.Kind(),
	}

	start := time.Now()
	resp, err := t.Send(ctx, &schemas.Request{
		Method: http.MethodPost,
		URL:    p.target.VerifyURL(),
		Payload: map[string]string{
			"user_id": p.cred.UserID,
			"otp":     guess.Code,
		},
	})
	rec.LatencyMS = float64(time.Since(start)) / float64(time.Millisecond)
	rec.ObservedAt = time.Now()

	if err != nil {
		rec.Outcome = classifyError(err)
		p.log.Debug("Guess failed at transport level",
			zap.String("code", guess.Code),
			zap.String("outcome", string(rec.Outcome)),
			zap.Error(err))
		return rec
	}

	rec.Outcome = schemas.OutcomeOK
	rec.StatusCode = resp.StatusCode
	rec.BodyLength = len(resp.Body)
	rec.BodyFingerprint = fingerprint(resp.Body)
	rec.Success = p.success(resp)

	p.log.Debug("Guess issued",
		zap.String("code", guess.Code),
		zap.Int("status", rec.StatusCode),
		zap.Float64("latency_ms", rec.LatencyMS),
		zap.Bool("success", rec.Success))
	return rec
}

// TriggerResend asks the target to push a fresh OTP over the given contact
// method (e.g. "email", "sms"). Used to reset short-lived codes between
// assessment phases.
func (p *Prober) TriggerResend(ctx context.Context, t schemas.Transport, method string) (int, error) {
	if p.target.ResendPath == "" {
		return 0, fmt.Errorf("no resend path configured")
	}
	resp, err := t.Send(ctx, &schemas.Request{
		Method: http.MethodPost,
		URL:    p.target.ResendURL(),
		Payload: map[string]string{
			"user_id":        p.cred.UserID,
			"contact_method": method,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("resend trigger failed: %w", err)
	}
	return resp.StatusCode, nil
}

// classifyError turns a transport error into the tagged outcome the record
// carries across the dispatch loop boundary.
func classifyError(err error) schemas.Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return schemas.OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return schemas.OutcomeTimeout
	}
	return schemas.OutcomeTransportError
}

// fingerprint hashes the response body so equal-shaped responses collapse to
// one comparable value without retaining the body itself.
func fingerprint(body []byte) string {
	h := fnv.New64a()
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// NewSuccessPredicate compiles the configuration-supplied heuristic: a
// response succeeds if its status code is listed or its body matches the
// pattern. An empty pattern disables the body check.
func NewSuccessPredicate(statusCodes []int, bodyRegex string) (schemas.SuccessPredicate, error) {
	var re *regexp.Regexp
	if bodyRegex != "" {
		var err error
		re, err = regexp.Compile(bodyRegex)
		if err != nil {
			return nil, fmt.Errorf("compiling success body regex: %w", err)
		}
	}
	codes := make(map[int]bool, len(statusCodes))
	for _, c := range statusCodes {
		codes[c] = true
	}
	return func(resp *schemas.Response) bool {
		if codes[resp.StatusCode] {
			return true
		}
		return re != nil && re.Match(resp.Body)
	}, nil
}
