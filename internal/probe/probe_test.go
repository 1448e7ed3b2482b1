package probe

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// fakeTransport scripts responses per guess code.
type fakeTransport struct {
	kind    schemas.TransportKind
	handler func(req *schemas.Request) (*schemas.Response, error)
	sent    []*schemas.Request
}

func (f *fakeTransport) Kind() schemas.TransportKind { return f.kind }

func (f *fakeTransport) Send(ctx context.Context, req *schemas.Request) (*schemas.Response, error) {
	f.sent = append(f.sent, req)
	return f.handler(req)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func testTarget() schemas.Target {
	return schemas.Target{
		BaseURL:    "https://example.com",
		VerifyPath: "/auth/verify-otp",
		ResendPath: "/auth/resend-otp",
	}
}

func successOn200() schemas.SuccessPredicate {
	pred, _ := NewSuccessPredicate([]int{200}, `(?i)success`)
	return pred
}

func TestIssueBuildsCompleteRecord(t *testing.T) {
	ft := &fakeTransport{
		kind: schemas.TransportProxy,
		handler: func(req *schemas.Request) (*schemas.Response, error) {
			return &schemas.Response{StatusCode: 401, Body: []byte(`{"error":"invalid otp"}`)}, nil
		},
	}
	p := New(testTarget(), schemas.Credential{UserID: "victim"}, successOn200(), zap.NewNop())

	rec := p.Issue(context.Background(), schemas.OtpGuess{Code: "004242", Position: 4242}, ft)

	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "004242", rec.Guess.Code)
	assert.Equal(t, schemas.TransportProxy, rec.Transport)
	assert.Equal(t, schemas.OutcomeOK, rec.Outcome)
	assert.Equal(t, 401, rec.StatusCode)
	assert.Equal(t, len(`{"error":"invalid otp"}`), rec.BodyLength)
	assert.NotEmpty(t, rec.BodyFingerprint)
	assert.False(t, rec.Success)
	assert.GreaterOrEqual(t, rec.LatencyMS, 0.0)
	assert.False(t, rec.ObservedAt.IsZero())

	// The wire shape the verify endpoint expects.
	require.Len(t, ft.sent, 1)
	assert.Equal(t, "https://example.com/auth/verify-otp", ft.sent[0].URL)
	assert.Equal(t, map[string]string{"user_id": "victim", "otp": "004242"}, ft.sent[0].Payload)
}

func TestIssueClassifiesFailures(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		expected schemas.Outcome
	}{
		{"deadline exceeded", fmt.Errorf("send: %w", context.DeadlineExceeded), schemas.OutcomeTimeout},
		{"net timeout", fmt.Errorf("send: %w", timeoutErr{}), schemas.OutcomeTimeout},
		{"connection refused", errors.New("dial tcp: connection refused"), schemas.OutcomeTransportError},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ft := &fakeTransport{
				kind:    schemas.TransportDirect,
				handler: func(*schemas.Request) (*schemas.Response, error) { return nil, tc.err },
			}
			p := New(testTarget(), schemas.Credential{UserID: "victim"}, successOn200(), zap.NewNop())

			rec := p.Issue(context.Background(), schemas.OtpGuess{Code: "000001"}, ft)
			assert.Equal(t, tc.expected, rec.Outcome)
			assert.False(t, rec.Success)
			assert.Zero(t, rec.StatusCode)
		})
	}
}

func TestFingerprintStableForEqualBodies(t *testing.T) {
	a := fingerprint([]byte(`{"error":"invalid otp"}`))
	b := fingerprint([]byte(`{"error":"invalid otp"}`))
	c := fingerprint([]byte(`{"status":"success"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestNewSuccessPredicate(t *testing.T) {
	pred, err := NewSuccessPredicate([]int{200, 302}, `(?i)welcome`)
	require.NoError(t, err)

	assert.True(t, pred(&schemas.Response{StatusCode: 200}))
	assert.True(t, pred(&schemas.Response{StatusCode: 302}))
	assert.True(t, pred(&schemas.Response{StatusCode: 401, Body: []byte("Welcome back")}))
	assert.False(t, pred(&schemas.Response{StatusCode: 401, Body: []byte("invalid otp")}))

	_, err = NewSuccessPredicate(nil, "(")
	require.Error(t, err)
}

func TestTriggerResend(t *testing.T) {
	ft := &fakeTransport{
		kind: schemas.TransportDirect,
		handler: func(req *schemas.Request) (*schemas.Response, error) {
			return &schemas.Response{StatusCode: 202}, nil
		},
	}
	p := New(testTarget(), schemas.Credential{UserID: "victim"}, successOn200(), zap.NewNop())

	status, err := p.TriggerResend(context.Background(), ft, "email")
	require.NoError(t, err)
	assert.Equal(t, 202, status)
	assert.Equal(t, "https://example.com/auth/resend-otp", ft.sent[0].URL)
	assert.Equal(t, map[string]string{"user_id": "victim", "contact_method": "email"}, ft.sent[0].Payload)
}

func TestReplayCheckCountsAcceptances(t *testing.T) {
	calls := 0
	ft := &fakeTransport{
		kind: schemas.TransportDirect,
		handler: func(req *schemas.Request) (*schemas.Response, error) {
			calls++
			// First submission accepted, replays rejected.
			if calls == 1 {
				return &schemas.Response{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
			}
			return &schemas.Response{StatusCode: 401}, nil
		},
	}
	p := New(testTarget(), schemas.Credential{UserID: "victim"}, successOn200(), zap.NewNop())

	result, err := p.ReplayCheck(context.Background(), ft, "424242", 3)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Accepted)
	assert.Len(t, result.Attempts, 3)
}

func TestRaceCheckIssuesAllAttempts(t *testing.T) {
	ft := &raceTransport{}
	p := New(testTarget(), schemas.Credential{UserID: "victim"}, successOn200(), zap.NewNop())

	result, err := p.RaceCheck(context.Background(), ft, "424242", 8)
	require.NoError(t, err)
	assert.Len(t, result.Attempts, 8)
	assert.Equal(t, 8, result.Accepted, "a verifier without single-use enforcement accepts every racer")
	for _, rec := range result.Attempts {
		assert.Equal(t, schemas.OutcomeOK, rec.Outcome)
	}
}

// raceTransport is safe for the concurrent sends RaceCheck performs.
type raceTransport struct{}

func (r *raceTransport) Kind() schemas.TransportKind { return schemas.TransportDirect }

func (r *raceTransport) Send(ctx context.Context, req *schemas.Request) (*schemas.Response, error) {
	time.Sleep(time.Millisecond)
	return &schemas.Response{StatusCode: 200, Body: []byte(`{"status":"success"}`)}, nil
}
