package schemas

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// -- Target & Credential --
// Immutable descriptions of the endpoint under assessment. They are built
// once during setup and shared read-only across the session.

// Target identifies the application under assessment.
type Target struct {
	BaseURL    string `json:"base_url"`
	VerifyPath string `json:"verify_path"`
	ResendPath string `json:"resend_path,omitempty"`
	LoginPath  string `json:"login_path,omitempty"`
}

// VerifyURL returns the absolute URL of the OTP verification endpoint.
func (t Target) VerifyURL() string { return t.join(t.VerifyPath) }

// ResendURL returns the absolute URL of the OTP resend endpoint.
func (t Target) ResendURL() string { return t.join(t.ResendPath) }

// LoginURL returns the absolute URL of the login endpoint.
func (t Target) LoginURL() string { return t.join(t.LoginPath) }

func (t Target) join(p string) string {
	base := strings.TrimRight(t.BaseURL, "/")
	if p == "" {
		return base
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return base + p
}

// Credential is the user identity the OTP belongs to.
type Credential struct {
	UserID   string `json:"user_id"`
	Password string `json:"password,omitempty"`
}

// -- Proxy status --

// ProxyKind classifies the intercepting proxy in front of the target.
type ProxyKind string

const (
	ProxyKindNone    ProxyKind = "none"
	ProxyKindBurp    ProxyKind = "burp"
	ProxyKindZAP     ProxyKind = "zap"
	ProxyKindUnknown ProxyKind = "unknown"
)

// ProxyStatus is the snapshot the monitor publishes. It is written by a
// single goroutine and read atomically; consumers never see a status under
// construction. CheckedAt is monotonically non-decreasing.
type ProxyStatus struct {
	Alive     bool      `json:"alive"`
	Kind      ProxyKind `json:"kind"`
	CheckedAt time.Time `json:"checked_at"`
}

// TransportKind names the path a request took to the target.
type TransportKind string

const (
	TransportProxy  TransportKind = "proxy"
	TransportDirect TransportKind = "direct"
)

// -- Guesses and response records --

// OtpGuess is one candidate code plus its position in the enumeration order.
// Position is the tie-breaker for ranked selection.
type OtpGuess struct {
	Code     string `json:"code"`
	Position int    `json:"position"`
}

// Outcome tags how a verification attempt terminated at the transport level.
// Connectivity failures are data, not faults; they never cross the dispatch
// loop as errors.
type Outcome string

const (
	OutcomeOK             Outcome = "ok"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeTransportError Outcome = "transport_error"
)

// ResponseRecord is the immutable observation produced by one guess attempt.
// Exactly one record is appended per attempt, and it is fully formed before
// it becomes visible to the prioritizer or success detection.
type ResponseRecord struct {
	ID              string        `json:"id"`
	Guess           OtpGuess      `json:"guess"`
	Transport       TransportKind `json:"transport"`
	LatencyMS       float64       `json:"latency_ms"`
	StatusCode      int           `json:"status_code"`
	BodyLength      int           `json:"body_length"`
	BodyFingerprint string        `json:"body_fingerprint"`
	Success         bool          `json:"success"`
	Outcome         Outcome       `json:"outcome"`
	ObservedAt      time.Time     `json:"observed_at"`
}

// -- Session --

// Mode selects the dispatch strategy for a session.
type Mode string

const (
	ModeFingerprint Mode = "fingerprint"
	ModeBruteForce  Mode = "brute"
	ModeAIDriven    Mode = "ai"
)

// SessionState is the engine's state machine. Success, Exhausted and Aborted
// are terminal.
type SessionState string

const (
	StateIdle      SessionState = "idle"
	StateRunning   SessionState = "running"
	StateSuccess   SessionState = "success"
	StateExhausted SessionState = "exhausted"
	StateAborted   SessionState = "aborted"
)

// SessionOutcome is the final result exposed to callers. It is valid even on
// an aborted session: guesses issued so far are preserved.
type SessionOutcome struct {
	SessionID         string        `json:"session_id"`
	Mode              Mode          `json:"mode"`
	State             SessionState  `json:"state"`
	WinningGuess      *OtpGuess     `json:"winning_guess,omitempty"`
	GuessesIssued     int           `json:"guesses_issued"`
	TransportSwitches int           `json:"transport_switches"`
	Duration          time.Duration `json:"duration"`
}

// -- Audit trail --

// AuditKind labels the session events worth keeping alongside the record
// stream.
type AuditKind string

const (
	AuditTransportSwitch AuditKind = "transport_switch"
	AuditProxyTransition AuditKind = "proxy_transition"
	AuditAbort           AuditKind = "abort"
	AuditColdStart       AuditKind = "cold_start"
)

// AuditEvent is one entry in a session's audit log.
type AuditEvent struct {
	Kind   AuditKind `json:"kind"`
	At     time.Time `json:"at"`
	Detail string    `json:"detail"`
}

// -- Transport contract --

// Request is the abstract request handed to a Transport. The payload is
// marshalled to JSON by the implementation.
type Request struct {
	Method  string
	URL     string
	Payload any
}

// Response is the abstract response a Transport returns.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ReceivedAt time.Time
}

// Transport sends one request and returns one response or a connection-level
// error. Two instances exist per session, via-proxy and direct; the engine
// selects between them per guess.
type Transport interface {
	Send(ctx context.Context, req *Request) (*Response, error)
	Kind() TransportKind
}

// SuccessPredicate decides whether a response indicates the code was
// accepted. The heuristic is target-specific and supplied by configuration;
// the core never hardcodes one.
type SuccessPredicate func(*Response) bool
