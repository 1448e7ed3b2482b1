// Package engine runs OTP assessment sessions: it selects the next guess per
// the configured mode, enforces the proxy policy before every dispatch, and
// drives the probe/record/observe cycle until success, exhaustion or abort.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/guessgen"
)

// ErrForceAbort is returned when the proxy becomes unreachable while the
// force policy is set. The session stops rather than leak traffic past the
// interception point.
var ErrForceAbort = errors.New("proxy unreachable with force policy set")

// -- Interfaces for Dependency Inversion --

// Monitor exposes the latest proxy health snapshot. The engine consults it
// before every single guess; it never caches the answer across attempts.
type Monitor interface {
	Status() schemas.ProxyStatus
}

// Prober issues one verification attempt and always yields a record.
type Prober interface {
	Issue(ctx context.Context, guess schemas.OtpGuess, t schemas.Transport) schemas.ResponseRecord
}

// Pacer spaces out dispatches. Implementations block until the next attempt
// may go out or the context ends.
type Pacer interface {
	Wait(ctx context.Context) error
}

// Ranker scores candidate guesses and is notified after each new record so it
// can retrain in the background.
type Ranker interface {
	Score(guess schemas.OtpGuess) float64
	Observe()
	Ready() bool
}

// Recorder receives exactly one record per attempt, in dispatch order.
type Recorder interface {
	Append(rec schemas.ResponseRecord)
}

// Config carries the per-session knobs. Transport policy and guess strategy
// both live here so a session is fully described by one value.
type Config struct {
	Mode              schemas.Mode
	Digits            int
	SampleSize        int
	MaxAttempts       int
	ForceProxy        bool
	RestoreOnRecovery bool
	Seed              int64
}

// AttackEngine executes one session at a time. It owns transport selection;
// everything else is injected behind the interfaces above.
type AttackEngine struct {
	cfg     Config
	monitor Monitor
	prober  Prober
	pacer   Pacer
	ranker  Ranker
	records Recorder
	proxy   schemas.Transport
	direct  schemas.Transport
	audit   *AuditTrail
	log     *zap.Logger

	current  schemas.Transport
	switches int
}

// New wires an engine. proxy may be nil when no interception point is
// configured; monitor must be nil exactly when proxy is.
func New(
	cfg Config,
	monitor Monitor,
	prober Prober,
	pacer Pacer,
	ranker Ranker,
	records Recorder,
	proxy, direct schemas.Transport,
	audit *AuditTrail,
	logger *zap.Logger,
) (*AttackEngine, error) {
	if direct == nil {
		return nil, fmt.Errorf("direct transport is required")
	}
	if (proxy == nil) != (monitor == nil) {
		return nil, fmt.Errorf("proxy transport and monitor must be provided together")
	}
	if cfg.Mode == schemas.ModeAIDriven && ranker == nil {
		return nil, fmt.Errorf("ai mode requires a ranker")
	}
	if audit == nil {
		audit = NewAuditTrail()
	}

	e := &AttackEngine{
		cfg:     cfg,
		monitor: monitor,
		prober:  prober,
		pacer:   pacer,
		ranker:  ranker,
		records: records,
		proxy:   proxy,
		direct:  direct,
		audit:   audit,
		log:     logger.Named("engine"),
	}
	e.current = direct
	if proxy != nil {
		e.current = proxy
	}
	return e, nil
}

// Audit returns the session's audit trail.
func (e *AttackEngine) Audit() *AuditTrail { return e.audit }

// Run executes the session to a terminal state. The returned outcome is valid
// even when err is non-nil: guesses issued so far are preserved.
func (e *AttackEngine) Run(ctx context.Context) (*schemas.SessionOutcome, error) {
	outcome := &schemas.SessionOutcome{
		SessionID: uuid.NewString(),
		Mode:      e.cfg.Mode,
		State:     schemas.StateRunning,
	}
	start := time.Now()
	defer func() {
		outcome.Duration = time.Since(start)
		outcome.TransportSwitches = e.switches
	}()

	source, err := e.newGuessSource()
	if err != nil {
		outcome.State = schemas.StateAborted
		return outcome, err
	}

	e.log.Info("Session starting",
		zap.String("session_id", outcome.SessionID),
		zap.String("mode", string(e.cfg.Mode)),
		zap.Int("max_attempts", e.cfg.MaxAttempts))

	for {
		if e.cfg.MaxAttempts > 0 && outcome.GuessesIssued >= e.cfg.MaxAttempts {
			outcome.State = schemas.StateExhausted
			break
		}
		guess, ok := source.next()
		if !ok {
			outcome.State = schemas.StateExhausted
			break
		}
		if ctx.Err() != nil {
			e.audit.Record(schemas.AuditAbort, "context cancelled")
			outcome.State = schemas.StateAborted
			return outcome, ctx.Err()
		}

		t, err := e.selectTransport()
		if err != nil {
			outcome.State = schemas.StateAborted
			return outcome, err
		}

		if e.pacer != nil {
			if err := e.pacer.Wait(ctx); err != nil {
				e.audit.Record(schemas.AuditAbort, "context cancelled while pacing")
				outcome.State = schemas.StateAborted
				return outcome, err
			}
		}

		rec := e.prober.Issue(ctx, guess, t)
		e.records.Append(rec)
		if e.ranker != nil {
			e.ranker.Observe()
		}
		outcome.GuessesIssued++

		if rec.Success && outcome.WinningGuess == nil {
			winner := guess
			outcome.WinningGuess = &winner
			e.log.Info("Code accepted",
				zap.String("code", guess.Code),
				zap.Int("guesses_issued", outcome.GuessesIssued))
			// Fingerprint mode keeps sampling; an acceptance is a data point,
			// not a stop condition.
			if e.cfg.Mode != schemas.ModeFingerprint {
				outcome.State = schemas.StateSuccess
				break
			}
		}
	}

	if outcome.State == schemas.StateExhausted && outcome.WinningGuess != nil {
		outcome.State = schemas.StateSuccess
	}

	e.log.Info("Session finished",
		zap.String("session_id", outcome.SessionID),
		zap.String("state", string(outcome.State)),
		zap.Int("guesses_issued", outcome.GuessesIssued),
		zap.Int("transport_switches", e.switches))
	return outcome, nil
}

// selectTransport applies the proxy policy for the next dispatch. It is
// called before every guess so a proxy transition takes effect on the very
// next attempt.
func (e *AttackEngine) selectTransport() (schemas.Transport, error) {
	if e.proxy == nil {
		return e.direct, nil
	}

	status := e.monitor.Status()
	if status.Alive {
		if e.current.Kind() == schemas.TransportDirect && e.cfg.RestoreOnRecovery {
			e.switchTo(e.proxy, "proxy recovered, routing through it again")
		}
		return e.current, nil
	}

	if e.cfg.ForceProxy {
		e.audit.Record(schemas.AuditAbort, "proxy lost under force policy")
		e.log.Warn("Proxy unreachable and force policy set, aborting session")
		return nil, ErrForceAbort
	}
	if e.current.Kind() == schemas.TransportProxy {
		e.switchTo(e.direct, "proxy lost, falling back to direct")
	}
	return e.current, nil
}

func (e *AttackEngine) switchTo(t schemas.Transport, detail string) {
	e.current = t
	e.switches++
	e.audit.Record(schemas.AuditTransportSwitch, detail)
	e.log.Warn("Transport switched",
		zap.String("now", string(t.Kind())),
		zap.String("reason", detail))
}

// newGuessSource builds the candidate stream for the configured mode.
func (e *AttackEngine) newGuessSource() (guessSource, error) {
	space, err := guessgen.NewSpace(e.cfg.Digits)
	if err != nil {
		return nil, err
	}

	seed := e.cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	switch e.cfg.Mode {
	case schemas.ModeFingerprint:
		n := e.cfg.SampleSize
		if n <= 0 {
			n = 20
		}
		return &listSource{guesses: space.RandomSample(n, rng)}, nil
	case schemas.ModeBruteForce:
		return &cursorSource{cursor: guessgen.NewSequentialCursor(space)}, nil
	case schemas.ModeAIDriven:
		return newRankedSource(space, rng, e.ranker), nil
	default:
		return nil, fmt.Errorf("unknown mode %q", e.cfg.Mode)
	}
}
