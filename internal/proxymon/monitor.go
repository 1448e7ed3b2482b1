// Package proxymon watches the intercepting proxy in the background and
// publishes reachability snapshots the engine reads before every guess.
package proxymon

import (
	"context"
	"net"
	"net/url"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// Classifier infers the proxy kind once the proxy is reachable. The exact
// heuristic is target-specific, so it is injected rather than hardcoded.
type Classifier func(ctx context.Context, proxyURL *url.URL) schemas.ProxyKind

// Config holds the monitor's probe settings.
type Config struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

// Monitor probes the proxy on a fixed interval and publishes ProxyStatus
// snapshots through an atomic cell. Single writer; any number of readers.
type Monitor struct {
	proxyURL     *url.URL
	cfg          Config
	classify     Classifier
	onTransition func(prev, next schemas.ProxyStatus)
	status       atomic.Pointer[schemas.ProxyStatus]
	log          *zap.Logger
}

// New builds a monitor and runs one synchronous probe so Status is valid
// before the first tick. onTransition may be nil.
func New(proxyURL *url.URL, cfg Config, classify Classifier, onTransition func(prev, next schemas.ProxyStatus), logger *zap.Logger) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}
	m := &Monitor{
		proxyURL:     proxyURL,
		cfg:          cfg,
		classify:     classify,
		onTransition: onTransition,
		log:          logger.Named("proxymon"),
	}
	m.status.Store(&schemas.ProxyStatus{Alive: false, Kind: schemas.ProxyKindNone, CheckedAt: time.Now()})
	m.probeOnce(context.Background())
	return m
}

// Status returns the latest complete snapshot. Never a status under
// construction: the writer publishes fully-formed values only.
func (m *Monitor) Status() schemas.ProxyStatus {
	return *m.status.Load()
}

// Run probes until the session context is cancelled. Probe failures are
// data (Alive=false), never errors; Run only returns on cancellation.
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.log.Info("Proxy monitor started",
		zap.String("proxy", m.proxyURL.String()),
		zap.Duration("interval", m.cfg.Interval))

	for {
		select {
		case <-ctx.Done():
			m.log.Debug("Proxy monitor stopped")
			return nil
		case <-ticker.C:
			m.probeOnce(ctx)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	prev := m.Status()

	alive := m.dialCheck()
	kind := schemas.ProxyKindNone
	if alive {
		kind = prev.Kind
		// Classification needs a request through the proxy; only do it when
		// the proxy just came up or was never identified.
		if !prev.Alive || prev.Kind == schemas.ProxyKindNone {
			kind = schemas.ProxyKindUnknown
			if m.classify != nil {
				kind = m.classify(ctx, m.proxyURL)
			}
		}
	}

	now := time.Now()
	if now.Before(prev.CheckedAt) {
		now = prev.CheckedAt
	}
	next := schemas.ProxyStatus{Alive: alive, Kind: kind, CheckedAt: now}
	m.status.Store(&next)

	if prev.Alive != next.Alive || prev.Kind != next.Kind {
		if next.Alive {
			m.log.Info("Proxy reachable", zap.String("kind", string(next.Kind)))
		} else {
			m.log.Warn("Proxy unreachable")
		}
		if m.onTransition != nil {
			m.onTransition(prev, next)
		}
	}
}

// dialCheck is the reachability probe: a plain TCP connect to the proxy
// address within the probe timeout.
func (m *Monitor) dialCheck() bool {
	addr := net.JoinHostPort(m.proxyURL.Hostname(), m.proxyURL.Port())
	conn, err := net.DialTimeout("tcp", addr, m.cfg.ProbeTimeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
