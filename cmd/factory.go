package cmd

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/config"
	"github.com/xkilldash9x/harpy-cli/internal/engine"
	"github.com/xkilldash9x/harpy-cli/internal/featurestore"
	"github.com/xkilldash9x/harpy-cli/internal/observability"
	"github.com/xkilldash9x/harpy-cli/internal/pacing"
	"github.com/xkilldash9x/harpy-cli/internal/prioritizer"
	"github.com/xkilldash9x/harpy-cli/internal/probe"
	"github.com/xkilldash9x/harpy-cli/internal/proxymon"
	"github.com/xkilldash9x/harpy-cli/internal/store"
	"github.com/xkilldash9x/harpy-cli/internal/transport"
)

// Components holds the initialized services a session needs. Building them
// in one place centralizes lifecycle management: Shutdown releases them in
// dependency order.
type Components struct {
	Target    schemas.Target
	Cred      schemas.Credential
	Success   schemas.SuccessPredicate
	Pair      *transport.Pair
	Monitor   *proxymon.Monitor
	Prober    *probe.Prober
	Pacer     *pacing.Pacer
	Records   *featurestore.Store
	Retrainer *prioritizer.Retrainer
	Audit     *engine.AuditTrail
	Engine    *engine.AttackEngine
	DBPool    *pgxpool.Pool
	Store     *store.Store
}

// preferredTransport returns the proxy path while the interception point is
// up and the direct path otherwise.
func (c *Components) preferredTransport() schemas.Transport {
	if c.Monitor != nil && c.Monitor.Status().Alive {
		return c.Pair.For(schemas.TransportProxy)
	}
	return c.Pair.For(schemas.TransportDirect)
}

// Shutdown waits for background work and closes external connections.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	if c.Retrainer != nil {
		c.Retrainer.Wait()
		logger.Debug("Retrainer drained.")
	}
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database pool closed.")
	}
}

// buildComponents wires a full attack session from configuration. The
// database pool is only opened when a postgres URL is configured.
func buildComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{
		Target: schemas.Target{
			BaseURL:    cfg.Target.BaseURL,
			VerifyPath: cfg.Target.VerifyPath,
			ResendPath: cfg.Target.ResendPath,
			LoginPath:  cfg.Target.LoginPath,
		},
		Cred: schemas.Credential{
			UserID:   cfg.Target.UserID,
			Password: cfg.Target.Password,
		},
	}

	success, err := probe.NewSuccessPredicate(cfg.Success.StatusCodes, cfg.Success.BodyRegex)
	if err != nil {
		return nil, err
	}
	c.Success = success

	var proxyURL *url.URL
	if cfg.Proxy.URL != "" {
		proxyURL, err = url.Parse(cfg.Proxy.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url: %w", err)
		}
	}

	c.Pair, err = transport.NewPair(transport.Config{
		Timeout:         cfg.Network.Timeout,
		IgnoreTLSErrors: cfg.Network.IgnoreTLSErrors,
		Headers:         cfg.Network.Headers,
		ProxyURL:        proxyURL,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build transports: %w", err)
	}

	c.Audit = engine.NewAuditTrail()

	if proxyURL != nil {
		classify := proxymon.DefaultClassifier(cfg.Proxy.SentinelURL, cfg.Proxy.ProbeTimeout)
		c.Monitor = proxymon.New(proxyURL, proxymon.Config{
			Interval:     cfg.Proxy.CheckInterval,
			ProbeTimeout: cfg.Proxy.ProbeTimeout,
		}, classify, func(prev, next schemas.ProxyStatus) {
			c.Audit.Record(schemas.AuditProxyTransition,
				fmt.Sprintf("proxy alive %t (%s) -> %t (%s)", prev.Alive, prev.Kind, next.Alive, next.Kind))
		}, logger)
	}

	c.Records = featurestore.New()
	if cfg.Attack.Mode == "ai" {
		c.Retrainer = prioritizer.NewRetrainer(
			c.Records, cfg.Attack.RetrainEvery, cfg.Attack.MinTrainRecords,
			func() {
				c.Audit.Record(schemas.AuditColdStart, "model not trained yet, guess order is uniform")
			}, logger)
	}

	c.Prober = probe.New(c.Target, c.Cred, success, logger)
	c.Pacer = pacing.New(pacing.Config{
		MeanDelay: cfg.Pacing.MeanDelay,
		Jitter:    cfg.Pacing.Jitter,
		Seed:      cfg.Attack.Seed,
	})

	var mon engine.Monitor
	var proxyTransport schemas.Transport
	if c.Monitor != nil {
		mon = c.Monitor
		proxyTransport = c.Pair.Proxy
	}
	var ranker engine.Ranker
	if c.Retrainer != nil {
		ranker = c.Retrainer
	}

	c.Engine, err = engine.New(engine.Config{
		Mode:              schemas.Mode(cfg.Attack.Mode),
		Digits:            cfg.Attack.Digits,
		SampleSize:        cfg.Attack.SampleSize,
		MaxAttempts:       cfg.Attack.MaxAttempts,
		ForceProxy:        cfg.Proxy.Force,
		RestoreOnRecovery: cfg.Proxy.RestoreOnRecovery,
		Seed:              cfg.Attack.Seed,
	}, mon, c.Prober, c.Pacer, ranker, c.Records, proxyTransport, c.Pair.Direct, c.Audit, logger)
	if err != nil {
		return nil, err
	}

	if cfg.Postgres.URL != "" {
		c.DBPool, err = pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.Store, err = store.New(ctx, c.DBPool, logger)
		if err != nil {
			c.DBPool.Close()
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
	}

	return c, nil
}
