// Package pacing throttles guess issuance. Fixed inter-request delays are a
// fingerprint of automation, so the pacer layers smooth Perlin drift and a
// little gaussian tremor over a rate-limited floor.
package pacing

import (
	"context"
	"math/rand"
	"time"

	"github.com/aquilax/go-perlin"
	"golang.org/x/time/rate"
)

const (
	perlinAlpha = 2.0
	perlinBeta  = 2.0
	perlinDepth = 3
	// Step along the noise curve per Wait call. Non-integer so consecutive
	// samples stay decorrelated.
	noiseStep = 0.37
)

// Config controls the pacer. A zero MeanDelay disables pacing entirely.
type Config struct {
	MeanDelay time.Duration
	Jitter    time.Duration
	Seed      int64
}

// Pacer delays the dispatch loop between guesses. It is used from a single
// goroutine; it is not safe for concurrent Wait calls.
type Pacer struct {
	limiter *rate.Limiter
	noise   *perlin.Perlin
	rng     *rand.Rand
	mean    time.Duration
	jitter  time.Duration
	t       float64
}

// New builds a pacer. The limiter enforces a hard floor of half the mean
// delay between sends regardless of what the jitter math produces.
func New(cfg Config) *Pacer {
	if cfg.MeanDelay <= 0 {
		return &Pacer{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Pacer{
		limiter: rate.NewLimiter(rate.Every(cfg.MeanDelay/2), 1),
		noise:   perlin.NewPerlin(perlinAlpha, perlinBeta, perlinDepth, seed),
		rng:     rand.New(rand.NewSource(seed)),
		mean:    cfg.MeanDelay,
		jitter:  cfg.Jitter,
	}
}

// Wait blocks for one humanized inter-guess delay, honoring cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return ctx.Err()
	}

	p.t += noiseStep
	jitterMs := 0.0
	if p.jitter > 0 {
		amplitude := float64(p.jitter.Milliseconds())
		// Slow drift plus high-frequency tremor, in the proportions the
		// humanized-behavior model uses.
		jitterMs = p.noise.Noise1D(p.t)*amplitude + p.rng.NormFloat64()*amplitude*0.25
	}

	delay := p.mean + time.Duration(jitterMs)*time.Millisecond
	if delay < p.mean/2 {
		delay = p.mean / 2
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return hesitate(ctx, delay)
}

// hesitate pauses execution, respecting context cancellation.
func hesitate(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
