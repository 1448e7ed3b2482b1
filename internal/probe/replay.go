package probe

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// ReuseResult summarizes an OTP single-use enforcement check: how many of
// the repeated submissions of one known-good code the target accepted.
type ReuseResult struct {
	Code     string                   `json:"code"`
	Attempts []schemas.ResponseRecord `json:"attempts"`
	Accepted int                      `json:"accepted"`
}

// ReplayCheck submits a known code several times in sequence. A target that
// accepts it more than once does not invalidate codes on use.
func (p *Prober) ReplayCheck(ctx context.Context, t schemas.Transport, code string, attempts int) (*ReuseResult, error) {
	if attempts < 1 {
		attempts = 3
	}
	result := &ReuseResult{Code: code}
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		rec := p.Issue(ctx, schemas.OtpGuess{Code: code, Position: i}, t)
		result.Attempts = append(result.Attempts, rec)
		if rec.Success {
			result.Accepted++
		}
	}
	p.log.Info("Replay check finished",
		zap.Int("attempts", attempts),
		zap.Int("accepted", result.Accepted))
	return result, nil
}

// RaceCheck fires concurrent submissions of the same code to probe for
// check-then-invalidate races in the verifier. This is the one deliberately
// concurrent request path in the tool; attack sessions stay sequential.
func (p *Prober) RaceCheck(ctx context.Context, t schemas.Transport, code string, concurrency int) (*ReuseResult, error) {
	if concurrency < 2 {
		concurrency = 10
	}
	result := &ReuseResult{Code: code, Attempts: make([]schemas.ResponseRecord, concurrency)}

	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i := 0; i < concurrency; i++ {
		i := i
		g.Go(func() error {
			rec := p.Issue(gctx, schemas.OtpGuess{Code: code, Position: i}, t)
			mu.Lock()
			result.Attempts[i] = rec
			if rec.Success {
				result.Accepted++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	p.log.Info("Race check finished",
		zap.Int("concurrency", concurrency),
		zap.Int("accepted", result.Accepted))
	return result, nil
}
