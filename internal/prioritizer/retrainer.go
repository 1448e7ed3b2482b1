package prioritizer

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
	"github.com/xkilldash9x/harpy-cli/internal/featurestore"
)

// Retrainer retrains the model after every batch of K new records without
// blocking the dispatch loop. Scoring always uses the most recently
// completed model: a stale-but-consistent model beats waiting for one under
// construction.
type Retrainer struct {
	store       *featurestore.Store
	every       int
	minRecords  int
	onColdStart func()
	log         *zap.Logger

	model    atomic.Pointer[Model]
	observed atomic.Int64
	training atomic.Bool
	coldOnce sync.Once
	wg       sync.WaitGroup
}

// NewRetrainer wires a retrainer to a session's feature store. onColdStart
// fires at most once, the first time scoring happens without enough data;
// it may be nil.
func NewRetrainer(store *featurestore.Store, every, minRecords int, onColdStart func(), logger *zap.Logger) *Retrainer {
	if every < 1 {
		every = 1
	}
	return &Retrainer{
		store:       store,
		every:       every,
		minRecords:  minRecords,
		onColdStart: onColdStart,
		log:         logger.Named("prioritizer"),
	}
}

// Observe is called by the engine after each append. Every K-th observation
// kicks off an asynchronous retrain over a store snapshot.
func (r *Retrainer) Observe() {
	if r.observed.Add(1)%int64(r.every) != 0 {
		return
	}
	// At most one training pass in flight; an overlapping trigger is
	// dropped, the next batch boundary picks the records up anyway.
	if !r.training.CompareAndSwap(false, true) {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.training.Store(false)
		r.trainOnce()
	}()
}

// TrainNow runs one synchronous training pass, used to seed the model from
// imported records before a session starts.
func (r *Retrainer) TrainNow() {
	r.trainOnce()
}

func (r *Retrainer) trainOnce() {
	model := Train(r.store.Snapshot(), r.minRecords)
	r.model.Store(model)
	r.log.Debug("Model retrained",
		zap.Int("records", model.TrainedOn),
		zap.Bool("ready", model.Ready))
}

// Model returns the latest completed model, possibly nil before the first
// training pass.
func (r *Retrainer) Model() *Model {
	return r.model.Load()
}

// Ready reports whether a trained model with sufficient data is available.
// The first cold check fires the cold-start notification: callers that pick
// guesses without scoring still surface the degradation exactly once.
func (r *Retrainer) Ready() bool {
	m := r.Model()
	if m == nil || !m.Ready {
		r.notifyColdStart()
		return false
	}
	return true
}

// Score ranks one candidate with the latest completed model.
func (r *Retrainer) Score(g schemas.OtpGuess) float64 {
	m := r.Model()
	if m == nil || !m.Ready {
		r.notifyColdStart()
	}
	return Score(m, g)
}

func (r *Retrainer) notifyColdStart() {
	r.coldOnce.Do(func() {
		r.log.Warn("Insufficient training data, ranking degrades to uniform order",
			zap.Int("min_records", r.minRecords))
		if r.onColdStart != nil {
			r.onColdStart()
		}
	})
}

// Wait blocks until any in-flight training pass completes. Used at session
// teardown and by tests.
func (r *Retrainer) Wait() {
	r.wg.Wait()
}
