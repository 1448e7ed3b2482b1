package engine

import (
	"sync"
	"time"

	"github.com/xkilldash9x/harpy-cli/api/schemas"
)

// AuditTrail collects the session events that matter for after-action review:
// transport switches, proxy transitions, aborts and cold-start warnings. It is
// safe for concurrent use; the monitor callback writes from its own goroutine.
type AuditTrail struct {
	mu     sync.Mutex
	events []schemas.AuditEvent
}

func NewAuditTrail() *AuditTrail {
	return &AuditTrail{}
}

// Record appends one event stamped with the current time.
func (a *AuditTrail) Record(kind schemas.AuditKind, detail string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, schemas.AuditEvent{
		Kind:   kind,
		At:     time.Now().UTC(),
		Detail: detail,
	})
}

// Events returns a copy of the trail in insertion order.
func (a *AuditTrail) Events() []schemas.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]schemas.AuditEvent, len(a.events))
	copy(out, a.events)
	return out
}
