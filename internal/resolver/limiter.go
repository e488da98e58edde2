package resolver

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Pacer enforces a minimum spacing between external geocoding calls. One
// instance is shared by every person's update cycle: the provider sees one
// budget regardless of how many persons are tracked.
//
// Wait reserves the next slot under the lock, then sleeps outside it, so
// concurrent callers queue up with correct spacing instead of stampeding
// when the lock is released.
type Pacer struct {
	clock    clockwork.Clock
	interval time.Duration

	mu   sync.Mutex
	next time.Time
}

// NewPacer creates a pacer allowing one call per interval.
func NewPacer(interval time.Duration, clock clockwork.Clock) *Pacer {
	return &Pacer{clock: clock, interval: interval}
}

// Wait blocks until the caller may issue the next external call, or until
// ctx is cancelled. The wait suspends on the clock, never spins.
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	now := p.clock.Now()
	at := p.next
	if at.Before(now) {
		at = now
	}
	p.next = at.Add(p.interval)
	p.mu.Unlock()

	d := at.Sub(now)
	if d <= 0 {
		return nil
	}

	select {
	case <-p.clock.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
