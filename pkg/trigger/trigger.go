// Package trigger implements a coalesced wakeup signal: any number of
// concurrent Fire calls occurring before a worker observes them collapse
// into a single wakeup, so bursts of KB creates/deletes cause at most one
// extra reconcile/cleanup pass rather than one per request.
package trigger

import "context"

// Bus is a capacity-1 coalescing signal. The zero value is not usable; use
// NewBus.
type Bus struct {
	ch chan struct{}
}

// NewBus returns a ready-to-use Bus.
func NewBus() *Bus {
	return &Bus{ch: make(chan struct{}, 1)}
}

// Fire requests a wakeup. It never blocks: if a wakeup is already pending,
// this call is a no-op.
func (b *Bus) Fire() {
	select {
	case b.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Fire has been called at least once since the last Wait
// (or Drain) returned, or ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	select {
	case <-b.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain clears any pending wakeup without waiting. The provisioner's workers
// call it after Wait returns, so fires that arrive before the cycle starts
// fold into that cycle.
func (b *Bus) Drain() {
	select {
	case <-b.ch:
	default:
	}
}
