// Package gate provides a one-shot signal/wait primitive used to hand results
// from the venue delivery goroutine to a waiting caller.
//
// A Gate starts closed. The first Signal opens it for good; every current and
// future Wait returns immediately after that. Anything written before Signal
// is visible to a goroutine whose Wait returned nil, because the gate is
// backed by a channel close.
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
)

// Gate is a one-shot cross-goroutine signal. The zero value is not usable;
// call New.
type Gate struct {
	once sync.Once
	ch   chan struct{}
}

// New returns an unsignaled Gate.
func New() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Signal opens the gate. It reports whether this call was the one that opened
// it; later calls are no-ops and return false. Signal never blocks.
func (g *Gate) Signal() bool {
	opened := false
	g.once.Do(func() {
		close(g.ch)
		opened = true
	})
	return opened
}

// Signaled reports whether Signal has been called.
func (g *Gate) Signaled() bool {
	select {
	case <-g.ch:
		return true
	default:
		return false
	}
}

// Done returns a channel that is closed once the gate is signaled.
func (g *Gate) Done() <-chan struct{} {
	return g.ch
}

// Wait blocks until the gate is signaled. A positive timeout bounds the wait
// and yields domain.ErrTimeout on expiry; a zero or negative timeout waits
// until the gate opens or ctx ends.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) error {
	// Fast path: no timer needed once open.
	if g.Signaled() {
		return nil
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-g.ch:
		return nil
	case <-expired:
		return domain.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
