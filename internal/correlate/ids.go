package correlate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/execsync/internal/domain"
	"github.com/alanyoungcy/execsync/internal/gate"
)

// ErrIDPending is returned when another identifier request is still waiting.
var ErrIDPending = errors.New("correlate: identifier request already pending")

// idRequest is one outstanding next-valid-id wait outside a cycle.
type idRequest struct {
	id     int64
	err    error
	ready  *gate.Gate
	failed *gate.Gate
}

// IDSource hands out fresh order identifiers outside correlation cycles,
// using the same request/callback round trip a cycle does. An active cycle
// waiting for its own identifier takes precedence.
type IDSource struct {
	requester domain.Requester
	ingress   *Ingress
}

// NewIDSource creates an IDSource sending through requester and receiving
// through ingress.
func NewIDSource(requester domain.Requester, ingress *Ingress) *IDSource {
	return &IDSource{requester: requester, ingress: ingress}
}

// Next requests an identifier and waits for it. Only one call may wait at a
// time; concurrent calls get ErrIDPending.
func (s *IDSource) Next(ctx context.Context, timeout time.Duration) (int64, error) {
	r := &idRequest{ready: gate.New(), failed: gate.New()}
	if !s.ingress.pendingID.CompareAndSwap(nil, r) {
		return 0, ErrIDPending
	}
	defer s.ingress.pendingID.CompareAndSwap(r, nil)

	if err := s.requester.RequestNextID(ctx); err != nil {
		return 0, fmt.Errorf("correlate: request next id: %w", err)
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case <-r.ready.Done():
		return r.id, nil
	case <-r.failed.Done():
		if r.ready.Signaled() {
			return r.id, nil
		}
		return 0, fmt.Errorf("correlate: await next id: %w", r.err)
	case <-expired:
		return 0, fmt.Errorf("correlate: await next id: %w", domain.ErrTimeout)
	case <-ctx.Done():
		return 0, fmt.Errorf("correlate: await next id: %w", ctx.Err())
	}
}
