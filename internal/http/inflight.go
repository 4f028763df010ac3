package http

import (
	"context"
	"sync/atomic"
	"time"
)

// InFlightTracker counts requests currently being served so shutdown can
// drain them after the listener closes.
type InFlightTracker struct {
	count atomic.Int64
}

func (t *InFlightTracker) Increment() { t.count.Add(1) }

func (t *InFlightTracker) Decrement() { t.count.Add(-1) }

func (t *InFlightTracker) Count() int64 { return t.count.Load() }

// WaitForZero polls every checkInterval until no request is in flight or
// ctx ends, returning ctx.Err() and the remaining count in the latter case.
func (t *InFlightTracker) WaitForZero(ctx context.Context, checkInterval time.Duration) (int64, error) {
	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()
	for {
		n := t.Count()
		if n <= 0 {
			return 0, nil
		}
		select {
		case <-ctx.Done():
			return n, ctx.Err()
		case <-ticker.C:
		}
	}
}

// globalInFlightTracker counts requests passing through MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until in-flight requests drain or ctx is done; on
// timeout it reports how many were still running.
func WaitForInFlight(ctx context.Context, checkInterval time.Duration) (int64, error) {
	return globalInFlightTracker.WaitForZero(ctx, checkInterval)
}
