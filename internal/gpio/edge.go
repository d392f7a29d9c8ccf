package gpio

import (
	"context"
	"sync"
	"time"
)

// edgeWaiter tracks the timestamp of the newest falling edge reported by the
// line watcher. Waiters compare it against the time their wait began, so an
// edge that is delivered late never satisfies a later wait.
type edgeWaiter struct {
	mu     sync.Mutex
	last   time.Duration
	notify chan struct{}
}

func newEdgeWaiter() *edgeWaiter {
	return &edgeWaiter{notify: make(chan struct{}, 1)}
}

// record notes an edge seen at ts on the monotonic event clock.
func (w *edgeWaiter) record(ts time.Duration) {
	w.mu.Lock()
	if ts > w.last {
		w.last = ts
	}
	w.mu.Unlock()
	select {
	case w.notify <- struct{}{}:
	default:
	}
}

func (w *edgeWaiter) newest() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// wait blocks until an edge stamped later than since has been recorded.
func (w *edgeWaiter) wait(ctx context.Context, since, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if w.newest() > since {
			return nil
		}
		select {
		case <-w.notify:
		case <-timer.C:
			return ErrEdgeTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
