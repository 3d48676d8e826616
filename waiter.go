package testcord

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// errWaitTimeout is returned when the session doesn't reach a sequence number in time,
// which usually means a handler is stuck or the expected event never fired
var errWaitTimeout = errors.New("timed out waiting for the session to process events")

// eventWaiter tracks the highest gateway sequence number the session has fully
// processed. Because typed handlers fire before the catch-all handler feeding this,
// reaching a sequence number means the bot's own handlers for it have returned
type eventWaiter struct {
	mu      sync.Mutex
	seen    int64
	pending []pendingWait
}

type pendingWait struct {
	seq   int64
	reach chan struct{}
}

func newEventWaiter() (w *eventWaiter) {
	return &eventWaiter{}
}

// observe records that the session finished processing the event carrying seq
func (w *eventWaiter) observe(seq int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seq > w.seen {
		w.seen = seq
	}

	remaining := w.pending[:0]
	for _, p := range w.pending {
		if p.seq <= w.seen {
			close(p.reach)
		} else {
			remaining = append(remaining, p)
		}
	}
	w.pending = remaining
}

// waitFor blocks until the session has processed the event carrying seq
func (w *eventWaiter) waitFor(seq int64, timeout time.Duration) (err error) {
	w.mu.Lock()
	if seq <= w.seen {
		w.mu.Unlock()
		return nil
	}

	p := pendingWait{seq: seq, reach: make(chan struct{})}
	w.pending = append(w.pending, p)
	w.mu.Unlock()

	select {
	case <-p.reach:
		return nil
	case <-time.After(timeout):
		return errWaitTimeout
	}
}
