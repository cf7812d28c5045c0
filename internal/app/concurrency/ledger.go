package concurrency

import (
	"time"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
)

// waiter is a queued acquire request. result is written exactly once, by the
// coordinator goroutine only.
type waiter struct {
	seq         uint64
	requesterID string
	weight      int
	ttl         time.Duration
	enqueuedAt  time.Time
	deadline    time.Time // zero = wait until cancelled
	result      chan acquireResult
}

func (w *waiter) expired(now time.Time) bool {
	return !w.deadline.IsZero() && !w.deadline.After(now)
}

type acquireResult struct {
	lease lease.Lease
	err   error
}

type grant struct {
	waiter *waiter
	lease  lease.Lease
}

// ledger is the bookkeeping of one category. It is not safe for concurrent use;
// only the coordinator goroutine touches it.
type ledger struct {
	category     lease.Category
	max          int
	active       map[shared.ID]lease.Lease
	activeWeight int
	queue        []*waiter
}

func newLedger(category lease.Category, maxConcurrency int) *ledger {
	return &ledger{
		category: category,
		max:      maxConcurrency,
		active:   make(map[shared.ID]lease.Lease),
	}
}

func (l *ledger) fits(weight int) bool {
	return l.activeWeight+weight <= l.max
}

func (l *ledger) grant(requesterID string, weight int, ttl time.Duration, now time.Time) lease.Lease {
	ls := lease.Lease{
		ID:          shared.NewID(),
		Category:    l.category,
		RequesterID: requesterID,
		Weight:      weight,
		GrantedAt:   now,
		TTL:         ttl,
	}
	l.active[ls.ID] = ls
	l.activeWeight += weight
	return ls
}

// release removes a lease. floored reports that the active weight had to be
// clamped at zero, which means the books were already inconsistent.
func (l *ledger) release(id shared.ID) (ls lease.Lease, ok, floored bool) {
	ls, ok = l.active[id]
	if !ok {
		return lease.Lease{}, false, false
	}
	delete(l.active, id)
	l.activeWeight -= ls.Weight
	if l.activeWeight < 0 {
		l.activeWeight = 0
		floored = true
	}
	return ls, true, floored
}

func (l *ledger) enqueue(w *waiter) {
	l.queue = append(l.queue, w)
}

// remove takes a waiter out of the queue. It returns false when the waiter has
// already been granted or timed out.
func (l *ledger) remove(seq uint64) (*waiter, bool) {
	for i, w := range l.queue {
		if w.seq == seq {
			copy(l.queue[i:], l.queue[i+1:])
			l.queue[len(l.queue)-1] = nil
			l.queue = l.queue[:len(l.queue)-1]
			return w, true
		}
	}
	return nil, false
}

func (l *ledger) popHead() *waiter {
	w := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return w
}

// drain grants queued requests in FIFO order while the head fits. Expired heads
// are dropped. A head that does not fit blocks everything behind it.
func (l *ledger) drain(now time.Time) (granted []grant, expired []*waiter) {
	for len(l.queue) > 0 {
		head := l.queue[0]
		if head.expired(now) {
			expired = append(expired, l.popHead())
			continue
		}
		if !l.fits(head.weight) {
			break
		}
		l.popHead()
		granted = append(granted, grant{
			waiter: head,
			lease:  l.grant(head.requesterID, head.weight, head.ttl, now),
		})
	}
	return granted, expired
}

// reclaim removes every lease whose TTL has elapsed.
func (l *ledger) reclaim(now time.Time) []lease.Lease {
	var out []lease.Lease
	for id, ls := range l.active {
		if ls.Expired(now) {
			delete(l.active, id)
			l.activeWeight -= ls.Weight
			out = append(out, ls)
		}
	}
	if l.activeWeight < 0 {
		l.activeWeight = 0
	}
	return out
}

// closeAll empties the queue and returns the waiters that were in it.
func (l *ledger) closeAll() []*waiter {
	out := l.queue
	l.queue = nil
	return out
}

func (l *ledger) status() lease.Status {
	return lease.Status{
		Category:       l.category,
		MaxConcurrency: l.max,
		ActiveWeight:   l.activeWeight,
		QueueLength:    len(l.queue),
	}
}
