// Package concurrency grants weighted leases against per-category concurrency budgets.
//
// Each category is owned by one Coordinator goroutine. Callers talk to it only
// through channels, so the ledger never needs a lock and every waiter is resolved
// exactly once.
package concurrency

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/openctemio/docflow/internal/metrics"
	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/logger"
)

// Defaults used when Options leaves a field empty.
const (
	DefaultSweepInterval  = 10 * time.Second
	DefaultStatusInterval = 10 * time.Second
)

// AcquireRequest asks for a lease.
type AcquireRequest struct {
	RequesterID string
	// Weight <= 0 is treated as 1.
	Weight int
	// WaitTimeout bounds the time spent queued. 0 uses the coordinator default;
	// a negative value waits until ctx is done.
	WaitTimeout time.Duration
	// LeaseTTL lets the sweeper reclaim a lease that is never released. 0 uses
	// the coordinator default; a negative value disables the TTL.
	LeaseTTL time.Duration
}

// Options configures a Coordinator.
type Options struct {
	MaxConcurrency     int
	SweepInterval      time.Duration
	StatusInterval     time.Duration
	DefaultLeaseTTL    time.Duration
	DefaultWaitTimeout time.Duration
	Sink               StatusSink
	Clock              func() time.Time
}

type cancelRequest struct {
	seq uint64
	err error
}

type releaseRequest struct {
	id    shared.ID
	reply chan bool
}

// Coordinator arbitrates one category.
type Coordinator struct {
	category lease.Category
	max      int
	opts     Options
	now      func() time.Time
	logger   *logger.Logger

	ledger *ledger

	acquireCh chan *waiter
	cancelCh  chan cancelRequest
	releaseCh chan releaseRequest
	statusCh  chan chan lease.Status
	changes   chan lease.Status
	done      chan struct{}

	seq     atomic.Uint64
	started atomic.Bool
}

// NewCoordinator creates a coordinator. Call Run to start it.
func NewCoordinator(category lease.Category, opts Options, log *logger.Logger) *Coordinator {
	log = log.With("component", "concurrency", "category", string(category))
	if opts.MaxConcurrency <= 0 {
		log.Error("max concurrency must be positive, using 1", "configured", opts.MaxConcurrency)
		opts.MaxConcurrency = 1
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = DefaultStatusInterval
	}
	now := opts.Clock
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	metrics.LeaseMaxConcurrency.WithLabelValues(string(category)).Set(float64(opts.MaxConcurrency))

	return &Coordinator{
		category:  category,
		max:       opts.MaxConcurrency,
		opts:      opts,
		now:       now,
		logger:    log,
		ledger:    newLedger(category, opts.MaxConcurrency),
		acquireCh: make(chan *waiter),
		cancelCh:  make(chan cancelRequest),
		releaseCh: make(chan releaseRequest),
		statusCh:  make(chan chan lease.Status),
		changes:   make(chan lease.Status, 1),
		done:      make(chan struct{}),
	}
}

// Category returns the category this coordinator owns.
func (c *Coordinator) Category() lease.Category {
	return c.category
}

// MaxConcurrency returns the effective budget.
func (c *Coordinator) MaxConcurrency() int {
	return c.max
}

// Run owns the ledger until ctx is done. Queued requests are then resolved with
// lease.ErrClosed. Run must be called once.
func (c *Coordinator) Run(ctx context.Context) {
	if !c.started.CompareAndSwap(false, true) {
		c.logger.Error("coordinator already running")
		return
	}
	defer close(c.done)

	pusherDone := make(chan struct{})
	go func() {
		defer close(pusherDone)
		c.pushStatus(ctx)
	}()
	defer func() { <-pusherDone }()

	sweep := time.NewTicker(c.opts.SweepInterval)
	defer sweep.Stop()

	c.logger.Info("coordinator started", "max_concurrency", c.max)
	c.changed()

	for {
		select {
		case <-ctx.Done():
			for _, w := range c.ledger.closeAll() {
				w.result <- acquireResult{err: lease.ErrClosed}
			}
			c.changed()
			c.logger.Info("coordinator stopped")
			return

		case w := <-c.acquireCh:
			c.handleAcquire(w)

		case req := <-c.cancelCh:
			if w, ok := c.ledger.remove(req.seq); ok {
				w.result <- acquireResult{err: req.err}
				if errors.Is(req.err, lease.ErrTimeout) {
					c.count("timeout")
				} else {
					c.count("cancelled")
				}
				c.drain()
				c.changed()
			}

		case req := <-c.releaseCh:
			req.reply <- c.handleRelease(req.id)

		case reply := <-c.statusCh:
			reply <- c.ledger.status()

		case <-sweep.C:
			c.sweep()
		}
	}
}

func (c *Coordinator) handleAcquire(w *waiter) {
	if len(c.ledger.queue) == 0 && c.ledger.fits(w.weight) {
		ls := c.ledger.grant(w.requesterID, w.weight, w.ttl, c.now())
		w.result <- acquireResult{lease: ls}
		c.granted(w, ls)
		c.changed()
		return
	}
	c.ledger.enqueue(w)
	c.logger.Debug("lease request queued",
		"requester_id", w.requesterID,
		"weight", w.weight,
		"queue_length", len(c.ledger.queue),
	)
	c.changed()
}

func (c *Coordinator) handleRelease(id shared.ID) bool {
	ls, ok, floored := c.ledger.release(id)
	if !ok {
		c.logger.Warn("release of unknown lease", "lease_id", id.String())
		return false
	}
	if floored {
		c.logger.Error("active weight went negative, clamped to zero", "lease_id", id.String())
	}
	c.count("released")
	c.logger.Debug("lease released",
		"lease_id", id.String(),
		"requester_id", ls.RequesterID,
		"held_for", c.now().Sub(ls.GrantedAt).String(),
	)
	c.drain()
	c.changed()
	return true
}

func (c *Coordinator) sweep() {
	now := c.now()
	reclaimed := c.ledger.reclaim(now)
	for _, ls := range reclaimed {
		c.count("reclaimed")
		c.logger.Warn("lease ttl expired, reclaimed",
			"lease_id", ls.ID.String(),
			"requester_id", ls.RequesterID,
			"weight", ls.Weight,
			"granted_at", ls.GrantedAt,
			"ttl", ls.TTL.String(),
		)
	}
	before := len(c.ledger.queue)
	c.drain()
	if len(reclaimed) > 0 || len(c.ledger.queue) != before {
		c.changed()
	}
}

func (c *Coordinator) drain() {
	granted, expired := c.ledger.drain(c.now())
	for _, w := range expired {
		w.result <- acquireResult{err: lease.ErrTimeout}
		c.count("timeout")
	}
	for _, g := range granted {
		g.waiter.result <- acquireResult{lease: g.lease}
		c.granted(g.waiter, g.lease)
	}
}

func (c *Coordinator) granted(w *waiter, ls lease.Lease) {
	c.count("granted")
	metrics.LeaseWaitDuration.WithLabelValues(string(c.category)).Observe(ls.GrantedAt.Sub(w.enqueuedAt).Seconds())
}

func (c *Coordinator) count(event string) {
	metrics.LeaseEventsTotal.WithLabelValues(string(c.category), event).Inc()
}

// changed publishes the current status to the pusher without blocking. Only the
// Run goroutine writes to c.changes, so replacing a stale value cannot race.
func (c *Coordinator) changed() {
	s := c.ledger.status()
	metrics.LeaseActiveWeight.WithLabelValues(string(c.category)).Set(float64(s.ActiveWeight))
	metrics.LeaseQueueLength.WithLabelValues(string(c.category)).Set(float64(s.QueueLength))

	select {
	case c.changes <- s:
	default:
		select {
		case <-c.changes:
		default:
		}
		c.changes <- s
	}
}

// Acquire grants a lease or blocks in the FIFO queue until one fits, the wait
// timeout elapses, or ctx is done.
func (c *Coordinator) Acquire(ctx context.Context, req AcquireRequest) (lease.Lease, error) {
	weight := req.Weight
	if weight <= 0 {
		weight = 1
	}
	if weight > c.max {
		c.count("rejected")
		c.logger.Warn("lease request rejected",
			"requester_id", req.RequesterID,
			"weight", weight,
			"max_concurrency", c.max,
		)
		return lease.Lease{}, lease.ErrRejected
	}

	ttl := req.LeaseTTL
	if ttl == 0 {
		ttl = c.opts.DefaultLeaseTTL
	}
	if ttl < 0 {
		ttl = 0
	}
	wait := req.WaitTimeout
	if wait == 0 {
		wait = c.opts.DefaultWaitTimeout
	}

	now := c.now()
	w := &waiter{
		seq:         c.seq.Add(1),
		requesterID: req.RequesterID,
		weight:      weight,
		ttl:         ttl,
		enqueuedAt:  now,
		result:      make(chan acquireResult, 1),
	}
	var timeout <-chan time.Time
	if wait > 0 {
		w.deadline = now.Add(wait)
		timer := time.NewTimer(wait)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case c.acquireCh <- w:
	case <-c.done:
		return lease.Lease{}, lease.ErrClosed
	case <-ctx.Done():
		return lease.Lease{}, ctx.Err()
	}

	select {
	case res := <-w.result:
		return res.lease, res.err
	case <-timeout:
		res := c.cancel(w, lease.ErrTimeout)
		return res.lease, res.err
	case <-ctx.Done():
		res := c.cancel(w, ctx.Err())
		if res.err == nil {
			// Granted before the cancellation reached the coordinator, but the
			// caller is gone.
			c.releaseQuietly(res.lease)
			return lease.Lease{}, ctx.Err()
		}
		return res.lease, res.err
	}
}

// cancel asks the coordinator to drop w and returns w's single result: either
// the cancellation error or a grant that won the race.
func (c *Coordinator) cancel(w *waiter, err error) acquireResult {
	select {
	case c.cancelCh <- cancelRequest{seq: w.seq, err: err}:
	case <-c.done:
	}
	return <-w.result
}

func (c *Coordinator) releaseQuietly(ls lease.Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.Release(ctx, ls.ID); err != nil && !errors.Is(err, lease.ErrClosed) {
		c.logger.Error("failed to release abandoned lease", "lease_id", ls.ID.String(), "error", err)
	}
}

// Release returns a lease to the pool. Unknown IDs are logged and reported as false.
func (c *Coordinator) Release(ctx context.Context, id shared.ID) (bool, error) {
	req := releaseRequest{id: id, reply: make(chan bool, 1)}
	select {
	case c.releaseCh <- req:
	case <-c.done:
		return false, lease.ErrClosed
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return <-req.reply, nil
}

// Status returns a snapshot of the category.
func (c *Coordinator) Status(ctx context.Context) (lease.Status, error) {
	reply := make(chan lease.Status, 1)
	select {
	case c.statusCh <- reply:
	case <-c.done:
		return lease.Status{}, lease.ErrClosed
	case <-ctx.Done():
		return lease.Status{}, ctx.Err()
	}
	return <-reply, nil
}

// WithLease runs fn while holding a lease and always releases it afterwards.
func (c *Coordinator) WithLease(ctx context.Context, req AcquireRequest, fn func(ctx context.Context, ls lease.Lease) error) error {
	ls, err := c.Acquire(ctx, req)
	if err != nil {
		return err
	}
	defer c.releaseQuietly(ls)
	return fn(ctx, ls)
}
