package concurrency

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/lease"
	"github.com/openctemio/docflow/pkg/domain/shared"
	"github.com/openctemio/docflow/pkg/logger"
)

func startCoordinator(t *testing.T, opts Options) (*Coordinator, context.CancelFunc) {
	t.Helper()
	c := NewCoordinator(lease.CategoryValidation, opts, logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-c.done
	})
	return c, cancel
}

func status(t *testing.T, c *Coordinator) lease.Status {
	t.Helper()
	s, err := c.Status(context.Background())
	require.NoError(t, err)
	return s
}

func waitQueued(t *testing.T, c *Coordinator, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return status(t, c).QueueLength == n
	}, 2*time.Second, 5*time.Millisecond)
}

type acquired struct {
	lease lease.Lease
	err   error
}

func acquireAsync(c *Coordinator, req AcquireRequest) <-chan acquired {
	out := make(chan acquired, 1)
	go func() {
		ls, err := c.Acquire(context.Background(), req)
		out <- acquired{ls, err}
	}()
	return out
}

func receive(t *testing.T, ch <-chan acquired) acquired {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("acquire did not resolve")
		return acquired{}
	}
}

func TestCoordinator_GrantQueueRelease(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 2})
	ctx := context.Background()

	first, err := c.Acquire(ctx, AcquireRequest{RequesterID: "a", Weight: 1})
	require.NoError(t, err)
	_, err = c.Acquire(ctx, AcquireRequest{RequesterID: "b", Weight: 1})
	require.NoError(t, err)

	third := acquireAsync(c, AcquireRequest{RequesterID: "c", Weight: 1, WaitTimeout: 5 * time.Second})
	waitQueued(t, c, 1)
	assert.Equal(t, 2, status(t, c).ActiveWeight)

	ok, err := c.Release(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got := receive(t, third)
	require.NoError(t, got.err)
	assert.Equal(t, "c", got.lease.RequesterID)
	assert.Equal(t, lease.CategoryValidation, got.lease.Category)

	s := status(t, c)
	assert.Equal(t, 2, s.ActiveWeight)
	assert.Equal(t, 0, s.QueueLength)
}

func TestCoordinator_RejectsOversizedWeight(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 1})

	_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "big", Weight: 2})
	assert.ErrorIs(t, err, lease.ErrRejected)

	s := status(t, c)
	assert.Equal(t, 0, s.QueueLength)
	assert.Equal(t, 0, s.ActiveWeight)
}

func TestCoordinator_WaitTimeout(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 1})
	ctx := context.Background()

	_, err := c.Acquire(ctx, AcquireRequest{RequesterID: "holder"})
	require.NoError(t, err)

	start := time.Now()
	_, err = c.Acquire(ctx, AcquireRequest{RequesterID: "late", WaitTimeout: 50 * time.Millisecond})
	assert.ErrorIs(t, err, lease.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, status(t, c).QueueLength)
}

func TestCoordinator_SweepReclaimsExpiredLeases(t *testing.T) {
	t.Run("active weight returns to zero", func(t *testing.T) {
		c, _ := startCoordinator(t, Options{MaxConcurrency: 2, SweepInterval: 20 * time.Millisecond})

		_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "leaky", LeaseTTL: 100 * time.Millisecond})
		require.NoError(t, err)
		assert.Equal(t, 1, status(t, c).ActiveWeight)

		require.Eventually(t, func() bool {
			return status(t, c).ActiveWeight == 0
		}, 2*time.Second, 10*time.Millisecond)
	})

	t.Run("queued waiter is granted", func(t *testing.T) {
		c, _ := startCoordinator(t, Options{MaxConcurrency: 1, SweepInterval: 20 * time.Millisecond})

		_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "leaky", LeaseTTL: 100 * time.Millisecond})
		require.NoError(t, err)

		next := acquireAsync(c, AcquireRequest{RequesterID: "next", WaitTimeout: 2 * time.Second, LeaseTTL: -1})
		got := receive(t, next)
		require.NoError(t, got.err)
		assert.Equal(t, "next", got.lease.RequesterID)
		assert.Zero(t, got.lease.TTL)
	})
}

func TestCoordinator_HeadOfLineBlocking(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 3})
	ctx := context.Background()

	holder, err := c.Acquire(ctx, AcquireRequest{RequesterID: "holder", Weight: 2})
	require.NoError(t, err)

	heavy := acquireAsync(c, AcquireRequest{RequesterID: "heavy", Weight: 2, WaitTimeout: 5 * time.Second})
	waitQueued(t, c, 1)
	light := acquireAsync(c, AcquireRequest{RequesterID: "light", Weight: 1, WaitTimeout: 5 * time.Second})
	waitQueued(t, c, 2)

	// light would fit next to holder but must not overtake heavy.
	select {
	case r := <-light:
		t.Fatalf("light request overtook the queue head: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}

	_, err = c.Release(ctx, holder.ID)
	require.NoError(t, err)

	h := receive(t, heavy)
	l := receive(t, light)
	require.NoError(t, h.err)
	require.NoError(t, l.err)
	assert.False(t, l.lease.GrantedAt.Before(h.lease.GrantedAt))
	assert.Equal(t, 3, status(t, c).ActiveWeight)
}

func TestCoordinator_TimedOutHeadUnblocksQueue(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 3})
	ctx := context.Background()

	_, err := c.Acquire(ctx, AcquireRequest{RequesterID: "holder", Weight: 2})
	require.NoError(t, err)

	heavy := acquireAsync(c, AcquireRequest{RequesterID: "heavy", Weight: 3, WaitTimeout: 50 * time.Millisecond})
	waitQueued(t, c, 1)
	light := acquireAsync(c, AcquireRequest{RequesterID: "light", Weight: 1, WaitTimeout: 5 * time.Second})

	assert.ErrorIs(t, receive(t, heavy).err, lease.ErrTimeout)
	got := receive(t, light)
	require.NoError(t, got.err)
	assert.Equal(t, "light", got.lease.RequesterID)
}

func TestCoordinator_ContextCancellation(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 1})

	_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "holder"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Acquire(ctx, AcquireRequest{RequesterID: "gone", WaitTimeout: -1})
		done <- err
	}()
	waitQueued(t, c, 1)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled acquire did not return")
	}
	assert.Equal(t, 0, status(t, c).QueueLength)
}

func TestCoordinator_ReleaseUnknown(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 1})

	ok, err := c.Release(context.Background(), shared.NewID())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_ZeroWeightCountsAsOne(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 2})

	ls, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "zero", Weight: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, ls.Weight)
	assert.Equal(t, 1, status(t, c).ActiveWeight)
}

func TestCoordinator_NonPositiveMaxCoercedToOne(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 0})
	assert.Equal(t, 1, c.MaxConcurrency())
	assert.Equal(t, 1, status(t, c).MaxConcurrency)
}

func TestCoordinator_ClosedResolvesWaiters(t *testing.T) {
	c, stop := startCoordinator(t, Options{MaxConcurrency: 1})

	_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "holder"})
	require.NoError(t, err)

	queued := acquireAsync(c, AcquireRequest{RequesterID: "queued", WaitTimeout: -1})
	waitQueued(t, c, 1)

	stop()
	assert.ErrorIs(t, receive(t, queued).err, lease.ErrClosed)

	<-c.done
	_, err = c.Acquire(context.Background(), AcquireRequest{RequesterID: "after"})
	assert.ErrorIs(t, err, lease.ErrClosed)
	_, err = c.Status(context.Background())
	assert.ErrorIs(t, err, lease.ErrClosed)
}

func TestCoordinator_WithLease(t *testing.T) {
	c, _ := startCoordinator(t, Options{MaxConcurrency: 1})
	boom := errors.New("boom")

	err := c.WithLease(context.Background(), AcquireRequest{RequesterID: "fn"}, func(ctx context.Context, ls lease.Lease) error {
		assert.Equal(t, 1, status(t, c).ActiveWeight)
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, status(t, c).ActiveWeight)
}

func TestCoordinator_StatusPush(t *testing.T) {
	reports := make(chan lease.StatusReport, 64)
	sink := StatusSinkFunc(func(_ context.Context, r lease.StatusReport) error {
		reports <- r
		return nil
	})
	c, _ := startCoordinator(t, Options{MaxConcurrency: 4, Sink: sink, StatusInterval: time.Hour})

	_, err := c.Acquire(context.Background(), AcquireRequest{RequesterID: "a", Weight: 3})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case r := <-reports:
			if r.ActiveWeight == 3 {
				assert.Equal(t, lease.LoadModerate, r.Label)
				assert.Equal(t, lease.SeverityInfo, r.Severity)
				return
			}
		case <-deadline:
			t.Fatal("no status report for the grant")
		}
	}
}

// Every Acquire resolves exactly once and the granted weight never exceeds the budget.
func TestCoordinator_CapacityInvariantUnderLoad(t *testing.T) {
	const maxConcurrency = 5
	c, _ := startCoordinator(t, Options{MaxConcurrency: maxConcurrency})

	var (
		held     atomic.Int64
		peak     atomic.Int64
		granted  atomic.Int64
		timedOut atomic.Int64
		wg       sync.WaitGroup
	)

	for i := range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			weight := 1 + i%3
			ls, err := c.Acquire(context.Background(), AcquireRequest{
				RequesterID: "load",
				Weight:      weight,
				WaitTimeout: time.Duration(5+rand.IntN(40)) * time.Millisecond,
			})
			if err != nil {
				if assert.ErrorIs(t, err, lease.ErrTimeout) {
					timedOut.Add(1)
				}
				return
			}
			granted.Add(1)
			now := held.Add(int64(ls.Weight))
			for {
				p := peak.Load()
				if now <= p || peak.CompareAndSwap(p, now) {
					break
				}
			}
			time.Sleep(time.Duration(rand.IntN(3)) * time.Millisecond)
			held.Add(-int64(ls.Weight))
			ok, err := c.Release(context.Background(), ls.ID)
			assert.NoError(t, err)
			assert.True(t, ok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(200), granted.Load()+timedOut.Load())
	assert.LessOrEqual(t, peak.Load(), int64(maxConcurrency))
	s := status(t, c)
	assert.Equal(t, 0, s.ActiveWeight)
	assert.Equal(t, 0, s.QueueLength)
}
