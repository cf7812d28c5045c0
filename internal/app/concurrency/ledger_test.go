package concurrency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/docflow/pkg/domain/lease"
)

func newWaiter(seq uint64, weight int, deadline time.Time) *waiter {
	return &waiter{seq: seq, requesterID: "r", weight: weight, deadline: deadline, result: make(chan acquireResult, 1)}
}

func TestLedger_DrainFIFO(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(lease.CategoryGeneration, 4)
	held := l.grant("holder", 3, 0, now)

	l.enqueue(newWaiter(1, 2, time.Time{}))
	l.enqueue(newWaiter(2, 1, time.Time{}))
	l.enqueue(newWaiter(3, 1, time.Time{}))

	granted, expired := l.drain(now)
	assert.Empty(t, granted, "head does not fit, nothing behind it may pass")
	assert.Empty(t, expired)

	_, ok, floored := l.release(held.ID)
	require.True(t, ok)
	assert.False(t, floored)

	granted, _ = l.drain(now)
	require.Len(t, granted, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{granted[0].waiter.seq, granted[1].waiter.seq, granted[2].waiter.seq})
	assert.Equal(t, 4, l.activeWeight)
	assert.Empty(t, l.queue)
}

func TestLedger_DrainDropsExpiredHeads(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(lease.CategoryGeneration, 1)
	l.grant("holder", 1, 0, now)

	l.enqueue(newWaiter(1, 1, now.Add(-time.Second)))
	l.enqueue(newWaiter(2, 1, now))
	l.enqueue(newWaiter(3, 1, now.Add(time.Minute)))

	granted, expired := l.drain(now)
	assert.Empty(t, granted)
	require.Len(t, expired, 2)
	assert.Equal(t, uint64(1), expired[0].seq)
	assert.Equal(t, uint64(2), expired[1].seq)
	assert.Len(t, l.queue, 1)
}

func TestLedger_Remove(t *testing.T) {
	l := newLedger(lease.CategoryReview, 1)
	l.enqueue(newWaiter(1, 1, time.Time{}))
	l.enqueue(newWaiter(2, 1, time.Time{}))
	l.enqueue(newWaiter(3, 1, time.Time{}))

	w, ok := l.remove(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), w.seq)
	assert.Len(t, l.queue, 2)

	_, ok = l.remove(2)
	assert.False(t, ok, "a waiter is removed at most once")
}

func TestLedger_Reclaim(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	l := newLedger(lease.CategoryIngestion, 5)
	l.grant("short", 2, time.Second, now)
	l.grant("forever", 1, 0, now)
	l.grant("long", 1, time.Hour, now)

	reclaimed := l.reclaim(now.Add(time.Second))
	require.Len(t, reclaimed, 1)
	assert.Equal(t, "short", reclaimed[0].RequesterID)
	assert.Equal(t, 2, l.activeWeight)
	assert.Len(t, l.active, 2)
}

func TestLedger_Status(t *testing.T) {
	l := newLedger(lease.CategoryFlowChat, 3)
	l.grant("a", 2, 0, time.Now())
	l.enqueue(newWaiter(1, 2, time.Time{}))

	assert.Equal(t, lease.Status{
		Category:       lease.CategoryFlowChat,
		MaxConcurrency: 3,
		ActiveWeight:   2,
		QueueLength:    1,
	}, l.status())
}
