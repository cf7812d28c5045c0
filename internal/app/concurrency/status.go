package concurrency

import (
	"context"
	"time"

	"github.com/openctemio/docflow/pkg/domain/lease"
)

// StatusSink receives coordinator status reports.
type StatusSink interface {
	PushStatus(ctx context.Context, report lease.StatusReport) error
}

// StatusSinkFunc adapts a function to StatusSink.
type StatusSinkFunc func(ctx context.Context, report lease.StatusReport) error

// PushStatus calls f.
func (f StatusSinkFunc) PushStatus(ctx context.Context, report lease.StatusReport) error {
	return f(ctx, report)
}

const pushTimeout = 5 * time.Second

// pushStatus forwards status changes to the sink and repeats the latest status
// every StatusInterval. It runs beside the coordinator loop so a slow sink never
// delays lease decisions.
func (c *Coordinator) pushStatus(ctx context.Context) {
	if c.opts.Sink == nil {
		return
	}

	ticker := time.NewTicker(c.opts.StatusInterval)
	defer ticker.Stop()

	var (
		last lease.Status
		have bool
	)
	push := func(s lease.Status) {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
		defer cancel()
		if err := c.opts.Sink.PushStatus(pctx, s.Report(c.now())); err != nil {
			c.logger.Warn("failed to push coordinator status", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-c.changes:
			if have && s == last {
				continue
			}
			last, have = s, true
			push(s)
		case <-ticker.C:
			if have {
				push(last)
			}
		}
	}
}
