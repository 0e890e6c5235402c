package contract

import (
	"context"
	"time"

	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/schema"
)

const (
	maxAttempts = 3
	baseBackoff = 200 * time.Millisecond
)

// Dispatcher queues verdicts and hands them to a Mirror from a single
// worker. Publish never blocks; when the queue is full the verdict is
// dropped, since the next mutation or sweep produces a fresher one.
type Dispatcher struct {
	mirror  Mirror
	queue   chan schema.Verdict
	metrics *metrics.Metrics
	backoff time.Duration
	giveUp  func(schema.Verdict)
}

func NewDispatcher(m Mirror, size int, mt *metrics.Metrics) *Dispatcher {
	if size < 1 {
		size = 1
	}
	return &Dispatcher{
		mirror:  m,
		queue:   make(chan schema.Verdict, size),
		metrics: mt,
		backoff: baseBackoff,
	}
}

// OnGiveUp registers fn to run when a verdict could not be delivered after
// every attempt. Call it before Run.
func (d *Dispatcher) OnGiveUp(fn func(schema.Verdict)) {
	d.giveUp = fn
}

// Publish enqueues v and reports whether it was accepted.
func (d *Dispatcher) Publish(v schema.Verdict) bool {
	select {
	case d.queue <- v:
		d.metrics.QueueDepth(len(d.queue))
		return true
	default:
		d.metrics.Mirror("dropped")
		logging.With("owner", schema.ShortAddress(v.Owner)).Warn("mirror queue full, verdict dropped", "state", v.State)
		return false
	}
}

// Run delivers queued verdicts until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case v := <-d.queue:
			d.metrics.QueueDepth(len(d.queue))
			d.deliver(ctx, v)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, v schema.Verdict) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = d.mirror.Publish(ctx, v); err == nil {
			d.metrics.Mirror("ok")
			return
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			d.fail(v)
			return
		case <-time.After(d.backoff * time.Duration(attempt)):
		}
	}
	d.fail(v)
	logging.With("owner", schema.ShortAddress(v.Owner)).Error("mirror delivery failed", "attempts", maxAttempts, "err", err)
}

func (d *Dispatcher) fail(v schema.Verdict) {
	d.metrics.Mirror("failed")
	if d.giveUp != nil {
		d.giveUp(v)
	}
}
