package inheritance

import (
	"context"
	"time"

	"github.com/celerix-dev/chronovault/internal/logging"
	"github.com/celerix-dev/chronovault/internal/metrics"
	"github.com/celerix-dev/chronovault/pkg/schema"
	"github.com/celerix-dev/chronovault/pkg/sdk"
)

// Sweeper periodically reconciles every owner so that releases reached by
// elapsed time alone get their audit event and reach the mirror.
type Sweeper struct {
	ctrl     *Controller
	owners   sdk.OwnerEnumeration
	interval time.Duration
	metrics  *metrics.Metrics
}

func NewSweeper(ctrl *Controller, owners sdk.OwnerEnumeration, interval time.Duration, m *metrics.Metrics) *Sweeper {
	return &Sweeper{ctrl: ctrl, owners: owners, interval: interval, metrics: m}
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if released, err := s.SweepOnce(ctx); err != nil {
			logging.Warnf("sweep: %v", err)
		} else if released > 0 {
			logging.Infof("sweep: recorded %d release(s)", released)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce reconciles all owners and returns how many releases it recorded.
// Per-owner failures are logged and skipped.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.Sweep(time.Since(start).Seconds()) }()

	owners, err := s.owners.Owners()
	if err != nil {
		return 0, err
	}

	released := 0
	for _, owner := range owners {
		if ctx.Err() != nil {
			return released, nil
		}
		if !schema.ValidAddress(owner) {
			continue
		}
		_, recorded, err := s.ctrl.Reconcile(owner)
		if err != nil {
			logging.With("owner", schema.ShortAddress(owner)).Warn("reconcile failed", "err", err)
			continue
		}
		if recorded {
			released++
		}
	}
	return released, nil
}
