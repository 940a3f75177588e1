package reconciler

import (
	"context"
	"errors"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/manager"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/rs/zerolog"
)

// Target is what the reconciler sweeps
type Target interface {
	Reconcile(ctx context.Context) error
}

// Reconciler periodically repairs drift between the topology and the roles
// the nodes actually report
type Reconciler struct {
	target   Target
	interval time.Duration
	logger   zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewReconciler sweeps target every interval, 10s when interval is not
// positive
func NewReconciler(target Target, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Reconciler{
		target:   target,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		done:     make(chan struct{}),
	}
}

// Start begins the reconciliation loop. The first sweep runs one interval
// after Start so a fresh leader finishes discovery first.
func (r *Reconciler) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.loop(ctx)
}

// Stop cancels an in-flight sweep and waits for the loop to exit
func (r *Reconciler) Stop() {
	r.cancel()
	<-r.done
}

func (r *Reconciler) loop(ctx context.Context) {
	defer close(r.done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if ctx.Err() != nil {
			return
		}

		if err := r.reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Reconciliation failed")
		}
	}
}

// reconcile runs one sweep. Followers skip it without counting a cycle.
func (r *Reconciler) reconcile(ctx context.Context) error {
	timer := metrics.NewTimer()
	err := r.target.Reconcile(ctx)
	if errors.Is(err, manager.ErrNotLeader) {
		return nil
	}

	timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCycles.Inc()
	return err
}
