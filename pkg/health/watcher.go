package health

import (
	"context"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/rs/zerolog"
)

// Watcher repeatedly checks one node and reports its classification
type Watcher struct {
	node   node.Node
	config Config
	streak Streak
	state  types.HealthState
	report func(types.HealthReport)
	logger zerolog.Logger
}

// NewWatcher creates a watcher that calls report after every check
func NewWatcher(n node.Node, config Config, report func(types.HealthReport)) *Watcher {
	return &Watcher{
		node:   n,
		config: config,
		state:  types.HealthUnknown,
		report: report,
		logger: log.WithNode(string(n.Addr())),
	}
}

// Run checks on every interval until ctx is cancelled
func (w *Watcher) Run(ctx context.Context) {
	defer w.node.Close()

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ticker.C:
			w.Check(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Check runs a single check, updates the classification and reports it.
// Nothing is reported while the node has never been classified.
func (w *Watcher) Check(ctx context.Context) types.HealthState {
	result := w.poll(ctx)
	if ctx.Err() != nil {
		return w.state
	}
	w.streak.Record(result)

	state := w.streak.Classify(w.state, w.config.Retries)
	if state != w.state {
		ev := w.logger.Info()
		if state == types.HealthUnreachable {
			ev = w.logger.Warn().Str("reason", result.Message)
		}
		ev.Str("from", string(w.state)).
			Str("to", string(state)).
			Msg("Node health changed")
	} else if !result.Healthy {
		w.logger.Debug().
			Int("failures", w.streak.Failures).
			Str("reason", result.Message).
			Msg("Check failed")
	}
	w.state = state

	if state == types.HealthUnknown {
		return state
	}
	metrics.HealthReportsTotal.WithLabelValues(string(state)).Inc()
	w.report(types.HealthReport{Node: w.node.Addr(), State: state, ObservedAt: result.CheckedAt})
	return state
}

// State returns the last classification
func (w *Watcher) State() types.HealthState {
	return w.state
}

func (w *Watcher) poll(ctx context.Context) Result {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CheckDuration)

	if w.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.config.Timeout)
		defer cancel()
	}

	p, err := w.node.Replication(ctx)
	result := Result{
		Healthy:     err == nil,
		Replication: p,
		CheckedAt:   time.Now(),
		Duration:    timer.Duration(),
	}
	if err != nil {
		result.Message = err.Error()
	}
	return result
}
