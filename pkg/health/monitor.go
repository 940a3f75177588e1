package health

import (
	"context"
	"sync"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/rs/zerolog"
)

// ViewPublisher stores this manager's view for the other managers
type ViewPublisher interface {
	WriteManagerView(ctx context.Context, id string, view types.ManagerView) error
}

// Monitor runs one Watcher per node and owns this process's ManagerView.
// The view is republished on every change and every report is forwarded to
// the sink.
type Monitor struct {
	id        string
	publisher ViewPublisher
	factory   node.Factory
	config    Config
	logger    zerolog.Logger

	mu        sync.Mutex
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	watchers  map[types.Addr]*Watcher
	states    map[types.Addr]types.HealthState
	view      types.ManagerView
	published bool
	sink      func(types.HealthReport)

	publishMu sync.Mutex
}

// NewMonitor creates a monitor for the manager identified by id
func NewMonitor(id string, publisher ViewPublisher, factory node.Factory, config Config) *Monitor {
	return &Monitor{
		id:        id,
		publisher: publisher,
		factory:   factory,
		config:    config,
		logger:    log.WithComponent("monitor"),
		watchers:  make(map[types.Addr]*Watcher),
		states:    make(map[types.Addr]types.HealthState),
	}
}

// SetSink sets the function every report is forwarded to
func (m *Monitor) SetSink(fn func(types.HealthReport)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sink = fn
}

// Start publishes the initial empty view and starts watching addrs
func (m *Monitor) Start(ctx context.Context, addrs ...types.Addr) {
	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	metrics.RegisterComponent(metrics.ComponentMonitor, true, "")
	if err := m.publish(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to publish initial view")
	}
	m.Watch(addrs...)
}

// Watch starts a watcher for every address not watched yet
func (m *Monitor) Watch(addrs ...types.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ctx == nil || m.ctx.Err() != nil {
		return
	}

	for _, addr := range addrs {
		if _, ok := m.watchers[addr]; ok {
			continue
		}

		ctx := m.ctx
		w := NewWatcher(m.factory(addr), m.config, func(r types.HealthReport) {
			m.handle(ctx, r)
		})
		m.watchers[addr] = w

		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			w.Run(ctx)
		}()

		m.logger.Debug().Str("node", string(addr)).Msg("Watching node")
	}
}

// Stop stops every watcher and waits for them to exit
func (m *Monitor) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	metrics.UpdateComponent(metrics.ComponentMonitor, false, "stopped")
}

// Nodes returns the watched addresses in order
func (m *Monitor) Nodes() []types.Addr {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := make(types.AddrSet, len(m.watchers))
	for addr := range m.watchers {
		set.Add(addr)
	}
	return set.Sorted()
}

// State returns the local classification of addr
func (m *Monitor) State(addr types.Addr) types.HealthState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[addr]
}

// LocalView returns this process's current view
func (m *Monitor) LocalView() types.ManagerView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.view
}

// Invalidate marks the stored view as gone, for example after the
// coordination session expired and took the ephemeral view with it. The view
// is republished with the next report.
func (m *Monitor) Invalidate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = false
}

func (m *Monitor) handle(ctx context.Context, r types.HealthReport) {
	m.mu.Lock()
	changed := m.states[r.Node] != r.State
	m.states[r.Node] = r.State
	if changed {
		m.view = m.buildViewLocked()
	}
	dirty := changed || !m.published
	sink := m.sink
	m.mu.Unlock()

	if dirty {
		if err := m.publish(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.Error().Err(err).Msg("Failed to publish manager view")
			if coord.IsDisconnected(err) && sink != nil {
				sink(types.HealthReport{
					Node:       r.Node,
					State:      types.HealthCoordinatorDisconnected,
					ObservedAt: r.ObservedAt,
				})
			}
		}
	}

	if sink != nil {
		sink(r)
	}
}

func (m *Monitor) publish(ctx context.Context) error {
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	m.mu.Lock()
	view := m.view
	m.mu.Unlock()

	err := m.publisher.WriteManagerView(ctx, m.id, view)

	m.mu.Lock()
	m.published = err == nil
	m.mu.Unlock()

	if err != nil {
		metrics.UpdateComponent(metrics.ComponentCoordinator, false, err.Error())
		return err
	}
	metrics.UpdateComponent(metrics.ComponentCoordinator, true, "")
	return nil
}

func (m *Monitor) buildViewLocked() types.ManagerView {
	addrs := make(types.AddrSet, len(m.states))
	for addr := range m.states {
		addrs.Add(addr)
	}

	var view types.ManagerView
	for _, addr := range addrs.Sorted() {
		switch m.states[addr] {
		case types.HealthReachable:
			view.Available = append(view.Available, addr)
		case types.HealthSyncing:
			view.Available = append(view.Available, addr)
			view.Syncing = append(view.Syncing, addr)
		case types.HealthUnreachable:
			view.Unavailable = append(view.Unavailable, addr)
		}
	}
	return view
}
