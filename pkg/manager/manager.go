package manager

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/leader"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/rs/zerolog"
)

var (
	// ErrNoPrimary is returned by discovery when no node reports itself primary
	ErrNoPrimary = errors.New("no primary found")

	// ErrMultiplePrimaries is returned by discovery when more than one node
	// reports itself primary
	ErrMultiplePrimaries = errors.New("multiple primaries found")

	// ErrInvalidPrimaryRole is returned by discovery when the recorded primary
	// reports itself as a replica
	ErrInvalidPrimaryRole = errors.New("recorded primary reports replica role")

	// ErrNoCandidate is returned when a promotion has no node to promote
	ErrNoCandidate = errors.New("no candidate for promotion")

	// ErrNotLeader is returned by operations that need leadership
	ErrNotLeader = errors.New("not the leader")
)

// Failover reasons used in metrics and events
const (
	ReasonUnreachable = "unreachable"
	ReasonNoPrimary   = "no_primary"
	ReasonManual      = "manual"
)

// LocalView provides this process's own view of the nodes
type LocalView interface {
	LocalView() types.ManagerView
	Watch(addrs ...types.Addr)
}

// Config holds configuration for creating a Manager
type Config struct {
	// ID identifies this manager process among all managers
	ID string

	// Nodes are the configured data-store nodes
	Nodes []types.Addr

	Policy types.DecisionPolicy

	// RetryInterval is the backoff between leadership sessions and between
	// failed lock acquisitions
	RetryInterval time.Duration

	// DiscoveryRetryInterval is the wait between failed discovery attempts
	DiscoveryRetryInterval time.Duration

	// QueueSize bounds the pending health reports of a session
	QueueSize int
}

// Manager runs the failover decision engine while it holds leadership
type Manager struct {
	cfg     Config
	store   *storage.TopologyStore
	elector *leader.Elector
	monitor LocalView
	factory node.Factory
	broker  *events.Broker
	logger  zerolog.Logger

	mu        sync.RWMutex
	session   *session
	published *types.Topology

	nodesMu sync.Mutex
	nodes   map[types.Addr]node.Node
}

// NewManager creates a new Manager instance
func NewManager(cfg Config, store *storage.TopologyStore, monitor LocalView, factory node.Factory, broker *events.Broker) *Manager {
	if cfg.Policy == "" {
		cfg.Policy = types.PolicyMajority
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.DiscoveryRetryInterval <= 0 {
		cfg.DiscoveryRetryInterval = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	return &Manager{
		cfg:     cfg,
		store:   store,
		elector: leader.NewElector(store.Coordinator(), store.Paths().Leader(), cfg.RetryInterval),
		monitor: monitor,
		factory: factory,
		broker:  broker,
		logger:  log.WithManagerID(cfg.ID).With().Str("component", "manager").Logger(),
		nodes:   make(map[types.Addr]node.Node),
	}
}

// Run acquires leadership and runs leadership sessions until ctx is
// cancelled. A lost session is followed by a fixed backoff and a fresh
// acquisition; Run never gives up on its own.
func (m *Manager) Run(ctx context.Context) error {
	defer m.closeNodes()

	go m.followTopology(ctx)

	for {
		lease, err := m.elector.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		m.lead(ctx, lease)
		if ctx.Err() != nil {
			return nil
		}

		m.logger.Warn().
			Dur("retry_in", m.cfg.RetryInterval).
			Msg("Leadership session ended, re-acquiring")

		select {
		case <-time.After(m.cfg.RetryInterval):
		case <-ctx.Done():
			return nil
		}
	}
}

// followTopology keeps the local monitor watching every node in the persisted
// topology, so nodes the leader learned about get votes from every manager
func (m *Manager) followTopology(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		m.watchPersistedNodes(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (m *Manager) watchPersistedNodes(ctx context.Context) {
	rec, err := m.store.ReadTopology(ctx)
	if err != nil {
		if !errors.Is(err, coord.ErrNoNode) && ctx.Err() == nil {
			m.logger.Debug().Err(err).Msg("Failed to read persisted topology")
		}
		return
	}
	topo, err := rec.Topology()
	if err != nil {
		m.logger.Debug().Err(err).Msg("Ignoring invalid persisted topology")
		return
	}
	m.monitor.Watch(topo.Nodes()...)
}

// lead runs one leadership session: discovery, then the decision loop until
// the lock is lost, the coordinator disconnects or ctx is cancelled
func (m *Manager) lead(ctx context.Context, lease *leader.Lease) {
	s := newSession(ctx, lease, m.cfg.QueueSize)
	defer s.end()

	go func() {
		select {
		case <-lease.Lost():
			m.logger.Error().Msg("Leadership lock lost")
			s.end()
		case <-s.ctx.Done():
		}
	}()

	metrics.IsLeader.Set(1)
	metrics.LeadershipTransitions.WithLabelValues("acquired").Inc()
	m.publish(events.EventLeadershipAcquired, "", "leadership acquired", nil)
	m.logger.Info().Msg("Became leader")

	defer func() {
		m.setSession(nil)
		metrics.IsLeader.Set(0)
		metrics.LeadershipTransitions.WithLabelValues("lost").Inc()

		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			m.logger.Debug().Err(err).Msg("Failed to release leadership lock")
		}

		m.publish(events.EventLeadershipLost, "", "leadership session ended", nil)
		m.logger.Info().Msg("Stepped down")
	}()

	if err := m.discoverWithRetry(s); err != nil {
		return
	}

	m.setSession(s)
	m.watchFailoverRequests(s)
	m.handlePendingFailover(s)
	m.loop(s)
}

func (m *Manager) loop(s *session) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case r := <-s.queue:
			m.process(s, r)
		}
	}
}

// Report queues a health report for the decision loop. Reports are dropped
// when this process is not the leader.
func (m *Manager) Report(r types.HealthReport) {
	s := m.currentSession()
	if s == nil {
		return
	}
	select {
	case s.queue <- r:
	case <-s.ctx.Done():
	}
}

// IsLeader reports whether this process currently runs the decision engine
func (m *Manager) IsLeader() bool {
	return m.currentSession() != nil
}

// Topology returns a copy of the last persisted topology of the current
// session, or nil when not leading
func (m *Manager) Topology() *types.Topology {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil || m.published == nil {
		return nil
	}
	return m.published.Clone()
}

// Status describes this manager and, on the leader, the topology it manages
type Status struct {
	ManagerID   string    `json:"manager_id" yaml:"manager_id"`
	Leader      bool      `json:"leader" yaml:"leader"`
	LeaderSince time.Time `json:"leader_since,omitempty" yaml:"leader_since,omitempty"`
	Primary     string    `json:"primary,omitempty" yaml:"primary,omitempty"`
	Replicas    []string  `json:"replicas,omitempty" yaml:"replicas,omitempty"`
	Unavailable []string  `json:"unavailable,omitempty" yaml:"unavailable,omitempty"`
}

// Status returns the current status
func (m *Manager) Status() Status {
	st := Status{ManagerID: m.cfg.ID}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.session == nil {
		return st
	}
	st.Leader = true
	st.LeaderSince = m.session.lease.AcquiredAt()
	if m.published != nil {
		st.Primary = string(m.published.Primary)
		st.Replicas = m.published.Replicas.Strings()
		st.Unavailable = m.published.Unavailable.Strings()
	}
	return st
}

func (m *Manager) currentSession() *session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

func (m *Manager) setSession(s *session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = s
	if s == nil {
		m.published = nil
	}
}

func (m *Manager) setPublished(t *types.Topology) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = t.Clone()
}

// node returns the cached handle for addr
func (m *Manager) node(addr types.Addr) node.Node {
	m.nodesMu.Lock()
	defer m.nodesMu.Unlock()

	n, ok := m.nodes[addr]
	if !ok {
		n = m.factory(addr)
		m.nodes[addr] = n
	}
	return n
}

func (m *Manager) closeNodes() {
	m.nodesMu.Lock()
	defer m.nodesMu.Unlock()

	for addr, n := range m.nodes {
		if err := n.Close(); err != nil {
			m.logger.Debug().Err(err).Str("node", string(addr)).Msg("Failed to close node")
		}
		delete(m.nodes, addr)
	}
}

func (m *Manager) publish(t events.EventType, addr types.Addr, msg string, meta map[string]string) {
	m.broker.Publish(&events.Event{
		Type:     t,
		Node:     string(addr),
		Message:  msg,
		Metadata: meta,
	})
}
