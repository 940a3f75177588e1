package manager

import (
	"fmt"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/snapshot"
	"github.com/cuemby/rookery/pkg/types"
)

// process handles one health report as a single unit under the session lock
func (m *Manager) process(s *session, r types.HealthReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done() {
		return
	}

	switch {
	case r.State == types.HealthCoordinatorDisconnected:
		m.logger.Error().Str("node", string(r.Node)).Msg("Coordinator disconnected, ending leadership session")
		s.end()
		return
	case !r.State.Valid():
		m.logger.Error().
			Str("node", string(r.Node)).
			Err(fmt.Errorf("%w: %q", types.ErrUnknownHealthState, r.State)).
			Msg("Dropping health report")
		return
	}

	verdict, err := m.verdict(s, r.Node)
	if err != nil {
		m.logger.Error().Err(err).Str("node", string(r.Node)).Msg("Failed to aggregate manager views")
		if coord.IsDisconnected(err) {
			s.end()
		}
		return
	}

	timer := metrics.NewTimer()
	m.apply(s, r.Node, verdict)
	timer.ObserveDurationVec(metrics.DecisionDuration, string(verdict))
}

// verdict combines every manager's view of addr under the configured policy
func (m *Manager) verdict(s *session, addr types.Addr) (types.HealthState, error) {
	var views map[string]types.ManagerView
	if m.cfg.Policy != types.PolicySingleObserver {
		var err error
		views, err = m.store.ReadManagerViews(s.ctx)
		if err != nil {
			return types.HealthUnknown, err
		}
	}

	snap := snapshot.Build(views, m.cfg.ID, m.monitor.LocalView(), m.cfg.Policy)
	verdict := snap.Verdict(addr)

	ns, _ := snap.Node(addr)
	m.logger.Debug().
		Str("node", string(addr)).
		Str("verdict", string(verdict)).
		Int("managers", snap.Managers()).
		Strs("available", ns.Available).
		Strs("unavailable", ns.Unavailable).
		Msg("Aggregated verdict")
	return verdict, nil
}

// apply runs the node state machine for one verdict. Verdicts that imply no
// change have no side effects.
func (m *Manager) apply(s *session, addr types.Addr, verdict types.HealthState) {
	state := s.topology.StateOf(addr)

	switch verdict {
	case types.HealthUnreachable:
		switch state {
		case types.NodeStatePrimary:
			m.handleUnreachablePrimary(s, addr)
		case types.NodeStateReplica, types.NodeStateUnseen:
			m.markUnavailable(s, addr, "node unreachable")
			m.persist(s)
		}

	case types.HealthReachable:
		switch {
		case state == types.NodeStateUnavailable || state == types.NodeStateUnseen:
			m.handleReachable(s, addr)
		case state == types.NodeStateReplica && s.topology.Primary == "":
			m.logger.Info().Str("node", string(addr)).Msg("No primary, promoting reachable replica")
			_ = m.promote(s, ReasonNoPrimary, addr)
		}

	case types.HealthSyncing:
		switch state {
		case types.NodeStateReplica, types.NodeStateUnseen:
			m.markUnavailable(s, addr, "node syncing and rejecting stale reads")
			m.persist(s)
		case types.NodeStatePrimary:
			if _, err := m.ensurePrimary(s, addr); err != nil {
				m.logger.Warn().Err(err).Str("node", string(addr)).Msg("Failed to restore primary role")
			}
		}

	default:
		m.logger.Warn().
			Str("node", string(addr)).
			Str("verdict", string(verdict)).
			Msg("No verdict for node, dropping report")
	}
}

func (m *Manager) handleUnreachablePrimary(s *session, addr types.Addr) {
	m.logger.Warn().Str("node", string(addr)).Msg("Demoting unreachable primary")

	s.topology.MarkUnavailable(addr)
	m.publish(events.EventPrimaryDemoted, addr, "primary unreachable", nil)

	// promote persists, whether or not it finds a candidate
	_ = m.promote(s, ReasonUnreachable)
}

func (m *Manager) handleReachable(s *session, addr types.Addr) {
	if s.topology.Primary == "" {
		m.logger.Info().Str("node", string(addr)).Msg("No primary, promoting returning node")
		_ = m.promote(s, ReasonNoPrimary, addr)
		return
	}

	if _, err := m.ensureReplica(s, addr, s.topology.Primary); err != nil {
		m.logger.Warn().Err(err).Str("node", string(addr)).Msg("Failed to attach returning node")
		if s.topology.StateOf(addr) == types.NodeStateUnseen {
			m.markUnavailable(s, addr, err.Error())
			m.persist(s)
		}
		return
	}

	s.topology.MarkReplica(addr)
	m.publish(events.EventNodeAvailable, addr, "node attached as replica", map[string]string{
		"primary": string(s.topology.Primary),
	})
	m.logger.Info().
		Str("node", string(addr)).
		Str("primary", string(s.topology.Primary)).
		Msg("Node attached as replica")
	m.persist(s)
}

// promote makes the first candidate that accepts the role the new primary and
// points every other replica at it. Candidates default to the replicas in
// address order; a candidate that refuses is marked unavailable. Without a
// successful candidate the topology is persisted with no primary and
// ErrNoCandidate is returned.
func (m *Manager) promote(s *session, reason string, candidates ...types.Addr) error {
	if len(candidates) == 0 {
		candidates = s.topology.Replicas.Sorted()
	}
	s.topology.Primary = ""

	var promoted types.Addr
	for _, c := range candidates {
		s.topology.Forget(c)
		if err := m.node(c).BecomePrimary(s.ctx); err != nil {
			m.logger.Error().Err(err).Str("node", string(c)).Msg("Failed to promote candidate")
			m.markUnavailable(s, c, err.Error())
			continue
		}
		promoted = c
		break
	}

	if promoted == "" {
		metrics.PromotionFailures.Inc()
		m.publish(events.EventPromotionFailed, "", ErrNoCandidate.Error(), map[string]string{"reason": reason})
		m.logger.Error().
			Err(ErrNoCandidate).
			Str("topology", s.topology.String()).
			Msg("Failed to promote a new primary, no replicas available")
		m.persist(s)
		return ErrNoCandidate
	}

	s.topology.SetPrimary(promoted)
	for _, r := range s.topology.Replicas.Sorted() {
		if err := m.node(r).BecomeReplicaOf(s.ctx, promoted); err != nil {
			m.logger.Warn().Err(err).Str("node", string(r)).Msg("Failed to redirect replica")
			m.markUnavailable(s, r, err.Error())
		}
	}

	metrics.FailoversTotal.WithLabelValues(reason).Inc()
	m.publish(events.EventPrimaryPromoted, promoted, "promoted to primary", map[string]string{"reason": reason})
	m.logger.Info().
		Str("node", string(promoted)).
		Str("reason", reason).
		Str("topology", s.topology.String()).
		Msg("Promoted new primary")
	m.persist(s)
	return nil
}

// ensurePrimary issues BecomePrimary if addr does not report itself primary
func (m *Manager) ensurePrimary(s *session, addr types.Addr) (bool, error) {
	n := m.node(addr)
	p, err := n.Replication(s.ctx)
	if err != nil {
		return false, err
	}
	if p.Role == types.RolePrimary {
		return false, nil
	}

	m.logger.Warn().
		Str("node", string(addr)).
		Str("role", string(p.Role)).
		Msg("Primary lost its role, restoring")
	if err := n.BecomePrimary(s.ctx); err != nil {
		return false, err
	}
	metrics.NodesRepaired.Inc()
	m.publish(events.EventNodeReconciled, addr, "restored primary role", nil)
	return true, nil
}

// ensureReplica issues exactly one BecomeReplicaOf if addr does not already
// replicate from primary
func (m *Manager) ensureReplica(s *session, addr, primary types.Addr) (bool, error) {
	n := m.node(addr)
	p, err := n.Replication(s.ctx)
	if err != nil {
		return false, err
	}
	if p.ReplicaOf(primary) {
		return false, nil
	}

	if err := n.BecomeReplicaOf(s.ctx, primary); err != nil {
		return false, err
	}
	metrics.NodesRepaired.Inc()
	m.logger.Info().
		Str("node", string(addr)).
		Str("primary", string(primary)).
		Str("was", string(p.Role)).
		Msg("Redirected node to primary")
	return true, nil
}

func (m *Manager) markUnavailable(s *session, addr types.Addr, reason string) {
	s.topology.MarkUnavailable(addr)
	m.publish(events.EventNodeUnavailable, addr, reason, nil)
	m.logger.Warn().Str("node", string(addr)).Str("reason", reason).Msg("Node marked unavailable")
}

// persist validates and writes the session topology. A coordination failure
// ends the session.
func (m *Manager) persist(s *session) {
	if err := s.topology.Validate(); err != nil {
		m.logger.Error().Err(err).Str("topology", s.topology.String()).Msg("Refusing to persist invalid topology")
		return
	}

	if err := m.store.WriteTopologyFenced(s.ctx, s.lease, s.topology); err != nil {
		m.logger.Error().Err(err).Msg("Failed to persist topology")
		if coord.IsDisconnected(err) {
			s.end()
		}
		return
	}
	m.setPublished(s.topology)
	m.logger.Debug().Str("topology", s.topology.String()).Msg("Topology persisted")
}
