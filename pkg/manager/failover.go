package manager

import (
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/types"
)

// ErrNotReplica is returned when a manual failover targets a node that is not
// an available replica
var ErrNotReplica = errors.New("target is not an available replica")

// watchFailoverRequests arms a one-shot watch on the manual failover path. The
// watch is re-armed before each request is handled so that a request written
// while another is being handled is not missed. A watch the service ended is
// re-armed after the retry interval, and a request written while no watch was
// armed is handled then.
func (m *Manager) watchFailoverRequests(s *session) {
	if s.done() {
		return
	}

	err := m.store.WatchFailoverRequest(s.ctx, func(ev coord.Event) {
		if s.done() {
			return
		}
		if ev.Type == coord.EventLost {
			m.logger.Warn().Dur("retry_in", m.cfg.RetryInterval).Msg("Manual failover watch lost, re-arming")
			select {
			case <-time.After(m.cfg.RetryInterval):
			case <-s.ctx.Done():
				return
			}
		}
		m.watchFailoverRequests(s)
		switch ev.Type {
		case coord.EventCreated, coord.EventChanged, coord.EventLost:
			m.handlePendingFailover(s)
		}
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to watch manual failover requests")
		if coord.IsDisconnected(err) {
			s.end()
		}
	}
}

// handlePendingFailover acts on the request currently stored, if any, and
// removes it. Reading the store under the session lock makes duplicate
// notifications harmless.
func (m *Manager) handlePendingFailover(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done() {
		return
	}

	target, err := m.store.ReadFailoverRequest(s.ctx)
	if err != nil {
		if !errors.Is(err, coord.ErrNoNode) {
			m.logger.Error().Err(err).Msg("Failed to read manual failover request")
			if coord.IsDisconnected(err) {
				s.end()
			}
		}
		return
	}

	if err := s.lease.Assert(s.ctx); err != nil {
		m.logger.Error().Err(err).Msg("Leadership lost before handling manual failover")
		s.end()
		return
	}

	if err := m.manualFailover(s, target); err != nil {
		m.logger.Error().Err(err).Str("target", target).Msg("Manual failover failed")
	}

	if err := m.store.ClearFailoverRequest(s.ctx); err != nil {
		m.logger.Error().Err(err).Msg("Failed to clear manual failover request")
	}
}

// manualFailover promotes target, or any replica for types.AnyReplica. The
// current primary goes back into the replica pool.
func (m *Manager) manualFailover(s *session, target string) error {
	m.logger.Info().Str("target", target).Msg("Handling manual failover request")

	var candidate types.Addr
	if target == types.AnyReplica {
		replicas := s.topology.Replicas.Sorted()
		if len(replicas) == 0 {
			return ErrNoCandidate
		}
		candidate = replicas[0]
	} else {
		addr, err := types.ParseAddr(target)
		if err != nil {
			return err
		}
		switch s.topology.StateOf(addr) {
		case types.NodeStatePrimary:
			m.logger.Warn().Str("node", string(addr)).Msg("Manual failover target is already primary, ignoring")
			return nil
		case types.NodeStateReplica:
			candidate = addr
		default:
			return fmt.Errorf("%w: %s is %s", ErrNotReplica, addr, s.topology.StateOf(addr))
		}
	}

	// The current primary is tried right after the target, so a target that
	// refuses the role leaves the old primary in charge.
	old := s.topology.Primary
	candidates := []types.Addr{candidate}
	if old != "" {
		s.topology.MarkReplica(old)
		candidates = append(candidates, old)
	}
	for _, r := range s.topology.Replicas.Sorted() {
		if r != candidate && r != old {
			candidates = append(candidates, r)
		}
	}

	m.publish(events.EventManualFailover, candidate, "manual failover requested", map[string]string{"target": target})
	if err := m.promote(s, ReasonManual, candidates...); err != nil {
		return err
	}
	if s.topology.Primary != candidate {
		return fmt.Errorf("%s refused the primary role, %s is primary", candidate, s.topology.Primary)
	}
	return nil
}
