package manager

import (
	"context"
)

// Reconcile checks that the primary still reports the primary role and that
// every replica replicates from it, repairing drift. Replicas that cannot be
// repaired become unavailable, and a topology left without a primary gets one
// from its replicas. The primary is never demoted here; that is
// left to the observers. It returns ErrNotLeader when not leading.
func (m *Manager) Reconcile(ctx context.Context) error {
	s := m.currentSession()
	if s == nil {
		return ErrNotLeader
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done() || ctx.Err() != nil {
		return nil
	}

	primary := s.topology.Primary
	if primary == "" {
		if len(s.topology.Replicas) > 0 {
			m.logger.Warn().Str("topology", s.topology.String()).Msg("No primary, promoting a replica")
			_ = m.promote(s, ReasonNoPrimary)
		}
		return nil
	}

	if _, err := m.ensurePrimary(s, primary); err != nil {
		m.logger.Warn().Err(err).Str("node", string(primary)).Msg("Failed to reconcile primary")
	}

	changed := false
	for _, r := range s.topology.Replicas.Sorted() {
		if s.done() {
			return nil
		}
		if _, err := m.ensureReplica(s, r, primary); err != nil {
			m.markUnavailable(s, r, err.Error())
			changed = true
		}
	}

	if changed {
		m.persist(s)
	}
	m.logger.Debug().Str("topology", s.topology.String()).Msg("Reconciliation sweep complete")
	return nil
}
