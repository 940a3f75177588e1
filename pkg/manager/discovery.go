package manager

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/events"
	"github.com/cuemby/rookery/pkg/metrics"
	"github.com/cuemby/rookery/pkg/types"
)

// discoverWithRetry runs discovery until it succeeds or the session ends.
// It returns an error only when the session ended.
func (m *Manager) discoverWithRetry(s *session) error {
	for {
		err := m.discover(s)
		if err == nil {
			return nil
		}
		if s.done() {
			return s.ctx.Err()
		}

		metrics.DiscoveryFailures.Inc()
		m.publish(events.EventDiscoveryFailed, "", err.Error(), nil)
		m.logger.Error().
			Err(err).
			Dur("retry_in", m.cfg.DiscoveryRetryInterval).
			Msg("Topology discovery failed")

		if coord.IsDisconnected(err) {
			s.end()
			return err
		}

		select {
		case <-time.After(m.cfg.DiscoveryRetryInterval):
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}
}

// discover builds the session topology from the persisted topology and the
// nodes themselves, forces every other node to replicate from the primary and
// persists the result
func (m *Manager) discover(s *session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := types.NewAddrSet(m.cfg.Nodes...)

	var persisted *types.Topology
	rec, err := m.store.ReadTopology(s.ctx)
	switch {
	case err == nil:
		persisted, err = rec.Topology()
		if err != nil {
			m.logger.Warn().Err(err).Msg("Ignoring invalid persisted topology")
			persisted = nil
		}
	case errors.Is(err, coord.ErrNoNode):
	default:
		return fmt.Errorf("failed to read topology: %w", err)
	}
	if persisted != nil {
		for _, a := range persisted.Nodes() {
			known.Add(a)
		}
	}

	primary, err := m.findPrimary(s, known, persisted)
	if err != nil {
		return err
	}

	topo := types.NewTopology()
	if primary != "" {
		topo.SetPrimary(primary)
	}
	for _, a := range known.Sorted() {
		if a == primary {
			continue
		}
		if primary == "" {
			topo.MarkUnavailable(a)
			continue
		}
		if _, err := m.ensureReplica(s, a, primary); err != nil {
			m.logger.Warn().Err(err).Str("node", string(a)).Msg("Node unavailable during discovery")
			topo.MarkUnavailable(a)
			continue
		}
		topo.MarkReplica(a)
	}

	s.topology = topo
	m.persist(s)
	if s.done() {
		return fmt.Errorf("failed to persist discovered topology: %w", coord.ErrDisconnected)
	}

	m.monitor.Watch(known.Sorted()...)
	m.publish(events.EventTopologyDiscovered, primary, topo.String(), nil)
	m.logger.Info().Str("topology", topo.String()).Msg("Discovered topology")
	return nil
}

// findPrimary prefers the recorded primary. Otherwise exactly one known node
// must report itself primary. A persisted topology without a primary is kept
// as is when no node claims the role; the first reachable node is promoted
// later.
func (m *Manager) findPrimary(s *session, known types.AddrSet, persisted *types.Topology) (types.Addr, error) {
	if persisted != nil && persisted.Primary != "" {
		p, err := m.node(persisted.Primary).Replication(s.ctx)
		if err != nil {
			m.logger.Warn().
				Err(err).
				Str("node", string(persisted.Primary)).
				Msg("Recorded primary unreachable, keeping it until observers demote it")
			return persisted.Primary, nil
		}
		if p.Role == types.RoleReplica {
			return "", fmt.Errorf("%w: %s replicates from %s", ErrInvalidPrimaryRole, persisted.Primary, p.Primary)
		}
		return persisted.Primary, nil
	}

	var primaries []string
	for _, a := range known.Sorted() {
		p, err := m.node(a).Replication(s.ctx)
		if err != nil {
			continue
		}
		if p.Role == types.RolePrimary {
			primaries = append(primaries, string(a))
		}
	}

	switch {
	case len(primaries) == 1:
		return types.Addr(primaries[0]), nil
	case len(primaries) > 1:
		return "", fmt.Errorf("%w: %s", ErrMultiplePrimaries, strings.Join(primaries, ", "))
	case persisted != nil:
		return "", nil
	default:
		return "", ErrNoPrimary
	}
}
