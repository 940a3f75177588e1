package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/types"
)

// DefaultBasePath is where rookery keeps its state in the coordination service
const DefaultBasePath = "/rookery"

// Paths names every location under the base path
type Paths struct {
	Base string
}

func (p Paths) Topology() string         { return path.Join(p.Base, "topology") }
func (p Paths) Managers() string         { return path.Join(p.Base, "managers") }
func (p Paths) Manager(id string) string { return path.Join(p.Base, "managers", id) }
func (p Paths) ManualFailover() string   { return path.Join(p.Base, "manual_failover") }
func (p Paths) Leader() string           { return path.Join(p.Base, "leader") }

// TopologyStore keeps the shared topology, the per-manager views and manual
// failover requests in the coordination service
type TopologyStore struct {
	coord coord.Coordinator
	paths Paths
}

// NewTopologyStore creates a store rooted at base
func NewTopologyStore(c coord.Coordinator, base string) *TopologyStore {
	if base == "" {
		base = DefaultBasePath
	}
	base = "/" + strings.Trim(base, "/")
	return &TopologyStore{coord: c, paths: Paths{Base: base}}
}

// Paths returns the store's path layout
func (s *TopologyStore) Paths() Paths {
	return s.paths
}

// Coordinator returns the underlying coordination client
func (s *TopologyStore) Coordinator() coord.Coordinator {
	return s.coord
}

// ReadTopology returns the persisted topology. It returns coord.ErrNoNode when
// no topology has been written yet.
func (s *TopologyStore) ReadTopology(ctx context.Context) (*types.TopologyRecord, error) {
	data, err := s.coord.Read(ctx, s.paths.Topology())
	if err != nil {
		return nil, err
	}

	var rec types.TopologyRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode topology: %w", err)
	}
	return &rec, nil
}

// Fence writes a path only while its holder still leads
type Fence interface {
	Put(ctx context.Context, path string, value []byte) error
}

// WriteTopology persists the topology without a leadership check, creating
// the path on first write. The decision engine uses WriteTopologyFenced.
func (s *TopologyStore) WriteTopology(ctx context.Context, t *types.Topology) error {
	data, err := encodeTopology(t)
	if err != nil {
		return err
	}
	if err := s.upsert(ctx, s.paths.Topology(), data, false); err != nil {
		return fmt.Errorf("failed to write topology: %w", err)
	}
	return nil
}

// WriteTopologyFenced persists the topology in the same transaction that
// checks fence still holds leadership. A deposed leader gets
// coord.ErrLockLost and the stored topology is left untouched.
func (s *TopologyStore) WriteTopologyFenced(ctx context.Context, fence Fence, t *types.Topology) error {
	data, err := encodeTopology(t)
	if err != nil {
		return err
	}
	if err := fence.Put(ctx, s.paths.Topology(), data); err != nil {
		return fmt.Errorf("failed to write topology: %w", err)
	}
	return nil
}

func encodeTopology(t *types.Topology) ([]byte, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	rec := t.Record()
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to encode topology: %w", err)
	}
	return data, nil
}

// WriteManagerView publishes this manager's view under an ephemeral path
// owned by the current coordination session
func (s *TopologyStore) WriteManagerView(ctx context.Context, id string, view types.ManagerView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode manager view: %w", err)
	}
	if err := s.upsert(ctx, s.paths.Manager(id), data, true); err != nil {
		return fmt.Errorf("failed to write manager view: %w", err)
	}
	return nil
}

// ReadManagerViews returns the views of every registered manager keyed by
// manager ID. Views removed or malformed while reading are skipped.
func (s *TopologyStore) ReadManagerViews(ctx context.Context) (map[string]types.ManagerView, error) {
	ids, err := s.coord.Children(ctx, s.paths.Managers())
	if err != nil {
		if errors.Is(err, coord.ErrNoNode) {
			return map[string]types.ManagerView{}, nil
		}
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}

	views := make(map[string]types.ManagerView, len(ids))
	for _, id := range ids {
		data, err := s.coord.Read(ctx, s.paths.Manager(id))
		if err != nil {
			if errors.Is(err, coord.ErrNoNode) {
				continue
			}
			return nil, fmt.Errorf("failed to read view of manager %s: %w", id, err)
		}

		var view types.ManagerView
		if err := json.Unmarshal(data, &view); err != nil {
			log.Logger.Warn().
				Str("component", "storage").
				Str("manager_id", id).
				Err(err).
				Msg("Skipping malformed manager view")
			continue
		}
		views[id] = view
	}
	return views, nil
}

// RequestFailover records a manual failover request. target is a node
// address or types.AnyReplica.
func (s *TopologyStore) RequestFailover(ctx context.Context, target string) error {
	if err := s.upsert(ctx, s.paths.ManualFailover(), []byte(target), false); err != nil {
		return fmt.Errorf("failed to write failover request: %w", err)
	}
	return nil
}

// ReadFailoverRequest returns the pending request or coord.ErrNoNode
func (s *TopologyStore) ReadFailoverRequest(ctx context.Context) (string, error) {
	data, err := s.coord.Read(ctx, s.paths.ManualFailover())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ClearFailoverRequest removes the pending request, if any
func (s *TopologyStore) ClearFailoverRequest(ctx context.Context) error {
	if err := s.coord.Delete(ctx, s.paths.ManualFailover()); err != nil && !errors.Is(err, coord.ErrNoNode) {
		return fmt.Errorf("failed to clear failover request: %w", err)
	}
	return nil
}

// WatchFailoverRequest arms a one-shot watch on the manual failover path
func (s *TopologyStore) WatchFailoverRequest(ctx context.Context, fn func(coord.Event)) error {
	return s.coord.Watch(ctx, s.paths.ManualFailover(), fn)
}

func (s *TopologyStore) upsert(ctx context.Context, p string, data []byte, ephemeral bool) error {
	err := s.coord.Write(ctx, p, data)
	if !errors.Is(err, coord.ErrNoNode) {
		return err
	}

	if ephemeral {
		err = s.coord.CreateEphemeral(ctx, p, data)
	} else {
		err = s.coord.CreatePersistent(ctx, p, data)
	}
	if errors.Is(err, coord.ErrNodeExists) {
		return s.coord.Write(ctx, p, data)
	}
	return err
}
