package node

import (
	"context"
	"errors"

	"github.com/cuemby/rookery/pkg/types"
)

// ErrUnavailable is returned when a node cannot be reached or refuses a command
var ErrUnavailable = errors.New("node unavailable")

// Replication is what a node reports about itself
type Replication struct {
	Role types.Role

	// Primary is the node a replica replicates from
	Primary types.Addr

	// Syncing is true while a replica runs a full sync from its primary. A
	// replica whose link is merely down still holds its last dataset and is
	// not syncing.
	Syncing bool

	// ServeStaleData is false when a replica rejects reads until it has synced
	ServeStaleData bool
}

// ReplicaOf reports whether the check describes a replica of primary
func (p Replication) ReplicaOf(primary types.Addr) bool {
	return p.Role == types.RoleReplica && p.Primary == primary
}

// Node is a handle to one managed data-store instance
type Node interface {
	Addr() types.Addr
	Replication(ctx context.Context) (Replication, error)
	BecomePrimary(ctx context.Context) error
	BecomeReplicaOf(ctx context.Context, primary types.Addr) error
	Close() error
}

// Factory opens a Node for an address
type Factory func(addr types.Addr) Node
