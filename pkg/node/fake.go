package node

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/rookery/pkg/types"
)

// Fake is an in-memory Node used by tests and the memory coordinator demo
// mode. It records every role-mutation call.
type Fake struct {
	addr types.Addr

	mu             sync.Mutex
	down           bool
	failMutations  bool
	role           types.Role
	primary        types.Addr
	syncing        bool
	serveStaleData bool
	calls          []string
}

// NewFake creates a reachable fake node in the given role
func NewFake(addr types.Addr, role types.Role) *Fake {
	return &Fake{addr: addr, role: role, serveStaleData: true}
}

// FakeCluster is a set of fake nodes addressable by a Factory
type FakeCluster struct {
	mu    sync.Mutex
	nodes map[types.Addr]*Fake
}

// NewFakeCluster creates fakes for a primary and its replicas
func NewFakeCluster(primary types.Addr, replicas ...types.Addr) *FakeCluster {
	c := &FakeCluster{nodes: make(map[types.Addr]*Fake)}
	if primary != "" {
		c.nodes[primary] = NewFake(primary, types.RolePrimary)
	}
	for _, r := range replicas {
		f := NewFake(r, types.RoleReplica)
		f.primary = primary
		c.nodes[r] = f
	}
	return c
}

// Node returns the fake for addr, creating an unreachable one if unknown
func (c *FakeCluster) Node(addr types.Addr) *Fake {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.nodes[addr]
	if !ok {
		f = NewFake(addr, types.RoleUnknown)
		f.down = true
		c.nodes[addr] = f
	}
	return f
}

// Factory opens fakes from the cluster
func (c *FakeCluster) Factory() Factory {
	return func(addr types.Addr) Node {
		return c.Node(addr)
	}
}

// TotalCalls counts role-mutation calls across the cluster
func (c *FakeCluster) TotalCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.nodes {
		n += len(f.Calls())
	}
	return n
}

// ResetCalls clears the recorded calls of every node
func (c *FakeCluster) ResetCalls() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, f := range c.nodes {
		f.ResetCalls()
	}
}

func (f *Fake) Addr() types.Addr {
	return f.addr
}

// SetDown makes checks and commands fail
func (f *Fake) SetDown(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// SetFailMutations makes role-mutation calls fail while checks still succeed
func (f *Fake) SetFailMutations(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMutations = fail
}

// SetRole overrides what the node reports about itself
func (f *Fake) SetRole(role types.Role, primary types.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.role = role
	f.primary = primary
}

// SetSyncing marks the node as a replica still syncing
func (f *Fake) SetSyncing(syncing, serveStaleData bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncing = syncing
	f.serveStaleData = serveStaleData
}

// Role returns the current self-reported role and primary
func (f *Fake) Role() (types.Role, types.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.role, f.primary
}

// Calls returns the recorded role-mutation calls
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ResetCalls clears the recorded calls
func (f *Fake) ResetCalls() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

func (f *Fake) Replication(ctx context.Context) (Replication, error) {
	if err := ctx.Err(); err != nil {
		return Replication{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return Replication{}, fmt.Errorf("%w: %s", ErrUnavailable, f.addr)
	}
	p := Replication{Role: f.role, ServeStaleData: true}
	if f.role == types.RoleReplica {
		p.Primary = f.primary
		p.Syncing = f.syncing
		p.ServeStaleData = f.serveStaleData
	}
	return p, nil
}

func (f *Fake) BecomePrimary(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "primary")
	if f.down || f.failMutations {
		return fmt.Errorf("%w: %s", ErrUnavailable, f.addr)
	}
	f.role = types.RolePrimary
	f.primary = ""
	f.syncing = false
	return nil
}

func (f *Fake) BecomeReplicaOf(ctx context.Context, primary types.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "replicaof "+string(primary))
	if f.down || f.failMutations {
		return fmt.Errorf("%w: %s", ErrUnavailable, f.addr)
	}
	f.role = types.RoleReplica
	f.primary = primary
	return nil
}

func (f *Fake) Close() error {
	return nil
}
