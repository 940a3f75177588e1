package manager

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/rookery/pkg/leader"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newDiscoverySession returns a session without running discovery
func (h *harness) newDiscoverySession() *session {
	h.t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	h.t.Cleanup(cancel)

	lease, err := leader.NewElector(h.coord, h.store.Paths().Leader(), time.Millisecond).Acquire(ctx)
	require.NoError(h.t, err)
	return newSession(ctx, lease, 16)
}

func TestDiscoverySelfReportedPrimary(t *testing.T) {
	cluster := node.NewFakeCluster(n2, n1, n3)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
	s := h.newDiscoverySession()

	require.NoError(t, h.mgr.discover(s))

	assertTopology(t, topology(n2, []types.Addr{n1, n3}), h.persisted())
	assert.Equal(t, 0, cluster.TotalCalls())
	assert.Equal(t, types.NewAddrSet(n1, n2, n3), h.view.watched)
}

func TestDiscoveryRedirectsStrayReplica(t *testing.T) {
	cluster := node.NewFakeCluster(n1, n2, n3)
	cluster.Node(n3).SetRole(types.RoleReplica, "elsewhere:6379")
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
	s := h.newDiscoverySession()

	require.NoError(t, h.mgr.discover(s))

	assert.Equal(t, []string{"replicaof n1:6379"}, cluster.Node(n3).Calls())
	assert.Equal(t, 1, cluster.TotalCalls())
	assertTopology(t, topology(n1, []types.Addr{n2, n3}), s.topology)
}

func TestDiscoveryUnreachableNodeUnavailable(t *testing.T) {
	cluster := node.NewFakeCluster(n1, n2, n3)
	cluster.Node(n3).SetDown(true)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
	s := h.newDiscoverySession()

	require.NoError(t, h.mgr.discover(s))
	assertTopology(t, topology(n1, []types.Addr{n2}, n3), h.persisted())
}

func TestDiscoveryErrors(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(c *node.FakeCluster)
		wantErr error
	}{
		{
			name: "no primary",
			setup: func(c *node.FakeCluster) {
				c.Node(n1).SetRole(types.RoleReplica, n2)
			},
			wantErr: ErrNoPrimary,
		},
		{
			name: "multiple primaries",
			setup: func(c *node.FakeCluster) {
				c.Node(n3).SetRole(types.RolePrimary, "")
			},
			wantErr: ErrMultiplePrimaries,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cluster := node.NewFakeCluster(n1, n2, n3)
			tt.setup(cluster)
			h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
			s := h.newDiscoverySession()

			err := h.mgr.discover(s)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, cluster.TotalCalls())

			_, err = h.store.ReadTopology(context.Background())
			assert.Error(t, err, "nothing is persisted after a failed discovery")
		})
	}
}

func TestDiscoveryPrefersRecordedPrimary(t *testing.T) {
	ctx := context.Background()
	cluster := node.NewFakeCluster(n2, n1, n3)
	// n1 restarted as a standalone primary; the record says n2
	cluster.Node(n1).SetRole(types.RolePrimary, "")
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
	require.NoError(t, h.store.WriteTopology(ctx, topology(n2, []types.Addr{n1, n3})))

	s := h.newDiscoverySession()
	require.NoError(t, h.mgr.discover(s))

	assertTopology(t, topology(n2, []types.Addr{n1, n3}), h.persisted())
	assert.Equal(t, []string{"replicaof n2:6379"}, cluster.Node(n1).Calls())
}

func TestDiscoveryRecordedPrimaryReportsReplica(t *testing.T) {
	ctx := context.Background()
	cluster := node.NewFakeCluster(n1, n2, n3)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2, n3)
	require.NoError(t, h.store.WriteTopology(ctx, topology(n2, []types.Addr{n1, n3})))

	s := h.newDiscoverySession()
	err := h.mgr.discover(s)
	assert.ErrorIs(t, err, ErrInvalidPrimaryRole)
	assert.Equal(t, 0, cluster.TotalCalls())
}

func TestDiscoveryRecordedPrimaryUnreachable(t *testing.T) {
	ctx := context.Background()
	cluster := node.NewFakeCluster(n1, n2)
	cluster.Node(n1).SetDown(true)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2)
	require.NoError(t, h.store.WriteTopology(ctx, topology(n1, []types.Addr{n2})))

	s := h.newDiscoverySession()
	require.NoError(t, h.mgr.discover(s))
	assert.Equal(t, n1, s.topology.Primary)
	assert.True(t, s.topology.Replicas.Has(n2))
}

func TestDiscoveryRecordWithoutPrimary(t *testing.T) {
	ctx := context.Background()
	cluster := node.NewFakeCluster("", n1, n2)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2)
	require.NoError(t, h.store.WriteTopology(ctx, topology("", nil, n1, n2)))

	s := h.newDiscoverySession()
	require.NoError(t, h.mgr.discover(s))
	assertTopology(t, topology("", nil, n1, n2), s.topology)

	// the first node to report in is promoted, the next one attached
	h.report(s, n2, types.HealthReachable)
	assertTopology(t, topology(n2, nil, n1), h.persisted())

	h.report(s, n1, types.HealthReachable)
	assertTopology(t, topology(n2, []types.Addr{n1}), h.persisted())
	assert.Equal(t, []string{"replicaof n2:6379"}, cluster.Node(n1).Calls())
}

func TestDiscoveryIncludesRecordedNodes(t *testing.T) {
	ctx := context.Background()
	n4 := types.Addr("n4:6379")
	cluster := node.NewFakeCluster(n1, n2, n4)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2)
	require.NoError(t, h.store.WriteTopology(ctx, topology(n1, []types.Addr{n2, n4})))

	s := h.newDiscoverySession()
	require.NoError(t, h.mgr.discover(s))
	assertTopology(t, topology(n1, []types.Addr{n2, n4}), s.topology)
	assert.True(t, h.view.watched.Has(n4))
}

func TestDiscoveryRetriesUntilPrimaryAppears(t *testing.T) {
	cluster := node.NewFakeCluster("", n1, n2)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1, n2)
	s := h.newDiscoverySession()

	done := make(chan error, 1)
	go func() { done <- h.mgr.discoverWithRetry(s) }()

	time.Sleep(30 * time.Millisecond)
	cluster.Node(n1).SetRole(types.RolePrimary, "")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery never succeeded")
	}
	assert.Equal(t, n1, s.topology.Primary)
}

func TestDiscoveryStopsWhenSessionEnds(t *testing.T) {
	cluster := node.NewFakeCluster("", n1)
	h := newHarness(t, types.PolicySingleObserver, cluster, n1)
	s := h.newDiscoverySession()

	done := make(chan error, 1)
	go func() { done <- h.mgr.discoverWithRetry(s) }()
	time.Sleep(20 * time.Millisecond)
	s.end()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not stop")
	}
}
