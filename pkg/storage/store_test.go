package storage

import (
	"context"
	"testing"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPaths(t *testing.T) {
	s := NewTopologyStore(coord.NewMemory(), "rookery/")
	p := s.Paths()
	assert.Equal(t, "/rookery/topology", p.Topology())
	assert.Equal(t, "/rookery/managers", p.Managers())
	assert.Equal(t, "/rookery/managers/m1", p.Manager("m1"))
	assert.Equal(t, "/rookery/manual_failover", p.ManualFailover())
	assert.Equal(t, "/rookery/leader", p.Leader())

	assert.Equal(t, "/rookery/topology", NewTopologyStore(coord.NewMemory(), "").Paths().Topology())
}

func TestTopologyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewTopologyStore(coord.NewMemory(), "/rookery")

	_, err := s.ReadTopology(ctx)
	assert.ErrorIs(t, err, coord.ErrNoNode)

	topo := types.NewTopology()
	topo.SetPrimary("n1:6379")
	topo.MarkReplica("n2:6379")
	topo.MarkUnavailable("n3:6379")
	require.NoError(t, s.WriteTopology(ctx, topo))

	rec, err := s.ReadTopology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1:6379", rec.Primary)
	assert.False(t, rec.UpdatedAt.IsZero())

	got, err := rec.Topology()
	require.NoError(t, err)
	if diff := cmp.Diff(topo, got); diff != "" {
		t.Errorf("topology mismatch (-want +got):\n%s", diff)
	}

	// second write replaces the first
	topo.SetPrimary("n2:6379")
	require.NoError(t, s.WriteTopology(ctx, topo))
	rec, err = s.ReadTopology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n2:6379", rec.Primary)
	assert.Equal(t, []string{"n3:6379"}, rec.Unavailable)
}

func TestWriteTopologyRejectsOverlap(t *testing.T) {
	s := NewTopologyStore(coord.NewMemory(), "/rookery")

	topo := types.NewTopology()
	topo.Primary = "n1:6379"
	topo.Replicas.Add("n1:6379")

	err := s.WriteTopology(context.Background(), topo)
	assert.ErrorIs(t, err, types.ErrTopologyInvariant)

	_, err = s.ReadTopology(context.Background())
	assert.ErrorIs(t, err, coord.ErrNoNode)
}

func TestManagerViews(t *testing.T) {
	ctx := context.Background()
	backend := coord.NewMemoryBackend()
	c1, c2 := backend.Connect(), backend.Connect()
	s1 := NewTopologyStore(c1, "/rookery")
	s2 := NewTopologyStore(c2, "/rookery")

	views, err := s1.ReadManagerViews(ctx)
	require.NoError(t, err)
	assert.Empty(t, views)

	v1 := types.ManagerView{Available: []types.Addr{"n1:6379"}, Unavailable: []types.Addr{"n2:6379"}}
	v2 := types.ManagerView{Available: []types.Addr{"n1:6379", "n2:6379"}, Syncing: []types.Addr{"n2:6379"}}
	require.NoError(t, s1.WriteManagerView(ctx, "m1", v1))
	require.NoError(t, s2.WriteManagerView(ctx, "m2", v2))

	v1.Unavailable = nil
	v1.Available = append(v1.Available, "n2:6379")
	require.NoError(t, s1.WriteManagerView(ctx, "m1", v1))

	views, err = s2.ReadManagerViews(ctx)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.True(t, views["m1"].Equal(v1))
	assert.True(t, views["m2"].Equal(v2))

	// the view of an expired session disappears
	c2.Expire()
	views, err = s1.ReadManagerViews(ctx)
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Contains(t, views, "m1")
}

func TestMalformedManagerViewSkipped(t *testing.T) {
	ctx := context.Background()
	c := coord.NewMemory()
	s := NewTopologyStore(c, "/rookery")

	require.NoError(t, c.CreateEphemeral(ctx, s.Paths().Manager("bad"), []byte("{not json")))
	require.NoError(t, s.WriteManagerView(ctx, "good", types.ManagerView{Available: []types.Addr{"n1:6379"}}))

	views, err := s.ReadManagerViews(ctx)
	require.NoError(t, err)
	assert.Len(t, views, 1)
	assert.Contains(t, views, "good")
}

func TestFailoverRequest(t *testing.T) {
	ctx := context.Background()
	s := NewTopologyStore(coord.NewMemory(), "/rookery")

	_, err := s.ReadFailoverRequest(ctx)
	assert.ErrorIs(t, err, coord.ErrNoNode)
	require.NoError(t, s.ClearFailoverRequest(ctx))

	fired := make(chan coord.Event, 1)
	require.NoError(t, s.WatchFailoverRequest(ctx, func(ev coord.Event) { fired <- ev }))

	require.NoError(t, s.RequestFailover(ctx, types.AnyReplica))
	select {
	case ev := <-fired:
		assert.Equal(t, coord.EventCreated, ev.Type)
		assert.Equal(t, types.AnyReplica, string(ev.Value))
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}

	require.NoError(t, s.RequestFailover(ctx, "n2:6379"))
	target, err := s.ReadFailoverRequest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n2:6379", target)

	require.NoError(t, s.ClearFailoverRequest(ctx))
	_, err = s.ReadFailoverRequest(ctx)
	assert.ErrorIs(t, err, coord.ErrNoNode)
}

func TestWriteTopologyFenced(t *testing.T) {
	ctx := context.Background()
	backend := coord.NewMemoryBackend()
	leaderClient, other := backend.Connect(), backend.Connect()
	s := NewTopologyStore(leaderClient, "/rookery")

	lock, err := leaderClient.AcquireLock(ctx, s.Paths().Leader())
	require.NoError(t, err)

	topo := types.NewTopology()
	topo.SetPrimary("n1:6379")
	topo.MarkReplica("n2:6379")
	require.NoError(t, s.WriteTopologyFenced(ctx, lock, topo))

	rec, err := s.ReadTopology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1:6379", rec.Primary)

	// another manager takes over; the deposed one cannot overwrite its state
	leaderClient.Expire()
	_, err = other.AcquireLock(ctx, s.Paths().Leader())
	require.NoError(t, err)

	topo.SetPrimary("n2:6379")
	assert.ErrorIs(t, s.WriteTopologyFenced(ctx, lock, topo), coord.ErrLockLost)

	rec, err = NewTopologyStore(other, "/rookery").ReadTopology(ctx)
	require.NoError(t, err)
	assert.Equal(t, "n1:6379", rec.Primary)

	bad := types.NewTopology()
	bad.Primary = "n1:6379"
	bad.Replicas.Add("n1:6379")
	assert.ErrorIs(t, s.WriteTopologyFenced(ctx, lock, bad), types.ErrTopologyInvariant)
}
