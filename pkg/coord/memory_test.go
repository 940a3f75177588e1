package coord

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPaths(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Read(ctx, "/rookery/topology")
	assert.ErrorIs(t, err, ErrNoNode)
	assert.ErrorIs(t, m.Write(ctx, "/rookery/topology", []byte("x")), ErrNoNode)
	assert.ErrorIs(t, m.Delete(ctx, "/rookery/topology"), ErrNoNode)

	require.NoError(t, m.CreatePersistent(ctx, "/rookery/topology", []byte("v1")))
	assert.ErrorIs(t, m.CreatePersistent(ctx, "/rookery/topology", []byte("v1")), ErrNodeExists)

	exists, err := m.Exists(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, m.Write(ctx, "/rookery/topology", []byte("v2")))
	data, err := m.Read(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	require.NoError(t, m.Delete(ctx, "/rookery/topology"))
	exists, err = m.Exists(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryChildren(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.CreateEphemeral(ctx, "/rookery/managers/b", nil))
	require.NoError(t, m.CreateEphemeral(ctx, "/rookery/managers/a", nil))
	require.NoError(t, m.CreatePersistent(ctx, "/rookery/managers/a/nested", nil))
	require.NoError(t, m.CreatePersistent(ctx, "/rookery/topology", nil))

	names, err := m.Children(ctx, "/rookery/managers")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	names, err = m.Children(ctx, "/rookery/missing")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryEphemeralRemovedOnExpire(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := backend.Connect()
	b := backend.Connect()

	require.NoError(t, a.CreateEphemeral(ctx, "/rookery/managers/a", []byte("{}")))
	require.NoError(t, a.CreatePersistent(ctx, "/rookery/topology", []byte("{}")))

	var disconnected atomic.Int32
	a.OnDisconnect(func() { disconnected.Add(1) })
	a.Expire()
	assert.Equal(t, int32(1), disconnected.Load())

	exists, err := b.Exists(ctx, "/rookery/managers/a")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = b.Exists(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.True(t, exists)

	// the next call opens a fresh session
	require.NoError(t, a.CreateEphemeral(ctx, "/rookery/managers/a", []byte("{}")))
}

func TestMemoryWriteKeepsEphemerality(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := backend.Connect()
	b := backend.Connect()

	require.NoError(t, a.CreateEphemeral(ctx, "/rookery/managers/a", []byte("1")))
	require.NoError(t, a.Write(ctx, "/rookery/managers/a", []byte("2")))
	a.Expire()

	_, err := b.Read(ctx, "/rookery/managers/a")
	assert.ErrorIs(t, err, ErrNoNode)
}

func TestMemoryWatchFiresOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	events := make(chan Event, 4)
	require.NoError(t, m.Watch(ctx, "/rookery/manual_failover", func(ev Event) { events <- ev }))

	require.NoError(t, m.CreatePersistent(ctx, "/rookery/manual_failover", []byte("n2:6379")))
	select {
	case ev := <-events:
		assert.Equal(t, EventCreated, ev.Type)
		assert.Equal(t, "n2:6379", string(ev.Value))
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}

	require.NoError(t, m.Write(ctx, "/rookery/manual_failover", []byte("n3:6379")))
	select {
	case ev := <-events:
		t.Fatalf("watch fired twice: %v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryLockMutualExclusion(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := backend.Connect()
	b := backend.Connect()

	lockA, err := a.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)
	require.NoError(t, lockA.Assert(ctx))

	acquired := make(chan Lock, 1)
	go func() {
		l, err := b.AcquireLock(ctx, "/rookery/leader")
		if err == nil {
			acquired <- l
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second session acquired a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, lockA.Release(ctx))
	assert.ErrorIs(t, lockA.Assert(ctx), ErrLockLost)

	select {
	case lockB := <-acquired:
		assert.NoError(t, lockB.Assert(ctx))
	case <-time.After(time.Second):
		t.Fatal("waiter was not granted the lock")
	}
}

func TestMemoryLockLostOnExpire(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	a := backend.Connect()
	b := backend.Connect()

	lockA, err := a.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)

	a.Expire()

	select {
	case <-lockA.Lost():
	default:
		t.Fatal("lock not reported lost after expiry")
	}
	assert.ErrorIs(t, lockA.Assert(ctx), ErrLockLost)

	lockB, err := b.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)
	assert.NoError(t, lockB.Assert(ctx))
}

func TestMemoryLockAcquireCancelled(t *testing.T) {
	backend := NewMemoryBackend()
	a := backend.Connect()
	b := backend.Connect()

	_, err := a.AcquireLock(context.Background(), "/rookery/leader")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = b.AcquireLock(ctx, "/rookery/leader")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryOffline(t *testing.T) {
	m := NewMemory()
	m.SetOffline(true)

	_, err := m.Read(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrDisconnected)
	assert.True(t, IsDisconnected(err))

	m.SetOffline(false)
	_, err = m.Read(context.Background(), "/x")
	assert.ErrorIs(t, err, ErrNoNode)
	assert.False(t, IsDisconnected(err))
}

func TestMemoryLockPutFenced(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	c1, c2 := backend.Connect(), backend.Connect()

	lock, err := c1.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)

	require.NoError(t, lock.Put(ctx, "/rookery/topology", []byte("v1")))
	require.NoError(t, lock.Put(ctx, "/rookery/topology", []byte("v2")))
	data, err := c2.Read(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))

	// the lock passes to c2 once c1's session expires
	c1.Expire()
	_, err = c2.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)

	assert.ErrorIs(t, lock.Put(ctx, "/rookery/topology", []byte("stale")), ErrLockLost)
	data, err = c2.Read(ctx, "/rookery/topology")
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestMemoryLockPutOffline(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	lock, err := m.AcquireLock(ctx, "/rookery/leader")
	require.NoError(t, err)

	m.SetOffline(true)
	assert.ErrorIs(t, lock.Put(ctx, "/rookery/topology", nil), ErrDisconnected)
}

func TestMemoryBreakWatches(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	events := make(chan Event, 2)
	require.NoError(t, m.Watch(ctx, "/rookery/manual_failover", func(ev Event) { events <- ev }))

	m.BreakWatches()
	select {
	case ev := <-events:
		assert.Equal(t, EventLost, ev.Type)
		assert.Equal(t, "/rookery/manual_failover", ev.Path)
	case <-time.After(time.Second):
		t.Fatal("no lost event")
	}

	// the broken watch no longer fires
	require.NoError(t, m.CreatePersistent(ctx, "/rookery/manual_failover", []byte("*any*")))
	select {
	case ev := <-events:
		t.Fatalf("unexpected event %s", ev.Type)
	case <-time.After(50 * time.Millisecond):
	}
}
