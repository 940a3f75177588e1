package coord

import (
	"context"
	"errors"
)

var (
	// ErrNoNode is returned when a path does not exist
	ErrNoNode = errors.New("no such path")

	// ErrNodeExists is returned when creating a path that already exists
	ErrNodeExists = errors.New("path already exists")

	// ErrLockLost is returned when a lock is no longer held by its session
	ErrLockLost = errors.New("lock lost")

	// ErrDisconnected is returned when the coordination service cannot be reached
	// or the session expired
	ErrDisconnected = errors.New("coordinator disconnected")

	// ErrClosed is returned after Close
	ErrClosed = errors.New("coordinator closed")
)

// EventType describes what changed on a watched path
type EventType string

const (
	EventCreated EventType = "created"
	EventChanged EventType = "changed"
	EventDeleted EventType = "deleted"

	// EventLost means the service ended the watch without reporting a change.
	// The path may have changed in the meantime.
	EventLost EventType = "lost"
)

// Event is delivered to a watch callback
type Event struct {
	Type  EventType
	Path  string
	Value []byte
}

// Lock is a held exclusive lock
type Lock interface {
	// Assert fails fast with ErrLockLost if the lock is no longer held
	Assert(ctx context.Context) error

	// Put creates or replaces a persistent path in the same transaction that
	// checks the lock is still held, failing with ErrLockLost otherwise
	Put(ctx context.Context, path string, value []byte) error

	// Release gives up the lock
	Release(ctx context.Context) error

	// Lost is closed when the lock's session ends
	Lost() <-chan struct{}
}

// Coordinator is the strongly-consistent coordination service consumed by the
// manager. Ephemeral paths belong to the coordinator's current session and are
// removed by the service when that session ends.
type Coordinator interface {
	CreatePersistent(ctx context.Context, path string, value []byte) error
	CreateEphemeral(ctx context.Context, path string, value []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)

	// Write replaces the value of an existing path, keeping its ephemerality
	Write(ctx context.Context, path string, value []byte) error
	Delete(ctx context.Context, path string) error

	// Children lists the names of the direct children of path
	Children(ctx context.Context, path string) ([]string, error)

	// Watch fires fn once, on the next creation, change or deletion of path.
	// Re-arming is the caller's responsibility.
	Watch(ctx context.Context, path string, fn func(Event)) error

	// AcquireLock blocks until the named lock is held or ctx is done
	AcquireLock(ctx context.Context, name string) (Lock, error)

	// OnDisconnect registers fn to run every time the session is lost
	OnDisconnect(fn func())

	Close() error
}

// IsDisconnected reports whether err means the coordination session is gone
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected) || errors.Is(err, ErrLockLost) || errors.Is(err, ErrClosed)
}
