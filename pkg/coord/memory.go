package coord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is an in-process coordination service. Several Memory clients
// connected to the same backend behave like separate processes sharing one
// service: ephemeral paths and locks belong to the client's session and vanish
// when the session expires.
type MemoryBackend struct {
	mu          sync.Mutex
	entries     map[string]*memEntry
	watches     map[string][]*memWatch
	locks       map[string]*memLock
	nextSession uint64
}

type memEntry struct {
	value []byte
	owner *memSession
}

type memSession struct {
	id   uint64
	done chan struct{}
}

type memWatch struct {
	ctx  context.Context
	sess *memSession
	fn   func(Event)
}

type memLock struct {
	holder  *memSession
	waiters []*memWaiter
}

type memWaiter struct {
	sess    *memSession
	granted chan struct{}
}

// NewMemoryBackend creates an empty in-memory coordination service
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[string]*memEntry),
		watches: make(map[string][]*memWatch),
		locks:   make(map[string]*memLock),
	}
}

// Connect returns a new client of the backend
func (b *MemoryBackend) Connect() *Memory {
	return &Memory{backend: b}
}

func (b *MemoryBackend) newSession() *memSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSession++
	return &memSession{id: b.nextSession, done: make(chan struct{})}
}

// fire collects the watches registered on path; callers dispatch them after
// releasing b.mu.
func (b *MemoryBackend) fireLocked(path string, ev Event) []func() {
	watches := b.watches[path]
	delete(b.watches, path)

	var calls []func()
	for _, w := range watches {
		if w.ctx.Err() != nil {
			continue
		}
		fn := w.fn
		calls = append(calls, func() { fn(ev) })
	}
	return calls
}

func dispatch(calls []func()) {
	for _, call := range calls {
		go call()
	}
}

// grantLocked hands a free lock to the next waiter whose session is alive
func (b *MemoryBackend) grantLocked(l *memLock) {
	for len(l.waiters) > 0 {
		w := l.waiters[0]
		l.waiters = l.waiters[1:]
		select {
		case <-w.sess.done:
			continue
		default:
		}
		l.holder = w.sess
		close(w.granted)
		return
	}
	l.holder = nil
}

// expire ends a session: its ephemeral paths, locks, queued lock requests and
// watches are dropped.
func (b *MemoryBackend) expire(sess *memSession) {
	b.mu.Lock()
	var calls []func()

	for path, e := range b.entries {
		if e.owner == sess {
			delete(b.entries, path)
			calls = append(calls, b.fireLocked(path, Event{Type: EventDeleted, Path: path})...)
		}
	}

	for path, watches := range b.watches {
		kept := watches[:0]
		for _, w := range watches {
			if w.sess != sess {
				kept = append(kept, w)
			}
		}
		b.watches[path] = kept
	}

	close(sess.done)

	for _, l := range b.locks {
		kept := l.waiters[:0]
		for _, w := range l.waiters {
			if w.sess != sess {
				kept = append(kept, w)
			}
		}
		l.waiters = kept
		if l.holder == sess {
			b.grantLocked(l)
		}
	}
	b.mu.Unlock()

	dispatch(calls)
}

// Memory is one client session of a MemoryBackend
type Memory struct {
	backend *MemoryBackend

	mu           sync.Mutex
	sess         *memSession
	closed       bool
	offline      bool
	onDisconnect []func()
}

// NewMemory returns a client of a fresh private backend
func NewMemory() *Memory {
	return NewMemoryBackend().Connect()
}

func (m *Memory) session() (*memSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrClosed
	}
	if m.offline {
		return nil, ErrDisconnected
	}
	if m.sess == nil {
		m.sess = m.backend.newSession()
	}
	return m.sess, nil
}

func (m *Memory) begin(ctx context.Context) (*memSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return m.session()
}

// Expire simulates the service ending this client's session. Disconnect
// callbacks run synchronously; the next call opens a new session.
func (m *Memory) Expire() {
	m.mu.Lock()
	sess := m.sess
	m.sess = nil
	callbacks := append([]func(){}, m.onDisconnect...)
	m.mu.Unlock()

	if sess == nil {
		return
	}
	m.backend.expire(sess)
	for _, fn := range callbacks {
		fn()
	}
}

// BreakWatches simulates the service cancelling every watch this client has
// armed. Each callback receives EventLost.
func (m *Memory) BreakWatches() {
	m.mu.Lock()
	sess := m.sess
	m.mu.Unlock()
	if sess == nil {
		return
	}

	b := m.backend
	b.mu.Lock()
	var calls []func()
	for path, watches := range b.watches {
		kept := watches[:0]
		for _, w := range watches {
			if w.sess != sess {
				kept = append(kept, w)
				continue
			}
			if w.ctx.Err() == nil {
				fn, ev := w.fn, Event{Type: EventLost, Path: path}
				calls = append(calls, func() { fn(ev) })
			}
		}
		b.watches[path] = kept
	}
	b.mu.Unlock()

	dispatch(calls)
}

// SetOffline makes every call fail with ErrDisconnected until cleared
func (m *Memory) SetOffline(offline bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offline = offline
}

func (m *Memory) create(ctx context.Context, path string, value []byte, ephemeral bool) error {
	sess, err := m.begin(ctx)
	if err != nil {
		return err
	}

	b := m.backend
	b.mu.Lock()
	if _, ok := b.entries[path]; ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNodeExists, path)
	}
	e := &memEntry{value: append([]byte(nil), value...)}
	if ephemeral {
		e.owner = sess
	}
	b.entries[path] = e
	calls := b.fireLocked(path, Event{Type: EventCreated, Path: path, Value: e.value})
	b.mu.Unlock()

	dispatch(calls)
	return nil
}

func (m *Memory) CreatePersistent(ctx context.Context, path string, value []byte) error {
	return m.create(ctx, path, value, false)
}

func (m *Memory) CreateEphemeral(ctx context.Context, path string, value []byte) error {
	return m.create(ctx, path, value, true)
}

func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	if _, err := m.begin(ctx); err != nil {
		return false, err
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	_, ok := m.backend.entries[path]
	return ok, nil
}

func (m *Memory) Read(ctx context.Context, path string) ([]byte, error) {
	if _, err := m.begin(ctx); err != nil {
		return nil, err
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	e, ok := m.backend.entries[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	return append([]byte(nil), e.value...), nil
}

func (m *Memory) Write(ctx context.Context, path string, value []byte) error {
	if _, err := m.begin(ctx); err != nil {
		return err
	}

	b := m.backend
	b.mu.Lock()
	e, ok := b.entries[path]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	e.value = append([]byte(nil), value...)
	calls := b.fireLocked(path, Event{Type: EventChanged, Path: path, Value: e.value})
	b.mu.Unlock()

	dispatch(calls)
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if _, err := m.begin(ctx); err != nil {
		return err
	}

	b := m.backend
	b.mu.Lock()
	if _, ok := b.entries[path]; !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	delete(b.entries, path)
	calls := b.fireLocked(path, Event{Type: EventDeleted, Path: path})
	b.mu.Unlock()

	dispatch(calls)
	return nil
}

func (m *Memory) Children(ctx context.Context, path string) ([]string, error) {
	if _, err := m.begin(ctx); err != nil {
		return nil, err
	}

	prefix := strings.TrimSuffix(path, "/") + "/"
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()

	var names []string
	for p := range m.backend.entries {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

func (m *Memory) Watch(ctx context.Context, path string, fn func(Event)) error {
	sess, err := m.begin(ctx)
	if err != nil {
		return err
	}
	m.backend.mu.Lock()
	defer m.backend.mu.Unlock()
	m.backend.watches[path] = append(m.backend.watches[path], &memWatch{ctx: ctx, sess: sess, fn: fn})
	return nil
}

func (m *Memory) AcquireLock(ctx context.Context, name string) (Lock, error) {
	sess, err := m.begin(ctx)
	if err != nil {
		return nil, err
	}

	b := m.backend
	b.mu.Lock()
	l, ok := b.locks[name]
	if !ok {
		l = &memLock{}
		b.locks[name] = l
	}
	if l.holder == nil {
		l.holder = sess
		b.mu.Unlock()
		return &memoryLock{client: m, backend: b, name: name, sess: sess}, nil
	}
	if l.holder == sess {
		b.mu.Unlock()
		return nil, fmt.Errorf("lock %s already held by this session", name)
	}
	w := &memWaiter{sess: sess, granted: make(chan struct{})}
	l.waiters = append(l.waiters, w)
	b.mu.Unlock()

	select {
	case <-w.granted:
		return &memoryLock{client: m, backend: b, name: name, sess: sess}, nil
	case <-sess.done:
		return nil, ErrDisconnected
	case <-ctx.Done():
		b.mu.Lock()
		defer b.mu.Unlock()
		select {
		case <-w.granted:
			// granted while we were giving up
			b.grantLocked(l)
		default:
			for i, queued := range l.waiters {
				if queued == w {
					l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
					break
				}
			}
		}
		return nil, ctx.Err()
	}
}

func (m *Memory) OnDisconnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Close ends the session without running disconnect callbacks
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	sess := m.sess
	m.sess = nil
	m.mu.Unlock()

	if sess != nil {
		m.backend.expire(sess)
	}
	return nil
}

type memoryLock struct {
	client  *Memory
	backend *MemoryBackend
	name    string
	sess    *memSession
}

func (l *memoryLock) Assert(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	if ml, ok := l.backend.locks[l.name]; !ok || ml.holder != l.sess {
		return fmt.Errorf("%w: %s", ErrLockLost, l.name)
	}
	return nil
}

func (l *memoryLock) Put(ctx context.Context, path string, value []byte) error {
	if _, err := l.client.begin(ctx); err != nil {
		return err
	}

	b := l.backend
	b.mu.Lock()
	if ml, ok := b.locks[l.name]; !ok || ml.holder != l.sess {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLockLost, l.name)
	}
	typ := EventChanged
	e, ok := b.entries[path]
	if !ok {
		e = &memEntry{}
		b.entries[path] = e
		typ = EventCreated
	}
	e.value = append([]byte(nil), value...)
	calls := b.fireLocked(path, Event{Type: typ, Path: path, Value: e.value})
	b.mu.Unlock()

	dispatch(calls)
	return nil
}

func (l *memoryLock) Release(ctx context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	ml, ok := l.backend.locks[l.name]
	if !ok || ml.holder != l.sess {
		return nil
	}
	l.backend.grantLocked(ml)
	return nil
}

func (l *memoryLock) Lost() <-chan struct{} {
	return l.sess.done
}
