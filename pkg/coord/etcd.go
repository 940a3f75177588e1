package coord

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/rs/zerolog"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// EtcdConfig holds configuration for the etcd-backed coordinator
type EtcdConfig struct {
	Endpoints        []string
	DialTimeout      time.Duration
	SessionTTL       time.Duration
	OperationTimeout time.Duration
	Username         string
	Password         string
}

// Etcd implements Coordinator on top of etcd. Ephemeral paths are attached
// to the lease of a concurrency.Session; when the lease expires etcd deletes
// them, and the next call opens a new session.
type Etcd struct {
	client *clientv3.Client
	cfg    EtcdConfig
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	sess         *concurrency.Session
	closed       bool
	onDisconnect []func()
}

// NewEtcd connects to the etcd cluster
func NewEtcd(cfg EtcdConfig) (*Etcd, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no etcd endpoints configured")
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 10 * time.Second
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = 5 * time.Second
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create etcd client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Etcd{
		client: client,
		cfg:    cfg,
		logger: log.WithComponent("coord"),
		ctx:    ctx,
		cancel: cancel,
	}, nil
}

func (e *Etcd) session() (*concurrency.Session, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}
	if e.sess != nil {
		select {
		case <-e.sess.Done():
			e.sess = nil
		default:
			return e.sess, nil
		}
	}

	ttl := int(e.cfg.SessionTTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}
	sess, err := concurrency.NewSession(e.client,
		concurrency.WithTTL(ttl),
		concurrency.WithContext(e.ctx),
	)
	if err != nil {
		return nil, e.wrap(fmt.Errorf("failed to open session: %w", err))
	}
	e.sess = sess
	go e.watchSession(sess)

	e.logger.Info().
		Int64("lease", int64(sess.Lease())).
		Int("ttl_seconds", ttl).
		Msg("coordination session opened")
	return sess, nil
}

func (e *Etcd) watchSession(sess *concurrency.Session) {
	<-sess.Done()

	e.mu.Lock()
	if e.sess == sess {
		e.sess = nil
	}
	closed := e.closed
	callbacks := append([]func(){}, e.onDisconnect...)
	e.mu.Unlock()

	if closed {
		return
	}
	e.logger.Warn().
		Int64("lease", int64(sess.Lease())).
		Msg("coordination session expired")
	for _, fn := range callbacks {
		fn()
	}
}

func (e *Etcd) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.OperationTimeout)
}

// wrap maps transport failures onto ErrDisconnected so callers can reset
func (e *Etcd) wrap(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, clientv3.ErrNoAvailableEndpoints) ||
		status.Code(err) == codes.Unavailable ||
		status.Code(err) == codes.DeadlineExceeded {
		return fmt.Errorf("%w: %v", ErrDisconnected, err)
	}
	return err
}

func (e *Etcd) create(ctx context.Context, path string, value []byte, opts ...clientv3.OpOption) error {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resp, err := e.client.Txn(opCtx).
		If(clientv3.Compare(clientv3.CreateRevision(path), "=", 0)).
		Then(clientv3.OpPut(path, string(value), opts...)).
		Commit()
	if err != nil {
		return e.wrap(fmt.Errorf("failed to create %s: %w", path, err))
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrNodeExists, path)
	}
	return nil
}

func (e *Etcd) CreatePersistent(ctx context.Context, path string, value []byte) error {
	return e.create(ctx, path, value)
}

func (e *Etcd) CreateEphemeral(ctx context.Context, path string, value []byte) error {
	sess, err := e.session()
	if err != nil {
		return err
	}
	return e.create(ctx, path, value, clientv3.WithLease(sess.Lease()))
}

func (e *Etcd) Exists(ctx context.Context, path string) (bool, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resp, err := e.client.Get(opCtx, path, clientv3.WithCountOnly())
	if err != nil {
		return false, e.wrap(fmt.Errorf("failed to check %s: %w", path, err))
	}
	return resp.Count > 0, nil
}

func (e *Etcd) Read(ctx context.Context, path string) ([]byte, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resp, err := e.client.Get(opCtx, path)
	if err != nil {
		return nil, e.wrap(fmt.Errorf("failed to read %s: %w", path, err))
	}
	if len(resp.Kvs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	return resp.Kvs[0].Value, nil
}

func (e *Etcd) Write(ctx context.Context, path string, value []byte) error {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resp, err := e.client.Txn(opCtx).
		If(clientv3.Compare(clientv3.CreateRevision(path), ">", 0)).
		Then(clientv3.OpPut(path, string(value), clientv3.WithIgnoreLease())).
		Commit()
	if err != nil {
		return e.wrap(fmt.Errorf("failed to write %s: %w", path, err))
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	return nil
}

func (e *Etcd) Delete(ctx context.Context, path string) error {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	resp, err := e.client.Delete(opCtx, path)
	if err != nil {
		return e.wrap(fmt.Errorf("failed to delete %s: %w", path, err))
	}
	if resp.Deleted == 0 {
		return fmt.Errorf("%w: %s", ErrNoNode, path)
	}
	return nil
}

func (e *Etcd) Children(ctx context.Context, path string) ([]string, error) {
	opCtx, cancel := e.opContext(ctx)
	defer cancel()

	prefix := strings.TrimSuffix(path, "/") + "/"
	resp, err := e.client.Get(opCtx, prefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, e.wrap(fmt.Errorf("failed to list %s: %w", path, err))
	}

	var names []string
	for _, kv := range resp.Kvs {
		rest := strings.TrimPrefix(string(kv.Key), prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		names = append(names, rest)
	}
	sort.Strings(names)
	return names, nil
}

func (e *Etcd) Watch(ctx context.Context, path string, fn func(Event)) error {
	if _, err := e.session(); err != nil {
		return err
	}

	watchCtx, cancel := context.WithCancel(clientv3.WithRequireLeader(ctx))
	ch := e.client.Watch(watchCtx, path)

	go func() {
		defer cancel()
		e.deliver(ctx, path, ch, fn)
	}()
	return nil
}

// deliver calls fn with the first event on ch. A watch the service ends
// early is reported as EventLost unless ctx was cancelled.
func (e *Etcd) deliver(ctx context.Context, path string, ch clientv3.WatchChan, fn func(Event)) {
	for resp := range ch {
		if err := resp.Err(); err != nil {
			e.logger.Warn().Err(err).Str("path", path).Msg("watch cancelled by the server")
			break
		}
		for _, ev := range resp.Events {
			out := Event{Path: path, Value: ev.Kv.Value}
			switch {
			case ev.Type == clientv3.EventTypeDelete:
				out.Type = EventDeleted
			case ev.IsCreate():
				out.Type = EventCreated
			default:
				out.Type = EventChanged
			}
			fn(out)
			return
		}
	}
	if ctx.Err() == nil {
		fn(Event{Type: EventLost, Path: path})
	}
}

func (e *Etcd) AcquireLock(ctx context.Context, name string) (Lock, error) {
	sess, err := e.session()
	if err != nil {
		return nil, err
	}

	mutex := concurrency.NewMutex(sess, name)
	if err := mutex.Lock(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case <-sess.Done():
			return nil, fmt.Errorf("%w: session ended while waiting for %s", ErrDisconnected, name)
		default:
		}
		return nil, e.wrap(fmt.Errorf("failed to acquire lock %s: %w", name, err))
	}

	return &etcdLock{
		client:  e.client,
		mutex:   mutex,
		sess:    sess,
		timeout: e.cfg.OperationTimeout,
		wrap:    e.wrap,
	}, nil
}

func (e *Etcd) OnDisconnect(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDisconnect = append(e.onDisconnect, fn)
}

func (e *Etcd) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	sess := e.sess
	e.sess = nil
	e.mu.Unlock()

	if sess != nil {
		if err := sess.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("failed to revoke session lease")
		}
	}
	e.cancel()
	return e.client.Close()
}

type etcdLock struct {
	client  *clientv3.Client
	mutex   *concurrency.Mutex
	sess    *concurrency.Session
	timeout time.Duration
	wrap    func(error) error
}

func (l *etcdLock) Assert(ctx context.Context) error {
	select {
	case <-l.sess.Done():
		return fmt.Errorf("%w: session expired", ErrLockLost)
	default:
	}

	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.Txn(opCtx).If(l.mutex.IsOwner()).Commit()
	if err != nil {
		return l.wrap(fmt.Errorf("failed to assert lock: %w", err))
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrLockLost, l.mutex.Key())
	}
	return nil
}

func (l *etcdLock) Put(ctx context.Context, path string, value []byte) error {
	select {
	case <-l.sess.Done():
		return fmt.Errorf("%w: session expired", ErrLockLost)
	default:
	}

	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	resp, err := l.client.Txn(opCtx).
		If(l.mutex.IsOwner()).
		Then(clientv3.OpPut(path, string(value))).
		Commit()
	if err != nil {
		return l.wrap(fmt.Errorf("failed to write %s: %w", path, err))
	}
	if !resp.Succeeded {
		return fmt.Errorf("%w: %s", ErrLockLost, l.mutex.Key())
	}
	return nil
}

func (l *etcdLock) Release(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	if err := l.mutex.Unlock(opCtx); err != nil {
		return l.wrap(fmt.Errorf("failed to release lock: %w", err))
	}
	return nil
}

func (l *etcdLock) Lost() <-chan struct{} {
	return l.sess.Done()
}
