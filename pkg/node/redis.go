package node

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds connection settings shared by every managed Redis node
type RedisConfig struct {
	Password     string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Redis manages one Redis instance through go-redis
type Redis struct {
	addr   types.Addr
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis creates a handle for the Redis instance at addr
func NewRedis(addr types.Addr, cfg RedisConfig) *Redis {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 2 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 2 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:         string(addr),
		Password:     cfg.Password,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     2,
		MaxRetries:   0,
	})

	return &Redis{
		addr:   addr,
		client: client,
		logger: log.WithNode(string(addr)),
	}
}

// RedisFactory returns a Factory that opens Redis nodes with cfg
func RedisFactory(cfg RedisConfig) Factory {
	return func(addr types.Addr) Node {
		return NewRedis(addr, cfg)
	}
}

func (r *Redis) Addr() types.Addr {
	return r.addr
}

func (r *Redis) unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, op, r.addr, err)
}

// Replication checks liveness and reads the replication section of INFO
func (r *Redis) Replication(ctx context.Context) (Replication, error) {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return Replication{}, r.unavailable("ping", err)
	}

	info, err := r.client.Info(ctx, "replication").Result()
	if err != nil {
		return Replication{}, r.unavailable("info", err)
	}

	repl, err := ParseReplicationInfo(info)
	if err != nil {
		return Replication{}, r.unavailable("info", err)
	}

	repl.ServeStaleData = true
	if repl.Role == types.RoleReplica {
		repl.ServeStaleData = r.serveStaleData(ctx)
	}
	return repl, nil
}

// serveStaleData reads replica-serve-stale-data, falling back to the
// pre-5.0 name. A node that hides CONFIG is assumed to serve stale reads.
func (r *Redis) serveStaleData(ctx context.Context) bool {
	for _, param := range []string{"replica-serve-stale-data", "slave-serve-stale-data"} {
		values, err := r.client.ConfigGet(ctx, param).Result()
		if err != nil {
			r.logger.Debug().Err(err).Str("param", param).Msg("config get failed")
			continue
		}
		if v, ok := values[param]; ok {
			return !strings.EqualFold(v, "no")
		}
	}
	return true
}

func (r *Redis) BecomePrimary(ctx context.Context) error {
	if err := r.client.SlaveOf(ctx, "NO", "ONE").Err(); err != nil {
		return r.unavailable("replicaof no one", err)
	}
	r.logger.Info().Msg("node is now primary")
	return nil
}

func (r *Redis) BecomeReplicaOf(ctx context.Context, primary types.Addr) error {
	if err := r.client.SlaveOf(ctx, primary.Host(), primary.Port()).Err(); err != nil {
		return r.unavailable("replicaof", err)
	}
	r.logger.Info().Str("primary", string(primary)).Msg("node is now replica")
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// ParseReplicationInfo parses the output of INFO replication
func ParseReplicationInfo(info string) (Replication, error) {
	fields := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	if err := scanner.Err(); err != nil {
		return Replication{}, fmt.Errorf("failed to read replication info: %w", err)
	}

	switch fields["role"] {
	case "master":
		return Replication{Role: types.RolePrimary}, nil
	case "slave", "replica":
		host, port := fields["master_host"], fields["master_port"]
		if host == "" || port == "" {
			return Replication{}, fmt.Errorf("replica without master_host/master_port")
		}
		return Replication{
			Role:    types.RoleReplica,
			Primary: types.Addr(net.JoinHostPort(host, port)),
			Syncing: fields["master_sync_in_progress"] == "1",
		}, nil
	case "":
		return Replication{}, fmt.Errorf("replication info has no role")
	default:
		return Replication{Role: types.RoleUnknown}, nil
	}
}
