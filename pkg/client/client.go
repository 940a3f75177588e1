package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/rookery/pkg/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ErrNoLeader is returned when no manager reports holding leadership
var ErrNoLeader = errors.New("no manager reports leadership")

// Client talks to the gRPC health endpoint of one manager
type Client struct {
	addr   string
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// NewClient creates a client for the manager at addr. The connection is
// established lazily on the first call.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	return &Client{
		addr:   addr,
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// Addr returns the manager address
func (c *Client) Addr() string {
	return c.addr
}

// Close closes the client connection
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Alive reports whether the manager process answers health checks
func (c *Client) Alive(ctx context.Context) (bool, error) {
	return c.serving(ctx, "")
}

// IsLeader reports whether the manager currently holds leadership
func (c *Client) IsLeader(ctx context.Context) (bool, error) {
	return c.serving(ctx, api.LeaderService)
}

func (c *Client) serving(ctx context.Context, service string) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return false, fmt.Errorf("health check of %s failed: %w", c.addr, err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// ManagerState is the result of asking one manager about leadership
type ManagerState struct {
	Addr   string `json:"addr" yaml:"addr"`
	Leader bool   `json:"leader" yaml:"leader"`
	Error  string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Survey asks every manager in addrs whether it leads. Each check is bounded
// by timeout.
func Survey(ctx context.Context, addrs []string, timeout time.Duration, opts ...grpc.DialOption) []ManagerState {
	states := make([]ManagerState, len(addrs))
	done := make(chan struct{}, len(addrs))

	for i, addr := range addrs {
		go func(i int, addr string) {
			defer func() { done <- struct{}{} }()
			states[i] = survey(ctx, addr, timeout, opts...)
		}(i, addr)
	}
	for range addrs {
		<-done
	}
	return states
}

func survey(ctx context.Context, addr string, timeout time.Duration, opts ...grpc.DialOption) ManagerState {
	st := ManagerState{Addr: addr}

	c, err := NewClient(addr, opts...)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	leader, err := c.IsLeader(ctx)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Leader = leader
	return st
}

// FindLeader returns the address of the manager holding leadership
func FindLeader(states []ManagerState) (string, error) {
	for _, st := range states {
		if st.Leader {
			return st.Addr, nil
		}
	}
	return "", ErrNoLeader
}
