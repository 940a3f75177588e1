package api

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type fakeLeader struct {
	leader atomic.Bool
}

func (f *fakeLeader) IsLeader() bool { return f.leader.Load() }

func startServer(t *testing.T, src LeaderSource) (*Server, healthpb.HealthClient) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	s := NewServer(src)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return s, healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestLeaderServiceFollowsLeadership(t *testing.T) {
	src := &fakeLeader{}
	s, client := startServer(t, src)

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, LeaderService))

	src.leader.Store(true)
	s.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, LeaderService))

	src.leader.Store(false)
	s.Update()
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, LeaderService))
}

func TestWatchRefreshesStatus(t *testing.T) {
	src := &fakeLeader{}
	s, client := startServer(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Watch(ctx, 10*time.Millisecond)

	src.leader.Store(true)
	assert.Eventually(t, func() bool {
		return check(t, client, LeaderService) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNilLeaderSource(t *testing.T) {
	_, client := startServer(t, nil)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, LeaderService))
}
