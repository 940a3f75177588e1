/*
Package api implements the network endpoints of a rookery manager.

Every manager process serves two listeners, whether or not it holds
leadership:

	┌─────────────── MANAGER PROCESS ────────────────┐
	│                                                 │
	│  HTTP (api.http_addr)      gRPC (api.grpc_addr) │
	│  ┌──────────────────┐      ┌─────────────────┐  │
	│  │ /health          │      │ grpc.health.v1  │  │
	│  │ /ready           │      │  "" SERVING     │  │
	│  │ /status          │      │  rookery.Leader │  │
	│  │ /topology        │      │   SERVING only  │  │
	│  │ /history         │      │   on the leader │  │
	│  │ /metrics         │      └─────────────────┘  │
	│  └──────────────────┘                           │
	└─────────────────────────────────────────────────┘

# HTTP Endpoints

  - /health: liveness with per-component health (metrics.GetHealth)
  - /ready: 200 once the coordination service answers and the critical
    components are ready, 503 otherwise; includes the local leadership role
  - /status: the local manager.Status as JSON
  - /topology: the persisted topology record; 404 before any leader wrote one
  - /history?limit=N: the most recent failover events from the local journal
  - /metrics: Prometheus exposition

All handlers accept GET only. Requests are counted and timed in
rookery_api_requests_total and rookery_api_request_duration_seconds with
method label "http <path>".

# gRPC Health

The gRPC server registers the standard health service. The empty service name
is always SERVING while the process runs. LeaderService ("rookery.Leader") is
SERVING only while the local manager holds leadership; Watch refreshes it on a
ticker. Stop marks everything NOT_SERVING before the graceful stop.

Example check:

	grpcurl -plaintext -d '{"service":"rookery.Leader"}' manager-1:9090 grpc.health.v1.Health/Check
*/
package api
