package api

import (
	"context"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/metrics"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// MetricsInterceptor creates a gRPC unary interceptor that counts and times
// every call by method and status code.
func MetricsInterceptor() grpc.UnaryServerInterceptor {
	logger := log.WithComponent("api")

	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		timer := metrics.NewTimer()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		metrics.APIRequestsTotal.WithLabelValues(info.FullMethod, code.String()).Inc()
		timer.ObserveDurationVec(metrics.APIRequestDuration, info.FullMethod)

		if err != nil {
			logger.Debug().Err(err).Str("method", info.FullMethod).Msg("gRPC call failed")
		}
		return resp, err
	}
}
