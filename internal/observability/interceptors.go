package observability

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"live-transcription-service/internal/observability/logging"
	"live-transcription-service/internal/observability/metrics"
)

// UnaryServerInterceptor records every unary call. Health probes are
// frequent, so successful calls log at debug and failures at warn.
func UnaryServerInterceptor(m *metrics.Metrics) grpc.UnaryServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		observe(ctx, logger, m, info.FullMethod, "unary", start, err)
		return resp, err
	}
}

// StreamServerInterceptor records every stream. The only streams served
// here are health watchers.
func StreamServerInterceptor(m *metrics.Metrics) grpc.StreamServerInterceptor {
	logger := logging.WithComponent("grpc")
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		start := time.Now()
		m.RPCStreamsActive.Inc()
		defer m.RPCStreamsActive.Dec()

		err := handler(srv, ss)
		observe(ss.Context(), logger, m, info.FullMethod, "stream", start, err)
		return err
	}
}

func observe(ctx context.Context, logger zerolog.Logger, m *metrics.Metrics, method, kind string, start time.Time, err error) {
	code := status.Code(err)
	m.RecordRPC(method, code.String())

	evt := logger.Debug()
	if code != codes.OK && code != codes.Canceled {
		evt = logger.Warn().Err(err)
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		evt = evt.Str("peer", p.Addr.String())
	}
	evt.Str("method", method).
		Str("kind", kind).
		Str("code", code.String()).
		Dur("duration", time.Since(start)).
		Msg("gRPC call completed")
}
