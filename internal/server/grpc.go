package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/exams-tracker/internal/common"
)

// NewGRPCServer returns a gRPC server carrying the standard health service and reflection for grpcurl.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	reflection.Register(srv)
	return srv, hs
}

// WatchHealth runs check now and then every interval, reporting SERVING or NOT_SERVING
// for the whole server. It returns when ctx is done, after marking the server as shut down.
func WatchHealth(ctx context.Context, hs *health.Server, check func(context.Context) error, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := healthpb.HealthCheckResponse_UNKNOWN
	for {
		status := healthpb.HealthCheckResponse_SERVING
		if check != nil {
			checkCtx, cancel := common.WithTimeout(ctx, interval)
			err := check(checkCtx)
			cancel()
			if err != nil {
				status = healthpb.HealthCheckResponse_NOT_SERVING
				if last != status {
					logger.Warn("grpc.health.not_serving", "error", err)
				}
			}
		}
		if status != last {
			hs.SetServingStatus("", status)
			logger.Info("grpc.health.status", "status", status.String())
			last = status
		}

		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

// ServeGRPC serves srv on addr until ctx is done, then stops it gracefully.
func ServeGRPC(ctx context.Context, addr string, srv *grpc.Server, logger *slog.Logger) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serveGRPCListener(ctx, lis, srv, logger)
}

func serveGRPCListener(ctx context.Context, lis net.Listener, srv *grpc.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("grpc.listening", "addr", lis.Addr().String())
		errCh <- srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("grpc.shutdown")
	srv.GracefulStop()
	return nil
}
