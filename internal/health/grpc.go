package health

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name encodr reports under, in
// addition to the overall "" service.
const ServiceName = "encodr"

const defaultCheckInterval = 10 * time.Second

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// GRPCServer serves the standard gRPC health protocol. Serving status
// follows the registered probes.
type GRPCServer struct {
	logger   *slog.Logger
	health   *grpchealth.Server
	server   *grpc.Server
	probes   map[string]Probe
	interval time.Duration

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewGRPCServer creates a health server. Every probe must pass for the
// service to report SERVING.
func NewGRPCServer(logger *slog.Logger) *GRPCServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &GRPCServer{
		logger:   logger,
		health:   grpchealth.NewServer(),
		probes:   make(map[string]Probe),
		interval: defaultCheckInterval,
	}
	s.server = grpc.NewServer(grpc.UnaryInterceptor(s.unaryInterceptor))
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// WithProbe registers a named dependency probe.
func (s *GRPCServer) WithProbe(name string, p Probe) *GRPCServer {
	s.probes[name] = p
	return s
}

// WithInterval sets how often probes run.
func (s *GRPCServer) WithInterval(d time.Duration) *GRPCServer {
	if d > 0 {
		s.interval = d
	}
	return s
}

// Check runs every probe once and updates the serving status.
func (s *GRPCServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for name, probe := range s.probes {
		if err := probe(ctx); err != nil {
			s.logger.Warn("health probe failed",
				slog.String("probe", name),
				slog.String("error", err.Error()))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Start listens on addr and serves until Stop.
func (s *GRPCServer) Start(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("creating gRPC health listener: %w", err)
	}
	return s.startWithListener(ctx, lis)
}

func (s *GRPCServer) startWithListener(ctx context.Context, lis net.Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		_ = lis.Close()
		return fmt.Errorf("server already started")
	}
	s.started = true

	s.Check(ctx)
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.checkLoop(loopCtx)

	go func() {
		if err := s.server.Serve(lis); err != nil {
			s.logger.Error("gRPC health server error", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("grpc health server started", slog.String("address", lis.Addr().String()))
	return nil
}

func (s *GRPCServer) checkLoop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, s.interval)
			s.Check(checkCtx)
			cancel()
		}
	}
}

// Stop marks the service as not serving and stops the server gracefully,
// forcing it down when ctx expires.
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.health.Shutdown()
	s.cancel()
	<-s.done

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
		s.logger.Info("gRPC health server stopped gracefully")
	case <-ctx.Done():
		s.server.Stop()
		s.logger.Warn("gRPC health server force stopped")
	}
	s.started = false
	return nil
}

func (s *GRPCServer) unaryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	attrs := []any{
		slog.String("method", info.FullMethod),
		slog.Duration("duration", time.Since(start)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	s.logger.Debug("gRPC call", attrs...)
	return resp, err
}
