package receiver

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	colmetricspb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// GRPCReceiver handles OTLP gRPC requests.
type GRPCReceiver struct {
	colmetricspb.UnimplementedMetricsServiceServer
	ingester *ingester
	server   *grpc.Server
	addr     string
}

// NewGRPCReceiver creates a new gRPC receiver.
func NewGRPCReceiver(addr string, sink Sink, logger *slog.Logger) *GRPCReceiver {
	r := &GRPCReceiver{
		ingester: newIngester(sink, logger),
		server:   grpc.NewServer(),
		addr:     addr,
	}
	colmetricspb.RegisterMetricsServiceServer(r.server, r)

	// Register reflection service for debugging with grpcurl
	reflection.Register(r.server)

	return r
}

// Start starts the gRPC server.
func (r *GRPCReceiver) Start() error {
	lis, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return r.Serve(lis)
}

// Serve serves on an existing listener.
func (r *GRPCReceiver) Serve(lis net.Listener) error {
	r.ingester.logger.Info("gRPC receiver listening", "addr", lis.Addr().String())
	return r.server.Serve(lis)
}

// Shutdown gracefully shuts down the gRPC server.
func (r *GRPCReceiver) Shutdown(ctx context.Context) error {
	r.server.GracefulStop()
	return nil
}

// Export implements the MetricsService Export RPC.
func (r *GRPCReceiver) Export(ctx context.Context, req *colmetricspb.ExportMetricsServiceRequest) (*colmetricspb.ExportMetricsServiceResponse, error) {
	resp, err := r.ingester.export(ctx, req)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return resp, nil
}
