package backend

import (
	"context"
	"fmt"
	"net"

	iface "SketchDetect/interface"
	"SketchDetect/logger"
	"SketchDetect/monitor"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthReporter mirrors the last model-server status check into the standard
// grpc.health.v1 service, keyed by model name.
type HealthReporter struct {
	srv     *health.Server
	service string
}

func NewHealthReporter(service string) *HealthReporter {
	h := &HealthReporter{srv: health.NewServer(), service: service}
	h.srv.SetServingStatus(service, healthpb.HealthCheckResponse_UNKNOWN)
	return h
}

// ObserveStatus is called after every status check. Checking is transient and
// leaves the last known state in place.
func (h *HealthReporter) ObserveStatus(st iface.Status) {
	switch st.Kind {
	case iface.StatusOnline:
		h.srv.SetServingStatus(h.service, healthpb.HealthCheckResponse_SERVING)
	case iface.StatusOffline:
		h.srv.SetServingStatus(h.service, healthpb.HealthCheckResponse_NOT_SERVING)
	}
}

func (h *HealthReporter) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := h.srv.Check(ctx, &healthpb.HealthCheckRequest{Service: h.service})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}

// Shutdown flips every service to NOT_SERVING so watchers see the exit.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}

func countRPC(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.RPCTotal.Inc()
	return handler(ctx, req)
}

// StartGRPCServer serves the health service on lis in the background.
func StartGRPCServer(lis net.Listener, h *HealthReporter) *grpc.Server {
	s := grpc.NewServer(grpc.UnaryInterceptor(countRPC))
	healthpb.RegisterHealthServer(s, h.srv)
	go func() {
		logger.Log().Info("gRPC health listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil {
			logger.Log().Error("gRPC server stopped", zap.Error(err))
		}
	}()
	return s
}

func Listen(port int) (net.Listener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen gRPC on port %d: %w", port, err)
	}
	return lis, nil
}
