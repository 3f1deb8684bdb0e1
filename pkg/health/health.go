// Package health exposes the standard gRPC health service for long running
// workers and a client used by the container health probe.
package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"video_processing_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server gRPC health server for one named service
type Server struct {
	service string
	grpc    *grpc.Server
	health  *health.Server
}

// NewServer 初始狀態為 NOT_SERVING
func NewServer(service string) *Server {
	s := &Server{
		service: service,
		grpc:    grpc.NewServer(),
		health:  health.NewServer(),
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.SetServing(false)
	return s
}

// SetServing 切換服務狀態，空字串的整體狀態一起更新
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(s.service, status)
	s.health.SetServingStatus("", status)
}

// ListenAndServe 監聽 addr 直到 ctx 結束
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("health listen addr[%s] : %w", addr, err)
	}
	return s.Serve(ctx, lis)
}

// Serve 使用既有 listener，ctx 結束時 graceful stop
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	logger.Log.Info("health server listening", zap.String("addr", lis.Addr().String()))
	if err := s.grpc.Serve(lis); err != nil {
		return fmt.Errorf("health serve : %w", err)
	}
	return nil
}

// Check 呼叫 addr 上的 health service，非 SERVING 回傳錯誤
func Check(ctx context.Context, addr, service string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("health dial addr[%s] : %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		return fmt.Errorf("health check addr[%s] : %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("service[%s] status %s", service, resp.GetStatus())
	}
	return nil
}
