// Package app собирает сервисы заказов, склада и платежей из конфигурации
// и обслуживает их HTTP API, метрики, health-пробы и gRPC health.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	healthcheck "github.com/vladislavdragonenkov/shopsaga/internal/health"
	"github.com/vladislavdragonenkov/shopsaga/internal/version"
)

const shutdownTimeout = 5 * time.Second

// Service — собранный сервис: API, проверки, фоновые задачи и ресурсы,
// которые нужно закрыть при остановке.
type Service struct {
	Name   string
	API    http.Handler
	Health *healthcheck.Handler

	logger     *log.Entry
	background []func(ctx context.Context) error
	closers    []func() error
	closeOnce  sync.Once
}

func newService(name string, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "app")
	}
	return &Service{
		Name:   name,
		Health: healthcheck.NewHandler(name+"-service", version.Current().Version),
		logger: logger.WithField("service", name),
	}
}

func (s *Service) onClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Service) runInBackground(task func(ctx context.Context) error) {
	s.background = append(s.background, task)
}

// Close освобождает ресурсы в обратном порядке создания.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i](); err != nil {
				s.logger.WithError(err).Warn("failed to release resource")
			}
		}
	})
}

// Run обслуживает сервис до отмены ctx и закрывает его ресурсы.
func Run(ctx context.Context, cfg Config, svc *Service) error {
	defer svc.Close()
	logger := svc.logger

	apiLis, err := net.Listen("tcp", cfg.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listen http %s: %w", cfg.HTTPAddr, err)
	}
	grpcLis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		_ = apiLis.Close()
		return fmt.Errorf("listen grpc %s: %w", cfg.GRPCAddr, err)
	}

	grpcServer, healthServer := newGRPCServer(svc.Name, logger)
	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, svc.Health)
	apiSrv := &http.Server{Handler: svc.API, ReadHeaderTimeout: 5 * time.Second}

	bgCtx, stopBackground := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, task := range svc.background {
		wg.Add(1)
		go func(task func(context.Context) error) {
			defer wg.Done()
			if err := task(bgCtx); err != nil {
				logger.WithError(err).Error("background task stopped, serving continues")
			}
		}(task)
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Infof("gRPC health слушает %s", grpcLis.Addr())
		errCh <- grpcServer.Serve(grpcLis)
	}()
	go func() {
		logger.Infof("HTTP API слушает %s", apiLis.Addr())
		if err := apiSrv.Serve(apiLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки")
		runErr = ctx.Err()
	case err := <-errCh:
		if !errors.Is(err, grpc.ErrServerStopped) {
			runErr = err
		}
	}

	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	shutdownHTTP(apiSrv, logger)
	stopGRPC(grpcServer, logger)
	shutdownHTTP(metricsSrv, logger)
	stopBackground()
	wg.Wait()
	return runErr
}

// newGRPCServer поднимает стандартный gRPC health с prometheus-интерсепторами.
func newGRPCServer(service string, logger *log.Entry) (*grpc.Server, *health.Server) {
	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok2 := are.ExistingCollector.(*promgrpc.ServerMetrics); ok2 {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(grpcMetrics.StreamServerInterceptor()),
	)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(service, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	grpcMetrics.InitializeMetrics(grpcServer)

	return grpcServer, healthServer
}

func stopGRPC(srv *grpc.Server, logger *log.Entry) {
	stopped := make(chan struct{})
	go func() {
		srv.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
		srv.Stop()
	}
}

// startMetricsServer запускает HTTP-сервер метрик и health-проб.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: newMetricsMux(healthHandler), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

func newMetricsMux(healthHandler *healthcheck.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("http shutdown with error")
	}
}
