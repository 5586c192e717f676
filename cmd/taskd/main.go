package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/badya367/taskmanager/internal/api"
	"github.com/badya367/taskmanager/internal/auth"
	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/db"
	"github.com/badya367/taskmanager/internal/health"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/publisher"
	"github.com/badya367/taskmanager/internal/service"
	"github.com/badya367/taskmanager/internal/store"
	"github.com/badya367/taskmanager/internal/task"
	"github.com/badya367/taskmanager/internal/tracing"
)

const healthService = "taskmanager.TaskService"

type pingStore interface {
	task.Store
	health.Pinger
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New(cfg.AppName + "-taskd")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("taskd failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName: cfg.AppName + "-taskd",
		Version:     cfg.Tracing.Version,
		InstanceID:  cfg.Tracing.InstanceID,
		Endpoint:    cfg.Tracing.Endpoint,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	st, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	level := logging.ParseLevel(cfg.LogLevel)
	prod, err := publisher.DialNSQ(cfg.NSQ.NsqdTCPAddrs, nsq.NewConfig(), logger, level)
	if err != nil {
		return err
	}
	pub := publisher.New(prod, publisher.Config{
		StatusTopic:  cfg.NSQ.StatusTopic,
		DefaultTopic: cfg.NSQ.DefaultTopic,
		DLQTopic:     cfg.NSQ.DLQTopic,
		Idempotent:   cfg.Producer.Idempotent,
	}, logger)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := pub.Stop(sctx); err != nil {
			logger.Plain().WithError(err).Warn("publisher stop incomplete")
		}
	}()

	svc := service.NewInstrumented(service.New(st, pub, logger), logger)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	opts := api.Options{
		Health:  st,
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	if cfg.Auth.PublicKeyPEM != "" {
		v, err := auth.NewJWTValidator(cfg.Auth.PublicKeyPEM, cfg.Auth.Issuer, cfg.Auth.Audience)
		if err != nil {
			return fmt.Errorf("jwt validator: %w", err)
		}
		opts.Auth = v.HTTPMiddleware
	} else {
		logger.Plain().Warn("JWT_PUBLIC_KEY not set; task routes are unauthenticated")
	}

	grpcSrv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := grpchealth.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, hs)
	go health.Watch(ctx, st, hs, healthService, 10*time.Second)

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPPort,
		Handler:           api.NewRouter(svc, logger, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		logger.Plain().WithField("addr", cfg.GRPCPort).Info("taskd gRPC health listening")
		if err := grpcSrv.Serve(lis); err != nil {
			errc <- fmt.Errorf("grpc serve: %w", err)
		}
	}()
	go func() {
		logger.Plain().WithField("addr", cfg.HTTPPort).Info("taskd HTTP listening")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http serve: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-errc:
	}

	logger.Plain().Info("shutting down taskd")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	grpcSrv.GracefulStop()
	logger.Plain().Info("taskd stopped")
	return err
}

// openStore opens the configured task store and applies pending migrations.
func openStore(ctx context.Context, cfg config.Config, logger *logging.Logger) (pingStore, func(), error) {
	switch cfg.DB.Driver {
	case "sqlite":
		st, err := store.OpenSQLite(ctx, cfg.DB.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Plain().WithField("path", cfg.DB.SQLitePath).Info("using sqlite task store")
		return st, func() { _ = st.Close() }, nil

	case "postgres", "":
		pool, err := db.Connect(ctx, cfg.DSN(), cfg.DB.MaxConns)
		if err != nil {
			return nil, nil, fmt.Errorf("db connect: %w", err)
		}
		applied, err := store.MigratePostgres(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Plain().WithField("applied", applied).Info("postgres migrations applied")
		return store.NewPostgres(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.DB.Driver)
}
