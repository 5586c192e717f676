package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/consumer"
	"github.com/badya367/taskmanager/internal/health"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/notify"
	"github.com/badya367/taskmanager/internal/publisher"
	"github.com/badya367/taskmanager/internal/tracing"
)

func main() {
	cfg := config.FromEnv()
	logger := logging.New(cfg.AppName + "-notifier")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Plain().WithError(err).Fatal("notifier failed")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logging.Logger) error {
	if err := cfg.Consumer.Validate(); err != nil {
		return fmt.Errorf("consumer config: %w", err)
	}

	shutdownTracing, err := tracing.InitTracing(ctx, tracing.Options{
		ServiceName: cfg.AppName + "-notifier",
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

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	level := logging.ParseLevel(cfg.LogLevel)
	var opts []consumer.Option
	if cfg.Consumer.PublishDLQ {
		prod, err := publisher.DialNSQ(cfg.NSQ.NsqdTCPAddrs, nsq.NewConfig(), logger, level)
		if err != nil {
			return fmt.Errorf("dlq producer: %w", err)
		}
		dlq := publisher.New(prod, publisher.Config{
			StatusTopic:  cfg.NSQ.StatusTopic,
			DefaultTopic: cfg.NSQ.DefaultTopic,
			DLQTopic:     cfg.NSQ.DLQTopic,
			Idempotent:   cfg.Producer.Idempotent,
		}, logger)
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = dlq.Stop(sctx)
		}()
		opts = append(opts, consumer.WithDeadLetters(dlq))
	}

	src, err := consumer.NewNSQSource(consumer.NSQConfig{
		Topic:           cfg.NSQ.StatusTopic,
		Channel:         cfg.NSQ.ConsumerGroup,
		NsqdTCPAddrs:    cfg.NSQ.NsqdTCPAddrs,
		LookupHTTPAddrs: cfg.NSQ.LookupHTTPAddrs,
		MaxInFlight:     cfg.Consumer.MaxBatch,
		SessionTimeout:  cfg.Consumer.SessionTimeout,
		MsgTimeout:      cfg.Consumer.MsgTimeout,
		LogLevel:        level,
	}, logger)
	if err != nil {
		return err
	}
	defer src.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(src))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.Consumer.HTTPPort, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("notifier HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Plain().WithError(err).Error("notifier HTTP server failed")
		}
	}()

	loop := consumer.New(src, buildDispatcher(cfg, logger), consumer.ConfigFrom(cfg.Consumer), logger, opts...)
	logger.Plain().
		WithTopic(cfg.NSQ.StatusTopic).
		WithField("channel", cfg.NSQ.ConsumerGroup).
		WithField("max_batch", cfg.Consumer.MaxBatch).
		Info("notifier started")

	err = loop.Run(ctx)

	logger.Plain().Info("shutting down notifier")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(sctx)
	return err
}

// buildDispatcher always logs transitions and adds mail and webhook delivery
// when they are configured. Dispatchers run in that order.
func buildDispatcher(cfg config.Config, logger *logging.Logger) notify.Dispatcher {
	chain := notify.Multi{notify.Timed("log", notify.NewLogDispatcher(logger), logger)}
	if cfg.Mail.SMTPHost != "" {
		chain = append(chain, notify.Timed("mail", notify.NewMailDispatcher(cfg.Mail, nil), logger))
	}
	if cfg.Webhook.URL != "" {
		chain = append(chain, notify.Timed("webhook", notify.NewWebhookDispatcher(cfg.Webhook, nil), logger))
	}
	return chain
}
