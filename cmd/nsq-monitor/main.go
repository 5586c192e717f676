// nsq-monitor polls the nsqd stats API and exports channel depth for the
// status-change topic so consumer backlog is visible without the notifier.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
)

// NSQStats is the subset of nsqd's /stats?format=json body we read.
type NSQStats struct {
	Topics []struct {
		TopicName string `json:"topic_name"`
		Channels  []struct {
			ChannelName   string `json:"channel_name"`
			Depth         int64  `json:"depth"`
			InFlightCount int64  `json:"in_flight_count"`
		} `json:"channels"`
		Depth int64 `json:"depth"`
	} `json:"topics"`
}

type monitor struct {
	client   *http.Client
	statsURL string
	topics   map[string]bool
	topic    string // status topic
	channel  string // consumer group
	log      *logging.Logger
}

func newMonitor(cfg config.Config, log *logging.Logger) *monitor {
	return &monitor{
		client:   &http.Client{Timeout: 5 * time.Second},
		statsURL: fmt.Sprintf("http://%s/stats?format=json", cfg.Monitor.NsqdHTTPAddr),
		topics:   map[string]bool{cfg.NSQ.StatusTopic: true, cfg.NSQ.DLQTopic: true},
		topic:    cfg.NSQ.StatusTopic,
		channel:  cfg.NSQ.ConsumerGroup,
		log:      log,
	}
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("nsq-monitor")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	m := newMonitor(cfg, logger)
	go m.run(ctx, cfg.Monitor.Interval)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})
	srv := &http.Server{Addr: cfg.Monitor.Port, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	logger.Plain().
		WithField("addr", srv.Addr).
		WithField("nsqd", cfg.Monitor.NsqdHTTPAddr).
		WithField("interval", cfg.Monitor.Interval.String()).
		Info("nsq-monitor starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Plain().WithError(err).Fatal("nsq-monitor HTTP server failed")
	}
}

func (m *monitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := m.update(ctx); err != nil {
			m.log.Plain().WithError(err).Error("updating NSQ metrics")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (m *monitor) update(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.statsURL, nil)
	if err != nil {
		return err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to get NSQ stats: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd stats returned %d", resp.StatusCode)
	}

	var stats NSQStats
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return fmt.Errorf("failed to decode NSQ stats: %w", err)
	}

	for _, topic := range stats.Topics {
		if !m.topics[topic.TopicName] {
			continue
		}
		for _, ch := range topic.Channels {
			if topic.TopicName == m.topic && ch.ChannelName == m.channel {
				metrics.UpdateConsumerBacklog(float64(ch.Depth))
			}
			metrics.UpdateNSQChannel(topic.TopicName, ch.ChannelName, float64(ch.Depth), float64(ch.InFlightCount))
		}
	}
	return nil
}
