// fake-receiver accepts signed webhook notifications from the notifier. It can
// fail the first N requests to exercise the consumer retry path.
package main

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/notify"
)

type receiver struct {
	cfg     config.FakeReceiver
	webhook config.Webhook
	log     *logging.Logger
	now     func() time.Time

	mu       sync.Mutex
	reqCount int
}

func newReceiver(cfg config.Config, log *logging.Logger) *receiver {
	return &receiver{cfg: cfg.FakeReceiver, webhook: cfg.Webhook, log: log, now: time.Now}
}

func main() {
	cfg := config.FromEnv()
	logger := logging.New("fake-receiver")
	logger.SetLevel(logging.ParseLevel(cfg.LogLevel))

	rc := newReceiver(cfg, logger)
	srv := &http.Server{
		Addr:         cfg.FakeReceiver.Port,
		Handler:      rc.routes(),
		ReadTimeout:  cfg.FakeReceiver.ReadTimeout,
		WriteTimeout: cfg.FakeReceiver.WriteTimeout,
		IdleTimeout:  cfg.FakeReceiver.IdleTimeout,
	}
	logger.Plain().WithField("addr", srv.Addr).WithField("fail_first_n", cfg.FakeReceiver.FailFirstN).Info("fake-receiver listening")
	if err := srv.ListenAndServe(); err != nil {
		logger.Plain().WithError(err).Fatal("fake-receiver stopped")
	}
}

func (rc *receiver) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /hook", rc.handleHook)
	return mux
}

func (rc *receiver) handleHook(w http.ResponseWriter, r *http.Request) {
	rc.mu.Lock()
	rc.reqCount++
	n := rc.reqCount
	rc.mu.Unlock()

	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if rc.cfg.EndpointSecret != "" {
		leeway := time.Duration(rc.cfg.SigningLeewaySeconds) * time.Second
		ts := r.Header.Get(rc.webhook.TimestampHeader)
		sig := r.Header.Get(rc.webhook.SignatureHeader)
		if err := notify.Verify(rc.cfg.EndpointSecret, b, ts, sig, leeway, rc.now()); err != nil {
			rc.log.Plain().WithError(err).Warn("signature rejected")
			http.Error(w, "invalid signature: "+err.Error(), http.StatusUnauthorized)
			return
		}
	}

	if rc.cfg.ResponseDelayMS > 0 {
		time.Sleep(time.Duration(rc.cfg.ResponseDelayMS) * time.Millisecond)
	}

	if n <= rc.cfg.FailFirstN {
		rc.log.Plain().
			WithField("request", n).
			WithField("body", truncate(string(b), 160)).
			Warnf("failing request %d/%d", n, rc.cfg.FailFirstN)
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	env, err := event.Decode(b)
	if err != nil {
		rc.log.Plain().WithError(err).WithField("body", truncate(string(b), 160)).Warn("undecodable notification")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rc.log.Plain().WithTask(env.TaskID()).WithField("status", env.Status().String()).Info("notification received")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
