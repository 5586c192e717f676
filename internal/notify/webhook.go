package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/tracing"
)

// StatusError is a non-2xx webhook response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string   { return fmt.Sprintf("webhook responded %d", e.Code) }
func (e *StatusError) StatusCode() int { return e.Code }

// Sign returns "sha256=<hex>" of HMAC-SHA256 over body followed by ts.
func Sign(secret string, body []byte, ts string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte(ts))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign and rejects timestamps more
// than leeway away from now.
func Verify(secret string, body []byte, ts, sig string, leeway time.Duration, now time.Time) error {
	if ts == "" || sig == "" {
		return errors.New("missing headers")
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.New("invalid timestamp")
	}
	skew := now.Unix() - unix
	if skew < 0 {
		skew = -skew
	}
	if skew > int64(leeway.Seconds()) {
		return errors.New("timestamp too far from now (outside leeway)")
	}
	if !strings.HasPrefix(sig, "sha256=") || !hmac.Equal([]byte(sig), []byte(Sign(secret, body, ts))) {
		return errors.New("sig mismatch")
	}
	return nil
}

type WebhookDispatcher struct {
	client *http.Client
	cfg    config.Webhook
	now    func() time.Time
}

func NewWebhookDispatcher(cfg config.Webhook, client *http.Client) *WebhookDispatcher {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &WebhookDispatcher{client: client, cfg: cfg, now: time.Now}
}

func (d *WebhookDispatcher) Handle(ctx context.Context, env event.StatusChange) error {
	if d.cfg.URL == "" || d.cfg.Secret == "" {
		return fmt.Errorf("webhook url or secret not configured: %w", event.ErrInvalidState)
	}
	body, err := event.Encode(env)
	if err != nil {
		return event.Permanent(err)
	}

	ts := strconv.FormatInt(d.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", event.ErrInvalidState)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(d.cfg.TimestampHeader, ts)
	req.Header.Set(d.cfg.SignatureHeader, Sign(d.cfg.Secret, body, ts))
	if traceID := tracing.GetTraceID(ctx); traceID != "" {
		req.Header.Set("X-Trace-Id", traceID)
	}

	tracing.AddSpanEvent(ctx, "http.send_webhook")
	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}
