package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/tracing"
)

type Dispatcher interface {
	Handle(ctx context.Context, env event.StatusChange) error
}

type DeadLetterSink interface {
	DeadLetter(ctx context.Context, dl event.DeadLetter) error
}

type Outcome string

const (
	Acked    Outcome = "acked"    // dispatched, position advanced
	Skipped  Outcome = "skipped"  // terminal failure, position advanced
	Released Outcome = "released" // requeued, position not advanced
)

type Config struct {
	MaxBatch      int
	MaxBatchBytes int
	PollTimeout   time.Duration
	RetryBackoff  time.Duration
	MaxRetries    int
	SkipExhausted bool
	PublishDLQ    bool
}

func ConfigFrom(c config.Consumer) Config {
	return Config{
		MaxBatch:      c.MaxBatch,
		MaxBatchBytes: c.MaxBatchBytes,
		PollTimeout:   c.PollTimeout,
		RetryBackoff:  c.RetryBackoff,
		MaxRetries:    c.MaxRetries,
		SkipExhausted: c.SkipExhausted,
		PublishDLQ:    c.PublishDLQ,
	}
}

type Loop struct {
	src  Source
	disp Dispatcher
	dlq  DeadLetterSink
	cfg  Config
	log  *logging.Logger
}

type Option func(*Loop)

// WithDeadLetters routes terminally skipped envelopes to sink when
// Config.PublishDLQ is set.
func WithDeadLetters(sink DeadLetterSink) Option {
	return func(l *Loop) { l.dlq = sink }
}

func New(src Source, disp Dispatcher, cfg Config, log *logging.Logger, opts ...Option) *Loop {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 1
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	l := &Loop{src: src, disp: disp, cfg: cfg, log: log}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Run polls and processes batches until ctx is cancelled. Cancellation is
// observed between batches only; a batch being dispatched always finishes.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		batch, err := l.src.Poll(ctx, l.cfg.MaxBatch, l.cfg.MaxBatchBytes, l.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrClosed) {
				return err
			}
			l.log.Plain().WithError(err).Error("poll failed")
			if !sleep(ctx, l.cfg.RetryBackoff) {
				return nil
			}
			continue
		}
		if len(batch) == 0 {
			continue
		}
		l.Process(ctx, batch)
	}
}

// Process dispatches one batch and settles it. Dispatch itself ignores ctx
// cancellation; a cancelled ctx during retry backoff releases the batch.
func (l *Loop) Process(ctx context.Context, batch []*Message) Outcome {
	dctx, span := tracing.StartSpan(context.WithoutCancel(ctx), "consumer.batch",
		attribute.Int("batch.size", len(batch)))
	defer span.End()

	for attempt := 1; ; attempt++ {
		idx, err := l.dispatch(dctx, batch, attempt)
		if err == nil {
			for _, m := range batch {
				m.Finish()
			}
			metrics.RecordBatch(string(Acked))
			l.log.WithContext(dctx).
				WithAttempt(attempt).
				WithField("batch_size", len(batch)).
				Debug("batch acknowledged")
			return Acked
		}

		tracing.SetSpanError(dctx, err)
		reason := event.Reason(err)
		entry := l.log.WithContext(dctx).
			WithMessage(batch[idx].ID).
			WithAttempt(attempt).
			WithField("reason", reason).
			WithField("batch_size", len(batch)).
			WithField("failed_index", idx).
			WithError(err)

		if !event.IsRetryable(err) {
			entry.Error("non-retryable dispatch failure; skipping batch")
			return l.skip(dctx, batch, attempt, err, reason)
		}
		if attempt > l.cfg.MaxRetries {
			if l.cfg.SkipExhausted {
				entry.Error("retries exhausted; skipping batch")
				return l.skip(dctx, batch, attempt, err, reason)
			}
			entry.Error("retries exhausted; releasing batch")
			return l.release(batch)
		}

		entry.Warnf("dispatch failed; retrying in %s", l.cfg.RetryBackoff)
		metrics.RecordRetry(reason)
		tracing.AddSpanEvent(dctx, "retry", attribute.Int("attempt", attempt), attribute.String("reason", reason))
		for _, m := range batch {
			m.Touch()
		}
		if !sleep(ctx, l.cfg.RetryBackoff) {
			l.log.WithContext(dctx).WithAttempt(attempt).Info("shutdown during backoff; releasing batch")
			return l.release(batch)
		}
	}
}

// dispatch handles each envelope in receipt order and stops at the first
// failure, returning its index.
func (l *Loop) dispatch(ctx context.Context, batch []*Message, attempt int) (int, error) {
	for i, m := range batch {
		env, err := event.Decode(m.Body)
		if err != nil {
			return i, event.Permanent(err)
		}
		if err := l.disp.Handle(ctx, env); err != nil {
			return i, fmt.Errorf("dispatch %s: %w", env, err)
		}
		l.log.WithContext(ctx).
			WithTask(env.TaskID()).
			WithMessage(m.ID).
			WithAttempt(attempt).
			Debug("envelope dispatched")
	}
	return 0, nil
}

func (l *Loop) skip(ctx context.Context, batch []*Message, attempt int, cause error, reason string) Outcome {
	if l.cfg.PublishDLQ && l.dlq != nil {
		for _, m := range batch {
			dl := event.NewDeadLetter(m.Body, m.ID, attempt, cause, reason)
			if err := l.dlq.DeadLetter(ctx, dl); err != nil {
				// Nothing durable holds the batch yet; keep it on the channel.
				l.log.WithContext(ctx).WithMessage(m.ID).WithError(err).Error("dead letter publish failed; releasing batch")
				return l.release(batch)
			}
			metrics.RecordDLQ(reason)
		}
	}
	for _, m := range batch {
		m.Finish()
	}
	metrics.RecordBatch(string(Skipped))
	return Skipped
}

func (l *Loop) release(batch []*Message) Outcome {
	for _, m := range batch {
		m.Requeue(l.cfg.RetryBackoff)
	}
	metrics.RecordBatch(string(Released))
	return Released
}

// sleep waits d or until ctx ends, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
