// Package notify turns status-change envelopes into side effects: a log
// line, a mail, a signed webhook.
package notify

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/tracing"
)

// Dispatcher handles one envelope. A returned error is retryable unless it
// is classified otherwise by event.IsRetryable.
type Dispatcher interface {
	Handle(ctx context.Context, env event.StatusChange) error
}

type Func func(ctx context.Context, env event.StatusChange) error

func (f Func) Handle(ctx context.Context, env event.StatusChange) error { return f(ctx, env) }

// LogDispatcher records every transition it sees.
type LogDispatcher struct {
	log *logging.Logger
}

func NewLogDispatcher(log *logging.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Handle(ctx context.Context, env event.StatusChange) error {
	d.log.WithContext(ctx).
		WithTask(env.TaskID()).
		WithField("status", string(env.Status())).
		Infof("task %d changed status to %s", env.TaskID(), env.Status())
	return nil
}

// Multi runs dispatchers in order and stops at the first failure.
type Multi []Dispatcher

func (m Multi) Handle(ctx context.Context, env event.StatusChange) error {
	for _, d := range m {
		if err := d.Handle(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

// Timed wraps next with a span, a timed log line and dispatch metrics
// labelled with name.
func Timed(name string, next Dispatcher, log *logging.Logger) Dispatcher {
	return Func(func(ctx context.Context, env event.StatusChange) error {
		ctx, span := tracing.StartSpan(ctx, "notify.dispatch",
			attribute.String("dispatcher", name),
			tracing.TaskAttr(env.TaskID()),
			attribute.String("task.status", string(env.Status())),
		)
		defer span.End()

		_, d, err := logging.Timed(ctx, log, "notify."+name, env, func(ctx context.Context, env event.StatusChange) (struct{}, error) {
			return struct{}{}, next.Handle(ctx, env)
		})
		metrics.RecordDispatch(name, err, d)
		if err != nil {
			tracing.SetSpanError(ctx, err)
			return fmt.Errorf("%s: %w", name, err)
		}
		return nil
	})
}
