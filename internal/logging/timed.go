package logging

import (
	"context"
	"time"
)

// Timed runs fn and logs its outcome and latency under op. Failures log at
// warn; successes at debug.
func Timed[In, Out any](ctx context.Context, l *Logger, op string, in In, fn func(context.Context, In) (Out, error)) (Out, time.Duration, error) {
	start := time.Now()
	out, err := fn(ctx, in)
	elapsed := time.Since(start)

	e := l.WithContext(ctx).
		WithField("op", op).
		WithField("duration_ms", elapsed.Milliseconds())
	if err != nil {
		e.WithError(err).Warnf("%s failed", op)
	} else {
		e.Debugf("%s ok", op)
	}
	return out, elapsed, err
}
