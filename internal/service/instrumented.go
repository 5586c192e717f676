package service

import (
	"context"
	"errors"
	"time"

	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/metrics"
	"github.com/badya367/taskmanager/internal/task"
)

// Instrumented wraps a TaskService with timing logs and operation metrics.
type Instrumented struct {
	next TaskService
	log  *logging.Logger
}

func NewInstrumented(next TaskService, log *logging.Logger) *Instrumented {
	return &Instrumented{next: next, log: log}
}

type updateArgs struct {
	id int64
	in task.Input
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, task.ErrNotFound):
		return "not_found"
	case errors.Is(err, task.ErrInvalid):
		return "invalid"
	}
	return "error"
}

func record(op string, d time.Duration, err error) {
	metrics.RecordTaskOperation(op, result(err), d)
}

func (i *Instrumented) Create(ctx context.Context, in task.Input) (task.Task, error) {
	t, d, err := logging.Timed(ctx, i.log, "task.create", in, i.next.Create)
	record("create", d, err)
	return t, err
}

func (i *Instrumented) GetByID(ctx context.Context, id int64) (task.Task, error) {
	t, d, err := logging.Timed(ctx, i.log, "task.get", id, i.next.GetByID)
	record("get", d, err)
	return t, err
}

func (i *Instrumented) GetAll(ctx context.Context) ([]task.Task, error) {
	ts, d, err := logging.Timed(ctx, i.log, "task.list", struct{}{},
		func(ctx context.Context, _ struct{}) ([]task.Task, error) { return i.next.GetAll(ctx) })
	record("list", d, err)
	return ts, err
}

func (i *Instrumented) Update(ctx context.Context, id int64, in task.Input) (task.Task, error) {
	t, d, err := logging.Timed(ctx, i.log, "task.update", updateArgs{id: id, in: in},
		func(ctx context.Context, a updateArgs) (task.Task, error) { return i.next.Update(ctx, a.id, a.in) })
	record("update", d, err)
	return t, err
}

func (i *Instrumented) Delete(ctx context.Context, id int64) error {
	_, d, err := logging.Timed(ctx, i.log, "task.delete", id,
		func(ctx context.Context, id int64) (struct{}, error) { return struct{}{}, i.next.Delete(ctx, id) })
	record("delete", d, err)
	return err
}

var (
	_ TaskService = (*Service)(nil)
	_ TaskService = (*Instrumented)(nil)
)
