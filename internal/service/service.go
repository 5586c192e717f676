// Package service orchestrates task persistence and publishes a status-change
// event for every update that moves a task to a different status.
package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/task"
	"github.com/badya367/taskmanager/internal/tracing"
)

// Publisher hands an envelope to the channel. Implementations enqueue and
// return; broker completion is observed elsewhere.
type Publisher interface {
	Publish(ctx context.Context, env event.StatusChange) error
}

// TaskService is the CRUD surface consumed by the HTTP API.
type TaskService interface {
	Create(ctx context.Context, in task.Input) (task.Task, error)
	GetByID(ctx context.Context, id int64) (task.Task, error)
	GetAll(ctx context.Context) ([]task.Task, error)
	Update(ctx context.Context, id int64, in task.Input) (task.Task, error)
	Delete(ctx context.Context, id int64) error
}

type Service struct {
	store task.Store
	pub   Publisher
	log   *logging.Logger
}

func New(store task.Store, pub Publisher, log *logging.Logger) *Service {
	return &Service{store: store, pub: pub, log: log}
}

func (s *Service) Create(ctx context.Context, in task.Input) (task.Task, error) {
	if in.Status == "" {
		in.Status = task.StatusNew
	}
	if err := in.Validate(); err != nil {
		return task.Task{}, err
	}

	var t task.Task
	t.Apply(in)
	return s.store.Save(ctx, t)
}

func (s *Service) GetByID(ctx context.Context, id int64) (task.Task, error) {
	return s.store.FindByID(ctx, id)
}

func (s *Service) GetAll(ctx context.Context) ([]task.Task, error) {
	return s.store.FindAll(ctx)
}

// Update overwrites every editable field of task id. When the stored status
// differs from in.Status, one envelope carrying the saved id and status is
// published after the save. Publish errors are logged and never returned.
func (s *Service) Update(ctx context.Context, id int64, in task.Input) (task.Task, error) {
	ctx, span := tracing.StartSpan(ctx, "service.Update", tracing.TaskAttr(id))
	defer span.End()

	if in.Status == "" {
		return task.Task{}, fmt.Errorf("%w: status is required on update", task.ErrInvalid)
	}
	if err := in.Validate(); err != nil {
		return task.Task{}, err
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return task.Task{}, err
	}

	changed := current.Status != in.Status
	current.Apply(in)

	saved, err := s.store.Save(ctx, current)
	if err != nil {
		tracing.SetSpanError(ctx, err)
		return task.Task{}, err
	}

	if changed {
		s.publish(ctx, event.NewStatusChange(saved.ID, saved.Status))
	}
	return saved, nil
}

func (s *Service) publish(ctx context.Context, env event.StatusChange) {
	tracing.AddSpanEvent(ctx, "status_changed", attribute.String("task.status", env.Status().String()))

	if err := s.pub.Publish(ctx, env); err != nil {
		tracing.SetSpanError(ctx, err)
		s.log.WithContext(ctx).
			WithTask(env.TaskID()).
			WithField("status", env.Status().String()).
			WithError(err).
			Error("publish status change failed; update kept")
	}
}

// Delete removes task id. It never publishes.
func (s *Service) Delete(ctx context.Context, id int64) error {
	ok, err := s.store.ExistsByID(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	return s.store.DeleteByID(ctx, id)
}
