package task

import "context"

// Store persists tasks. Implementations serialize conflicting writes to the
// same id at the storage layer; callers add no locking of their own.
type Store interface {
	// FindByID returns ErrNotFound when the id does not exist.
	FindByID(ctx context.Context, id int64) (Task, error)
	// FindAll returns every task ordered by id.
	FindAll(ctx context.Context) ([]Task, error)
	// Save inserts t when t.ID is zero and updates it otherwise. The returned
	// task carries the assigned id and timestamps.
	Save(ctx context.Context, t Task) (Task, error)
	ExistsByID(ctx context.Context, id int64) (bool, error)
	DeleteByID(ctx context.Context, id int64) error
}
