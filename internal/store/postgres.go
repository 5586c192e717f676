// Package store implements task.Store on Postgres and SQLite.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/badya367/taskmanager/internal/task"
)

const taskColumns = `id, title, description, user_id, status, created_at, updated_at`

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanPostgres(row pgx.Row) (task.Task, error) {
	var t task.Task
	var status string
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.UserID, &status, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	return t, nil
}

func (s *PostgresStore) FindByID(ctx context.Context, id int64) (task.Task, error) {
	t, err := scanPostgres(s.pool.QueryRow(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("select task %d: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) FindAll(ctx context.Context) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (task.Task, error) {
		return scanPostgres(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStore) Save(ctx context.Context, t task.Task) (task.Task, error) {
	if t.ID == 0 {
		err := s.pool.QueryRow(ctx, `
			INSERT INTO tasks(title, description, user_id, status)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at, updated_at`,
			t.Title, t.Description, t.UserID, string(t.Status),
		).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return task.Task{}, fmt.Errorf("insert task: %w", err)
		}
		return t, nil
	}

	err := s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET title = $2, description = $3, user_id = $4, status = $5, updated_at = now()
		WHERE id = $1
		RETURNING created_at, updated_at`,
		t.ID, t.Title, t.Description, t.UserID, string(t.Status),
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: id %d", task.ErrNotFound, t.ID)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	return t, nil
}

func (s *PostgresStore) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists task %d: %w", id, err)
	}
	return exists, nil
}

func (s *PostgresStore) DeleteByID(ctx context.Context, id int64) error {
	ct, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if ct.RowsAffected() == 0 {
		return fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	return nil
}

var (
	_ task.Store = (*PostgresStore)(nil)
	_ task.Store = (*SQLiteStore)(nil)
)
