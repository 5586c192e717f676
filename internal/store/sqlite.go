package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/badya367/taskmanager/internal/task"
)

// SQLiteStore keeps tasks in a single SQLite file, or in memory for ":memory:".
// Timestamps are stored as RFC3339 text.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens path, applies migrations and returns the store. The pool is
// limited to one connection so ":memory:" databases stay shared and writes
// are serialized.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := Migrate(ctx, db, goose.DialectSQLite3); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func scanSQLite(row interface{ Scan(...any) error }) (task.Task, error) {
	var (
		t                    task.Task
		status               string
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &t.UserID, &status, &createdAt, &updatedAt); err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)

	var err error
	if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return task.Task{}, fmt.Errorf("parse created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return task.Task{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return t, nil
}

func (s *SQLiteStore) FindByID(ctx context.Context, id int64) (task.Task, error) {
	t, err := scanSQLite(s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("select task %d: %w", id, err)
	}
	return t, nil
}

func (s *SQLiteStore) FindAll(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tasks: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) Save(ctx context.Context, t task.Task) (task.Task, error) {
	now := time.Now().UTC()
	stamp := now.Format(time.RFC3339Nano)

	if t.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO tasks(title, description, user_id, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			t.Title, t.Description, t.UserID, string(t.Status), stamp, stamp)
		if err != nil {
			return task.Task{}, fmt.Errorf("insert task: %w", err)
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return task.Task{}, fmt.Errorf("insert task id: %w", err)
		}
		t.CreatedAt, t.UpdatedAt = now, now
		return t, nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET title = ?, description = ?, user_id = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		t.Title, t.Description, t.UserID, string(t.Status), stamp, t.ID)
	if err != nil {
		return task.Task{}, fmt.Errorf("update task %d: %w", t.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return task.Task{}, fmt.Errorf("update task %d: %w", t.ID, err)
	} else if n == 0 {
		return task.Task{}, fmt.Errorf("%w: id %d", task.ErrNotFound, t.ID)
	}
	return s.FindByID(ctx, t.ID)
}

func (s *SQLiteStore) ExistsByID(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE id = ?)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("exists task %d: %w", id, err)
	}
	return exists, nil
}

func (s *SQLiteStore) DeleteByID(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("delete task %d: %w", id, err)
	} else if n == 0 {
		return fmt.Errorf("%w: id %d", task.ErrNotFound, id)
	}
	return nil
}
