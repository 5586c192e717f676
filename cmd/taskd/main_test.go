package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/badya367/taskmanager/internal/config"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/task"
)

func TestOpenStore(t *testing.T) {
	tests := []struct {
		name    string
		db      config.DB
		wantErr string
	}{
		{name: "sqlite in memory", db: config.DB{Driver: "sqlite", SQLitePath: ":memory:"}},
		{name: "sqlite file", db: config.DB{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "tasks.db")}},
		{name: "unknown driver", db: config.DB{Driver: "mysql"}, wantErr: `unknown STORE_DRIVER "mysql"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := logging.New("taskd-test")
			logger.SetOutput(&buf)

			st, closeStore, err := openStore(context.Background(), config.Config{DB: tt.db}, logger)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("openStore: %v", err)
			}
			defer closeStore()

			if err := st.Ping(context.Background()); err != nil {
				t.Fatalf("Ping: %v", err)
			}
			saved, err := st.Save(context.Background(), task.Task{Title: "migrated", Status: task.StatusNew})
			if err != nil {
				t.Fatalf("Save after migrations: %v", err)
			}
			if saved.ID == 0 {
				t.Error("store did not assign an id")
			}
		})
	}
}
