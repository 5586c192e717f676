package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/badya367/taskmanager/internal/api"
	"github.com/badya367/taskmanager/internal/event"
	"github.com/badya367/taskmanager/internal/logging"
	"github.com/badya367/taskmanager/internal/service"
	"github.com/badya367/taskmanager/internal/store"
	"github.com/badya367/taskmanager/internal/task"
)

type nopPublisher struct{ events []event.StatusChange }

func (p *nopPublisher) Publish(_ context.Context, env event.StatusChange) error {
	p.events = append(p.events, env)
	return nil
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	resetFlags(rootCmd)
	cfgFile = ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func newTaskServer(t *testing.T) (*httptest.Server, *nopPublisher) {
	t.Helper()
	st, err := store.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := logging.New("taskctl-test")
	logger.SetOutput(&bytes.Buffer{})
	pub := &nopPublisher{}
	srv := httptest.NewServer(api.NewRouter(service.New(st, pub, logger), logger, api.Options{Health: st}))
	t.Cleanup(srv.Close)
	return srv, pub
}

func TestTaskCommands(t *testing.T) {
	srv, pub := newTaskServer(t)

	out, err := execute(t, "--server", srv.URL, "--json", "task", "create", "--title", "Write report", "--user-id", "7")
	if err != nil {
		t.Fatalf("create: %v\n%s", err, out)
	}
	var created task.Task
	if err := json.Unmarshal([]byte(out), &created); err != nil {
		t.Fatalf("decode create output: %v\n%s", err, out)
	}
	if created.ID == 0 || created.Status != task.StatusNew || created.UserID != 7 {
		t.Fatalf("created = %+v", created)
	}

	out, err = execute(t, "--server", srv.URL, "--json", "task", "update", "1", "--status", "IN_PROGRESS")
	if err != nil {
		t.Fatalf("update: %v\n%s", err, out)
	}
	var updated task.Task
	if err := json.Unmarshal([]byte(out), &updated); err != nil {
		t.Fatalf("decode update output: %v\n%s", err, out)
	}
	if updated.Status != task.StatusInProgress || updated.Title != "Write report" || updated.UserID != 7 {
		t.Errorf("update did not keep unchanged fields: %+v", updated)
	}
	if len(pub.events) != 1 || pub.events[0] != event.NewStatusChange(1, task.StatusInProgress) {
		t.Errorf("published = %v", pub.events)
	}

	out, err = execute(t, "--server", srv.URL, "task", "get", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	for _, want := range []string{"ID", "STATUS", "IN_PROGRESS", "Write report"} {
		if !strings.Contains(out, want) {
			t.Errorf("get output missing %q:\n%s", want, out)
		}
	}

	out, err = execute(t, "--server", srv.URL, "--json", "task", "list")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var all []task.Task
	if err := json.Unmarshal([]byte(out), &all); err != nil || len(all) != 1 {
		t.Errorf("list = %s (err %v)", out, err)
	}

	out, err = execute(t, "--server", srv.URL, "task", "delete", "1")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(out, "Deleted task 1") {
		t.Errorf("delete output = %q", out)
	}

	_, err = execute(t, "--server", srv.URL, "task", "get", "1")
	var apiErr *apiError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("get after delete err = %v, want 404", err)
	}
}

func TestTaskCommandErrors(t *testing.T) {
	srv, _ := newTaskServer(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "lowercase status", args: []string{"task", "create", "--title", "x", "--status", "done"}, wantErr: "unknown status"},
		{name: "missing title", args: []string{"task", "create"}, wantErr: `required flag(s) "title" not set`},
		{name: "bad id", args: []string{"task", "get", "abc"}, wantErr: `invalid task id "abc"`},
		{name: "blank title rejected by server", args: []string{"task", "create", "--title", " "}, wantErr: "server returned 400"},
		{name: "missing task", args: []string{"task", "delete", "99"}, wantErr: "server returned 404"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, append([]string{"--server", srv.URL}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestHealthCommand(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantOut string
		wantErr bool
	}{
		{name: "healthy", status: http.StatusOK, wantOut: "Service is healthy"},
		{name: "unhealthy", status: http.StatusServiceUnavailable, wantOut: "Service is unhealthy", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/healthz" {
					t.Errorf("path = %q", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"ok":true}`))
			}))
			defer srv.Close()

			out, err := execute(t, "--server", srv.URL, "health")
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !strings.Contains(out, tt.wantOut) {
				t.Errorf("output = %q, want %q", out, tt.wantOut)
			}
		})
	}
}

func TestTokenIsSent(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	if _, err := execute(t, "--server", srv.URL, "--token", "abc.def.ghi", "task", "list"); err != nil {
		t.Fatalf("list: %v", err)
	}
	if got != "Bearer abc.def.ghi" {
		t.Errorf("Authorization = %q", got)
	}
}

func TestConfigSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskctl.yaml")
	t.Cleanup(func() { viper.Set("timeout", nil) })

	out, err := execute(t, "--config", path, "config", "set", "timeout", "45s")
	if err != nil {
		t.Fatalf("config set: %v\n%s", err, out)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.Contains(string(b), "timeout: 45s") {
		t.Errorf("config file = %q", b)
	}

	_, err = execute(t, "--config", path, "config", "set", "color", "blue")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration key") {
		t.Errorf("err = %v, want invalid key", err)
	}
	_, err = execute(t, "--config", path, "config", "set", "timeout", "soon")
	if err == nil || !strings.Contains(err.Error(), "invalid duration") {
		t.Errorf("err = %v, want invalid duration", err)
	}
}

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{addr: "localhost:8080", want: "http://localhost:8080"},
		{addr: "http://tasks.internal/", want: "http://tasks.internal"},
		{addr: "https://tasks.example.com", want: "https://tasks.example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			serverAddr = tt.addr
			if got := baseURL(); got != tt.want {
				t.Errorf("baseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "--json", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if v["version"] != Version {
		t.Errorf("version = %q, want %q", v["version"], Version)
	}
}
