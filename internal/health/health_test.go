package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHTTPHandler(t *testing.T) {
	tests := []struct {
		name               string
		pinger             Pinger
		expectedStatusCode int
		expectedOK         bool
		messageContains    string
	}{
		{
			name:               "nil pinger is healthy",
			pinger:             nil,
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			messageContains:    "ok",
		},
		{
			name:               "store reachable",
			pinger:             PingerFunc(func(context.Context) error { return nil }),
			expectedStatusCode: http.StatusOK,
			expectedOK:         true,
			messageContains:    "ok",
		},
		{
			name:               "store unreachable",
			pinger:             PingerFunc(func(context.Context) error { return errors.New("connection refused") }),
			expectedStatusCode: http.StatusServiceUnavailable,
			expectedOK:         false,
			messageContains:    "connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			w := httptest.NewRecorder()

			HTTPHandler(tt.pinger)(w, req)

			if w.Code != tt.expectedStatusCode {
				t.Errorf("status code = %d, want %d", w.Code, tt.expectedStatusCode)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}

			var st Status
			if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
				t.Fatalf("JSON parse error: %v", err)
			}
			if st.OK != tt.expectedOK {
				t.Errorf("Status.OK = %v, want %v", st.OK, tt.expectedOK)
			}
			if !strings.Contains(st.Message, tt.messageContains) {
				t.Errorf("Status.Message = %q, want it to contain %q", st.Message, tt.messageContains)
			}
		})
	}
}

func TestHTTPHandler_PingDeadline(t *testing.T) {
	var sawDeadline bool
	p := PingerFunc(func(ctx context.Context) error {
		_, sawDeadline = ctx.Deadline()
		return nil
	})

	HTTPHandler(p)(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if !sawDeadline {
		t.Error("Ping() called without a deadline")
	}
}

func TestWatch(t *testing.T) {
	srv := grpchealth.NewServer()
	healthy := make(chan bool, 1)
	healthy <- false

	p := PingerFunc(func(context.Context) error {
		select {
		case ok := <-healthy:
			if !ok {
				return errors.New("down")
			}
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Watch(ctx, p, srv, "taskmanager", 5*time.Millisecond)
		close(done)
	}()

	waitFor := func(want healthpb.HealthCheckResponse_ServingStatus) {
		t.Helper()
		deadline := time.Now().Add(time.Second)
		for time.Now().Before(deadline) {
			resp, err := srv.Check(context.Background(), &healthpb.HealthCheckRequest{Service: "taskmanager"})
			if err == nil && resp.GetStatus() == want {
				return
			}
			time.Sleep(time.Millisecond)
		}
		t.Fatalf("serving status never became %v", want)
	}

	waitFor(healthpb.HealthCheckResponse_SERVING)

	cancel()
	<-done
	waitFor(healthpb.HealthCheckResponse_NOT_SERVING)
}
