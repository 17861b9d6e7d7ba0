package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestServer(t *testing.T) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		state := "starting"
		if calls.Add(1) >= 3 {
			state = "running"
		}
		_, _ = w.Write([]byte(`{"name":"svc","state":"` + state + `","pid":12,"restarts":1,"attempt":0,"failed":false,"updated_at":"2026-01-01T00:00:00Z"}`))
	})
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"supervisor is shut down"}`))
	})
	mux.HandleFunc("POST /api/open", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true,"url":"http://127.0.0.1:10086"}`))
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "2" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`[{"service":"svc","from":"running","to":"crashed","exit_code":1,"attempt":1}]`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, &calls
}

func TestClientCalls(t *testing.T) {
	ts, _ := newTestServer(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	ctx := context.Background()

	if !c.IsReachable(ctx) {
		t.Fatal("expected reachable")
	}
	st, err := c.Status(ctx)
	if err != nil || st.Name != "svc" || st.PID != 12 || st.Restarts != 1 {
		t.Fatalf("status: %+v %v", st, err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	url, err := c.Open(ctx)
	if err != nil || url != "http://127.0.0.1:10086" {
		t.Fatalf("open: %q %v", url, err)
	}
	evs, err := c.History(ctx, 2)
	if err != nil || len(evs) != 1 || evs[0].ExitCode == nil || *evs[0].ExitCode != 1 {
		t.Fatalf("history: %+v %v", evs, err)
	}
}

func TestClientAPIError(t *testing.T) {
	ts, _ := newTestServer(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	err := c.Stop(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusServiceUnavailable || apiErr.Message != "supervisor is shut down" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}

func TestWaitForState(t *testing.T) {
	ts, calls := newTestServer(t)
	c := New(Config{BaseURL: ts.URL + "/api"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.WaitForState(ctx, "running", 10*time.Millisecond)
	if err != nil || st.State != "running" {
		t.Fatalf("wait: %+v %v", st, err)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected polling, calls=%d", calls.Load())
	}
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api", Timeout: 200 * time.Millisecond})
	if c.IsReachable(context.Background()) {
		t.Fatal("port 1 should not be reachable")
	}
	if _, err := c.Status(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
