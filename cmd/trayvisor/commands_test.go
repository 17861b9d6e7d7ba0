package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/trayvisor/pkg/client"
)

// fakeDaemon serves the control API from an in-memory state.
type fakeDaemon struct {
	mu     sync.Mutex
	state  string
	opened int
	srv    *httptest.Server
}

func newFakeDaemon(t *testing.T) *fakeDaemon {
	t.Helper()
	d := &fakeDaemon{state: "stopped"}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		st := client.ServiceStatus{Name: "smart-proxy-gui", State: d.state}
		if d.state == "running" {
			st.PID = 4242
			st.StartedAt = time.Now().Add(-time.Minute)
		}
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(st)
	})
	mux.HandleFunc("POST /api/start", func(w http.ResponseWriter, r *http.Request) {
		d.set("running")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/stop", func(w http.ResponseWriter, r *http.Request) {
		d.set("stopped")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("POST /api/open", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.opened++
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(client.OpenResponse{OK: true, URL: "http://127.0.0.1:10086"})
	})
	mux.HandleFunc("GET /api/history", func(w http.ResponseWriter, r *http.Request) {
		code := 1
		evs := []client.Event{
			{Service: "smart-proxy-gui", From: "running", To: "crashed", ExitCode: &code, OccurredAt: time.Now()},
			{Service: "smart-proxy-gui", From: "starting", To: "running", PID: 4242, OccurredAt: time.Now()},
		}
		_ = json.NewEncoder(w).Encode(evs)
	})
	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *fakeDaemon) set(s string) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
}

func (d *fakeDaemon) api() APIFlags {
	return APIFlags{APIUrl: d.srv.URL + "/api", APITimeout: 2 * time.Second}
}

func TestStatusPrintsState(t *testing.T) {
	d := newFakeDaemon(t)
	var out bytes.Buffer
	if err := (command{}).Status(context.Background(), &out, StatusFlags{APIFlags: d.api()}); err != nil {
		t.Fatalf("status: %v", err)
	}
	if got := out.String(); !strings.Contains(got, "smart-proxy-gui: stopped") {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestStatusJSON(t *testing.T) {
	d := newFakeDaemon(t)
	d.set("running")
	var out bytes.Buffer
	if err := (command{}).Status(context.Background(), &out, StatusFlags{APIFlags: d.api(), JSON: true}); err != nil {
		t.Fatalf("status: %v", err)
	}
	var st client.ServiceStatus
	if err := json.Unmarshal(out.Bytes(), &st); err != nil {
		t.Fatalf("decode %q: %v", out.String(), err)
	}
	if st.State != "running" || st.PID != 4242 {
		t.Fatalf("unexpected status %+v", st)
	}
}

func TestStartAndStopWait(t *testing.T) {
	d := newFakeDaemon(t)
	var out bytes.Buffer
	c := command{}
	if err := c.Start(context.Background(), &out, WaitFlags{APIFlags: d.api(), Wait: 2 * time.Second}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !strings.Contains(out.String(), "running (pid 4242") {
		t.Fatalf("unexpected start output %q", out.String())
	}
	out.Reset()
	if err := c.Stop(context.Background(), &out, WaitFlags{APIFlags: d.api(), Wait: 2 * time.Second}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !strings.Contains(out.String(), "stopped") {
		t.Fatalf("unexpected stop output %q", out.String())
	}
}

func TestStartWithoutWaitOnlyQueues(t *testing.T) {
	d := newFakeDaemon(t)
	var out bytes.Buffer
	if err := (command{}).Start(context.Background(), &out, WaitFlags{APIFlags: d.api()}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if strings.TrimSpace(out.String()) != "requested" {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestOpenReportsURL(t *testing.T) {
	d := newFakeDaemon(t)
	var out bytes.Buffer
	if err := (command{}).Open(context.Background(), &out, d.api()); err != nil {
		t.Fatalf("open: %v", err)
	}
	if !strings.Contains(out.String(), "http://127.0.0.1:10086") || d.opened != 1 {
		t.Fatalf("unexpected output %q opened=%d", out.String(), d.opened)
	}
}

func TestHistoryTable(t *testing.T) {
	d := newFakeDaemon(t)
	var out bytes.Buffer
	if err := (command{}).History(context.Background(), &out, HistoryFlags{APIFlags: d.api(), Limit: 5}); err != nil {
		t.Fatalf("history: %v", err)
	}
	got := out.String()
	for _, want := range []string{"FROM", "crashed", "4242"} {
		if !strings.Contains(got, want) {
			t.Fatalf("history output missing %q: %s", want, got)
		}
	}
}

func TestUnreachableDaemonFails(t *testing.T) {
	d := newFakeDaemon(t)
	api := d.api()
	d.srv.Close()
	err := (command{}).Status(context.Background(), &bytes.Buffer{}, StatusFlags{APIFlags: api})
	if err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
}
