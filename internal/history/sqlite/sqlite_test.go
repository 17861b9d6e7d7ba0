package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/trayvisor/internal/history"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "history.db")
	sink, err := New("sqlite://" + path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	code := 3
	events := []history.Event{
		{Service: "svc", From: "stopped", To: "starting", OccurredAt: time.Now().UTC()},
		{Service: "svc", From: "running", To: "crashed", OccurredAt: time.Now().UTC(), PID: 42, ExitCode: &code, Error: "unexpected exit: exit status 3", Attempt: 1},
		{Service: "other", From: "stopped", To: "starting", OccurredAt: time.Now().UTC()},
	}
	for _, e := range events {
		if err := sink.Send(ctx, e); err != nil {
			t.Fatalf("send: %v", err)
		}
	}

	got, err := sink.Recent(ctx, "svc", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	crash := got[0]
	if crash.To != "crashed" || crash.PID != 42 || crash.ExitCode == nil || *crash.ExitCode != 3 || crash.Attempt != 1 {
		t.Fatalf("unexpected newest event: %+v", crash)
	}
	if got[1].ExitCode != nil || got[1].Error != "" {
		t.Fatalf("nulls not preserved: %+v", got[1])
	}
}

func TestSQLiteSinkReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	s1, err := New(path)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s1.Send(context.Background(), history.Event{Service: "svc", From: "a", To: "b", OccurredAt: time.Now()}); err != nil {
		t.Fatalf("send: %v", err)
	}
	_ = s1.Close()

	s2, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s2.Close() }()
	got, err := s2.Recent(context.Background(), "svc", 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("recent after reopen: %v %v", got, err)
	}
}

func TestSQLiteMemoryAndEmptyDSN(t *testing.T) {
	s, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("memory: %v", err)
	}
	_ = s.Close()
	if _, err := New("  "); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}
