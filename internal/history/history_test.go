package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loykin/trayvisor/internal/process"
	"github.com/loykin/trayvisor/internal/supervisor"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
	block  chan struct{}
}

func (m *memSink) Send(ctx context.Context, e Event) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("down")
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memSink) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestFromTransition(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	e := FromTransition(supervisor.Transition{
		Name:    "svc",
		From:    supervisor.StateRunning,
		To:      supervisor.StateCrashed,
		At:      at,
		Exit:    &process.ExitInfo{Code: -1, Signal: "killed"},
		Err:     supervisor.ErrUnexpectedExit,
		Attempt: 2,
	})
	if e.Service != "svc" || e.From != "running" || e.To != "crashed" || e.Attempt != 2 {
		t.Fatalf("unexpected event: %+v", e)
	}
	if !e.OccurredAt.Equal(at) || e.OccurredAt.Location() != time.UTC {
		t.Fatalf("time not normalized to UTC: %v", e.OccurredAt)
	}
	if e.ExitCode == nil || *e.ExitCode != -1 || e.Signal != "killed" || e.Error != "unexpected exit" {
		t.Fatalf("exit fields: %+v", e)
	}

	plain := FromTransition(supervisor.Transition{Name: "svc", From: supervisor.StateStopped, To: supervisor.StateStarting})
	if plain.ExitCode != nil || plain.Error != "" {
		t.Fatalf("expected empty exit fields: %+v", plain)
	}
}

func TestRecorderDeliversInOrder(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 8, nil)
	r.Observe(supervisor.Transition{Name: "svc", From: supervisor.StateStopped, To: supervisor.StateStarting})
	r.Observe(supervisor.Transition{Name: "svc", From: supervisor.StateStarting, To: supervisor.StateRunning, PID: 10})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	got := sink.snapshot()
	if len(got) != 2 || got[0].To != "starting" || got[1].To != "running" || got[1].PID != 10 {
		t.Fatalf("unexpected events: %+v", got)
	}
	if err := r.Close(ctx); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	sink := &memSink{block: make(chan struct{})}
	r := NewRecorder(sink, 1, nil)
	for i := 0; i < 10; i++ {
		r.Enqueue(Event{Service: "svc", To: "running"})
	}
	if r.Dropped() == 0 {
		t.Fatal("expected drops while the sink is blocked")
	}
	close(sink.block)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := uint64(len(sink.snapshot())) + r.Dropped(); n != 10 {
		t.Fatalf("delivered+dropped = %d, want 10", n)
	}
}

func TestRecorderCountsFailures(t *testing.T) {
	sink := &memSink{fail: true}
	r := NewRecorder(sink, 4, nil)
	r.Enqueue(Event{Service: "svc"})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = r.Close(ctx)
	if r.Failed() != 1 {
		t.Fatalf("failed = %d", r.Failed())
	}
}

func TestRecorderEnqueueAfterCloseIsDropped(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, 4, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	r.Observe(supervisor.Transition{Name: "svc", From: supervisor.StateStopping, To: supervisor.StateStopped})
	if r.Dropped() != 1 {
		t.Fatalf("dropped = %d, want 1", r.Dropped())
	}
	if len(sink.snapshot()) != 0 {
		t.Fatal("no event may reach the sink after Close")
	}
}

func TestRecorderObserveRacesClose(t *testing.T) {
	r := NewRecorder(&memSink{}, 2, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				r.Enqueue(Event{Service: "svc", To: "running"})
			}
		}()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	wg.Wait()
}
