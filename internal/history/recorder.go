package history

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loykin/trayvisor/internal/metrics"
	"github.com/loykin/trayvisor/internal/supervisor"
)

// DefaultSendTimeout bounds a single Sink.Send.
const DefaultSendTimeout = 5 * time.Second

// Recorder feeds supervisor transitions to a Sink from its own goroutine so a
// slow database never stalls the state machine. When the queue is full new
// events are dropped and counted.
type Recorder struct {
	sink    Sink
	queue   chan Event
	timeout time.Duration
	log     *slog.Logger

	dropped atomic.Uint64
	failed  atomic.Uint64

	mu     sync.Mutex // guards closed and the queue close
	closed bool
	done   chan struct{}
}

func NewRecorder(sink Sink, size int, log *slog.Logger) *Recorder {
	if size <= 0 {
		size = 64
	}
	if log == nil {
		log = slog.Default()
	}
	r := &Recorder{
		sink:    sink,
		queue:   make(chan Event, size),
		timeout: DefaultSendTimeout,
		log:     log,
		done:    make(chan struct{}),
	}
	go r.loop()
	return r
}

// Observe matches supervisor.Options.OnTransition. It never blocks.
func (r *Recorder) Observe(tr supervisor.Transition) { r.Enqueue(FromTransition(tr)) }

// Enqueue never blocks. Events arriving after Close are dropped.
func (r *Recorder) Enqueue(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		r.drop()
		return
	}
	select {
	case r.queue <- e:
	default:
		r.drop()
	}
}

func (r *Recorder) drop() {
	r.dropped.Add(1)
	metrics.IncHistoryDropped()
}

func (r *Recorder) loop() {
	defer close(r.done)
	for e := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.Send(ctx, e); err != nil {
			r.failed.Add(1)
			metrics.IncHistoryFailed()
			r.log.Warn("history send failed", "to", e.To, "error", err)
		}
		cancel()
	}
}

// Dropped counts events discarded because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Failed counts events the sink rejected.
func (r *Recorder) Failed() uint64 { return r.failed.Load() }

// Close stops accepting events and waits for the queue to drain or ctx to end.
// It is idempotent and may race with Observe.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	select {
	case <-r.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if d, f := r.dropped.Load(), r.failed.Load(); d > 0 || f > 0 {
		r.log.Warn("history incomplete", "dropped", d, "failed", f)
	}
	return nil
}
