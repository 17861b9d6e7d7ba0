package history

import (
	"context"
	"time"

	"github.com/loykin/trayvisor/internal/supervisor"
)

// Event is one supervisor state change, flattened for external stores.
type Event struct {
	Service    string    `json:"service"`
	From       string    `json:"from"`
	To         string    `json:"to"`
	OccurredAt time.Time `json:"occurred_at"`
	PID        int       `json:"pid,omitempty"`
	ExitCode   *int      `json:"exit_code,omitempty"`
	Signal     string    `json:"signal,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
}

// FromTransition converts a supervisor transition into an Event.
func FromTransition(tr supervisor.Transition) Event {
	e := Event{
		Service:    tr.Name,
		From:       tr.From.String(),
		To:         tr.To.String(),
		OccurredAt: tr.At.UTC(),
		PID:        tr.PID,
		Attempt:    tr.Attempt,
	}
	if tr.Exit != nil {
		code := tr.Exit.Code
		e.ExitCode = &code
		e.Signal = tr.Exit.Signal
	}
	if tr.Err != nil {
		e.Error = tr.Err.Error()
	}
	return e
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
