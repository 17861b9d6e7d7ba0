package supervisor

import (
	"fmt"
	"time"

	"github.com/loykin/trayvisor/internal/process"
)

// State is the supervisor's lifecycle state.
//
//	Stopped -> Starting -> Running -> Stopping -> Stopped
//	Starting -> Crashed, Running -> Crashed
//	Crashed -> Starting (restart), Crashed -> Stopped (gave up or stop requested)
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateCrashed:
		return "crashed"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	v, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseState is the inverse of State.String.
func ParseState(s string) (State, error) {
	for _, st := range []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed} {
		if st.String() == s {
			return st, nil
		}
	}
	return StateStopped, fmt.Errorf("unknown state %q", s)
}

var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateCrashed, StateStopping},
	StateRunning:  {StateCrashed, StateStopping},
	StateStopping: {StateStopped},
	StateCrashed:  {StateStarting, StateStopped},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Status is a read-only snapshot of the supervised service.
type Status struct {
	Name          string            `json:"name"`
	State         State             `json:"state"`
	PID           int               `json:"pid,omitempty"`       // set while running
	StartedAt     time.Time         `json:"started_at,omitzero"` // start of the current or last run
	Exit          *process.ExitInfo `json:"exit,omitempty"`      // how the last run ended
	Restarts      int               `json:"restarts"`            // automatic restarts since the supervisor was created
	Attempt       int               `json:"attempt"`             // consecutive restart attempts in the current crash loop
	NextRestartAt time.Time         `json:"next_restart_at,omitzero"`
	Failed        bool              `json:"failed"` // restart policy gave up
	LastError     string            `json:"last_error,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Running reports whether a live child is attached.
func (s Status) Running() bool { return s.State == StateRunning && s.PID > 0 }

// Transition is delivered to observers for every state change.
type Transition struct {
	Name    string
	From    State
	To      State
	At      time.Time
	PID     int
	Exit    *process.ExitInfo
	Err     error
	Attempt int
}
