package client

import "time"

// ServiceStatus is the JSON form of the supervisor snapshot.
type ServiceStatus struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitzero"`
	Exit          *Exit     `json:"exit,omitempty"`
	Restarts      int       `json:"restarts"`
	Attempt       int       `json:"attempt"`
	NextRestartAt time.Time `json:"next_restart_at,omitzero"`
	Failed        bool      `json:"failed"`
	LastError     string    `json:"last_error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Exit describes how the last run ended.
type Exit struct {
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	ExitedAt time.Time `json:"exited_at"`
}

// Event is one recorded state change.
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

// OpenResponse is returned by the open endpoint.
type OpenResponse struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
