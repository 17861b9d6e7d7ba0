package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// ExitInfo describes how a child ended. Code is -1 when the process was
// terminated by a signal or never started.
type ExitInfo struct {
	Code     int       `json:"code"`
	Signal   string    `json:"signal,omitempty"`
	Err      error     `json:"-"`
	ExitedAt time.Time `json:"exited_at"`
}

// Success reports a normal exit with status 0.
func (e ExitInfo) Success() bool {
	return e.Code == 0 && e.Signal == "" && e.Err == nil
}

func (e ExitInfo) String() string {
	switch {
	case e.Err != nil:
		return e.Err.Error()
	case e.Signal != "":
		return "signal: " + e.Signal
	default:
		return fmt.Sprintf("exit status %d", e.Code)
	}
}

func exitInfoFrom(ps *os.ProcessState, err error) ExitInfo {
	info := ExitInfo{Code: -1, ExitedAt: time.Now()}
	if ps != nil {
		info.Code = ps.ExitCode()
		if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			info.Signal = ws.Signal().String()
		}
	}
	if err != nil {
		var ee *exec.ExitError
		// pipe drain timeouts still carry a valid exit state
		if !errors.As(err, &ee) && !errors.Is(err, exec.ErrWaitDelay) {
			info.Err = err
		}
	}
	return info
}
