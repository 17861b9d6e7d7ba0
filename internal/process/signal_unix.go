//go:build !windows

package process

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// Package-level so tests can observe signalling.
var (
	signalTerm = func(p *os.Process) error { return signalGroup(p, unix.SIGTERM) }
	signalKill = func(p *os.Process) error { return signalGroup(p, unix.SIGKILL) }
)

// signalGroup signals the child's process group, falling back to the child alone
// when the group is gone.
func signalGroup(p *os.Process, sig unix.Signal) error {
	if p == nil || p.Pid <= 0 {
		return os.ErrProcessDone
	}
	err := unix.Kill(-p.Pid, sig)
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ESRCH) {
		return p.Signal(sig)
	}
	return err
}
