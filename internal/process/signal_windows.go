//go:build windows

package process

import "os"

// Windows has no SIGTERM for console-less children; both steps kill.
var (
	signalTerm = func(p *os.Process) error { return p.Kill() }
	signalKill = func(p *os.Process) error { return p.Kill() }
)
