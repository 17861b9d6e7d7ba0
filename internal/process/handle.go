package process

import (
	"io"
	"os/exec"
	"time"
)

// pipeDrainDelay bounds how long Wait keeps copying output after the child
// exits; grandchildren holding the pipe open must not block reaping.
const pipeDrainDelay = 2 * time.Second

// Handle owns one running child process. Exactly one internal goroutine reaps
// the child; everyone else observes the exit through Wait or Done.
type Handle struct {
	spec      Spec
	cmd       *exec.Cmd
	pid       int
	startedAt time.Time
	done      chan struct{}
	exit      ExitInfo // written once before done is closed
}

// Spawn starts spec's executable with stdout and stderr both redirected to out.
// It fails with a *SpawnError when the executable is missing or not runnable.
func Spawn(spec Spec, out io.Writer) (*Handle, error) {
	if err := spec.validateLaunch(); err != nil {
		return nil, &SpawnError{Path: spec.Executable, Err: err}
	}
	path, err := exec.LookPath(spec.Executable)
	if err != nil {
		return nil, &SpawnError{Path: spec.Executable, Err: err}
	}
	// #nosec G204 -- the executable is fixed by local configuration
	cmd := exec.Command(path, spec.Args...)
	cmd.Dir = spec.WorkDir
	cmd.Env = spec.Environ()
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	cmd.WaitDelay = pipeDrainDelay
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Path: path, Err: err}
	}
	h := &Handle{
		spec:      spec,
		cmd:       cmd,
		pid:       cmd.Process.Pid,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
	go h.reap()
	return h, nil
}

func (h *Handle) reap() {
	err := h.cmd.Wait()
	h.exit = exitInfoFrom(h.cmd.ProcessState, err)
	close(h.done)
}

func (h *Handle) PID() int { return h.pid }

func (h *Handle) StartedAt() time.Time { return h.startedAt }

func (h *Handle) Spec() Spec { return h.spec }

// Done is closed once the child has exited and been reaped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Exited reports whether the child has been reaped, without blocking.
func (h *Handle) Exited() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the child exits. It never fails; the exit state is always available.
func (h *Handle) Wait() ExitInfo {
	<-h.done
	return h.exit
}

// Terminate asks the child to stop and force-kills it if it is still alive after
// grace. On an already exited handle it returns immediately without signalling.
func (h *Handle) Terminate(grace time.Duration) {
	if h.Exited() {
		return
	}
	// an error here means the child is already gone or unreachable; the kill
	// below still bounds the wait
	_ = signalTerm(h.cmd.Process)
	if grace > 0 {
		t := time.NewTimer(grace)
		defer t.Stop()
		select {
		case <-h.done:
			return
		case <-t.C:
		}
	}
	if h.Exited() {
		return
	}
	_ = signalKill(h.cmd.Process)
	<-h.done
}
