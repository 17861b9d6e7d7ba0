package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/trayvisor/internal/metrics"
	"github.com/loykin/trayvisor/internal/process"
)

// DefaultGrace is how long a stopping child may take before it is killed.
const DefaultGrace = 3 * time.Second

var (
	// ErrUnexpectedExit marks a run that ended with a nonzero code or a signal
	// while nobody asked it to stop.
	ErrUnexpectedExit = errors.New("unexpected exit")
	// ErrRetriesExhausted is reported once the restart policy gives up.
	ErrRetriesExhausted = errors.New("restart retries exhausted")
	// ErrClosed is returned by lifecycle calls after Shutdown.
	ErrClosed = errors.New("supervisor is shut down")
)

// Options tune a Supervisor. The zero value is usable.
type Options struct {
	Grace  time.Duration
	Policy RestartPolicy
	Logger *slog.Logger
	// OnTransition runs on the supervisor goroutine for every state change.
	// It must not call back into the Supervisor's blocking methods.
	OnTransition func(Transition)
}

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdShutdown
)

type command struct {
	kind  cmdKind
	reply chan struct{} // closed once the command settled; nil for fire-and-forget
}

type exitEvent struct {
	gen  uint64
	info process.ExitInfo
}

// Supervisor keeps at most one child of spec alive. All transitions happen on
// a single goroutine; Start and Stop only queue work for it and Status reads a
// snapshot, so callers on a UI thread never block on process I/O.
type Supervisor struct {
	spec process.Spec
	name string
	out  io.Writer
	opts Options
	log  *slog.Logger

	cmds  chan command // blocking requests that wait for a reply
	exits chan exitEvent
	done  chan struct{}
	once  sync.Once

	// latest fire-and-forget request; wake holds at most one signal
	reqMu   sync.Mutex
	want    cmdKind
	wantSet bool
	wake    chan struct{}

	mu     sync.RWMutex
	status Status

	// owned by the loop goroutine
	state    State
	child    *process.Handle
	gen      uint64
	bo       backoff.BackOff
	attempt  int
	restarts int
	timer    *time.Timer
	timerC   <-chan time.Time
}

// New validates spec and starts the supervisor goroutine in the Stopped state.
// out receives the child's stdout and stderr; if it is also an io.Closer it is
// released after every run and closed for good by Shutdown.
func New(spec process.Spec, out io.Writer, opts Options) (*Supervisor, error) {
	if out == nil {
		return nil, errors.New("output writer is required")
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid service spec: %w", err)
	}
	if err := opts.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid restart policy: %w", err)
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	s := &Supervisor{
		spec:  spec.Clone(),
		name:  spec.DisplayName(),
		out:   out,
		opts:  opts,
		log:   lg.With("service", spec.DisplayName()),
		cmds:  make(chan command, 16),
		exits: make(chan exitEvent, 1),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		state: StateStopped,
		bo:    opts.Policy.newBackOff(),
	}
	s.status = Status{Name: s.name, State: StateStopped, UpdatedAt: time.Now()}
	metrics.SetCurrentState(s.name, StateStopped.String(), true)
	go s.run()
	return s, nil
}

// Spec returns a copy of the launch description.
func (s *Supervisor) Spec() process.Spec { return s.spec.Clone() }

// Status returns a snapshot of the current lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.status
	if st.Exit != nil {
		e := *st.Exit
		st.Exit = &e
	}
	return st
}

// Start records a start request and returns immediately, even while a stop is
// in progress. Starting an already running service is a no-op; starting while
// a restart is pending spawns now.
func (s *Supervisor) Start() error { return s.request(cmdStart) }

// Stop records a stop request and returns immediately. It is a no-op when
// stopped and cancels any pending restart.
func (s *Supervisor) Stop() error { return s.request(cmdStop) }

// StopAndWait stops the service and blocks until it settles or ctx ends.
func (s *Supervisor) StopAndWait(ctx context.Context) error {
	return s.sendWait(ctx, cmdStop)
}

// Shutdown stops the child, closes the output and ends the supervisor goroutine.
// Subsequent calls return nil once the first one completed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	err := s.sendWait(ctx, cmdShutdown)
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

// Done is closed after Shutdown completed.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// request never blocks. Requests not yet picked up by the loop collapse into
// the latest one.
func (s *Supervisor) request(kind cmdKind) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.reqMu.Lock()
	s.want, s.wantSet = kind, true
	s.reqMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

func (s *Supervisor) takeRequest() (cmdKind, bool) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()
	k, ok := s.want, s.wantSet
	s.wantSet = false
	return k, ok
}

func (s *Supervisor) sendWait(ctx context.Context, kind cmdKind) error {
	c := command{kind: kind, reply: make(chan struct{})}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.cmds <- c:
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-c.reply:
		return nil
	case <-s.done:
		// queued behind a shutdown that already finished
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) run() {
	defer s.once.Do(func() { close(s.done) })
	for {
		select {
		case <-s.wake:
			if k, ok := s.takeRequest(); ok {
				s.handleCommand(command{kind: k})
			}
		case c := <-s.cmds:
			// earlier fire-and-forget requests go first
			if k, ok := s.takeRequest(); ok {
				s.handleCommand(command{kind: k})
			}
			if s.handleCommand(c) {
				return
			}
		case ev := <-s.exits:
			s.handleExit(ev)
		case <-s.timerC:
			s.timer, s.timerC = nil, nil
			s.handleRestartDue()
		}
	}
}

// handleCommand returns true when the loop should end.
func (s *Supervisor) handleCommand(c command) bool {
	defer func() {
		if c.reply != nil {
			close(c.reply)
		}
	}()
	switch c.kind {
	case cmdStart:
		s.handleStart()
	case cmdStop:
		s.handleStop()
	case cmdShutdown:
		s.handleStop()
		if cl, ok := s.out.(io.Closer); ok {
			if err := cl.Close(); err != nil {
				s.log.Warn("close output", "error", err)
			}
		}
		s.log.Info("supervisor shut down")
		// before the reply, so callers observe ErrClosed right after Shutdown
		s.once.Do(func() { close(s.done) })
		return true
	}
	return false
}

func (s *Supervisor) handleStart() {
	switch s.state {
	case StateStopped:
		s.resetRetries()
		s.update(func(st *Status) {
			st.Failed = false
			st.LastError = ""
		})
		s.spawn()
	case StateCrashed:
		// a manual start overrides the pending backoff
		s.cancelTimer()
		s.resetRetries()
		s.spawn()
	default:
		s.log.Debug("start ignored", "state", s.state)
	}
}

func (s *Supervisor) handleStop() {
	switch s.state {
	case StateStopped:
		return
	case StateCrashed:
		s.cancelTimer()
		s.resetRetries()
		s.setState(StateStopped, nil, nil)
	case StateRunning, StateStarting:
		metrics.IncStop(s.name)
		h := s.child
		// the watcher's event for this child is stale from now on
		s.gen++
		s.setState(StateStopping, nil, nil)
		var exit *process.ExitInfo
		if h != nil {
			h.Terminate(s.opts.Grace)
			info := h.Wait()
			exit = &info
			metrics.ObserveRun(s.name, info.ExitedAt.Sub(h.StartedAt()))
			s.releaseOutput()
		}
		s.child = nil
		s.resetRetries()
		s.setState(StateStopped, exit, nil)
	}
}

func (s *Supervisor) handleExit(ev exitEvent) {
	if ev.gen != s.gen || s.child == nil || s.state != StateRunning {
		return
	}
	h := s.child
	s.child = nil
	ran := ev.info.ExitedAt.Sub(h.StartedAt())
	metrics.ObserveRun(s.name, ran)
	s.releaseOutput()

	if ev.info.Success() {
		s.log.Info("service exited cleanly", "pid", h.PID(), "ran", ran)
		s.setState(StateCrashed, &ev.info, nil)
		s.resetRetries()
		s.setState(StateStopped, &ev.info, nil)
		return
	}
	if s.opts.Policy.StableAfter > 0 && ran >= s.opts.Policy.StableAfter {
		s.resetRetries()
	}
	err := fmt.Errorf("%w: %s", ErrUnexpectedExit, ev.info)
	s.log.Warn("service exited unexpectedly", "pid", h.PID(), "exit", ev.info.String(), "ran", ran)
	metrics.IncCrash(s.name, "exit")
	s.setState(StateCrashed, &ev.info, err)
	s.scheduleRestart(err)
}

func (s *Supervisor) handleRestartDue() {
	if s.state != StateCrashed {
		return
	}
	s.restarts++
	metrics.IncRestart(s.name)
	s.log.Info("restarting service", "attempt", s.attempt)
	s.spawn()
}

func (s *Supervisor) spawn() {
	if !s.setState(StateStarting, nil, nil) {
		return
	}
	h, err := process.Spawn(s.spec, s.out)
	if err != nil {
		s.log.Error("spawn failed", "error", err)
		metrics.IncCrash(s.name, "spawn")
		s.setState(StateCrashed, nil, err)
		s.scheduleRestart(err)
		return
	}
	s.gen++
	s.child = h
	go s.watch(s.gen, h)
	metrics.IncStart(s.name)
	s.log.Info("service started", "pid", h.PID())
	s.setState(StateRunning, nil, nil)
}

// watch is the single waiter for h.
func (s *Supervisor) watch(gen uint64, h *process.Handle) {
	info := h.Wait()
	select {
	case s.exits <- exitEvent{gen: gen, info: info}:
	case <-s.done:
	}
}

func (s *Supervisor) scheduleRestart(cause error) {
	d := s.bo.NextBackOff()
	if d == backoff.Stop {
		failure := cause
		if s.opts.Policy.Enabled() {
			failure = fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, s.attempt, cause)
		}
		s.log.Error("service failed, not restarting", "error", failure)
		s.update(func(st *Status) { st.Failed = true })
		s.setState(StateStopped, nil, failure)
		s.resetRetries()
		return
	}
	s.attempt++
	at := time.Now().Add(d)
	s.timer = time.NewTimer(d)
	s.timerC = s.timer.C
	s.update(func(st *Status) {
		st.Attempt = s.attempt
		st.NextRestartAt = at
	})
	s.log.Info("restart scheduled", "in", d, "attempt", s.attempt)
}

func (s *Supervisor) cancelTimer() {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer, s.timerC = nil, nil
	s.update(func(st *Status) { st.NextRestartAt = time.Time{} })
}

func (s *Supervisor) resetRetries() {
	s.bo.Reset()
	s.attempt = 0
	s.update(func(st *Status) { st.Attempt = 0 })
}

func (s *Supervisor) releaseOutput() {
	if cl, ok := s.out.(io.Closer); ok {
		_ = cl.Close()
	}
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.status.UpdatedAt = time.Now()
	s.mu.Unlock()
}

// setState moves the machine along one edge. Edges outside the transition
// table are refused and logged.
func (s *Supervisor) setState(to State, exit *process.ExitInfo, err error) bool {
	from := s.state
	if !CanTransition(from, to) {
		s.log.Error("invalid state transition", "from", from, "to", to)
		return false
	}
	s.state = to
	now := time.Now()

	s.mu.Lock()
	st := &s.status
	st.State = to
	st.UpdatedAt = now
	st.Restarts = s.restarts
	switch to {
	case StateRunning:
		st.PID = s.child.PID()
		st.StartedAt = s.child.StartedAt()
		st.Exit = nil
		st.NextRestartAt = time.Time{}
	case StateStarting:
		st.PID = 0
		st.NextRestartAt = time.Time{}
	default:
		st.PID = 0
	}
	var trExit *process.ExitInfo
	if exit != nil {
		e, te := *exit, *exit
		st.Exit, trExit = &e, &te
	}
	if err != nil {
		st.LastError = err.Error()
	}
	tr := Transition{Name: st.Name, From: from, To: to, At: now, PID: st.PID, Exit: trExit, Err: err, Attempt: s.attempt}
	s.mu.Unlock()

	if to == StateStopping && s.child != nil {
		tr.PID = s.child.PID()
	}
	metrics.RecordStateTransition(tr.Name, from.String(), to.String())
	metrics.SetCurrentState(tr.Name, from.String(), false)
	metrics.SetCurrentState(tr.Name, to.String(), true)
	s.log.Debug("state transition", "from", from, "to", to)
	if s.opts.OnTransition != nil {
		s.opts.OnTransition(tr)
	}
	return true
}
