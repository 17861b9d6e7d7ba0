package process

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing child output.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func shSpec(script string) Spec {
	return Spec{Name: "t", Executable: "/bin/sh", Args: []string{"-c", script}, LogPath: "unused.log"}
}

func TestSpawnRedirectsStdoutAndStderr(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	h, err := Spawn(shSpec("echo out; echo err 1>&2"), &out)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if h.PID() <= 0 {
		t.Fatalf("expected pid, got %d", h.PID())
	}
	info := h.Wait()
	if !info.Success() {
		t.Fatalf("expected success, got %v", info)
	}
	got := out.String()
	if !strings.Contains(got, "out\n") || !strings.Contains(got, "err\n") {
		t.Fatalf("output not captured: %q", got)
	}
}

func TestSpawnAppliesWorkDirAndEnv(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	spec := shSpec(`pwd; echo "v=$TRAYVISOR_X"`)
	spec.WorkDir = dir
	spec.Env = []string{"TRAYVISOR_X=42"}
	var out syncBuffer
	h, err := Spawn(spec, &out)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	h.Wait()
	real, _ := filepath.EvalSymlinks(dir)
	got := out.String()
	if !strings.Contains(got, real) && !strings.Contains(got, dir) {
		t.Fatalf("workdir not applied: %q", got)
	}
	if !strings.Contains(got, "v=42") {
		t.Fatalf("env override not applied: %q", got)
	}
}

func TestSpawnMissingExecutable(t *testing.T) {
	spec := Spec{Executable: filepath.Join(t.TempDir(), "nope"), LogPath: "x.log"}
	_, err := Spawn(spec, &bytes.Buffer{})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn, got %v", err)
	}
	var se *SpawnError
	if !errors.As(err, &se) || se.Path != spec.Executable {
		t.Fatalf("expected SpawnError with path, got %#v", err)
	}
}

func TestSpawnNotExecutable(t *testing.T) {
	requireUnix(t)
	p := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(p, []byte("#!/bin/sh\necho hi\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Spawn(Spec{Executable: p, LogPath: "x.log"}, &bytes.Buffer{})
	if !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for non-executable file, got %v", err)
	}
}

func TestSpawnInvalidSpec(t *testing.T) {
	if _, err := Spawn(Spec{}, &bytes.Buffer{}); !errors.Is(err, ErrSpawn) {
		t.Fatalf("expected ErrSpawn for empty spec, got %v", err)
	}
}

func TestWaitReportsExitCode(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec("exit 3"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	info := h.Wait()
	if info.Code != 3 || info.Success() || info.Signal != "" {
		t.Fatalf("unexpected exit info: %+v", info)
	}
	// Wait is repeatable
	if again := h.Wait(); again.Code != 3 {
		t.Fatalf("second Wait differs: %+v", again)
	}
}

func TestTerminateGraceful(t *testing.T) {
	requireUnix(t)
	h, err := Spawn(shSpec("sleep 5"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	start := time.Now()
	h.Terminate(2 * time.Second)
	if time.Since(start) > 1500*time.Millisecond {
		t.Fatalf("SIGTERM should end sleep well before grace")
	}
	info := h.Wait()
	if info.Signal == "" {
		t.Fatalf("expected termination by signal, got %+v", info)
	}
}

func TestTerminateEscalatesToKill(t *testing.T) {
	requireUnix(t)
	var out syncBuffer
	h, err := Spawn(shSpec(`trap '' TERM; echo ready; while :; do sleep 0.05; done`), &out)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for !strings.Contains(out.String(), "ready") && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	start := time.Now()
	h.Terminate(200 * time.Millisecond)
	if el := time.Since(start); el < 200*time.Millisecond {
		t.Fatalf("terminate returned before grace elapsed: %v", el)
	}
	if !h.Exited() {
		t.Fatalf("child must be reaped after Terminate returns")
	}
	if info := h.Wait(); info.Signal == "" {
		t.Fatalf("expected kill signal, got %+v", info)
	}
}

func TestTerminateExitedIsNoop(t *testing.T) {
	requireUnix(t)
	var signals int32
	origTerm, origKill := signalTerm, signalKill
	signalTerm = func(p *os.Process) error { atomic.AddInt32(&signals, 1); return origTerm(p) }
	signalKill = func(p *os.Process) error { atomic.AddInt32(&signals, 1); return origKill(p) }
	defer func() { signalTerm, signalKill = origTerm, origKill }()

	h, err := Spawn(shSpec("exit 0"), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	h.Wait()
	start := time.Now()
	h.Terminate(5 * time.Second)
	h.Terminate(5 * time.Second)
	if time.Since(start) > 100*time.Millisecond {
		t.Fatalf("terminate on exited handle should return immediately")
	}
	if n := atomic.LoadInt32(&signals); n != 0 {
		t.Fatalf("expected no signals, got %d", n)
	}
}

func TestSpecValidateAndClone(t *testing.T) {
	s := Spec{Executable: "/bin/true", LogPath: "o.log", Args: []string{"a"}, Env: []string{"K=V"}}
	if err := s.Validate(); err != nil {
		t.Fatalf("valid spec rejected: %v", err)
	}
	c := s.Clone()
	c.Args[0] = "b"
	c.Env[0] = "K=W"
	if s.Args[0] != "a" || s.Env[0] != "K=V" {
		t.Fatalf("Clone shares slices")
	}
	for _, bad := range []Spec{
		{LogPath: "o.log"},
		{Executable: "/bin/true"},
		{Executable: "/bin/true", LogPath: "o.log", Env: []string{"NOEQ"}},
		{Executable: "/bin/true", LogPath: "o.log", Env: []string{"=v"}},
	} {
		if err := bad.Validate(); err == nil {
			t.Fatalf("expected validation error for %+v", bad)
		}
	}
	if s.Environ() == nil {
		t.Fatalf("Environ must compose when overrides exist")
	}
	if (Spec{}).Environ() != nil {
		t.Fatalf("Environ must be nil without overrides")
	}
}
