package metrics

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one resource reading of the supervised child.
type Sample struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	NumThreads int32     `json:"num_threads"`
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceSampler periodically reads CPU and memory usage of the child via
// gopsutil and exports them as gauges. It only learns the PID through the
// pidFn callback, so it never touches supervisor internals.
type ResourceSampler struct {
	name     string
	interval time.Duration
	pidFn    func() int

	cpu     prometheus.Gauge
	rss     prometheus.Gauge
	threads prometheus.Gauge

	mu      sync.Mutex
	proc    *process.Process
	last    Sample
	hasLast bool
}

func NewResourceSampler(name string, interval time.Duration, pidFn func() int) *ResourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	labels := prometheus.Labels{"name": name}
	return &ResourceSampler{
		name:     name,
		interval: interval,
		pidFn:    pidFn,
		cpu: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trayvisor", Subsystem: "child", Name: "cpu_percent",
			Help: "CPU usage of the supervised child.", ConstLabels: labels,
		}),
		rss: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trayvisor", Subsystem: "child", Name: "rss_bytes",
			Help: "Resident memory of the supervised child.", ConstLabels: labels,
		}),
		threads: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "trayvisor", Subsystem: "child", Name: "threads",
			Help: "Thread count of the supervised child.", ConstLabels: labels,
		}),
	}
}

func (s *ResourceSampler) Register(r prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{s.cpu, s.rss, s.threads} {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Run samples until ctx is cancelled.
func (s *ResourceSampler) Run(ctx context.Context) {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.SampleOnce(); err != nil {
				slog.Debug("resource sample failed", "name", s.name, "error", err)
			}
		}
	}
}

// ErrNoChild is returned by SampleOnce while no child is running.
var ErrNoChild = errors.New("no running child")

// SampleOnce reads the current child once and updates the gauges.
func (s *ResourceSampler) SampleOnce() (Sample, error) {
	pid := s.pidFn()
	s.mu.Lock()
	defer s.mu.Unlock()
	if pid <= 0 {
		s.proc = nil
		s.hasLast = false
		s.cpu.Set(0)
		s.rss.Set(0)
		s.threads.Set(0)
		return Sample{}, ErrNoChild
	}
	// keep the handle between ticks so CPUPercent measures the interval
	if s.proc == nil || s.proc.Pid != int32(pid) {
		p, err := process.NewProcess(int32(pid))
		if err != nil {
			s.proc = nil
			return Sample{}, err
		}
		s.proc = p
	}
	smp := Sample{PID: s.proc.Pid, Timestamp: time.Now()}
	if cpu, err := s.proc.CPUPercent(); err == nil {
		smp.CPUPercent = cpu
	}
	mem, err := s.proc.MemoryInfo()
	if err != nil {
		return Sample{}, err
	}
	smp.RSSBytes = mem.RSS
	if n, err := s.proc.NumThreads(); err == nil {
		smp.NumThreads = n
	}
	s.cpu.Set(smp.CPUPercent)
	s.rss.Set(float64(smp.RSSBytes))
	s.threads.Set(float64(smp.NumThreads))
	s.last, s.hasLast = smp, true
	return smp, nil
}

// Last returns the most recent successful sample.
func (s *ResourceSampler) Last() (Sample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}
