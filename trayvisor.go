package trayvisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/trayvisor/internal/config"
	"github.com/loykin/trayvisor/internal/control"
	"github.com/loykin/trayvisor/internal/history"
	"github.com/loykin/trayvisor/internal/history/factory"
	"github.com/loykin/trayvisor/internal/lock"
	"github.com/loykin/trayvisor/internal/logger"
	"github.com/loykin/trayvisor/internal/metrics"
	"github.com/loykin/trayvisor/internal/process"
	iapi "github.com/loykin/trayvisor/internal/server"
	"github.com/loykin/trayvisor/internal/supervisor"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = config.Config

type Spec = process.Spec

type ExitInfo = process.ExitInfo

type Status = supervisor.Status

type State = supervisor.State

type RestartPolicy = supervisor.RestartPolicy

type Transition = supervisor.Transition

type Opener = control.Opener

type Facade = control.Facade

const (
	StateStopped  = supervisor.StateStopped
	StateStarting = supervisor.StateStarting
	StateRunning  = supervisor.StateRunning
	StateStopping = supervisor.StateStopping
	StateCrashed  = supervisor.StateCrashed
)

var (
	ErrAlreadyRunning = lock.ErrAlreadyRunning
	ErrIO             = logger.ErrIO
	ErrSpawn          = process.ErrSpawn
	ErrOpenEndpoint   = control.ErrOpenEndpoint
	ErrUnexpectedExit = supervisor.ErrUnexpectedExit
)

func DefaultConfig() Config { return config.Default() }

func LoadConfig(path string) (Config, error) { return config.Load(path) }

// Options customize NewApp. The zero value uses the process-wide defaults.
type Options struct {
	Logger     *slog.Logger
	Opener     control.Opener
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// OnTransition is called after history and logging for every state change.
	OnTransition func(Transition)
}

// App is the composition root: it owns the instance lock, the output sink,
// the supervisor and everything observing it.
type App struct {
	cfg Config
	log *slog.Logger

	lock     *lock.Lock
	sink     *logger.Sink
	sup      *supervisor.Supervisor
	facade   *control.Facade
	sampler  *metrics.ResourceSampler
	recorder *history.Recorder
	histSink history.Sink

	control     *http.Server
	controlAddr net.Addr
	metricsSrv  *http.Server
	metricsAddr net.Addr

	closeOnce sync.Once
	closeErr  error
}

// NewApp acquires the instance lock, opens the output log and wires the
// supervisor. Only lock and log failures are fatal; a broken history store is
// logged and skipped.
func NewApp(cfg Config, opts Options) (app *App, err error) {
	lg := opts.Logger
	if lg == nil {
		lg = slog.Default()
	}
	a := &App{cfg: cfg, log: lg}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	if a.lock, err = lock.Acquire(cfg.LockPath()); err != nil {
		return nil, err
	}
	spec, err := cfg.ServiceSpec()
	if err != nil {
		return nil, fmt.Errorf("service spec: %w", err)
	}
	if a.sink, err = logger.OpenSink(spec.LogPath, cfg.Output); err != nil {
		return nil, err
	}

	reg, gat := opts.Registerer, opts.Gatherer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if gat == nil {
		gat = prometheus.DefaultGatherer
	}
	if err := metrics.Register(reg); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	if cfg.History.Enabled {
		hs, herr := factory.NewSinkFromDSN(cfg.HistoryDSN())
		if herr != nil {
			lg.Warn("history disabled", "error", herr)
		} else {
			a.histSink = hs
			a.recorder = history.NewRecorder(hs, 128, lg)
		}
	}

	a.sup, err = supervisor.New(spec, a.sink, supervisor.Options{
		Grace:        cfg.Grace,
		Policy:       cfg.Restart,
		Logger:       lg,
		OnTransition: a.observer(opts.OnTransition),
	})
	if err != nil {
		return nil, err
	}

	a.sampler = metrics.NewResourceSampler(spec.DisplayName(), cfg.Metrics.SampleInterval, func() int {
		return a.sup.Status().PID
	})
	if err := a.sampler.Register(reg); err != nil {
		return nil, fmt.Errorf("register sampler: %w", err)
	}

	fopts := []control.Option{control.WithLogger(lg), control.WithShutdownGrace(cfg.Grace + 2*time.Second)}
	if opts.Opener != nil {
		fopts = append(fopts, control.WithOpener(opts.Opener))
	}
	if a.facade, err = control.New(a.sup, cfg.Endpoint, fopts...); err != nil {
		return nil, err
	}

	// metrics share the control listener when both name the same address
	sharedMetrics := cfg.Control.Enabled && cfg.Metrics.Listen != "" && cfg.Metrics.Listen == cfg.Control.Listen
	if cfg.Control.Enabled {
		var ropts []iapi.Option
		if hr, ok := a.histSink.(iapi.HistoryReader); ok {
			ropts = append(ropts, iapi.WithHistory(hr))
		}
		if sharedMetrics {
			ropts = append(ropts, iapi.WithMetrics(metrics.HandlerFor(gat)))
		}
		h := iapi.NewRouter(a.facade, "/api", ropts...).Handler()
		if a.control, a.controlAddr, err = iapi.Listen(cfg.Control.Listen, h); err != nil {
			return nil, fmt.Errorf("control api: %w", err)
		}
		lg.Info("control api listening", "addr", a.controlAddr.String())
	}
	if sharedMetrics {
		a.metricsAddr = a.controlAddr
	} else if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HandlerFor(gat))
		if a.metricsSrv, a.metricsAddr, err = iapi.Listen(cfg.Metrics.Listen, mux); err != nil {
			return nil, fmt.Errorf("metrics: %w", err)
		}
		lg.Info("metrics listening", "addr", a.metricsAddr.String())
	}
	return a, nil
}

func (a *App) observer(extra func(Transition)) func(Transition) {
	return func(tr Transition) {
		if a.recorder != nil {
			a.recorder.Observe(tr)
		}
		if extra != nil {
			extra(tr)
		}
	}
}

func (a *App) Config() Config { return a.cfg }

// Facade is what a UI calls.
func (a *App) Facade() *control.Facade { return a.facade }

// ControlAddr is the bound control API address, or nil when disabled.
func (a *App) ControlAddr() net.Addr { return a.controlAddr }

// MetricsAddr is the bound metrics address, or nil when disabled.
func (a *App) MetricsAddr() net.Addr { return a.metricsAddr }

// Run starts the service when auto_start is set and blocks until ctx ends,
// then shuts everything down within the configured grace.
func (a *App) Run(ctx context.Context) error {
	if a.cfg.Service.AutoStart {
		if err := a.facade.Start(); err != nil {
			return err
		}
	}
	sctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.sampler.Run(sctx)

	<-ctx.Done()
	a.log.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.Grace+5*time.Second)
	defer cancelShutdown()
	return a.Close(shutdownCtx)
}

// Close stops the child and releases every resource. It is idempotent.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() { a.closeErr = a.release(ctx) })
	return a.closeErr
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	for _, srv := range []*http.Server{a.control, a.metricsSrv} {
		if srv != nil {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	switch {
	case a.facade != nil:
		errs = append(errs, a.facade.Shutdown(ctx))
	case a.sup != nil:
		errs = append(errs, a.sup.Shutdown(ctx))
	case a.sink != nil:
		errs = append(errs, a.sink.Close())
	}
	errs = append(errs, a.closeHistory(ctx))
	if a.lock != nil {
		errs = append(errs, a.lock.Release())
	}
	return errors.Join(errs...)
}

// closeHistory releases the recorder and its sink once the supervisor loop has
// ended, since the loop still reports transitions until then. When ctx expires
// first the release is left to a goroutine waiting on the loop.
func (a *App) closeHistory(ctx context.Context) error {
	if a.recorder == nil && a.histSink == nil {
		return nil
	}
	if a.sup == nil {
		return a.releaseHistory(ctx)
	}
	select {
	case <-a.sup.Done():
		return a.releaseHistory(ctx)
	default:
	}
	go func() {
		<-a.sup.Done()
		bg, cancel := context.WithTimeout(context.Background(), history.DefaultSendTimeout)
		defer cancel()
		if err := a.releaseHistory(bg); err != nil {
			a.log.Warn("close history", "error", err)
		}
	}()
	return nil
}

func (a *App) releaseHistory(ctx context.Context) error {
	var errs []error
	if a.recorder != nil {
		errs = append(errs, a.recorder.Close(ctx))
	}
	if c, ok := a.histSink.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
