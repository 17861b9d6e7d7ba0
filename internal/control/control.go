package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/loykin/trayvisor/internal/supervisor"
)

// DefaultEndpoint is where the supervised GUI serves its page.
const DefaultEndpoint = "http://127.0.0.1:10086"

// DefaultShutdownGrace bounds Facade.Shutdown when the caller's context has no deadline.
const DefaultShutdownGrace = 5 * time.Second

// Service is the part of the supervisor the facade drives.
type Service interface {
	Start() error
	Stop() error
	StopAndWait(ctx context.Context) error
	Shutdown(ctx context.Context) error
	Status() supervisor.Status
}

// Facade is the only entry point a UI uses. Start and Stop queue work and
// return at once, Status is a snapshot, and OpenEndpoint never touches
// supervision. All methods are safe for concurrent use.
type Facade struct {
	svc      Service
	endpoint string
	opener   Opener
	grace    time.Duration
	log      *slog.Logger
}

type Option func(*Facade)

// WithOpener replaces the platform default-handler opener.
func WithOpener(o Opener) Option { return func(f *Facade) { f.opener = o } }

// WithShutdownGrace sets the fallback bound used by Shutdown.
func WithShutdownGrace(d time.Duration) Option {
	return func(f *Facade) {
		if d > 0 {
			f.grace = d
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) {
		if l != nil {
			f.log = l
		}
	}
}

func New(svc Service, endpoint string, opts ...Option) (*Facade, error) {
	if svc == nil {
		return nil, errors.New("service is required")
	}
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	f := &Facade{
		svc:      svc,
		endpoint: u.String(),
		opener:   SystemOpener{},
		grace:    DefaultShutdownGrace,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f, nil
}

func (f *Facade) Start() error { return f.svc.Start() }

func (f *Facade) Stop() error { return f.svc.Stop() }

func (f *Facade) Status() supervisor.Status { return f.svc.Status() }

func (f *Facade) Endpoint() string { return f.endpoint }

// OpenEndpoint hands the endpoint URL to the platform's default handler.
// No health check is made first. Failures come back as *OpenEndpointError
// and leave the supervised service untouched.
func (f *Facade) OpenEndpoint(ctx context.Context) error {
	if err := f.opener.Open(ctx, f.endpoint); err != nil {
		f.log.Warn("open endpoint failed", "url", f.endpoint, "error", err)
		return &OpenEndpointError{URL: f.endpoint, Err: err}
	}
	f.log.Info("opened endpoint", "url", f.endpoint)
	return nil
}

// Shutdown stops the child with a bounded wait and releases the supervisor.
// Call it once before the application exits.
func (f *Facade) Shutdown(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.grace)
		defer cancel()
	}
	if err := f.svc.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown service: %w", err)
	}
	return nil
}
