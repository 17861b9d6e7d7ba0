package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/trayvisor/internal/control"
	"github.com/loykin/trayvisor/internal/history"
	"github.com/loykin/trayvisor/internal/supervisor"
)

// Controller is the facade surface exposed over HTTP.
type Controller interface {
	Start() error
	Stop() error
	Status() supervisor.Status
	OpenEndpoint(ctx context.Context) error
	Endpoint() string
}

// HistoryReader lists recent lifecycle events, newest first.
type HistoryReader interface {
	Recent(ctx context.Context, service string, limit int) ([]history.Event, error)
}

// Router provides embeddable HTTP handlers for the supervised service.
// Endpoints:
//
//	GET  {basePath}/status
//	POST {basePath}/start    queues a start, 202
//	POST {basePath}/stop     queues a stop, 202
//	POST {basePath}/open     opens the GUI endpoint in the default handler
//	GET  {basePath}/history  query: limit=N (only with a HistoryReader)
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	hist     HistoryReader
	metrics  http.Handler
	basePath string
}

type Option func(*Router)

func WithHistory(h HistoryReader) Option { return func(r *Router) { r.hist = h } }

// WithMetrics mounts h at /metrics outside basePath.
func WithMetrics(h http.Handler) Option { return func(r *Router) { r.metrics = h } }

// NewRouter constructs a new Router with configurable basePath.
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/open", r.handleOpen)
	if r.hist != nil {
		group.GET("/history", r.handleHistory)
	}
	if r.metrics != nil {
		g.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// Listen binds addr and serves h in the background. Bind errors are returned
// synchronously; use Shutdown on the result to stop it.
func Listen(addr string, h http.Handler) (*http.Server, net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	srv := &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	return srv, ln.Addr(), nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type openResp struct {
	OK  bool   `json:"ok"`
	URL string `json:"url"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.ctl.Start(); err != nil {
		writeJSON(c, lifecycleCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	if err := r.ctl.Stop(); err != nil {
		writeJSON(c, lifecycleCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusAccepted, okResp{OK: true})
}

func (r *Router) handleOpen(c *gin.Context) {
	if err := r.ctl.OpenEndpoint(c.Request.Context()); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, control.ErrOpenEndpoint) {
			code = http.StatusBadGateway
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, openResp{OK: true, URL: r.ctl.Endpoint()})
}

func (r *Router) handleHistory(c *gin.Context) {
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 1000"})
			return
		}
		limit = n
	}
	evs, err := r.hist.Recent(c.Request.Context(), r.ctl.Status().Name, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	if evs == nil {
		evs = []history.Event{}
	}
	writeJSON(c, http.StatusOK, evs)
}

func lifecycleCode(err error) int {
	if errors.Is(err, supervisor.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
