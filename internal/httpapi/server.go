package httpapi

import (
	"github.com/valyala/fasthttp"

	"github.com/statewheel/engine/engine"
	"github.com/statewheel/engine/internal/config"
	"github.com/statewheel/engine/internal/corebus"
	"github.com/statewheel/engine/internal/corelog"
	"github.com/statewheel/engine/internal/executor"
	"github.com/statewheel/engine/internal/flow"
	"github.com/statewheel/engine/internal/metrics"
)

// Server is the C7 external facade: a fasthttp server exposing the engine
// and executor over HTTP plus a websocket push bridge, grounded on the
// teacher's pkg/web.FastHTTPServer wiring (minus its backpressure layer,
// see the package doc comment in context.go).
type Server struct {
	Engine   *engine.Engine
	Executor *executor.Executor
	Bus      *corebus.Bus

	flowCfg *flow.FlowConfig
	log     corelog.Logger
	metrics *metrics.Metrics

	router *Router
	fast   *fasthttp.Server
	addr   string
}

// New builds a Server wired against the given engine/executor/bus and
// listening on cfg.Address. If cfg.JWTSecret is empty, JWT auth is skipped
// entirely (useful for local/dev and for the example flows' smoke tests).
func New(e *engine.Engine, x *executor.Executor, bus *corebus.Bus, flowCfg *flow.FlowConfig, m *metrics.Metrics, log corelog.Logger, cfg config.HTTPConfig) *Server {
	s := &Server{
		Engine:   e,
		Executor: x,
		Bus:      bus,
		flowCfg:  flowCfg,
		log:      log,
		metrics:  m,
		addr:     cfg.Address,
	}

	r := NewRouter()
	r.Use(Recovery(log))
	r.Use(Logging(log))
	r.Use(RequestMetrics(m))

	rl := DefaultRateLimitConfig()
	if cfg.RateLimitRPS > 0 {
		rl.RequestsPerSecond = cfg.RateLimitRPS
	}
	if cfg.RateLimitBurst > 0 {
		rl.Burst = cfg.RateLimitBurst
	}
	r.Use(RateLimit(rl))

	var authMW []Middleware
	if cfg.JWTSecret != "" {
		jc := DefaultJWTConfig()
		jc.SecretKey = []byte(cfg.JWTSecret)
		authMW = append(authMW, JWT(jc))
	}

	r.GET("/healthz", s.handleHealth)
	r.GET("/flows/:id/diagram", s.handleDiagram)
	r.GET("/instances/paused", s.handlePaused, authMW...)
	r.POST("/instances", s.handleStart, authMW...)
	r.GET("/instances/:id", s.handleStatus, authMW...)
	r.POST("/instances/:id/events", s.handleEvent, authMW...)
	r.POST("/instances/:id/submit", s.handleSubmit, authMW...)
	r.POST("/instances/:id/force", s.handleForceTransition, authMW...)

	s.router = r
	s.fast = &fasthttp.Server{
		Handler:      r.Serve,
		Name:         "statewheel",
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks serving HTTP until the listener fails or Shutdown
// is called from another goroutine.
func (s *Server) ListenAndServe() error {
	return s.fast.ListenAndServe(s.addr)
}

// Shutdown gracefully stops the fasthttp server.
func (s *Server) Shutdown() error {
	return s.fast.Shutdown()
}
