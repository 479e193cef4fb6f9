package httpapi

import (
	"fmt"
	"strconv"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/statewheel/engine/internal/corelog"
	"github.com/statewheel/engine/internal/metrics"
)

// Recovery recovers from panics in a handler and returns a 500, grounded on
// the teacher's pkg/web/middleware/recovery.go.
func Recovery(log corelog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestContext) (err error) {
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(map[string]interface{}{
						"request_id": ctx.RequestID(),
						"method":     string(ctx.RequestCtx.Method()),
						"path":       string(ctx.RequestCtx.Path()),
						"panic":      r,
					}).Errorf("panic recovered: %v", r)

					ctx.RequestCtx.SetStatusCode(fasthttp.StatusInternalServerError)
					ctx.RequestCtx.SetContentType("application/json")
					_, _ = ctx.RequestCtx.WriteString(fmt.Sprintf(
						`{"error":"internal_server_error","request_id":"%s"}`, ctx.RequestID()))
				}
			}()
			return next(ctx)
		}
	}
}

// RequestMetrics records HTTP request counts and latency via m.
func RequestMetrics(m *metrics.Metrics) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			if m == nil {
				return next(ctx)
			}
			start := time.Now()
			path := string(ctx.RequestCtx.Path())
			method := string(ctx.RequestCtx.Method())
			err := next(ctx)
			status := strconv.Itoa(ctx.RequestCtx.Response.StatusCode())
			m.RecordHTTPRequest(method, path, status, time.Since(start))
			return err
		}
	}
}

// Logging logs each request at Info level, grounded on the teacher's
// request-logging middleware pattern.
func Logging(log corelog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			start := time.Now()
			err := next(ctx)
			log.WithFields(map[string]interface{}{
				"method":      string(ctx.RequestCtx.Method()),
				"path":        string(ctx.RequestCtx.Path()),
				"status":      ctx.RequestCtx.Response.StatusCode(),
				"duration_ms": time.Since(start).Milliseconds(),
				"request_id":  ctx.RequestID(),
			}).Info("http request")
			return err
		}
	}
}
