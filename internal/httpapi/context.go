// Package httpapi is the external facade (C7): a fasthttp-based HTTP server
// exposing the engine/executor to callers, grounded on the teacher's
// pkg/web fasthttp_server.go/fast_router.go request-context and routing
// patterns. The full bounded-mailbox/executor backpressure controller the
// teacher wraps around fasthttp is not reproduced here — this facade hands
// requests straight to fasthttp's own worker pool, since instance volume at
// this engine's scope does not warrant a second queueing layer on top of it.
package httpapi

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/valyala/fasthttp"
)

// RequestContext wraps a fasthttp.RequestCtx the way the teacher's
// FastRequestContext wraps one, plus path params extracted by the router.
type RequestContext struct {
	*fasthttp.RequestCtx
	params map[string]string
}

// Context returns a plain context.Context for downstream engine/executor
// calls. fasthttp.RequestCtx objects are pooled and reused once a handler
// returns, so — matching the teacher's own FastRequestContext.Context() —
// this builds a fresh context.Background() rather than handing the pooled
// RequestCtx itself through as a context.Context.
func (c *RequestContext) Context() context.Context {
	return context.Background()
}

// Param returns a named path parameter, or "" if absent.
func (c *RequestContext) Param(name string) string {
	return c.params[name]
}

// Query returns a query string value, or "" if absent.
func (c *RequestContext) Query(name string) string {
	return string(c.RequestCtx.QueryArgs().Peek(name))
}

// RequestID returns the X-Request-ID header, falling back to the fasthttp
// connection id so every request can be correlated in logs/metrics.
func (c *RequestContext) RequestID() string {
	if id := string(c.RequestCtx.Request.Header.Peek("X-Request-ID")); id != "" {
		return id
	}
	return strconv.FormatUint(c.RequestCtx.ConnID(), 10)
}

// JSON writes v as a JSON response body with the given status code.
func (c *RequestContext) JSON(status int, v interface{}) error {
	c.RequestCtx.SetStatusCode(status)
	c.RequestCtx.SetContentType("application/json")
	return json.NewEncoder(c.RequestCtx).Encode(v)
}

// BindJSON decodes the request body into v.
func (c *RequestContext) BindJSON(v interface{}) error {
	return json.Unmarshal(c.RequestCtx.PostBody(), v)
}

// Error writes a structured {"error": ...} response.
func (c *RequestContext) Error(status int, code, message string) error {
	return c.JSON(status, map[string]string{"error": code, "message": message})
}
