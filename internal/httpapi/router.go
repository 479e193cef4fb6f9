package httpapi

import (
	"strings"

	"github.com/valyala/fasthttp"
)

// Handler processes a request; a returned error is passed to the router's
// error callback, which by default writes a 500 "internal_error" body
// without logging it or checking for a response already written.
type Handler func(ctx *RequestContext) error

// Middleware wraps a Handler with cross-cutting behavior (auth, rate
// limiting, recovery, metrics) the way the teacher's FastMiddleware does.
type Middleware func(Handler) Handler

type route struct {
	method  string
	segs    []string
	handler Handler
}

// Router matches method+path to a Handler, with route-then-global
// middleware chaining, mirroring the teacher's fastRouter.ServeFastHTTP.
type Router struct {
	routes  []route
	mws     []Middleware
	onError func(*RequestContext, error)
}

// NewRouter creates an empty Router.
func NewRouter() *Router {
	return &Router{onError: defaultOnError}
}

func defaultOnError(ctx *RequestContext, err error) {
	_ = ctx.Error(fasthttp.StatusInternalServerError, "internal_error", err.Error())
}

// Use appends a global middleware applied to every route; the first one
// registered is outermost (matches the teacher's reverse-iteration wrapping).
func (r *Router) Use(mw Middleware) {
	r.mws = append(r.mws, mw)
}

// Handle registers h for method+path. path segments prefixed with ':' are
// wildcard params, e.g. "/instances/:id".
func (r *Router) Handle(method, path string, h Handler, mws ...Middleware) {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	r.routes = append(r.routes, route{method: method, segs: splitPath(path), handler: h})
}

func (r *Router) GET(path string, h Handler, mws ...Middleware)  { r.Handle("GET", path, h, mws...) }
func (r *Router) POST(path string, h Handler, mws ...Middleware) { r.Handle("POST", path, h, mws...) }

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchPath(segs []string, reqSegs []string) (map[string]string, bool) {
	if len(segs) != len(reqSegs) {
		return nil, false
	}
	var params map[string]string
	for i, seg := range segs {
		if strings.HasPrefix(seg, ":") {
			if params == nil {
				params = make(map[string]string)
			}
			params[seg[1:]] = reqSegs[i]
			continue
		}
		if seg != reqSegs[i] {
			return nil, false
		}
	}
	return params, true
}

// Serve is a fasthttp.RequestHandler that dispatches to the matching route.
func (r *Router) Serve(fctx *fasthttp.RequestCtx) {
	method := string(fctx.Method())
	reqSegs := splitPath(string(fctx.Path()))

	for _, rt := range r.routes {
		if rt.method != method {
			continue
		}
		params, ok := matchPath(rt.segs, reqSegs)
		if !ok {
			continue
		}
		ctx := &RequestContext{RequestCtx: fctx, params: params}
		h := rt.handler
		for i := len(r.mws) - 1; i >= 0; i-- {
			h = r.mws[i](h)
		}
		if err := h(ctx); err != nil {
			r.onError(ctx, err)
		}
		return
	}

	fctx.SetStatusCode(fasthttp.StatusNotFound)
	fctx.SetContentType("application/json")
	_, _ = fctx.WriteString(`{"error":"not_found"}`)
}
