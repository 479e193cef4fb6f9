package httpapi

import (
	"net"
	"testing"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newInMemoryFastHTTP(t *testing.T, handler fasthttp.RequestHandler) (*fasthttp.Client, func()) {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}

	done := make(chan struct{})
	go func() {
		_ = srv.Serve(ln)
		close(done)
	}()

	client := &fasthttp.Client{
		Dial: func(addr string) (net.Conn, error) { return ln.Dial() },
	}

	cleanup := func() {
		_ = ln.Close()
		_ = srv.Shutdown()
		<-done
	}

	return client, cleanup
}

func doRequest(t *testing.T, client *fasthttp.Client, method, url, body string, headers map[string]string) (int, string) {
	t.Helper()
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	if body != "" {
		req.SetBodyString(body)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	if err := client.Do(req, resp); err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp.StatusCode(), string(resp.Body())
}

func TestRouter_MatchesParamRoute(t *testing.T) {
	r := NewRouter()
	r.GET("/instances/:id", func(ctx *RequestContext) error {
		return ctx.JSON(200, map[string]string{"id": ctx.Param("id")})
	})

	client, cleanup := newInMemoryFastHTTP(t, r.Serve)
	defer cleanup()

	status, body := doRequest(t, client, "GET", "http://unused/instances/abc-123", "", nil)
	if status != 200 {
		t.Fatalf("expected 200, got %d: %s", status, body)
	}
	if body != `{"id":"abc-123"}`+"\n" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestRouter_NoMatchReturns404(t *testing.T) {
	r := NewRouter()
	client, cleanup := newInMemoryFastHTTP(t, r.Serve)
	defer cleanup()

	status, _ := doRequest(t, client, "GET", "http://unused/nope", "", nil)
	if status != 404 {
		t.Fatalf("expected 404, got %d", status)
	}
}

func TestRouter_MiddlewareChainRunsGlobalThenRoute(t *testing.T) {
	var order []string
	r := NewRouter()
	r.Use(func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			order = append(order, "global")
			return next(ctx)
		}
	})
	r.GET("/x", func(ctx *RequestContext) error {
		order = append(order, "handler")
		return ctx.JSON(200, nil)
	}, func(next Handler) Handler {
		return func(ctx *RequestContext) error {
			order = append(order, "route")
			return next(ctx)
		}
	})

	client, cleanup := newInMemoryFastHTTP(t, r.Serve)
	defer cleanup()

	doRequest(t, client, "GET", "http://unused/x", "", nil)

	want := []string{"global", "route", "handler"}
	if len(order) != len(want) {
		t.Fatalf("unexpected order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected order: %v", order)
		}
	}
}
