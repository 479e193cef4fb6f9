package httpapi

import (
	"testing"
	"time"
)

func TestRateLimit_AllowsWithinBurstThenRejects(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		Burst:             2,
		IdleTTL:           time.Minute,
		KeyFunc:           func(ctx *RequestContext) string { return "fixed-key" },
	}

	r := NewRouter()
	r.GET("/x", func(ctx *RequestContext) error {
		return ctx.JSON(200, nil)
	}, RateLimit(cfg))

	client, cleanup := newInMemoryFastHTTP(t, r.Serve)
	defer cleanup()

	var statuses []int
	for i := 0; i < 3; i++ {
		status, _ := doRequest(t, client, "GET", "http://unused/x", "", nil)
		statuses = append(statuses, status)
	}

	if statuses[0] != 200 || statuses[1] != 200 {
		t.Fatalf("expected first two requests within burst to succeed, got %v", statuses)
	}
	if statuses[2] != 429 {
		t.Fatalf("expected third request to be rate limited, got %v", statuses)
	}
}
