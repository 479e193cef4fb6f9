package main

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/statewheel/engine/internal/config"
	"github.com/statewheel/engine/internal/corelog"
)

func TestWsAddr(t *testing.T) {
	tests := []struct {
		name     string
		httpAddr string
		want     string
	}{
		{name: "increments bare port", httpAddr: ":8080", want: ":8081"},
		{name: "increments single digit port", httpAddr: ":9", want: ":10"},
		{name: "returns input unchanged when not colon-prefixed", httpAddr: "localhost:8080", want: "localhost:8080"},
		{name: "returns input unchanged when not numeric", httpAddr: ":http", want: ":http"},
		{name: "returns empty input unchanged", httpAddr: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := wsAddr(tt.httpAddr); got != tt.want {
				t.Errorf("wsAddr(%q) = %q, want %q", tt.httpAddr, got, tt.want)
			}
		})
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		setEnv       bool
		expected     string
	}{
		{
			name:         "returns default when env not set",
			key:          "WORKFLOWD_TEST_KEY_NOT_SET",
			defaultValue: "default",
			expected:     "default",
		},
		{
			name:         "returns env value when set",
			key:          "WORKFLOWD_TEST_KEY_SET",
			defaultValue: "default",
			envValue:     "overridden",
			setEnv:       true,
			expected:     "overridden",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				os.Setenv(tt.key, tt.envValue)
				defer os.Unsetenv(tt.key)
			}
			if got := getEnv(tt.key, tt.defaultValue); got != tt.expected {
				t.Errorf("getEnv() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestRun_ReturnsWithoutBlocking guards against run() never reaching its
// HTTP/WS wiring: every blocking background loop it starts (the timeout
// monitor, the HTTP server, the websocket bridge) must run in its own
// goroutine so run() itself returns promptly with a shutdown closure.
func TestRun_ReturnsWithoutBlocking(t *testing.T) {
	cfg := config.Defaults()
	cfg.FlowPath = "../../examples/flows/transfer.yaml"
	cfg.Store.Driver = "sqlite3"
	cfg.Store.DSN = "file::memory:?cache=shared"
	cfg.HTTP.Address = ":0"
	cfg.Tracing.Exporter = "none"
	cfg.Notify.Enabled = false

	logger := corelog.New()

	done := make(chan struct{})
	var shutdown func(context.Context)
	var runErr error
	go func() {
		shutdown, runErr = run(context.Background(), cfg, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run() did not return within 5s; a background loop is blocking startup")
	}

	if runErr != nil {
		t.Fatalf("run() error = %v", runErr)
	}
	if shutdown == nil {
		t.Fatal("run() returned a nil shutdown func")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	shutdown(shutdownCtx)
}

func TestRegisterHandlers(t *testing.T) {
	logger := corelog.New()
	handlers := registerHandlers(logger)
	if handlers == nil {
		t.Fatal("registerHandlers() returned nil, want an (empty) slice")
	}
	if len(handlers) != 0 {
		t.Errorf("registerHandlers() = %d handlers, want 0 (operator extension point)", len(handlers))
	}
}
