// Command workflowd runs the durable state-rotation workflow engine as a
// standalone process: it loads a flow document and process config, opens
// the context store, wires the engine/executor/httpapi facades together,
// and serves until an interrupt signal, grounded on the teacher's
// cmd/enterprise/main.go application-assembly shape.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/statewheel/engine/engine"
	"github.com/statewheel/engine/internal/config"
	"github.com/statewheel/engine/internal/corebus"
	"github.com/statewheel/engine/internal/corelog"
	"github.com/statewheel/engine/internal/db"
	"github.com/statewheel/engine/internal/executor"
	"github.com/statewheel/engine/internal/flow"
	"github.com/statewheel/engine/internal/httpapi"
	"github.com/statewheel/engine/internal/metrics"
	"github.com/statewheel/engine/internal/notify"
	"github.com/statewheel/engine/internal/tracing"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := corelog.New()

	cfg := config.Defaults()
	configPath := getEnv("CONFIG_PATH", "config.yaml")
	if _, err := os.Stat(configPath); err == nil {
		if err := config.LoadWithEnv(configPath, "STATEWHEEL", &cfg, config.Validators()...); err != nil {
			log.Fatalf("load config: %v", err)
		}
	} else if err := config.ApplyEnvOverrides("STATEWHEEL", &cfg); err != nil {
		log.Fatalf("apply env overrides: %v", err)
	}

	shutdown, err := run(ctx, cfg, logger)
	if err != nil {
		logger.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	shutdown(shutdownCtx)
}

func run(ctx context.Context, cfg config.EngineConfig, logger corelog.Logger) (func(context.Context), error) {
	flowCfg, err := flow.LoadFile(cfg.FlowPath)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(db.PoolConfig{
		DriverName:      cfg.Store.Driver,
		DSN:             cfg.Store.DSN,
		MaxOpenConns:    cfg.Store.MaxOpenConns,
		MaxIdleConns:    cfg.Store.MaxIdleConns,
		ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	tracer, tracerShutdown, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.Warnf("tracing disabled: %v", err)
		tracer = nil
	}

	notifier, err := notify.Connect(cfg.Notify)
	if err != nil {
		logger.Warnf("notify publisher disabled: %v", err)
		notifier = nil
	}

	bus := corebus.New()
	m := metrics.New(metrics.DefaultRegisterer)

	handlers := registerHandlers(logger)

	e, err := engine.New(ctx, flowCfg, pool, handlers, logger)
	if err != nil {
		return nil, err
	}
	e.WithMetrics(m).WithBus(bus)
	if tracer != nil {
		e.WithTracer(tracer)
	}
	if notifier != nil {
		e.WithNotifier(notifier)
	}

	x := executor.New(logger)
	x.WithMetrics(m)
	x.RegisterEngine(e)

	pausedIDs, err := e.Store().FindPausedInstances(ctx)
	if err != nil {
		logger.Warnf("could not list paused instances: %v", err)
	} else if err := x.RestorePausedInstances(ctx, e, pausedIDs); err != nil {
		logger.Warnf("could not restore paused instances: %v", err)
	}
	go x.StartTimeoutMonitor(ctx)

	server := httpapi.New(e, x, bus, flowCfg, m, logger, cfg.HTTP)
	go func() {
		logger.Infof("serving HTTP on %s", cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != nil {
			logger.Errorf("http server stopped: %v", err)
		}
	}()

	ws := httpapi.NewWSServer(bus, logger, wsAddr(cfg.HTTP.Address))
	go func() {
		if err := ws.ListenAndServe(); err != nil {
			logger.Warnf("websocket server stopped: %v", err)
		}
	}()

	return func(shutdownCtx context.Context) {
		x.StopAll()
		_ = server.Shutdown()
		_ = ws.Shutdown()
		if notifier != nil {
			_ = notifier.Close()
		}
		if tracerShutdown != nil {
			_ = tracerShutdown(shutdownCtx)
		}
		_ = pool.Close()
	}, nil
}

// registerHandlers returns the handler registry for the deployed flow. The
// business handlers themselves (what a transfer or registration state
// actually does) are an external collaborator, not part of this engine —
// an operator plugs their own flow.Spec values in here per deployment.
func registerHandlers(logger corelog.Logger) []flow.Spec {
	return []flow.Spec{}
}

// wsAddr derives the websocket bridge's listen address from the HTTP
// facade's by convention: one port above it, e.g. ":8080" -> ":8081".
func wsAddr(httpAddr string) string {
	if len(httpAddr) == 0 || httpAddr[0] != ':' {
		return httpAddr
	}
	port, err := strconv.Atoi(httpAddr[1:])
	if err != nil {
		return httpAddr
	}
	return ":" + strconv.Itoa(port+1)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
