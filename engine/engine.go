// Package engine implements C5, the facade that coordinates the in-memory
// state machine (C4) with the durable context store (C1), grounded on the
// teacher's statemachine.Engine but rebuilt around a single consistent type
// system.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/statewheel/engine/internal/corebus"
	"github.com/statewheel/engine/internal/corelog"
	"github.com/statewheel/engine/internal/db"
	"github.com/statewheel/engine/internal/flow"
	"github.com/statewheel/engine/internal/metrics"
	"github.com/statewheel/engine/internal/notify"
	"github.com/statewheel/engine/internal/store"
	"github.com/statewheel/engine/internal/tracing"
)

// Engine coordinates one flow definition's machine against a store,
// caching in-memory views of in-flight instances (read-through cache).
type Engine struct {
	ID      string
	Flow    *flow.FlowConfig
	machine *flow.Machine
	store   *store.Store
	log     corelog.Logger

	mu        sync.RWMutex
	instances map[string]*flow.StateContext

	// writers serializes Process/ForceTransition per instance id so two
	// callers (e.g. the durable loop and an external triggerEvent) never
	// race on the same instance's step (spec.md invariant I4).
	writers singleflight.Group

	metrics  *metrics.Metrics
	tracer   trace.Tracer
	notifier *notify.Publisher
	bus      *corebus.Bus
}

// WithBus attaches an in-process Bus; each persisted transition is
// published locally on "<instanceId>" regardless of whether a NATS notifier
// is also attached, so the httpapi websocket bridge works without NATS.
func (e *Engine) WithBus(b *corebus.Bus) *Engine {
	e.bus = b
	return e
}

// WithMetrics attaches a Metrics collector; Process/Start/RunUntilComplete
// record against it when set. Returns e for chaining.
func (e *Engine) WithMetrics(m *metrics.Metrics) *Engine {
	e.metrics = m
	return e
}

// WithTracer attaches an OpenTelemetry tracer; each Process/ForceTransition
// step opens a child span when set.
func (e *Engine) WithTracer(t trace.Tracer) *Engine {
	e.tracer = t
	return e
}

// WithNotifier attaches a NATS transition publisher; each persisted
// transition is published to it when set.
func (e *Engine) WithNotifier(n *notify.Publisher) *Engine {
	e.notifier = n
	return e
}

// FromConfig loads a flow document, opens a store atop pool, builds the
// handler registry from specs, and wires C4 (spec.md §4.5 fromConfig).
func FromConfig(ctx context.Context, configPath string, pool *db.Pool, handlers []flow.Spec, log corelog.Logger) (*Engine, error) {
	cfg, err := flow.LoadFile(configPath)
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg, pool, handlers, log)
}

// New builds an Engine directly from an already-loaded FlowConfig.
func New(ctx context.Context, cfg *flow.FlowConfig, pool *db.Pool, handlers []flow.Spec, log corelog.Logger) (*Engine, error) {
	if log == nil {
		log = corelog.Noop()
	}
	st := store.New(pool)
	if err := st.Migrate(ctx); err != nil {
		return nil, err
	}

	registry := flow.NewRegistry(log)
	for _, spec := range handlers {
		registry.Register(spec)
	}

	return &Engine{
		ID:        uuid.NewString(),
		Flow:      cfg,
		machine:   flow.NewMachine(cfg, registry, log),
		store:     st,
		log:       log,
		instances: make(map[string]*flow.StateContext),
	}, nil
}

// Start allocates a new instance positioned at the flow's initial state,
// persists it, and caches the in-memory view (spec.md §4.5 start).
func (e *Engine) Start(ctx context.Context, initialLocalState map[string]interface{}) (*flow.StateContext, error) {
	id := uuid.NewString()
	sc, entry, err := e.machine.Start(ctx, id, initialLocalState)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveStep(ctx, id, nil, &entry, sc); err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.instances[id] = sc
	e.mu.Unlock()

	if e.metrics != nil {
		e.metrics.RecordInstanceStarted()
	}
	return sc, nil
}

// GetCurrentState returns the instance's current state id. Returns
// ("", false, nil) if the id is unknown anywhere.
func (e *Engine) GetCurrentState(ctx context.Context, id string) (string, bool, error) {
	sc, err := e.GetContext(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return "", false, nil
		}
		return "", false, err
	}
	return sc.CurrentStateID, true, nil
}

// GetContext returns the in-memory view if cached, otherwise loads from the
// store and populates the cache (read-through, spec.md §4.5).
func (e *Engine) GetContext(ctx context.Context, id string) (*flow.StateContext, error) {
	e.mu.RLock()
	sc, ok := e.instances[id]
	e.mu.RUnlock()
	if ok {
		return sc, nil
	}

	loaded, err := e.store.LoadContext(ctx, id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.instances[id] = loaded
	e.mu.Unlock()
	return loaded, nil
}

// Process runs one durable step: build the event, persist it, advance C4,
// then persist the resulting history row and context snapshot together in
// one transaction, history before context (spec.md §4.5 process; write
// order matches the §4.1 atomicity contract — a crash can never leave a
// persisted context whose currentStateId lacks its history entry).
// Concurrent callers for the same instance id are serialized (invariant I4).
func (e *Engine) Process(ctx context.Context, id string, eventType flow.EventTypeID, eventName string, payload map[string]interface{}) (flow.StateResult, error) {
	v, err, _ := e.writers.Do(id, func() (interface{}, error) {
		return e.process(ctx, id, eventType, eventName, payload)
	})
	if err != nil {
		return flow.StateResult{}, err
	}
	return v.(flow.StateResult), nil
}

func (e *Engine) process(ctx context.Context, id string, eventType flow.EventTypeID, eventName string, payload map[string]interface{}) (flow.StateResult, error) {
	sc, err := e.GetContext(ctx, id)
	if err != nil {
		return flow.StateResult{}, err
	}

	start := time.Now()
	ctx, span := tracing.StartStep(ctx, e.tracer, "engine.process", id, sc.CurrentStateID)
	defer func() { tracing.EndWithError(span, err) }()

	evt := flow.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Name:      eventName,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err = e.store.SaveEvent(ctx, id, evt); err != nil {
		return flow.StateResult{}, err
	}

	var updated *flow.StateContext
	var result flow.StateResult
	var entry flow.StateHistoryEntry
	var moved bool
	updated, result, entry, moved, err = e.machine.ProcessEvent(ctx, sc.Clone(), evt)
	if err != nil {
		// Roll the in-memory view back to the durable snapshot on failure,
		// per spec.md §4.6 failure semantics: re-read from store next time.
		e.mu.Lock()
		delete(e.instances, id)
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.RecordHandlerError(sc.CurrentStateID)
		}
		return flow.StateResult{}, err
	}

	if moved {
		if err = e.store.SaveStep(ctx, id, nil, &entry, updated); err != nil {
			e.mu.Lock()
			delete(e.instances, id)
			e.mu.Unlock()
			return flow.StateResult{}, err
		}
		if e.metrics != nil {
			e.metrics.RecordTransition(entry.FromState, entry.ToState, time.Since(start))
		}
		e.publishTransition(id, entry)
	} else if err = e.store.SaveContext(ctx, updated); err != nil {
		e.mu.Lock()
		delete(e.instances, id)
		e.mu.Unlock()
		return flow.StateResult{}, err
	}

	e.mu.Lock()
	e.instances[id] = updated
	e.mu.Unlock()

	return result, nil
}

// ForceTransition bypasses the handler and moves an instance directly,
// persisting the new state and a history row with no event id (spec.md
// §4.5 forceTransition). Serialized per instance id alongside Process.
func (e *Engine) ForceTransition(ctx context.Context, id, target, reason string) error {
	_, err, _ := e.writers.Do(id, func() (interface{}, error) {
		return nil, e.forceTransition(ctx, id, target, reason)
	})
	return err
}

func (e *Engine) forceTransition(ctx context.Context, id, target, reason string) error {
	sc, err := e.GetContext(ctx, id)
	if err != nil {
		return err
	}
	ctx, span := tracing.StartStep(ctx, e.tracer, "engine.forceTransition", id, sc.CurrentStateID)
	defer func() { tracing.EndWithError(span, err) }()
	cloned := sc.Clone()
	entry, err := e.machine.ForceTransition(cloned, target, reason)
	if err != nil {
		return err
	}
	if err = e.store.SaveStep(ctx, id, nil, &entry, cloned); err != nil {
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordTransition(entry.FromState, entry.ToState, 0)
	}
	e.publishTransition(id, entry)

	e.mu.Lock()
	e.instances[id] = cloned
	e.mu.Unlock()
	return nil
}

// publishTransition fans a persisted transition out to whichever of the
// NATS notifier / in-process bus are attached.
func (e *Engine) publishTransition(id string, entry flow.StateHistoryEntry) {
	evt := notify.TransitionEvent{
		InstanceID: id,
		FlowName:   e.Flow.Name,
		FromState:  entry.FromState,
		ToState:    entry.ToState,
		Timestamp:  entry.Timestamp,
	}
	if e.notifier != nil {
		_ = e.notifier.PublishTransition(evt)
	}
	if e.bus != nil {
		e.bus.Publish(id, evt)
	}
}

// StateChangeFunc is invoked after each transition during RunUntilComplete.
type StateChangeFunc func(instanceID, newState string)

// CompleteFunc is invoked once RunUntilComplete reaches a terminal state.
type CompleteFunc func(instanceID, finalState string)

// ErrorFunc is invoked when a step fails; RunUntilComplete stops afterward.
type ErrorFunc func(instanceID string, err error)

// RunUntilComplete drives process() synchronously until the instance
// reaches a terminal state or a pauseOnEnter state (spec.md §4.5).
func (e *Engine) RunUntilComplete(ctx context.Context, id string, eventType flow.EventTypeID, eventName string, onStateChange StateChangeFunc, onComplete CompleteFunc, onError ErrorFunc) error {
	for {
		sc, err := e.GetContext(ctx, id)
		if err != nil {
			if onError != nil {
				onError(id, err)
			}
			return err
		}
		def := e.Flow.StateDef(sc.CurrentStateID)
		if def == nil {
			err := &flowNotFoundError{id: id, state: sc.CurrentStateID}
			if onError != nil {
				onError(id, err)
			}
			return err
		}
		if flow.IsTerminal(def) {
			if e.metrics != nil {
				e.metrics.RecordInstanceCompleted(sc.CurrentStateID)
			}
			if onComplete != nil {
				onComplete(id, sc.CurrentStateID)
			}
			return nil
		}
		if def.PauseOnEnter {
			return nil
		}

		before := sc.CurrentStateID
		if _, err := e.Process(ctx, id, eventType, eventName, nil); err != nil {
			if onError != nil {
				onError(id, err)
			}
			return err
		}
		sc, err = e.GetContext(ctx, id)
		if err != nil {
			if onError != nil {
				onError(id, err)
			}
			return err
		}
		if sc.CurrentStateID != before && onStateChange != nil {
			onStateChange(id, sc.CurrentStateID)
		}
		if sc.CurrentStateID == before {
			// No eligible transition fired; avoid spinning forever on a
			// stuck instance.
			return nil
		}
	}
}

// Close returns nil without releasing anything: the *db.Pool passed to New
// stays open until the caller that opened it closes it.
func (e *Engine) Close() error {
	return nil
}

// Store exposes the underlying context store for operations the executor
// needs that bypass the normal handler-driven step (pause-marker writes,
// findPausedInstances on restart).
func (e *Engine) Store() *store.Store { return e.store }

// SaveContext persists sc verbatim and refreshes the in-memory cache. Used
// by the executor to write the durable pause markers directly (spec.md
// §4.6 executeAsync), and to clear them again when a timeout fires.
func (e *Engine) SaveContext(ctx context.Context, sc *flow.StateContext) error {
	if err := e.store.SaveContext(ctx, sc); err != nil {
		return err
	}
	e.mu.Lock()
	e.instances[sc.ID] = sc
	e.mu.Unlock()
	return nil
}

// Log exposes the engine's logger so the executor can share it.
func (e *Engine) Log() corelog.Logger { return e.log }

type flowNotFoundError struct {
	id    string
	state string
}

func (err *flowNotFoundError) Error() string {
	return "instance " + err.id + ": state " + err.state + " not found in flow"
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
