// Package executor implements C6, the durable workflow executor: it turns
// a raw engine into a pausable, timeout-aware runner for many concurrent
// instances, grounded on the teacher's statemachine verticle/engine
// scheduling idiom but built around cooperative goroutines rather than an
// event-bus actor model.
package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/statewheel/engine/engine"
	"github.com/statewheel/engine/internal/corelog"
	"github.com/statewheel/engine/internal/flow"
	"github.com/statewheel/engine/internal/metrics"
)

// restoreConcurrency bounds how many paused instances are restored at once
// on startup; each id is independent so this is pure fan-out, not a
// violation of the single-writer-per-instance invariant.
const restoreConcurrency = 8

// timeoutTick is the cadence of the background timeout monitor (spec.md §4.6).
const timeoutTick = 60 * time.Second

// timeoutBackoff is how long the monitor sleeps after an unexpected error
// before resuming its tick loop.
const timeoutBackoff = 10 * time.Second

// stepYield bounds how fast a single instance's durable loop burns through
// steps; it is a fairness knob, not a correctness property.
const stepYield = 100 * time.Millisecond

// PauseInfo mirrors one persisted pause marker in memory.
type PauseInfo struct {
	InstanceID string
	StateID    string
	PausedAtMs int64
	Timeout    *int64 // seconds; nil = no positive timeout configured (never expires)
	EngineID   string
}

// StateChangeFunc/CompleteFunc mirror engine.StateChangeFunc/CompleteFunc
// so callers of ExecuteAsync don't need to import engine directly.
type StateChangeFunc func(instanceID, newState string)
type CompleteFunc func(instanceID, finalState string)

// Executor owns the in-memory running/paused indices across all engines it
// has been handed (spec.md §4.6).
type Executor struct {
	log corelog.Logger

	mu      sync.Mutex
	running map[string]context.CancelFunc
	paused  map[string]PauseInfo
	engines map[string]*engine.Engine

	metrics *metrics.Metrics
}

// New creates an empty executor.
func New(log corelog.Logger) *Executor {
	if log == nil {
		log = corelog.Noop()
	}
	return &Executor{
		log:     log,
		running: make(map[string]context.CancelFunc),
		paused:  make(map[string]PauseInfo),
		engines: make(map[string]*engine.Engine),
	}
}

// WithMetrics attaches a Metrics collector; the paused-instance gauge and
// timeout counters update against it when set. Returns x for chaining.
func (x *Executor) WithMetrics(m *metrics.Metrics) *Executor {
	x.metrics = m
	return x
}

// updatePausedGauge refreshes the paused-instance gauge. Caller must not
// hold x.mu.
func (x *Executor) updatePausedGauge() {
	if x.metrics == nil {
		return
	}
	x.mu.Lock()
	n := len(x.paused)
	x.mu.Unlock()
	x.metrics.SetPausedInstances(n)
}

// RegisterEngine makes e reachable by its ID for timeout handling and
// restore, mirroring the `engines: map<engineId, EngineFacade>` index.
func (x *Executor) RegisterEngine(e *engine.Engine) {
	x.mu.Lock()
	x.engines[e.ID] = e
	x.mu.Unlock()
}

// ExecuteAsync spawns the driving goroutine for one instance (spec.md §4.6).
// autoProcess=true runs the synchronous RunUntilComplete driver; otherwise
// the durable loop below handles pause-on-enter/timeout bookkeeping itself.
func (x *Executor) ExecuteAsync(parent context.Context, e *engine.Engine, instanceID string, autoProcess bool, onStateChange StateChangeFunc, onComplete CompleteFunc, stopStates []string) {
	ctx, cancel := context.WithCancel(parent)

	x.mu.Lock()
	if existing, ok := x.running[instanceID]; ok {
		existing()
	}
	x.running[instanceID] = cancel
	x.mu.Unlock()

	go func() {
		defer cancel()
		if autoProcess {
			x.runAutoProcess(ctx, e, instanceID, onStateChange, onComplete)
		} else {
			x.runDurableLoop(ctx, e, instanceID, onComplete, stopStates)
		}
		x.mu.Lock()
		delete(x.running, instanceID)
		x.mu.Unlock()
	}()
}

func (x *Executor) runAutoProcess(ctx context.Context, e *engine.Engine, instanceID string, onStateChange StateChangeFunc, onComplete CompleteFunc) {
	err := e.RunUntilComplete(ctx, instanceID, flow.EventTypeID{Namespace: "engine", Name: "process"}, "process",
		func(id, newState string) {
			if onStateChange != nil {
				onStateChange(id, newState)
			}
		},
		func(id, final string) {
			if onComplete != nil {
				onComplete(id, final)
			}
		},
		func(id string, err error) {
			x.log.Errorf("instance %s: runUntilComplete failed: %v", id, err)
		},
	)
	if err != nil {
		x.log.Errorf("instance %s: executeAsync (autoProcess) exited with error: %v", instanceID, err)
	}
}

// runDurableLoop implements the pseudocode in spec.md §4.6 verbatim: step
// the instance, check for pause-on-enter or terminal states between every
// step, and durably park the instance the moment it lands on a pausing
// state.
func (x *Executor) runDurableLoop(ctx context.Context, e *engine.Engine, instanceID string, onComplete CompleteFunc, stopStates []string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		current, ok, err := e.GetCurrentState(ctx, instanceID)
		if err != nil {
			x.log.Errorf("instance %s: getCurrentState failed: %v", instanceID, err)
			return
		}
		if !ok {
			return
		}

		def := e.Flow.StateDef(current)
		if def == nil {
			x.log.Errorf("instance %s: state %q not found in flow %q", instanceID, current, e.Flow.Name)
			return
		}

		shouldPause := def.PauseOnEnter || matchesAnySubstring(current, stopStates)
		if shouldPause {
			x.parkInstance(ctx, e, instanceID, def)
			return
		}

		if flow.IsTerminal(def) {
			if onComplete != nil {
				onComplete(instanceID, current)
			}
			x.mu.Lock()
			delete(x.paused, instanceID)
			x.mu.Unlock()
			x.updatePausedGauge()
			return
		}

		if _, err := e.Process(ctx, instanceID, flow.EventTypeID{Namespace: "engine", Name: "process"}, "process", nil); err != nil {
			x.log.Errorf("instance %s: process step failed: %v", instanceID, err)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(stepYield):
		}
	}
}

func (x *Executor) parkInstance(ctx context.Context, e *engine.Engine, instanceID string, def *flow.StateDefinition) {
	sc, err := e.GetContext(ctx, instanceID)
	if err != nil {
		x.log.Errorf("instance %s: getContext failed while pausing: %v", instanceID, err)
		return
	}

	nowMs := unixMillis(time.Now())
	timeoutSeconds, hasTimeout := def.EffectiveTimeout(e.Flow.DefaultTimeout)

	cloned := sc.Clone()
	cloned.Metadata[flow.MetaPausedAt] = nowMs
	cloned.Metadata[flow.MetaPausedState] = def.ID
	if hasTimeout {
		cloned.Metadata[flow.MetaPauseTimeout] = timeoutSeconds
	} else {
		cloned.Metadata[flow.MetaPauseTimeout] = int64(-1)
	}
	if err := e.SaveContext(ctx, cloned); err != nil {
		x.log.Errorf("instance %s: saveContext failed while pausing: %v", instanceID, err)
		return
	}

	var timeoutPtr *int64
	if hasTimeout && timeoutSeconds > 0 {
		t := timeoutSeconds
		timeoutPtr = &t
	}

	x.mu.Lock()
	x.paused[instanceID] = PauseInfo{InstanceID: instanceID, StateID: def.ID, PausedAtMs: nowMs, Timeout: timeoutPtr, EngineID: e.ID}
	delete(x.running, instanceID)
	x.mu.Unlock()
	x.updatePausedGauge()
}

func matchesAnySubstring(stateID string, stopStates []string) bool {
	lower := strings.ToLower(stateID)
	for _, s := range stopStates {
		if strings.Contains(lower, strings.ToLower(s)) {
			return true
		}
	}
	return false
}

func unixMillis(t time.Time) int64 { return t.UnixNano() / int64(time.Millisecond) }

// ContinueExecution cancels any existing task for instanceID and restarts
// it in autoProcess mode, used after an external event resumes a paused
// instance (spec.md §4.6).
func (x *Executor) ContinueExecution(ctx context.Context, e *engine.Engine, instanceID string) {
	x.ExecuteAsync(ctx, e, instanceID, true, nil, nil, nil)
}

// TriggerEvent proxies engine.Process; callers typically call TriggerEvent
// then ContinueExecution to drain any downstream states (spec.md §4.6).
func (x *Executor) TriggerEvent(ctx context.Context, e *engine.Engine, instanceID string, eventType flow.EventTypeID, eventName string, payload map[string]interface{}) (flow.StateResult, error) {
	return e.Process(ctx, instanceID, eventType, eventName, payload)
}

// RemovePausedInstance clears the in-memory index entry without touching
// persistence (spec.md §4.6 removePausedInstance).
func (x *Executor) RemovePausedInstance(instanceID string) {
	x.mu.Lock()
	delete(x.paused, instanceID)
	x.mu.Unlock()
	x.updatePausedGauge()
}

// PausedInstances returns a snapshot of the paused index, projection-ready
// for C7's listPaused.
func (x *Executor) PausedInstances() []PauseInfo {
	x.mu.Lock()
	defer x.mu.Unlock()
	out := make([]PauseInfo, 0, len(x.paused))
	for _, p := range x.paused {
		out = append(out, p)
	}
	return out
}

// RestorePausedInstances rebuilds the in-memory paused index from
// persistence on startup (spec.md §4.6 restorePausedInstances). When ids is
// empty it discovers them via store.FindPausedInstances.
func (x *Executor) RestorePausedInstances(ctx context.Context, e *engine.Engine, ids []string) error {
	var err error
	if len(ids) == 0 {
		ids, err = e.Store().FindPausedInstances(ctx)
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(restoreConcurrency)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			x.restoreOne(gctx, e, id)
			return nil
		})
	}
	return g.Wait()
}

// restoreOne rebuilds one instance's paused-index entry and, if its timeout
// already elapsed while the process was down, fires the timeout action
// immediately rather than waiting for the next sweep.
func (x *Executor) restoreOne(ctx context.Context, e *engine.Engine, id string) {
	sc, err := e.GetContext(ctx, id)
	if err != nil {
		x.log.Warnf("restorePausedInstances: instance %s: %v", id, err)
		return
	}
	pausedAtMs, stateID, timeoutPtr, ok := extractPauseMetadata(sc)
	if !ok {
		return
	}

	elapsedSec := (unixMillis(time.Now()) - pausedAtMs) / 1000
	x.log.Infof("restorePausedInstances: instance %s paused at %s, elapsed %ds", id, stateID, elapsedSec)

	x.mu.Lock()
	x.paused[id] = PauseInfo{InstanceID: id, StateID: stateID, PausedAtMs: pausedAtMs, Timeout: timeoutPtr, EngineID: e.ID}
	x.mu.Unlock()
	x.updatePausedGauge()

	if timeoutPtr != nil && *timeoutPtr > 0 && elapsedSec >= *timeoutPtr {
		x.handleTimeout(ctx, e, id)
	}
}

// extractPauseMetadata tolerates both integer and floating-point JSON
// round-trip representations of the reserved _pause* keys (spec.md §4.6).
func extractPauseMetadata(sc *flow.StateContext) (pausedAtMs int64, stateID string, timeout *int64, ok bool) {
	rawAt, present := sc.Metadata[flow.MetaPausedAt]
	if !present {
		return 0, "", nil, false
	}
	pausedAtMs = toInt64(rawAt)
	stateID, _ = sc.Metadata[flow.MetaPausedState].(string)

	if rawTimeout, present := sc.Metadata[flow.MetaPauseTimeout]; present {
		t := toInt64(rawTimeout)
		if t > 0 {
			timeout = &t
		}
	}
	return pausedAtMs, stateID, timeout, true
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}

// StartTimeoutMonitor runs the 60s-tick background loop until ctx is
// canceled (spec.md §4.6 timeout monitor loop). Unexpected errors are
// logged and followed by a 10s backoff rather than terminating the loop.
func (x *Executor) StartTimeoutMonitor(ctx context.Context) {
	ticker := time.NewTicker(timeoutTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := x.runTimeoutSweep(ctx); err != nil {
				x.log.Errorf("timeout monitor: %v", err)
				select {
				case <-ctx.Done():
					return
				case <-time.After(timeoutBackoff):
				}
			}
		}
	}
}

func (x *Executor) runTimeoutSweep(ctx context.Context) (err error) {
	sweepStart := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = &sweepPanicError{rec: rec}
		}
		if x.metrics != nil {
			x.metrics.RecordTimeoutSweep(time.Since(sweepStart))
		}
	}()

	now := unixMillis(time.Now())
	type expiredEntry struct {
		id string
		e  *engine.Engine
	}
	var expired []expiredEntry

	x.mu.Lock()
	for id, p := range x.paused {
		if p.Timeout == nil || *p.Timeout <= 0 {
			continue
		}
		if (now-p.PausedAtMs)/1000 >= *p.Timeout {
			if e, ok := x.engines[p.EngineID]; ok {
				expired = append(expired, expiredEntry{id: id, e: e})
			}
		}
	}
	x.mu.Unlock()

	for _, entry := range expired {
		x.handleTimeout(ctx, entry.e, entry.id)
	}
	return nil
}

type sweepPanicError struct{ rec interface{} }

func (e *sweepPanicError) Error() string { return "panic during timeout sweep" }

// handleTimeout implements spec.md §4.6 handleTimeout: branch on the
// paused state's configured timeoutAction, then unconditionally clear the
// durable and in-memory pause markers.
func (x *Executor) handleTimeout(ctx context.Context, e *engine.Engine, instanceID string) {
	x.mu.Lock()
	info, ok := x.paused[instanceID]
	x.mu.Unlock()
	if !ok {
		return // already resumed
	}

	def := e.Flow.StateDef(info.StateID)
	if def != nil && def.TimeoutAction != nil {
		switch def.TimeoutAction.Kind {
		case flow.TimeoutTransition:
			target := def.TimeoutAction.TargetState
			if e.Flow.StateDef(target) == nil {
				x.log.Errorf("instance %s: timeoutAction target %q not found; marker cleared, state unchanged", instanceID, target)
			} else if err := e.ForceTransition(ctx, instanceID, target, "timeout"); err != nil {
				x.log.Errorf("instance %s: forceTransition on timeout failed: %v", instanceID, err)
			}
			if x.metrics != nil {
				x.metrics.RecordTimeout("transition")
			}
		case flow.TimeoutEvent:
			eventType := flow.EventTypeID{Namespace: "timeout", Name: def.TimeoutAction.EventType}
			if _, err := e.Process(ctx, instanceID, eventType, def.TimeoutAction.EventName, map[string]interface{}{"timeout": true}); err != nil {
				x.log.Errorf("instance %s: process on timeout failed: %v", instanceID, err)
			}
			if x.metrics != nil {
				x.metrics.RecordTimeout("event")
			}
		}
	} else {
		x.log.Warnf("instance %s: paused state %q timed out with no timeoutAction configured", instanceID, info.StateID)
	}

	x.mu.Lock()
	delete(x.paused, instanceID)
	x.mu.Unlock()
	x.updatePausedGauge()

	sc, err := e.GetContext(ctx, instanceID)
	if err != nil {
		x.log.Errorf("instance %s: getContext failed while clearing pause marker: %v", instanceID, err)
		return
	}
	cloned := sc.Clone()
	cloned.StripPauseMetadata()
	if err := e.SaveContext(ctx, cloned); err != nil {
		x.log.Errorf("instance %s: saveContext failed while clearing pause marker: %v", instanceID, err)
	}
}

// StopAll cancels every currently running instance task. Cooperative: tasks
// observe ctx.Done() at their next yield point (spec.md §4.6 cancellation).
func (x *Executor) StopAll() {
	x.mu.Lock()
	defer x.mu.Unlock()
	for id, cancel := range x.running {
		cancel()
		delete(x.running, id)
	}
}

// Stop cancels a single running instance's task, if any.
func (x *Executor) Stop(instanceID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if cancel, ok := x.running[instanceID]; ok {
		cancel()
		delete(x.running, instanceID)
	}
}
