package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/statewheel/engine/internal/corelog"
)

// Handler is the uniform callable a registered function becomes (spec.md §9:
// "Handler = (Context) → Result").
type Handler func(ctx context.Context, sc *StateContext) (StateResult, error)

// Hook runs before/after/on-error around a handler invocation. Optional —
// the engine is fully functional without any hooks registered (spec.md §4.3).
type Hook func(ctx context.Context, sc *StateContext) error

// ErrorHook may substitute a StateResult when the handler panics or returns
// an error. The first hook to return a non-nil result wins.
type ErrorHook func(ctx context.Context, sc *StateContext, cause error) *StateResult

// Spec describes one discovered/registered handler binding, mirroring the
// annotation fields from spec.md §4.3 (description, priority, timeout,
// retryCount, async, tags, metadata). Only Handler and StateID are required.
type Spec struct {
	StateID     string
	Handler     Handler
	Description string
	Priority    int
	Timeout     time.Duration // 0 = no per-call deadline
	RetryCount  int
	Async       bool
	Tags        []string
	Metadata    map[string]interface{}

	PreHooks   []Hook
	PostHooks  []Hook
	ErrorHooks []ErrorHook
}

// Registry discovers/holds handlers bound to state ids and exposes a
// uniform invoke(ctx) -> StateResult per state (C3).
type Registry struct {
	byState map[string][]Spec // all registrations per state, for the warning log
	winner  map[string]Spec   // highest-priority registration per state
	log     corelog.Logger
}

// NewRegistry creates an empty handler registry.
func NewRegistry(log corelog.Logger) *Registry {
	if log == nil {
		log = corelog.Noop()
	}
	return &Registry{byState: make(map[string][]Spec), winner: make(map[string]Spec), log: log}
}

// Register binds a handler spec to its state id. If multiple specs target
// the same state, the highest-priority one wins (ties: registration order);
// the rest are kept for introspection but logged as ignored (spec.md §4.3).
func (r *Registry) Register(spec Spec) {
	r.byState[spec.StateID] = append(r.byState[spec.StateID], spec)
	r.recomputeWinner(spec.StateID)
}

func (r *Registry) recomputeWinner(stateID string) {
	specs := r.byState[stateID]
	best := 0
	for i := 1; i < len(specs); i++ {
		if specs[i].Priority > specs[best].Priority {
			best = i
		}
	}
	r.winner[stateID] = specs[best]
	if len(specs) > 1 {
		r.log.Warnf("state %s: %d handlers registered, using the highest-priority one (priority=%d); rest ignored",
			stateID, len(specs), specs[best].Priority)
	}
}

// Lookup returns the winning spec for a state, or (Spec{}, false) when no
// handler was registered — callers treat the latter as an implicit Success.
func (r *Registry) Lookup(stateID string) (Spec, bool) {
	spec, ok := r.winner[stateID]
	return spec, ok
}

// Invoke runs the winning handler for stateID, applying pre/post/error hooks
// in the order they appear in the Spec (hooks carry no priority and are not
// sorted) and the retry-around-handler-only policy from
// SPEC_FULL.md §8. A state with no handler yields an implicit Success with
// empty data (spec.md §4.3).
func (r *Registry) Invoke(ctx context.Context, stateID string, sc *StateContext) (result StateResult, err error) {
	spec, ok := r.Lookup(stateID)
	if !ok {
		return StateResult{Success: true, Data: map[string]interface{}{}}, nil
	}

	for _, hook := range sortedHooksByName(spec.PreHooks) {
		if herr := safeHook(hook, ctx, sc); herr != nil {
			return StateResult{Success: false, Error: herr.Error()}, nil
		}
	}

	result, err = r.invokeWithRetry(ctx, spec, sc)
	if err != nil {
		if substituted := r.runErrorHooks(ctx, spec, sc, err); substituted != nil {
			result, err = *substituted, nil
		} else {
			result = StateResult{Success: false, Error: err.Error()}
			err = nil
		}
	}

	for _, hook := range sortedHooksByName(spec.PostHooks) {
		// post-hook failures are logged, not fatal
		if herr := safeHook(hook, ctx, sc); herr != nil {
			r.log.Warnf("state %s: post-hook failed: %v", spec.StateID, herr)
		}
	}

	return result, nil
}

func (r *Registry) invokeWithRetry(ctx context.Context, spec Spec, sc *StateContext) (result StateResult, err error) {
	attempts := spec.RetryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		result, err = r.callOnce(ctx, spec, sc)
		if err == nil {
			return result, nil
		}
		if attempt < attempts-1 {
			r.log.Warnf("state %s: handler attempt %d/%d failed: %v", spec.StateID, attempt+1, attempts, err)
		}
	}
	return result, err
}

func (r *Registry) callOnce(ctx context.Context, spec Spec, sc *StateContext) (result StateResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()

	callCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	done := make(chan struct{})
	var res StateResult
	var callErr error
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				callErr = fmt.Errorf("handler panic: %v", rec)
			}
			close(done)
		}()
		res, callErr = spec.Handler(callCtx, sc)
	}()

	select {
	case <-done:
		return res, callErr
	case <-callCtx.Done():
		if spec.Timeout > 0 {
			return StateResult{Success: false, Error: "handler timeout"}, nil
		}
		return StateResult{}, callCtx.Err()
	}
}

func (r *Registry) runErrorHooks(ctx context.Context, spec Spec, sc *StateContext, cause error) *StateResult {
	for _, hook := range spec.ErrorHooks {
		if res := hook(ctx, sc, cause); res != nil {
			return res
		}
	}
	return nil
}

func safeHook(hook Hook, ctx context.Context, sc *StateContext) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("hook panic: %v", rec)
		}
	}()
	return hook(ctx, sc)
}

// sortedHooksByName returns hooks in the order they were supplied to Spec:
// there is no stable way to sort plain func values, so ordering is the
// caller's responsibility (spec.md §4.3).
func sortedHooksByName(hooks []Hook) []Hook { return hooks }
