package flow

import (
	"context"
	"encoding/json"
	"testing"
)

func buildTestFlow(t *testing.T) *FlowConfig {
	t.Helper()
	cfg, err := NewBuilder("approval").
		State(StateDefinition{ID: "start", Type: StateInitial, IsInitial: true}).
		State(StateDefinition{ID: "approved", Type: StateFinal}).
		State(StateDefinition{ID: "rejected", Type: StateError}).
		Transition("start", "approved", ConditionSuccess, 0).
		Transition("start", "rejected", ConditionFailure, 0).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return cfg
}

func TestMachine_StartAndProcessSuccess(t *testing.T) {
	cfg := buildTestFlow(t)
	registry := NewRegistry(nil)
	registry.Register(Spec{
		StateID: "start",
		Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
			return StateResult{Success: true, Data: map[string]interface{}{"ok": true}}, nil
		},
	})
	m := NewMachine(cfg, registry, nil)

	sc, entry, err := m.Start(context.Background(), "inst-1", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if sc.CurrentStateID != "start" || entry.ToState != "start" {
		t.Fatalf("unexpected start state: %+v / %+v", sc, entry)
	}

	sc, _, hist, moved, err := m.ProcessEvent(context.Background(), sc, Event{ID: "evt-1"})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if !moved || sc.CurrentStateID != "approved" {
		t.Fatalf("expected move to approved, got moved=%v state=%s", moved, sc.CurrentStateID)
	}
	if hist.FromState != "start" || hist.ToState != "approved" {
		t.Fatalf("unexpected history entry: %+v", hist)
	}
	if !m.IsInstanceTerminal(sc) {
		t.Fatal("approved should be terminal")
	}
}

func TestMachine_ProcessFailureRoutesToErrorState(t *testing.T) {
	cfg := buildTestFlow(t)
	registry := NewRegistry(nil)
	registry.Register(Spec{
		StateID: "start",
		Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
			return StateResult{Success: false, Error: "denied"}, nil
		},
	})
	m := NewMachine(cfg, registry, nil)
	sc, _, _ := m.Start(context.Background(), "inst-2", nil)

	sc, _, _, moved, err := m.ProcessEvent(context.Background(), sc, Event{ID: "evt-1"})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if !moved || sc.CurrentStateID != "rejected" {
		t.Fatalf("expected move to rejected, got moved=%v state=%s", moved, sc.CurrentStateID)
	}
}

func TestMachine_NoHandlerImpliesSuccess(t *testing.T) {
	cfg := buildTestFlow(t)
	registry := NewRegistry(nil) // no handlers registered at all
	m := NewMachine(cfg, registry, nil)
	sc, _, _ := m.Start(context.Background(), "inst-3", nil)

	sc, _, _, moved, err := m.ProcessEvent(context.Background(), sc, Event{ID: "evt-1"})
	if err != nil {
		t.Fatalf("ProcessEvent: %v", err)
	}
	if !moved || sc.CurrentStateID != "approved" {
		t.Fatalf("expected implicit success to route to approved, got %s", sc.CurrentStateID)
	}
}

func TestMachine_ForceTransitionStripsPauseMetadata(t *testing.T) {
	cfg := buildTestFlow(t)
	m := NewMachine(cfg, NewRegistry(nil), nil)
	sc, _, _ := m.Start(context.Background(), "inst-4", nil)
	sc.Metadata[MetaPausedAt] = "2026-01-01T00:00:00Z"
	sc.Metadata[MetaPausedState] = "start"
	sc.Metadata[MetaPauseTimeout] = int64(120)

	if _, err := m.ForceTransition(sc, "approved", "operator override"); err != nil {
		t.Fatalf("ForceTransition: %v", err)
	}
	if sc.CurrentStateID != "approved" {
		t.Fatalf("expected approved, got %s", sc.CurrentStateID)
	}
	if len(sc.Metadata) != 0 {
		t.Fatalf("expected pause metadata stripped, got %+v", sc.Metadata)
	}
}

func TestMachine_ForceTransitionUnknownTarget(t *testing.T) {
	cfg := buildTestFlow(t)
	m := NewMachine(cfg, NewRegistry(nil), nil)
	sc, _, _ := m.Start(context.Background(), "inst-5", nil)
	if _, err := m.ForceTransition(sc, "does-not-exist", "bad"); err == nil {
		t.Fatal("expected error for unknown force-transition target")
	}
}

// TestMachine_IdempotencyKeySurvivesMetadataReload exercises the crash-
// recovery path the idempotency cache exists for: after a StateContext's
// Metadata round-trips through JSON (the same marshal/unmarshal the store
// applies on SaveContext/LoadContext), a cached StateResult decodes as a
// map[string]interface{} rather than the original struct, and the handler
// must still be recognized as already-run rather than re-invoked.
func TestMachine_IdempotencyKeySurvivesMetadataReload(t *testing.T) {
	cfg, err := NewBuilder("idem").
		State(StateDefinition{ID: "start", Type: StateInitial, IsInitial: true}).
		State(StateDefinition{ID: "approved", Type: StateFinal}).
		Transition("start", "approved", ConditionSuccess, 0).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	invocations := 0
	registry := NewRegistry(nil)
	registry.Register(Spec{
		StateID: "start",
		Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
			invocations++
			return StateResult{Success: false, Data: map[string]interface{}{"n": float64(invocations)}}, nil
		},
	})
	m := NewMachine(cfg, registry, nil)

	sc, _, err := m.Start(context.Background(), "inst-idem", nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	evt := Event{ID: "evt-retry"}
	sc, _, _, moved, err := m.ProcessEvent(context.Background(), sc, evt)
	if err != nil {
		t.Fatalf("ProcessEvent first: %v", err)
	}
	if moved {
		t.Fatalf("expected instance to stay at start (handler reported failure), got moved=%v state=%s", moved, sc.CurrentStateID)
	}
	if invocations != 1 {
		t.Fatalf("expected handler invoked once, got %d", invocations)
	}

	// Simulate a store round trip: Metadata is JSON-marshaled on SaveContext
	// and unmarshaled back into map[string]interface{} on LoadContext.
	data, err := json.Marshal(sc.Metadata)
	if err != nil {
		t.Fatalf("marshal metadata: %v", err)
	}
	reloaded := &StateContext{
		ID:             sc.ID,
		CurrentStateID: sc.CurrentStateID,
		LocalState:     sc.LocalState,
		GlobalState:    sc.GlobalState,
	}
	if err := json.Unmarshal(data, &reloaded.Metadata); err != nil {
		t.Fatalf("unmarshal metadata: %v", err)
	}

	idemKey := "_idem:" + IdempotencyKey("inst-idem", "start", "evt-retry")
	if _, ok := reloaded.Metadata[idemKey].(StateResult); ok {
		t.Fatal("test setup bug: cached value should decode as map[string]interface{} after JSON round trip")
	}

	if _, _, _, _, err := m.ProcessEvent(context.Background(), reloaded, evt); err != nil {
		t.Fatalf("ProcessEvent after reload: %v", err)
	}
	if invocations != 1 {
		t.Fatalf("expected handler NOT re-invoked after reload (idempotency cache hit), got %d invocations", invocations)
	}
}

func TestRegistry_HighestPriorityWins(t *testing.T) {
	registry := NewRegistry(nil)
	registry.Register(Spec{StateID: "s", Priority: 1, Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
		return StateResult{Success: true, Data: map[string]interface{}{"who": "low"}}, nil
	}})
	registry.Register(Spec{StateID: "s", Priority: 5, Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
		return StateResult{Success: true, Data: map[string]interface{}{"who": "high"}}, nil
	}})

	sc := &StateContext{ID: "x", CurrentStateID: "s", Metadata: map[string]interface{}{}}
	result, err := registry.Invoke(context.Background(), "s", sc)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if result.Data["who"] != "high" {
		t.Fatalf("expected high-priority handler to win, got %+v", result.Data)
	}
}

func TestRegistry_RetryThenSucceed(t *testing.T) {
	registry := NewRegistry(nil)
	attempts := 0
	registry.Register(Spec{
		StateID:    "s",
		RetryCount: 2,
		Handler: func(ctx context.Context, sc *StateContext) (StateResult, error) {
			attempts++
			if attempts < 2 {
				return StateResult{}, errAttempt
			}
			return StateResult{Success: true}, nil
		},
	})
	sc := &StateContext{ID: "x", CurrentStateID: "s"}
	result, err := registry.Invoke(context.Background(), "s", sc)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !result.Success || attempts != 2 {
		t.Fatalf("expected success after retry, attempts=%d result=%+v", attempts, result)
	}
}

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

var errAttempt = sentinelError("transient failure")
