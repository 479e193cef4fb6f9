package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/statewheel/engine/internal/corelog"
)

// Machine is the in-memory per-instance state machine (C4): it owns no
// storage of its own, operating purely on a *StateContext handed in by the
// caller (the executor/engine is responsible for durability).
type Machine struct {
	flow     *FlowConfig
	registry *Registry
	log      corelog.Logger
}

// NewMachine binds a flow definition and handler registry into a runnable
// machine.
func NewMachine(cfg *FlowConfig, registry *Registry, log corelog.Logger) *Machine {
	if log == nil {
		log = corelog.Noop()
	}
	return &Machine{flow: cfg, registry: registry, log: log}
}

// Flow exposes the bound flow definition (read-only observability).
func (m *Machine) Flow() *FlowConfig { return m.flow }

// Start creates a fresh StateContext positioned at the flow's initial state
// without running any handler (spec.md §4.4 start).
func (m *Machine) Start(ctx context.Context, instanceID string, seed map[string]interface{}) (*StateContext, StateHistoryEntry, error) {
	if m.flow.Initial == nil {
		return nil, StateHistoryEntry{}, configErrf("flow %q has no initial state", m.flow.Name)
	}
	now := time.Now()
	sc := &StateContext{
		ID:             instanceID,
		CurrentStateID: m.flow.Initial.ID,
		CreatedAt:      now,
		LastUpdatedAt:  now,
		LocalState:     cloneMap(seed),
		GlobalState:    make(map[string]interface{}),
		Metadata:       make(map[string]interface{}),
	}
	entry := StateHistoryEntry{Timestamp: now, FromState: "", ToState: sc.CurrentStateID, ContextID: instanceID}
	return sc, entry, nil
}

// Restore wraps an already-persisted StateContext for continued processing;
// it performs no mutation, matching the teacher's reattach semantics.
func (m *Machine) Restore(sc *StateContext) (*Machine, error) {
	if _, ok := m.flow.States[sc.CurrentStateID]; !ok {
		return nil, stateErrf("instance %s: unknown current state %q", sc.ID, sc.CurrentStateID)
	}
	return m, nil
}

// ProcessEvent runs the handler bound to the instance's current state, then
// walks the outbound edges (priority desc, doc order tie-break) to find the
// next state (spec.md §4.4 processEvent / findNextState, invariant P4).
//
// It returns the updated context, the StateResult the handler produced, the
// history entry describing the transition taken (moved=false when no
// eligible transition fires and the instance stays put), and any error.
func (m *Machine) ProcessEvent(ctx context.Context, sc *StateContext, evt Event) (*StateContext, StateResult, StateHistoryEntry, bool, error) {
	def := m.flow.StateDef(sc.CurrentStateID)
	if def == nil {
		return sc, StateResult{}, StateHistoryEntry{}, false, stateErrf("instance %s: current state %q not found in flow %q", sc.ID, sc.CurrentStateID, m.flow.Name)
	}

	sc.AppendEvent(evt)

	// At-least-once redelivery of the same event against the same state
	// should not double-run side-effecting handlers; a cached result under
	// this key short-circuits the re-invocation (spec.md Non-goals:
	// idempotency-friendly, not exactly-once).
	idemKey := "_idem:" + IdempotencyKey(sc.ID, def.ID, evt.ID)
	var result StateResult
	var haveCached bool
	if cached, ok := sc.Metadata[idemKey]; ok {
		result, haveCached = decodeCachedResult(cached)
		if !haveCached {
			delete(sc.Metadata, idemKey)
		}
	}
	if !haveCached {
		var err error
		result, err = m.registry.Invoke(ctx, def.ID, sc)
		if err != nil {
			return sc, StateResult{}, StateHistoryEntry{}, false, err
		}
		sc.Metadata[idemKey] = result
	}
	for k, v := range result.Data {
		sc.LocalState[k] = v
	}

	next := m.findNextState(def.ID, result)
	if next == nil {
		sc.LastUpdatedAt = time.Now()
		return sc, result, StateHistoryEntry{}, false, nil
	}

	from := sc.CurrentStateID
	sc.CurrentStateID = next.To
	sc.StripPauseMetadata()
	sc.LastUpdatedAt = time.Now()
	entry := StateHistoryEntry{
		Timestamp: sc.LastUpdatedAt,
		FromState: from,
		ToState:   next.To,
		EventID:   evt.ID,
		ContextID: sc.ID,
	}
	return sc, result, entry, true, nil
}

// decodeCachedResult recovers a StateResult cached under an idempotency key
// in sc.Metadata. The value survives the store's JSON-marshaled Metadata
// column as a map[string]interface{}, not the original Go struct, so a
// plain type assertion against StateResult only succeeds for a same-process
// cache hit and silently fails after any reload (e.g. store.LoadContext on
// restart) — this instead round-trips through JSON, which works for both a
// freshly-set StateResult and its map[string]interface{} form after reload.
func decodeCachedResult(v interface{}) (StateResult, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return StateResult{}, false
	}
	var result StateResult
	if err := json.Unmarshal(data, &result); err != nil {
		return StateResult{}, false
	}
	return result, true
}

// findNextState selects the first matching outbound edge from fromState in
// (priority desc, document-order) sequence, per condition semantics:
// Success/Failure match result.Success, Custom evaluates the bound
// predicate (an unresolved predicate never matches).
func (m *Machine) findNextState(fromState string, result StateResult) *TransitionDefinition {
	for _, edge := range m.flow.Transitions[fromState] {
		switch edge.Condition {
		case ConditionSuccess:
			if result.Success {
				return edge
			}
		case ConditionFailure:
			if !result.Success {
				return edge
			}
		case ConditionCustom:
			if edge.Predicate != nil && edge.Predicate(result) {
				return edge
			}
		}
	}
	return nil
}

// ForceTransition moves an instance directly to targetState, bypassing
// handler invocation and transition matching (spec.md §4.4 forceTransition,
// used by operator intervention and timeout handling). The target state
// must exist in the flow.
func (m *Machine) ForceTransition(sc *StateContext, targetState string, reason string) (StateHistoryEntry, error) {
	if _, ok := m.flow.States[targetState]; !ok {
		return StateHistoryEntry{}, stateErrf("instance %s: forceTransition target %q not found in flow %q", sc.ID, targetState, m.flow.Name)
	}
	from := sc.CurrentStateID
	sc.CurrentStateID = targetState
	sc.LastUpdatedAt = time.Now()
	sc.StripPauseMetadata()
	m.log.Infof("instance %s: forced transition %s -> %s (%s)", sc.ID, from, targetState, reason)
	return StateHistoryEntry{Timestamp: sc.LastUpdatedAt, FromState: from, ToState: targetState, ContextID: sc.ID}, nil
}

// CurrentStateDef returns the StateDefinition of the instance's current
// state, or an error if the flow has drifted out from under it.
func (m *Machine) CurrentStateDef(sc *StateContext) (*StateDefinition, error) {
	def := m.flow.StateDef(sc.CurrentStateID)
	if def == nil {
		return nil, stateErrf("instance %s: current state %q not found", sc.ID, sc.CurrentStateID)
	}
	return def, nil
}

// IsInstanceTerminal reports whether sc currently sits in a terminal state.
func (m *Machine) IsInstanceTerminal(sc *StateContext) bool {
	return IsTerminal(m.flow.StateDef(sc.CurrentStateID))
}

// String implements fmt.Stringer for diagnostic logging.
func (m *Machine) String() string {
	return fmt.Sprintf("Machine(flow=%s, states=%d)", m.flow.Name, len(m.flow.States))
}
