// Package flow implements the declarative workflow definition and binding
// layer (C2: flow definitions and loader; C3: handler registry) and the
// per-instance in-memory state machine (C4), grounded on the teacher's
// pkg/statemachine.
package flow

import (
	"strings"
	"time"
)

// StateType classifies a state for terminal/initial detection.
type StateType string

const (
	StateInitial StateType = "INITIAL"
	StateNormal  StateType = "NORMAL"
	StateFinal   StateType = "FINAL"
	StateError   StateType = "ERROR"
)

// TimeoutActionKind tags the variant carried by TimeoutAction.
type TimeoutActionKind string

const (
	TimeoutTransition TimeoutActionKind = "transition"
	TimeoutEvent      TimeoutActionKind = "event"
)

// TimeoutAction is the engine's deterministic response to a pause that
// outlives its timeout.
type TimeoutAction struct {
	Kind        TimeoutActionKind
	TargetState string // set when Kind == TimeoutTransition
	EventType   string // set when Kind == TimeoutEvent
	EventName   string // set when Kind == TimeoutEvent
}

// StateDefinition describes one state in a flow.
type StateDefinition struct {
	ID           string
	Name         string
	Type         StateType
	ParentID     string
	IsInitial    bool
	IsFinal      bool
	IsError      bool
	Pauseable    bool
	Timeout      *int64 // seconds; nil = flow default, -1 = infinite, 0 = none
	PauseOnEnter bool
	TimeoutAction *TimeoutAction
	Description  string
}

// EffectiveTimeout resolves this state's timeout against the flow default.
// Returns (seconds, hasTimeout). hasTimeout is false for "no timeout" (0 or
// absent); -1 means infinite (hasTimeout true, never expires).
func (s *StateDefinition) EffectiveTimeout(flowDefault int64) (int64, bool) {
	if s.Timeout == nil {
		if flowDefault == 0 {
			return 0, false
		}
		return flowDefault, true
	}
	if *s.Timeout == 0 {
		return 0, false
	}
	return *s.Timeout, true
}

// TransitionCondition selects which StateResult outcome follows this edge.
type TransitionCondition string

const (
	ConditionSuccess TransitionCondition = "Success"
	ConditionFailure TransitionCondition = "Failure"
	ConditionCustom  TransitionCondition = "Custom"
)

// CustomPredicate is a user-supplied guard for ConditionCustom transitions.
type CustomPredicate func(result StateResult) bool

// TransitionDefinition describes one outbound edge from a state.
type TransitionDefinition struct {
	From      string
	To        string
	Condition TransitionCondition
	CustomName string          // the condition token when Condition == ConditionCustom
	Predicate CustomPredicate // resolved by FlowConfig.RegisterPredicate(CustomName, ...)
	Priority  int
	Description string

	// seq preserves document order for tie-breaking equal-priority edges;
	// assigned by the loader/builder, not user-settable.
	seq int
}

// FlowConfig is the immutable, validated definition of a flow: states plus
// transitions, loaded from a declarative document (YAML/JSON) or built with
// Builder.
type FlowConfig struct {
	Name        string
	Description string
	Version     string
	Author      string

	Pauseable      bool
	DefaultTimeout int64
	AutoResume     bool

	States      map[string]*StateDefinition
	Transitions map[string][]*TransitionDefinition // fromStateId -> ordered edges
	Initial     *StateDefinition

	Metadata map[string]interface{}
}

// StateDef looks up a state definition by id.
func (f *FlowConfig) StateDef(id string) *StateDefinition {
	return f.States[id]
}

// RegisterPredicate binds a Go function to a named Custom(...) condition
// referenced by the declarative document. Must be called before the flow
// is used to process events; unresolved custom conditions never match.
func (f *FlowConfig) RegisterPredicate(name string, pred CustomPredicate) {
	for _, edges := range f.Transitions {
		for _, e := range edges {
			if e.Condition == ConditionCustom && e.CustomName == name {
				e.Predicate = pred
			}
		}
	}
}

// IsTerminal implements the Open Question decision in SPEC_FULL.md §8: a
// state is terminal if its type is Final/Error, OR its id contains one of
// the terminal substrings. Either signal is sufficient.
func IsTerminal(def *StateDefinition) bool {
	if def == nil {
		return false
	}
	if def.Type == StateFinal || def.Type == StateError || def.IsFinal || def.IsError {
		return true
	}
	return containsTerminalSubstring(def.ID)
}

func containsTerminalSubstring(id string) bool {
	lower := strings.ToLower(id)
	for _, substr := range []string{"success", "completed", "failed", "error"} {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// StateResult is emitted by a handler.
type StateResult struct {
	Success bool
	Data    map[string]interface{}
	Error   string
}

// EventPriority classifies an event's urgency.
type EventPriority string

const (
	PriorityLow      EventPriority = "Low"
	PriorityNormal   EventPriority = "Normal"
	PriorityHigh     EventPriority = "High"
	PriorityCritical EventPriority = "Critical"
)

// EventTypeID is the (namespace, name, version) tuple identifying an event's
// shape.
type EventTypeID struct {
	Namespace string
	Name      string
	Version   string
}

// Event is an input to a process step; it carries no ownership of context.
type Event struct {
	ID          string
	Type        EventTypeID
	Name        string
	Description string
	Timestamp   time.Time
	Source      string
	Priority    EventPriority
	Payload     map[string]interface{}
	Metadata    map[string]interface{}
}

// recentEventsCap bounds StateContext.RecentEvents (spec.md §3).
const recentEventsCap = 100

// Reserved metadata keys written atomically with a pause/resume.
const (
	MetaPausedAt      = "_pausedAt"
	MetaPausedState   = "_pausedState"
	MetaPauseTimeout  = "_pauseTimeout"
)

// StateContext is the durable per-instance unit (spec.md §3).
type StateContext struct {
	ID            string
	CurrentStateID string
	CreatedAt     time.Time
	LastUpdatedAt time.Time
	LocalState    map[string]interface{}
	GlobalState   map[string]interface{}
	Metadata      map[string]interface{}
	RecentEvents  []Event
}

// Clone returns a deep-enough copy for safe in-memory mutation (map values
// themselves are not deep-copied, matching the teacher's ExecutionContext
// copy-on-write pattern in engine.go).
func (c *StateContext) Clone() *StateContext {
	clone := *c
	clone.LocalState = cloneMap(c.LocalState)
	clone.GlobalState = cloneMap(c.GlobalState)
	clone.Metadata = cloneMap(c.Metadata)
	clone.RecentEvents = append([]Event(nil), c.RecentEvents...)
	return &clone
}

// AppendEvent appends an event to the bounded recent-events window,
// dropping the oldest entry when the cap is exceeded (spec.md StateContext).
func (c *StateContext) AppendEvent(e Event) {
	c.RecentEvents = append(c.RecentEvents, e)
	if len(c.RecentEvents) > recentEventsCap {
		c.RecentEvents = c.RecentEvents[len(c.RecentEvents)-recentEventsCap:]
	}
}

// StripPauseMetadata removes the three reserved _pause* keys (spec.md I3).
func (c *StateContext) StripPauseMetadata() {
	delete(c.Metadata, MetaPausedAt)
	delete(c.Metadata, MetaPausedState)
	delete(c.Metadata, MetaPauseTimeout)
}

// StateHistoryEntry is one append-only row of transition history.
type StateHistoryEntry struct {
	Timestamp time.Time
	FromState string // empty for the initial entry
	ToState   string
	EventID   string // empty for forced transitions
	ContextID string
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
