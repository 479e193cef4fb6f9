package flow

import (
	"encoding/json"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// document mirrors the declarative flow document schema from spec.md §6.
// Both YAML and JSON decode into this shape; `yaml` tags double as the JSON
// field names are given explicitly since the two libraries don't share tags.
type document struct {
	Name        string             `yaml:"name" json:"name"`
	Description string             `yaml:"description" json:"description"`
	Version     string             `yaml:"version" json:"version"`
	Author      string             `yaml:"author" json:"author"`
	Pauseable   bool               `yaml:"pauseable" json:"pauseable"`
	DefaultTimeout *int64          `yaml:"defaultTimeout" json:"defaultTimeout"`
	AutoResume  bool               `yaml:"autoResume" json:"autoResume"`
	States      []docState         `yaml:"states" json:"states"`
	Transitions []docTransition    `yaml:"transitions" json:"transitions"`
	Functions   []docFunction      `yaml:"functions" json:"functions"`
	Metadata    map[string]interface{} `yaml:"metadata" json:"metadata"`
}

type docTimeoutAction struct {
	Type        string `yaml:"type" json:"type"`
	TargetState string `yaml:"targetState" json:"targetState"`
	EventType   string `yaml:"eventType" json:"eventType"`
	EventName   string `yaml:"eventName" json:"eventName"`
}

type docState struct {
	ID            string            `yaml:"id" json:"id"`
	Name          string            `yaml:"name" json:"name"`
	Type          string            `yaml:"type" json:"type"`
	ParentID      string            `yaml:"parentId" json:"parentId"`
	IsInitial     bool              `yaml:"isInitial" json:"isInitial"`
	IsFinal       bool              `yaml:"isFinal" json:"isFinal"`
	IsError       bool              `yaml:"isError" json:"isError"`
	Pauseable     *bool             `yaml:"pauseable" json:"pauseable"`
	Timeout       *int64            `yaml:"timeout" json:"timeout"`
	PauseOnEnter  bool              `yaml:"pauseOnEnter" json:"pauseOnEnter"`
	TimeoutAction *docTimeoutAction `yaml:"timeoutAction" json:"timeoutAction"`
	Description   string            `yaml:"description" json:"description"`
}

type docTransition struct {
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Condition   string `yaml:"condition" json:"condition"`
	Priority    int    `yaml:"priority" json:"priority"`
	Description string `yaml:"description" json:"description"`
}

type docFunction struct {
	StateID     string   `yaml:"stateId" json:"stateId"`
	FunctionName string  `yaml:"functionName" json:"functionName"`
	ClassName   string   `yaml:"className" json:"className"`
	Description string   `yaml:"description" json:"description"`
	Priority    int      `yaml:"priority" json:"priority"`
	Timeout     int      `yaml:"timeout" json:"timeout"`
	RetryCount  int      `yaml:"retryCount" json:"retryCount"`
	Async       bool     `yaml:"async" json:"async"`
	Tags        []string `yaml:"tags" json:"tags"`
}

// LoadFile loads a flow document from disk. Format is chosen by extension
// (.yaml/.yml -> YAML, .json -> JSON); anything else defaults to YAML,
// matching the teacher's pkg/config.Load.
func LoadFile(path string) (*FlowConfig, error) {
	// #nosec G304 -- path is an operator-supplied deployment argument, not untrusted input.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrf("reading flow document %s: %v", path, err)
	}
	if strings.HasSuffix(path, ".json") {
		return LoadJSON(data)
	}
	return LoadYAML(data)
}

// LoadYAML parses a YAML-encoded flow document.
func LoadYAML(data []byte) (*FlowConfig, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, configErrf("parsing YAML flow document: %v", err)
	}
	return build(&doc)
}

// LoadJSON parses a JSON-encoded flow document.
func LoadJSON(data []byte) (*FlowConfig, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, configErrf("parsing JSON flow document: %v", err)
	}
	return build(&doc)
}

func build(doc *document) (*FlowConfig, error) {
	cfg := &FlowConfig{
		Name:        doc.Name,
		Description: doc.Description,
		Version:     doc.Version,
		Author:      doc.Author,
		Pauseable:   doc.Pauseable,
		AutoResume:  doc.AutoResume,
		States:      make(map[string]*StateDefinition, len(doc.States)),
		Transitions: make(map[string][]*TransitionDefinition),
		Metadata:    doc.Metadata,
	}
	if doc.DefaultTimeout != nil {
		cfg.DefaultTimeout = *doc.DefaultTimeout
	}

	for _, ds := range doc.States {
		if ds.ID == "" {
			return nil, configErrf("state entry missing id")
		}
		if _, dup := cfg.States[ds.ID]; dup {
			return nil, configErrf("duplicate state id %q", ds.ID)
		}
		def := &StateDefinition{
			ID:           ds.ID,
			Name:         ds.Name,
			Type:         StateType(strings.ToUpper(ds.Type)),
			ParentID:     ds.ParentID,
			IsInitial:    ds.IsInitial,
			IsFinal:      ds.IsFinal,
			IsError:      ds.IsError,
			Timeout:      ds.Timeout,
			PauseOnEnter: ds.PauseOnEnter,
			Description:  ds.Description,
		}
		if ds.Pauseable != nil {
			def.Pauseable = *ds.Pauseable
		} else {
			def.Pauseable = doc.Pauseable
		}
		if ds.TimeoutAction != nil {
			ta := &TimeoutAction{}
			switch ds.TimeoutAction.Type {
			case "transition":
				ta.Kind = TimeoutTransition
				ta.TargetState = ds.TimeoutAction.TargetState
			case "event":
				ta.Kind = TimeoutEvent
				ta.EventType = ds.TimeoutAction.EventType
				ta.EventName = ds.TimeoutAction.EventName
			default:
				return nil, configErrf("state %q: unknown timeoutAction.type %q", ds.ID, ds.TimeoutAction.Type)
			}
			def.TimeoutAction = ta
		}
		cfg.States[ds.ID] = def
	}

	// Tie-break on initial-state selection: first state in document order
	// with isInitial=true or type=Initial (spec.md §4.2).
	for _, ds := range doc.States {
		def := cfg.States[ds.ID]
		if def.IsInitial || def.Type == StateInitial {
			cfg.Initial = def
			break
		}
	}
	if cfg.Initial == nil {
		return nil, configErrf("no state has isInitial=true or type=Initial")
	}

	for i, dt := range doc.Transitions {
		if dt.From == "" || dt.To == "" {
			return nil, configErrf("transition entry missing from/to")
		}
		if _, ok := cfg.States[dt.From]; !ok {
			return nil, configErrf("transition references unknown from state %q", dt.From)
		}
		if _, ok := cfg.States[dt.To]; !ok {
			return nil, configErrf("transition references unknown to state %q", dt.To)
		}
		cond, customName, err := parseCondition(dt.Condition)
		if err != nil {
			return nil, configErrf("transition %s->%s: %v", dt.From, dt.To, err)
		}
		td := &TransitionDefinition{
			From:        dt.From,
			To:          dt.To,
			Condition:   cond,
			CustomName:  customName,
			Priority:    dt.Priority,
			Description: dt.Description,
			seq:         i,
		}
		cfg.Transitions[dt.From] = append(cfg.Transitions[dt.From], td)
	}

	// A TransitionTo timeout action pointing at an undefined state is a
	// warning, not a load-time failure (spec.md §4.2(d)); validated lazily
	// by the executor at fire time instead.
	sortTransitions(cfg)
	return cfg, nil
}

func parseCondition(s string) (TransitionCondition, string, error) {
	switch s {
	case "", string(ConditionSuccess):
		return ConditionSuccess, "", nil
	case string(ConditionFailure):
		return ConditionFailure, "", nil
	default:
		// Any other token names a custom predicate, registered separately
		// via FlowConfig.RegisterPredicate.
		return ConditionCustom, s, nil
	}
}

func sortTransitions(cfg *FlowConfig) {
	for from, edges := range cfg.Transitions {
		sortByPriorityThenSeq(edges)
		cfg.Transitions[from] = edges
	}
}

func sortByPriorityThenSeq(edges []*TransitionDefinition) {
	// Stable insertion sort: higher priority first; ties keep document
	// order (spec.md §3 TransitionDefinition, invariant P4).
	for i := 1; i < len(edges); i++ {
		for j := i; j > 0; j-- {
			if less(edges[j], edges[j-1]) {
				edges[j], edges[j-1] = edges[j-1], edges[j]
			} else {
				break
			}
		}
	}
}

func less(a, b *TransitionDefinition) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

// Validate re-runs structural checks against an already-built FlowConfig;
// used by the builder, which does not go through the document parser.
func Validate(cfg *FlowConfig) error {
	if cfg.Initial == nil {
		return configErrf("flow %q: no initial state", cfg.Name)
	}
	for from, edges := range cfg.Transitions {
		if _, ok := cfg.States[from]; !ok {
			return configErrf("transitions reference unknown state %q", from)
		}
		for _, e := range edges {
			if _, ok := cfg.States[e.To]; !ok {
				return configErrf("transition %s->%s: unknown target state", from, e.To)
			}
		}
	}
	// A TransitionTo timeout action pointing at an undefined state is
	// warned at fire time by the executor (spec.md §4.2(d)), not rejected
	// here.
	return nil
}
