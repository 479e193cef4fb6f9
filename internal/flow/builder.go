package flow

// Builder provides a fluent, code-first alternative to LoadYAML/LoadJSON for
// constructing a FlowConfig, grounded on the teacher's statemachine.Builder.
type Builder struct {
	cfg *FlowConfig
	seq int
}

// NewBuilder starts a new flow definition.
func NewBuilder(name string) *Builder {
	return &Builder{
		cfg: &FlowConfig{
			Name:        name,
			States:      make(map[string]*StateDefinition),
			Transitions: make(map[string][]*TransitionDefinition),
			Metadata:    make(map[string]interface{}),
		},
	}
}

func (b *Builder) Description(d string) *Builder { b.cfg.Description = d; return b }
func (b *Builder) Version(v string) *Builder     { b.cfg.Version = v; return b }
func (b *Builder) Author(a string) *Builder      { b.cfg.Author = a; return b }
func (b *Builder) DefaultTimeout(seconds int64) *Builder {
	b.cfg.DefaultTimeout = seconds
	return b
}
func (b *Builder) Pauseable(p bool) *Builder { b.cfg.Pauseable = p; return b }

// State registers a state definition. Exactly one state across the whole
// flow should have initial=true.
func (b *Builder) State(def StateDefinition) *Builder {
	if def.Type == "" {
		def.Type = StateNormal
	}
	cp := def
	b.cfg.States[def.ID] = &cp
	if cp.IsInitial || cp.Type == StateInitial {
		b.cfg.Initial = &cp
	}
	return b
}

// Transition adds an edge. Condition defaults to Success when empty.
func (b *Builder) Transition(from, to string, condition TransitionCondition, priority int) *Builder {
	if condition == "" {
		condition = ConditionSuccess
	}
	td := &TransitionDefinition{From: from, To: to, Condition: condition, Priority: priority, seq: b.seq}
	b.seq++
	b.cfg.Transitions[from] = append(b.cfg.Transitions[from], td)
	return b
}

// CustomTransition adds a Custom(predicate) edge, already bound to pred.
func (b *Builder) CustomTransition(from, to, name string, priority int, pred CustomPredicate) *Builder {
	td := &TransitionDefinition{
		From: from, To: to, Condition: ConditionCustom, CustomName: name,
		Predicate: pred, Priority: priority, seq: b.seq,
	}
	b.seq++
	b.cfg.Transitions[from] = append(b.cfg.Transitions[from], td)
	return b
}

// Build validates and returns the finished FlowConfig.
func (b *Builder) Build() (*FlowConfig, error) {
	sortTransitions(b.cfg)
	if err := Validate(b.cfg); err != nil {
		return nil, err
	}
	return b.cfg, nil
}
