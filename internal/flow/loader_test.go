package flow

import "testing"

const transferFlowYAML = `
name: transfer
description: money transfer between two accounts
version: "1.0"
pauseable: true
defaultTimeout: 300
states:
  - id: validating
    type: Initial
    isInitial: true
  - id: awaiting-approval
    pauseOnEnter: true
    timeout: 120
    timeoutAction:
      type: transition
      targetState: expired
  - id: transferring
  - id: completed
    type: Final
  - id: failed
    type: Error
  - id: expired
    type: Error
transitions:
  - from: validating
    to: awaiting-approval
    condition: Success
    priority: 10
  - from: validating
    to: failed
    condition: Failure
    priority: 5
  - from: awaiting-approval
    to: transferring
    condition: Success
  - from: awaiting-approval
    to: failed
    condition: Failure
  - from: transferring
    to: completed
    condition: Success
  - from: transferring
    to: failed
    condition: Failure
`

func TestLoadYAML_Valid(t *testing.T) {
	cfg, err := LoadYAML([]byte(transferFlowYAML))
	if err != nil {
		t.Fatalf("LoadYAML: %v", err)
	}
	if cfg.Initial == nil || cfg.Initial.ID != "validating" {
		t.Fatalf("expected initial state validating, got %+v", cfg.Initial)
	}
	if len(cfg.States) != 6 {
		t.Fatalf("expected 6 states, got %d", len(cfg.States))
	}
	edges := cfg.Transitions["validating"]
	if len(edges) != 2 || edges[0].Priority != 10 {
		t.Fatalf("expected highest-priority edge first, got %+v", edges)
	}
	awaiting := cfg.StateDef("awaiting-approval")
	if !awaiting.PauseOnEnter {
		t.Fatal("expected awaiting-approval.pauseOnEnter true")
	}
	if awaiting.TimeoutAction == nil || awaiting.TimeoutAction.Kind != TimeoutTransition || awaiting.TimeoutAction.TargetState != "expired" {
		t.Fatalf("unexpected timeoutAction: %+v", awaiting.TimeoutAction)
	}
	if !IsTerminal(cfg.StateDef("completed")) || !IsTerminal(cfg.StateDef("failed")) {
		t.Fatal("completed/failed should be terminal")
	}
	if IsTerminal(cfg.StateDef("transferring")) {
		t.Fatal("transferring should not be terminal")
	}
}

func TestLoadYAML_NoInitialState(t *testing.T) {
	doc := `
name: broken
states:
  - id: a
`
	if _, err := LoadYAML([]byte(doc)); err == nil {
		t.Fatal("expected error for missing initial state")
	}
}

func TestLoadYAML_DuplicateStateID(t *testing.T) {
	doc := `
name: broken
states:
  - id: a
    isInitial: true
  - id: a
`
	if _, err := LoadYAML([]byte(doc)); err == nil {
		t.Fatal("expected error for duplicate state id")
	}
}

func TestLoadYAML_UnknownTransitionTarget(t *testing.T) {
	doc := `
name: broken
states:
  - id: a
    isInitial: true
transitions:
  - from: a
    to: nowhere
`
	if _, err := LoadYAML([]byte(doc)); err == nil {
		t.Fatal("expected error for transition to unknown state")
	}
}

func TestLoadJSON_Valid(t *testing.T) {
	jsonDoc := `{
		"name": "simple",
		"states": [
			{"id": "start", "isInitial": true},
			{"id": "done", "type": "Final"}
		],
		"transitions": [
			{"from": "start", "to": "done", "condition": "Success"}
		]
	}`
	cfg, err := LoadJSON([]byte(jsonDoc))
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if cfg.Initial.ID != "start" {
		t.Fatalf("expected start as initial, got %v", cfg.Initial)
	}
}

func TestParseCondition_CustomToken(t *testing.T) {
	cond, name, err := parseCondition("highValueApproved")
	if err != nil {
		t.Fatalf("parseCondition: %v", err)
	}
	if cond != ConditionCustom || name != "highValueApproved" {
		t.Fatalf("expected Custom/highValueApproved, got %v/%v", cond, name)
	}
}
