// Package notify publishes transition-change events over NATS, grounded on
// the teacher's pkg/core/eventbus_cluster_nats.go connect/publish pattern
// (subject-prefix convention, encode-then-PublishMsg), narrowed to this
// domain's single fan-out subject.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/statewheel/engine/internal/config"
)

// TransitionEvent is the payload published after every persisted step.
type TransitionEvent struct {
	InstanceID string    `json:"instanceId"`
	FlowName   string    `json:"flowName"`
	FromState  string    `json:"fromState"`
	ToState    string    `json:"toState"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher publishes TransitionEvents to a NATS subject namespaced by
// configured prefix: "<prefix>.<instanceId>.transition".
type Publisher struct {
	nc     *nats.Conn
	prefix string
}

// Connect dials NATS per cfg and returns a Publisher. If cfg.Enabled is
// false, it returns a Publisher that silently drops everything.
func Connect(cfg config.NotifyConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return &Publisher{}, nil
	}
	url := cfg.URL
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url, nats.Name("statewheel-engine"))
	if err != nil {
		return nil, fmt.Errorf("notify: connect to NATS at %s: %w", url, err)
	}
	prefix := cfg.SubjectPrefix
	if prefix == "" {
		prefix = "statewheel"
	}
	return &Publisher{nc: nc, prefix: prefix}, nil
}

// PublishTransition sends evt on "<prefix>.<instanceId>.transition". A nil
// connection (disabled publisher) is a silent no-op.
func (p *Publisher) PublishTransition(evt TransitionEvent) error {
	if p == nil || p.nc == nil {
		return nil
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode transition event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.transition", p.prefix, evt.InstanceID)
	return p.nc.Publish(subject, data)
}

// Subject returns the subject a given instance's transitions publish on, for
// NATS subscribers to wire up.
func (p *Publisher) Subject(instanceID string) string {
	prefix := p.prefix
	if prefix == "" {
		prefix = "statewheel"
	}
	return fmt.Sprintf("%s.%s.transition", prefix, instanceID)
}

// Conn exposes the underlying connection for subscribers; nil if disabled.
func (p *Publisher) Conn() *nats.Conn {
	if p == nil {
		return nil
	}
	return p.nc
}

// Close drains and closes the underlying connection.
func (p *Publisher) Close() error {
	if p == nil || p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}
