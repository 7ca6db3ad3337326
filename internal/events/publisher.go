package events

import (
	"encoding/json"
	"time"

	"github.com/worldland/miner-fleet/internal/domain"
	"github.com/worldland/miner-fleet/internal/logging"
)

// MessagePublisher is the part of the MQTT client the publisher needs
type MessagePublisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// StateReader returns a miner's acknowledged operation state
type StateReader interface {
	Get(address string) (domain.OperationState, bool)
}

// StateMessage is the retained payload on the state topic
type StateMessage struct {
	Address     string             `json:"address"`
	Profile     domain.Profile     `json:"profile"`
	Curtailment domain.Curtailment `json:"curtailment"`
	Timestamp   time.Time          `json:"timestamp"`
}

// EventMessage is the payload on the event topic
type EventMessage struct {
	domain.Transition
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Publisher mirrors transitions onto MQTT. Successful transitions refresh the
// retained state topic; every attempt is published on the event topic.
// Publish failures are logged and never reach the caller.
type Publisher struct {
	client MessagePublisher
	states StateReader
	topics Topics
	qos    byte
	logger *logging.Logger
}

var _ domain.TransitionObserver = (*Publisher)(nil)

// NewPublisher creates a publisher
func NewPublisher(client MessagePublisher, states StateReader, topics Topics, qos byte, logger *logging.Logger) *Publisher {
	return &Publisher{
		client: client,
		states: states,
		topics: topics,
		qos:    qos,
		logger: logger.With("component", "events"),
	}
}

// ObserveTransition implements domain.TransitionObserver
func (p *Publisher) ObserveTransition(t domain.Transition) {
	event := EventMessage{Transition: t, OK: t.OK()}
	if t.Err != nil {
		event.Error = t.Err.Error()
	}
	p.publish(p.topics.Event(t.Address), event, false)

	if !t.OK() {
		return
	}
	state, ok := p.states.Get(t.Address)
	if !ok {
		return
	}
	p.publish(p.topics.State(t.Address), StateMessage{
		Address:     t.Address,
		Profile:     state.Profile,
		Curtailment: state.Curtailment,
		Timestamp:   t.At,
	}, true)
}

// Clear drops the retained state of a miner that left the fleet
func (p *Publisher) Clear(address string) {
	if err := p.client.Publish(p.topics.State(address), nil, p.qos, true); err != nil {
		p.logger.Warn("clearing retained state failed", "address", address, "error", err)
	}
}

func (p *Publisher) publish(topic string, msg any, retained bool) {
	payload, err := json.Marshal(msg)
	if err != nil {
		p.logger.Error("encoding event failed", "topic", topic, "error", err)
		return
	}
	if err := p.client.Publish(topic, payload, p.qos, retained); err != nil {
		p.logger.Warn("publish failed", "topic", topic, "error", err)
	}
}
