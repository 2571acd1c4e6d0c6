// Package events provides the in-process publish/subscribe bus connecting the
// orchestration core to agents, risk management and observers.
package events

import (
	"sync"
	"time"
)

// Topic names every event the core publishes or consumes.
type Topic string

const (
	TopicSignalGenerated   Topic = "signal_generated"
	TopicSignalRejected    Topic = "signal_rejected"
	TopicConsensusReached  Topic = "consensus_reached"
	TopicDecisionQueued    Topic = "decision_queued"
	TopicTradeBlocked      Topic = "trade_blocked"
	TopicOrderExecuted     Topic = "order_executed"
	TopicExecutionFailed   Topic = "execution_failed"
	TopicExecutionError    Topic = "execution_error"
	TopicRiskAlert         Topic = "risk_alert"
	TopicRiskStatusChanged Topic = "risk_status_changed"
	TopicTradingHalted     Topic = "trading_halted"
	TopicTradingResumed    Topic = "trading_resumed"
	TopicDecisionCancelled Topic = "decision_cancelled"
)

// Event is a single bus message. Payload is an immutable domain value.
type Event struct {
	Topic   Topic     `json:"topic"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload,omitempty"`
}

// Bus fans out events to topic subscribers via buffered channels.
// Publishing is fire-and-forget: a slow subscriber drops events rather than
// blocking the pipeline.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic]map[chan Event]struct{}
	buffer int
}

// NewBus creates a bus with the given per-subscriber buffer.
func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 64
	}
	return &Bus{
		subs:   make(map[Topic]map[chan Event]struct{}),
		buffer: buffer,
	}
}

// Publish sends the payload to all subscribers of the topic, dropping if a
// reader is slow.
func (b *Bus) Publish(topic Topic, payload any) {
	ev := Event{Topic: topic, At: time.Now(), Payload: payload}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[topic] {
		select {
		case ch <- ev:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events for the given topics
// until Unsubscribe is called.
func (b *Bus) Subscribe(topics ...Topic) chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	for _, topic := range topics {
		if b.subs[topic] == nil {
			b.subs[topic] = make(map[chan Event]struct{})
		}
		b.subs[topic][ch] = struct{}{}
	}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel from every topic and closes it.
func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	var found bool
	for _, subs := range b.subs {
		if _, ok := subs[ch]; ok {
			delete(subs, ch)
			found = true
		}
	}
	if found {
		close(ch)
	}
	b.mu.Unlock()
}
