// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

// Package eventbus publishes the lifecycle of signing requests to whoever
// displays or records it.
package eventbus

import (
	"sync"
	"time"
)

// Topics published by the orchestrator.
const (
	TopicState  = "request.state"
	TopicPrompt = "request.prompt"
	TopicResult = "request.result"

	// All receives every topic.
	All = "*"
)

// HandlerID uniquely identifies a registered event listener.
// It is returned by Subscribe and must be passed to Unsubscribe.
type HandlerID uint64

// Event is one notification about a request.
type Event struct {
	Topic     string
	RequestID string
	At        time.Time
	Payload   any
}

type Handler func(Event)

// EventBus is a concurrency-safe publish/subscribe event bus. Handlers run
// synchronously on the emitting goroutine, in subscription order.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   HandlerID
	now      func() time.Time
}

type subscription struct {
	id      HandlerID
	handler Handler
}

func New() *EventBus {
	return &EventBus{
		handlers: make(map[string][]subscription),
		now:      time.Now,
	}
}

// Subscribe registers handler for topic, or for every topic when topic is
// All.
func (b *EventBus) Subscribe(topic string, handler Handler) HandlerID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.handlers[topic] = append(b.handlers[topic], subscription{id: b.nextID, handler: handler})
	return b.nextID
}

// Unsubscribe removes the listener identified by id from the given topic.
// It is safe to call from within a Handler.
func (b *EventBus) Unsubscribe(topic string, id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[topic]
	for i, s := range subs {
		if s.id == id {
			b.handlers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.handlers[topic]) == 0 {
		delete(b.handlers, topic)
	}
}

// Emit delivers payload to the handlers of topic and to those subscribed
// to All. A nil bus drops the event.
func (b *EventBus) Emit(topic, requestID string, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	// Handlers run after the lock is released so they may subscribe or
	// unsubscribe themselves.
	snapshot := make([]Handler, 0, len(b.handlers[topic])+len(b.handlers[All]))
	for _, s := range b.handlers[topic] {
		snapshot = append(snapshot, s.handler)
	}
	if topic != All {
		for _, s := range b.handlers[All] {
			snapshot = append(snapshot, s.handler)
		}
	}
	now := b.now
	b.mu.RUnlock()

	ev := Event{Topic: topic, RequestID: requestID, At: now(), Payload: payload}
	for _, h := range snapshot {
		h(ev)
	}
}

// SubscriberCount returns the number of active subscribers for a topic.
func (b *EventBus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
