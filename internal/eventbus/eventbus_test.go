// Copyright 2025 The firma Authors
// SPDX-License-Identifier: Apache-2.0

package eventbus

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeAndEmit(t *testing.T) {
	bus := New()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	bus.now = func() time.Time { return fixed }

	var received []Event
	bus.Subscribe(TopicState, func(e Event) { received = append(received, e) })

	bus.Emit(TopicState, "req-1", "validating")
	bus.Emit(TopicResult, "req-1", "ignored")

	require.Len(t, received, 1)
	assert.Equal(t, Event{Topic: TopicState, RequestID: "req-1", At: fixed, Payload: "validating"}, received[0])
}

func TestSubscriptionOrder(t *testing.T) {
	bus := New()
	var order []string
	bus.Subscribe(TopicState, func(Event) { order = append(order, "first") })
	bus.Subscribe(TopicState, func(Event) { order = append(order, "second") })
	bus.Subscribe(All, func(Event) { order = append(order, "all") })

	bus.Emit(TopicState, "", nil)
	assert.Equal(t, []string{"first", "second", "all"}, order)
}

func TestAllReceivesEveryTopic(t *testing.T) {
	bus := New()
	var topics []string
	bus.Subscribe(All, func(e Event) { topics = append(topics, e.Topic) })

	bus.Emit(TopicState, "r", nil)
	bus.Emit(TopicPrompt, "r", nil)
	bus.Emit(All, "r", nil)

	assert.Equal(t, []string{TopicState, TopicPrompt, All}, topics, "All subscribers see an All emit once")
}

func TestUnsubscribe(t *testing.T) {
	bus := New()

	var count int
	id := bus.Subscribe(TopicPrompt, func(Event) { count++ })
	bus.Emit(TopicPrompt, "", nil)
	bus.Unsubscribe(TopicPrompt, id)
	bus.Emit(TopicPrompt, "", nil)

	assert.Equal(t, 1, count)
	assert.Zero(t, bus.SubscriberCount(TopicPrompt))

	bus.Unsubscribe("no-such-topic", HandlerID(999))
}

func TestUnsubscribeFromHandler(t *testing.T) {
	bus := New()

	var id HandlerID
	var calls int
	id = bus.Subscribe(TopicResult, func(Event) {
		calls++
		bus.Unsubscribe(TopicResult, id)
	})

	bus.Emit(TopicResult, "", nil)
	bus.Emit(TopicResult, "", nil)
	assert.Equal(t, 1, calls)
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *EventBus
	assert.NotPanics(t, func() { bus.Emit(TopicState, "r", nil) })
}

func TestConcurrentEmitAndSubscribe(t *testing.T) {
	bus := New()
	var received atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			id := bus.Subscribe(TopicState, func(Event) { received.Add(1) })
			bus.Unsubscribe(TopicState, id)
		}()
		go func() {
			defer wg.Done()
			bus.Emit(TopicState, "r", nil)
		}()
	}
	wg.Wait()

	bus.Subscribe(TopicState, func(Event) { received.Add(1) })
	before := received.Load()
	bus.Emit(TopicState, "r", nil)
	assert.Equal(t, before+1, received.Load())
}
