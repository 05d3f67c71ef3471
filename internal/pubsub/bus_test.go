package pubsub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBus_PublishInRegistrationOrder(t *testing.T) {
	bus := NewBus()
	var got []string

	bus.Subscribe("gameUpdate", func(p interface{}) { got = append(got, "a:"+p.(string)) })
	bus.Subscribe("gameUpdate", func(p interface{}) { got = append(got, "b:"+p.(string)) })
	bus.Subscribe("other", func(p interface{}) { got = append(got, "other") })

	bus.Publish("gameUpdate", "x")

	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestBus_UnknownTopicIsIgnored(t *testing.T) {
	bus := NewBus()
	assert.NotPanics(t, func() { bus.Publish("nobody", nil) })
}

func TestBus_UnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	bus := NewBus()
	var calls []int

	h := func(p interface{}) { calls = append(calls, 1) }
	unsubA := bus.Subscribe("t", h)
	bus.Subscribe("t", h) // same function value, separate registration

	unsubA()
	unsubA()
	bus.Publish("t", nil)

	assert.Equal(t, []int{1}, calls)
	assert.Equal(t, 1, bus.HandlerCount("t"))
}

func TestBus_SnapshotSemantics(t *testing.T) {
	bus := NewBus()
	var order []string
	var unsubB Unsubscribe

	bus.Subscribe("t", func(interface{}) {
		order = append(order, "a")
		unsubB()
		bus.Subscribe("t", func(interface{}) { order = append(order, "late") })
	})
	unsubB = bus.Subscribe("t", func(interface{}) { order = append(order, "b") })

	bus.Publish("t", nil)
	assert.Equal(t, []string{"a", "b"}, order, "changes during publish must not affect it")

	order = nil
	bus.Publish("t", nil)
	assert.Equal(t, []string{"a", "late"}, order)
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus()
	called := false
	unsub := bus.Subscribe("t", func(interface{}) { called = true })

	bus.Clear()
	bus.Publish("t", nil)
	assert.False(t, called)
	assert.Zero(t, bus.HandlerCount("t"))
	assert.NotPanics(t, func() { unsub() })
}
