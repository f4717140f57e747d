package events_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cipherlink/internal/events"
)

func TestBus_DeliversInOrderUntilUnsubscribed(t *testing.T) {
	bus := events.NewBus()
	var got []string

	unsubA := bus.Subscribe(func(e events.Event) { got = append(got, "a:"+e.EventName()) })
	bus.Subscribe(func(e events.Event) { got = append(got, "b:"+e.EventName()) })

	bus.Publish(events.DeviceChanged{UserID: "@a:x", DeviceID: "D"})
	unsubA()
	unsubA()
	bus.Publish(events.SessionImported{})

	require.Equal(t, []string{
		"a:device_changed",
		"b:device_changed",
		"b:session_imported",
	}, got)
}

func TestBus_UnsubscribeFromHandler(t *testing.T) {
	bus := events.NewBus()
	calls := 0
	var unsub func()
	unsub = bus.Subscribe(func(events.Event) {
		calls++
		unsub()
	})

	bus.Publish(events.RequestStateChanged{RequestID: "r"})
	bus.Publish(events.RequestStateChanged{RequestID: "r"})
	assert.Equal(t, 1, calls)
}

func TestBus_NilIsSilent(t *testing.T) {
	var bus *events.Bus
	assert.NotPanics(t, func() { bus.Publish(events.DeviceChanged{}) })
}
