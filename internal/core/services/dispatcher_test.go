package services_test

import (
	"testing"

	"github.com/lorrc/service-desk-realtime/internal/core/domain"
	"github.com/lorrc/service-desk-realtime/internal/core/services"
	"github.com/stretchr/testify/assert"
)

func TestDispatcher_Emit(t *testing.T) {
	t.Run("handlers fire in registration order", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		var calls []string
		d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "first") })
		d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "second") })
		d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "third") })

		d.Emit(domain.EventTicketCreated, nil)

		assert.Equal(t, []string{"first", "second", "third"}, calls)
	})

	t.Run("payload is passed through untouched", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		var got any
		d.On(domain.EventUnreadCountUpdated, func(p any) { got = p })

		d.Emit(domain.EventUnreadCountUpdated, "not even a number")

		assert.Equal(t, "not even a number", got)
	})

	t.Run("emit with no handlers is a no-op", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		assert.NotPanics(t, func() { d.Emit(domain.EventTicketUpdated, nil) })
	})

	t.Run("only handlers of the emitted event run", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		called := false
		d.On(domain.EventTicketUpdated, func(any) { called = true })

		d.Emit(domain.EventTicketCreated, nil)

		assert.False(t, called)
	})

	t.Run("a panicking handler does not stop the others", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		reached := false
		d.On(domain.EventNotificationReceived, func(any) { panic("boom") })
		d.On(domain.EventNotificationReceived, func(any) { reached = true })

		assert.NotPanics(t, func() { d.Emit(domain.EventNotificationReceived, nil) })
		assert.True(t, reached)
	})
}

func TestDispatcher_Unsubscribe(t *testing.T) {
	t.Run("unsubscribed handler is not invoked", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		calls := 0
		unsubscribe := d.On(domain.EventNotificationReceived, func(any) { calls++ })

		unsubscribe()
		d.Emit(domain.EventNotificationReceived, nil)

		assert.Zero(t, calls)
		assert.Zero(t, d.HandlerCount(domain.EventNotificationReceived))
	})

	t.Run("unsubscribe is idempotent", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		var calls []string
		first := d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "first") })
		d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "second") })

		first()
		first()
		first()
		d.Emit(domain.EventTicketCreated, nil)

		assert.Equal(t, []string{"second"}, calls)
		assert.Equal(t, 1, d.HandlerCount(domain.EventTicketCreated))
	})

	t.Run("same function registered twice is two registrations", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		calls := 0
		handler := func(any) { calls++ }
		first := d.On(domain.EventTicketCreated, handler)
		d.On(domain.EventTicketCreated, handler)

		first()
		d.Emit(domain.EventTicketCreated, nil)

		assert.Equal(t, 1, calls)
	})

	t.Run("unsubscribing during emit keeps the current fan-out stable", func(t *testing.T) {
		d := services.NewDispatcher(nil)
		var calls []string
		var second services.Subscription
		d.On(domain.EventTicketCreated, func(any) {
			calls = append(calls, "first")
			second()
		})
		second = d.On(domain.EventTicketCreated, func(any) { calls = append(calls, "second") })

		d.Emit(domain.EventTicketCreated, nil)
		d.Emit(domain.EventTicketCreated, nil)

		assert.Equal(t, []string{"first", "second", "first"}, calls)
	})
}
