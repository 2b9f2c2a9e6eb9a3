package notify

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/service0427/slot-inquiry/internal/model"
)

func TestBusDeliversInSubscriptionOrder(t *testing.T) {
	bus := NewBus()
	var got []string
	bus.Subscribe(func(e Event) { got = append(got, "a:"+e.InquiryID) })
	bus.Subscribe(func(e Event) { got = append(got, "b:"+e.InquiryID) })

	bus.Publish(Event{Kind: StatusChanged, InquiryID: "i1", Status: model.StatusClosed})
	require.Equal(t, []string{"a:i1", "b:i1"}, got)
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	calls := 0
	unsubscribe := bus.Subscribe(func(Event) { calls++ })
	require.Equal(t, 1, bus.Len())

	unsubscribe()
	unsubscribe()
	bus.Publish(Event{Kind: ThreadClosed})
	require.Zero(t, calls)
	require.Zero(t, bus.Len())
}

func TestNilBusIsInert(t *testing.T) {
	var bus *Bus
	unsubscribe := bus.Subscribe(func(Event) { t.Fatal("unexpected delivery") })
	bus.Publish(Event{Kind: ThreadClosed})
	unsubscribe()
	require.Zero(t, bus.Len())
}

func TestHandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewBus()
	bus.Subscribe(func(Event) {
		bus.Subscribe(func(Event) {})
	})
	require.NotPanics(t, func() { bus.Publish(Event{Kind: InquiryCreated}) })
	require.Equal(t, 2, bus.Len())
}
