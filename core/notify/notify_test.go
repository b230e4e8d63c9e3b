package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

func TestMultiJoinsFailures(t *testing.T) {
	ok := &Recorder{}
	bad := &Recorder{Err: errors.New("broker down")}
	err := Multi{ok, bad}.Notify(context.Background(), events.RequesterRoom("u1"), events.DispatchExhausted{RequestID: "r1"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindNotificationFailed, apperr.KindOf(err))
	assert.Len(t, ok.Deliveries, 1)
	assert.Len(t, bad.Deliveries, 1)
}

func TestBestEffortSwallowsErrors(t *testing.T) {
	var failed []string
	be := BestEffort{
		Next: Func(func(context.Context, string, events.Event) error { return errors.New("down") }),
		Log:  logger.NopLogger{},
		OnFailure: func(room string, _ events.Event, _ error) {
			failed = append(failed, room)
		},
	}
	be.Send(context.Background(),
		Delivery{Room: events.ProviderRoom("p1"), Event: events.OfferWithdrawn{RequestID: "r1"}},
		Delivery{Room: events.RequesterRoom("u1"), Event: events.DispatchExhausted{RequestID: "r1"}},
	)
	assert.Equal(t, []string{"provider:p1", "requester:u1"}, failed)
}

func TestBestEffortRecoversPanics(t *testing.T) {
	calls := 0
	be := BestEffort{
		Next:      Func(func(context.Context, string, events.Event) error { panic("boom") }),
		OnFailure: func(string, events.Event, error) { calls++ },
	}
	be.Send(context.Background(), Delivery{Room: "provider:p1", Event: events.DispatchExhausted{}})
	assert.Equal(t, 1, calls)
}

func TestHubRoomDelivery(t *testing.T) {
	at := time.Unix(10, 0)
	hub := NewHub(4, func() time.Time { return at })
	defer hub.Close()
	ch, leave := hub.Subscribe(events.ProviderRoom("p1"))
	defer leave()

	require.NoError(t, hub.Notify(context.Background(), events.ProviderRoom("p1"), events.OfferWithdrawn{RequestID: "r1", Reason: events.ReasonTimeout}))
	require.NoError(t, hub.Notify(context.Background(), events.ProviderRoom("p2"), events.OfferWithdrawn{RequestID: "r2"}))

	select {
	case env := <-ch:
		assert.Equal(t, events.NameOfferWithdrawn, env.Name)
		assert.Equal(t, at, env.At)
		assert.Equal(t, "r1", env.Payload.(events.OfferWithdrawn).RequestID)
	case <-time.After(time.Second):
		t.Fatalf("no envelope delivered")
	}
	select {
	case env := <-ch:
		t.Fatalf("unexpected envelope %+v", env)
	default:
	}
}
