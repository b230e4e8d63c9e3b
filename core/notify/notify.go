// Package notify delivers dispatch events to per-entity rooms.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/logger"
)

// Notifier delivers one event to one room.
type Notifier interface {
	Notify(ctx context.Context, room string, ev events.Event) error
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, room string, ev events.Event) error

func (f Func) Notify(ctx context.Context, room string, ev events.Event) error {
	return f(ctx, room, ev)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Notify(context.Context, string, events.Event) error { return nil }

// Delivery pairs an event with its destination room.
type Delivery struct {
	Room  string
	Event events.Event
}

// Multi fans an event out to several notifiers concurrently. Every notifier
// is attempted; failures are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, room string, ev events.Event) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, n := range m {
		n := n
		g.Go(func() error {
			if err := n.Notify(ctx, room, ev); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	if len(errs) > 0 {
		return apperr.Wrap(apperr.KindNotificationFailed, "notify.multi", errors.Join(errs...))
	}
	return nil
}

// BestEffort sends deliveries without ever surfacing an error. Failures are
// logged and reported to OnFailure.
type BestEffort struct {
	Next      Notifier
	Log       logger.Logger
	Timeout   time.Duration
	OnFailure func(room string, ev events.Event, err error)
}

// Send delivers each item in order. It never fails.
func (b BestEffort) Send(ctx context.Context, items ...Delivery) {
	if b.Next == nil {
		return
	}
	for _, d := range items {
		b.sendOne(ctx, d)
	}
}

func (b BestEffort) sendOne(ctx context.Context, d Delivery) {
	defer func() {
		if r := recover(); r != nil {
			b.fail(d, apperr.New(apperr.KindNotificationFailed, "notify", "panic: %v", r))
		}
	}()
	cctx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	if err := b.Next.Notify(cctx, d.Room, d.Event); err != nil {
		b.fail(d, err)
	}
}

func (b BestEffort) fail(d Delivery, err error) {
	if b.Log != nil {
		b.Log.Warnf("notify %s to %s failed: %v", d.Event.EventName(), d.Room, err)
	}
	if b.OnFailure != nil {
		b.OnFailure(d.Room, d.Event, err)
	}
}
