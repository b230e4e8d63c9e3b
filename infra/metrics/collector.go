package metrics

import (
	"context"

	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	coremetrics "github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/infra/logger"
	"github.com/kilianp07/vetdispatch/internal/eventbus"
)

// StartTransitionCollector subscribes to the transition bus and forwards every
// record to sinks implementing coremetrics.TransitionRecorder. It stops when
// the context is canceled or the bus is closed. The returned channel is closed
// once the collector goroutine has exited.
func StartTransitionCollector(ctx context.Context, bus *eventbus.TypedBus[logging.TransitionRecord], sink coremetrics.MetricsSink) <-chan struct{} {
	done := make(chan struct{})
	rec, ok := sink.(coremetrics.TransitionRecorder)
	if bus == nil || !ok {
		close(done)
		return done
	}
	log := logger.New("transition-collector")
	sub := bus.Subscribe()
	go func() {
		defer close(done)
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case r, ok := <-sub:
				if !ok {
					return
				}
				err := rec.RecordTransition(coremetrics.TransitionEvent{
					RequestID:  r.RequestID,
					From:       r.From,
					To:         r.To,
					ProviderID: r.ProviderID,
					Time:       r.Timestamp,
				})
				if err != nil {
					log.Errorf("record transition %s: %v", r.RequestID, err)
				}
			}
		}
	}()
	return done
}
