package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/notify"
)

// txn collects the side effects of one guarded operation. Provider effects run
// after the request is stored and before its lock is released; records,
// metrics and deliveries are published once the lock is released.
type txn struct {
	op         string
	now        time.Time
	records    []logging.TransitionRecord
	deliveries []notify.Delivery
	results    []metrics.OfferResult
	pools      []metrics.CandidatePoolEvent
	effects    []func(context.Context)
	undo       []func(context.Context)
	rescan     []string
}

func newTxn(op string, now time.Time) *txn {
	return &txn{op: op, now: now}
}

func (tx *txn) record(req *model.EmergencyRequest, from, to model.Status, providerID, reason string) {
	tx.records = append(tx.records, logging.TransitionRecord{
		Timestamp:  tx.now,
		RequestID:  req.ID,
		From:       from,
		To:         to,
		ProviderID: providerID,
		Reason:     reason,
		Attempt:    req.Attempts,
	})
}

func (tx *txn) deliver(room string, ev events.Event) {
	tx.deliveries = append(tx.deliveries, notify.Delivery{Room: room, Event: ev})
}

// deliverParties sends ev to the requester, the provider (if any) and the request room.
func (tx *txn) deliverParties(req *model.EmergencyRequest, providerID string, ev events.Event) {
	tx.deliver(events.RequesterRoom(req.RequesterID), ev)
	if providerID != "" {
		tx.deliver(events.ProviderRoom(providerID), ev)
	}
	tx.deliver(events.RequestRoom(req.ID), ev)
}

func (tx *txn) offerResult(req *model.EmergencyRequest, offer model.Offer, outcome string) {
	tx.results = append(tx.results, metrics.OfferResult{
		RequestID:  req.ID,
		ProviderID: offer.CandidateID,
		Outcome:    outcome,
		Attempt:    offer.Attempt,
		Position:   offer.Position,
		Total:      offer.TotalCandidates,
		Latency:    tx.now.Sub(offer.OfferedAt),
		Time:       tx.now,
	})
}

func (tx *txn) effect(f func(context.Context)) { tx.effects = append(tx.effects, f) }

func (tx *txn) onRollback(f func(context.Context)) { tx.undo = append(tx.undo, f) }

func (tx *txn) runEffects(ctx context.Context) {
	for _, f := range tx.effects {
		f(ctx)
	}
}

func (tx *txn) rollback(ctx context.Context) {
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i](ctx)
	}
}
