package dispatch

import (
	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/model"
)

// transitions lists the statuses reachable from each status.
var transitions = map[model.Status][]model.Status{
	model.StatusPending: {
		model.StatusOfferOutstanding,
		model.StatusExhausted,
		model.StatusCancelled,
	},
	model.StatusOfferOutstanding: {
		model.StatusOfferOutstanding,
		model.StatusAssigned,
		model.StatusExhausted,
		model.StatusCancelled,
	},
	model.StatusAssigned: {
		model.StatusIncidentReported,
		model.StatusCompleted,
		model.StatusCancelled,
	},
	model.StatusIncidentReported: {
		model.StatusPending,
	},
	model.StatusExhausted: {
		model.StatusPending,
		model.StatusCancelled,
	},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// transition moves req to the target status and records it on the txn.
func (tx *txn) transition(req *model.EmergencyRequest, to model.Status, providerID, reason string) error {
	from := req.Status
	if !CanTransition(from, to) {
		return apperr.Conflict(tx.op, "request %s cannot move from %s to %s", req.ID, from, to)
	}
	req.Status = to
	req.UpdatedAt = tx.now
	tx.record(req, from, to, providerID, reason)
	return nil
}
