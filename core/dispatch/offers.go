package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/core/model"
)

// Transition reasons recorded in the audit log.
const (
	reasonSubmitted    = "submitted"
	reasonOffered      = "offered"
	reasonNoCandidates = "no_candidates"
	reasonReopened     = "reopened"
	reasonAccepted     = "accepted"
	reasonIncident     = "incident"
	reasonReassignment = "reassignment"
	reasonCompleted    = "completed"

	// ReasonCodeRequesterCancelled is the default code of a requester cancellation.
	ReasonCodeRequesterCancelled = "requester_cancelled"
	// ReasonCodeWithdrawnAfterAcceptance marks a cancellation that lost the race
	// against an acceptance.
	ReasonCodeWithdrawnAfterAcceptance = "withdrawn_after_acceptance"
)

// SubmitRequest carries the input of a new emergency.
type SubmitRequest struct {
	RequesterID string           `json:"requester_id"`
	Triage      model.Triage     `json:"triage"`
	Location    model.Location   `json:"location"`
	Modality    model.Modality   `json:"modality"`
	Pricing     model.PriceQuote `json:"pricing"`
}

func (s SubmitRequest) validate(op string) error {
	switch {
	case strings.TrimSpace(s.RequesterID) == "":
		return apperr.Validation(op, "requester id is required")
	case strings.TrimSpace(s.Triage.MainReason) == "":
		return apperr.Validation(op, "triage main reason is required")
	case s.Triage.PriorityHint != "" && !s.Triage.PriorityHint.Valid():
		return apperr.Validation(op, "unknown priority %q", s.Triage.PriorityHint)
	case s.Location.Lat < -90 || s.Location.Lat > 90 || s.Location.Lng < -180 || s.Location.Lng > 180:
		return apperr.Validation(op, "location out of range")
	case s.Modality != "" && s.Modality != model.ModalityHomeVisit && s.Modality != model.ModalityInClinic:
		return apperr.Validation(op, "modality %q cannot be dispatched", s.Modality)
	case s.Pricing.Total.IsNegative():
		return apperr.Validation(op, "price quote must not be negative")
	}
	return nil
}

// Submit stores a new pending request and starts its dispatch.
func (m *Manager) Submit(ctx context.Context, in SubmitRequest) (model.EmergencyRequest, error) {
	const op = "dispatch.submit"
	if err := in.validate(op); err != nil {
		return model.EmergencyRequest{}, err
	}
	if in.Triage.PriorityHint == "" {
		in.Triage.PriorityHint = model.PriorityMedium
	}
	if in.Modality == "" {
		in.Modality = model.ModalityHomeVisit
	}
	now := m.clock.Now()
	req := model.EmergencyRequest{
		ID:          uuid.NewString(),
		RequesterID: in.RequesterID,
		Triage:      in.Triage,
		Location:    in.Location,
		Modality:    in.Modality,
		Pricing:     in.Pricing,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	created, err := m.requests.Create(ctx, req)
	if err != nil {
		return model.EmergencyRequest{}, err
	}
	tx := newTxn(op, now)
	tx.record(&created, "", model.StatusPending, "", reasonSubmitted)
	m.publish(ctx, tx)

	_, err = m.mutate(ctx, op, created.ID, func(tx *txn, req *model.EmergencyRequest) error {
		if req.Status != model.StatusPending {
			return errSkip
		}
		return m.start(ctx, tx, req)
	})
	if err != nil && !errors.Is(err, errSkip) {
		return model.EmergencyRequest{}, err
	}
	return m.requests.Get(ctx, created.ID)
}

// StartDispatch ranks the providers for a pending or exhausted request and
// offers it to the best candidate.
func (m *Manager) StartDispatch(ctx context.Context, id string) (model.EmergencyRequest, error) {
	return m.mutate(ctx, "dispatch.start", id, func(tx *txn, req *model.EmergencyRequest) error {
		if req.Status != model.StatusPending && req.Status != model.StatusExhausted {
			return apperr.Conflict(tx.op, "request %s is %s", req.ID, req.Status)
		}
		return m.start(ctx, tx, req)
	})
}

// Accept assigns the request to the candidate holding its offer. Other offers
// still held by the provider are withdrawn and cascade.
func (m *Manager) Accept(ctx context.Context, id, providerID string) (model.EmergencyRequest, error) {
	saved, err := m.mutate(ctx, "dispatch.accept", id, func(tx *txn, req *model.EmergencyRequest) error {
		if err := guardOffer(tx, req, providerID); err != nil {
			return err
		}
		if err := m.claimProvider(ctx, tx, req.ID, providerID); err != nil {
			return err
		}
		offer := *req.Offer
		req.Offer = nil
		req.Ranked = nil
		req.AssignedProviderID = providerID
		req.Tracking = model.Tracking{
			SubStatus:  model.TrackingAccepted,
			Timestamps: map[model.TrackingStatus]time.Time{model.TrackingAccepted: tx.now},
		}
		if err := tx.transition(req, model.StatusAssigned, providerID, reasonAccepted); err != nil {
			return err
		}
		tx.offerResult(req, offer, metrics.OutcomeAccepted)
		tx.deliverParties(req, providerID, events.DispatchAssigned{
			RequestID:  req.ID,
			ProviderID: providerID,
			SubStatus:  model.TrackingAccepted,
		})
		return nil
	})
	if err != nil {
		return saved, err
	}
	m.withdrawOffersOf(ctx, providerID, id)
	return saved, nil
}

// withdrawOffersOf cascades every outstanding offer held by a provider that
// just became busy. The provider is not excluded, so a later rescan may offer
// those requests to it again.
func (m *Manager) withdrawOffersOf(ctx context.Context, providerID, keep string) {
	pending, err := m.ListPending(ctx, providerID)
	if err != nil {
		m.logger.Errorf("list offers held by %s: %v", providerID, err)
		return
	}
	for _, r := range pending {
		if r.ID == keep {
			continue
		}
		_, err := m.mutate(ctx, "dispatch.withdraw_busy", r.ID, func(tx *txn, req *model.EmergencyRequest) error {
			if req.Status != model.StatusOfferOutstanding || req.Offer == nil || req.Offer.CandidateID != providerID {
				return errSkip
			}
			offer := *req.Offer
			req.Offer = nil
			tx.offerResult(req, offer, metrics.OutcomeWithdrawn)
			tx.deliver(events.ProviderRoom(providerID), events.OfferWithdrawn{RequestID: req.ID, Reason: events.ReasonRaceLost})
			return m.offerNext(ctx, tx, req)
		})
		if err != nil && !errors.Is(err, errSkip) {
			m.logger.Errorf("withdraw offer of %s held by busy provider %s: %v", r.ID, providerID, err)
		}
	}
}

// Reject declines the offer held by providerID and cascades to the next candidate.
// A rejection never affects the reliability score.
func (m *Manager) Reject(ctx context.Context, id, providerID, reason string) (model.EmergencyRequest, error) {
	return m.mutate(ctx, "dispatch.reject", id, func(tx *txn, req *model.EmergencyRequest) error {
		if err := guardOffer(tx, req, providerID); err != nil {
			return err
		}
		if strings.TrimSpace(reason) != "" {
			m.logger.Debugf("provider %s rejected %s: %s", providerID, req.ID, reason)
		}
		return m.decline(ctx, tx, req, metrics.OutcomeRejected, events.ReasonRejected)
	})
}

// ReportIncident records a post-acceptance failure of the assigned provider,
// penalizes it and forces a cascade that excludes it.
func (m *Manager) ReportIncident(ctx context.Context, id, providerID, reason string, requiresReassignment bool) (model.EmergencyRequest, error) {
	const op = "dispatch.incident"
	if strings.TrimSpace(reason) == "" {
		return model.EmergencyRequest{}, apperr.Validation(op, "incident reason is required")
	}
	if !requiresReassignment {
		m.logger.Debugf("incident on %s reported without reassignment flag, forcing cascade", id)
	}
	return m.mutate(ctx, op, id, func(tx *txn, req *model.EmergencyRequest) error {
		if req.Status != model.StatusAssigned {
			return apperr.Conflict(op, "request %s is %s", req.ID, req.Status)
		}
		if req.AssignedProviderID != providerID {
			return apperr.Forbidden(op, "provider %s is not assigned to %s", providerID, req.ID)
		}
		req.Incident = &model.Incident{
			ReportedAt:           tx.now,
			ReportedBy:           providerID,
			Reason:               reason,
			RequiresReassignment: true,
		}
		if err := tx.transition(req, model.StatusIncidentReported, providerID, reasonIncident); err != nil {
			return err
		}
		req.Exclude(providerID)
		req.AssignedProviderID = ""
		req.Tracking = model.Tracking{}
		tx.deliver(events.RequesterRoom(req.RequesterID), events.DispatchIncident{
			RequestID:            req.ID,
			Reason:               reason,
			RequiresReassignment: true,
		})
		tx.deliver(events.RequestRoom(req.ID), events.DispatchIncident{
			RequestID:            req.ID,
			Reason:               reason,
			RequiresReassignment: true,
		})
		requestID := req.ID
		tx.effect(func(ctx context.Context) {
			m.penalizeIncident(ctx, requestID, providerID, 0)
		})
		m.release(tx, req.ID, providerID)
		if err := tx.transition(req, model.StatusPending, "", reasonReassignment); err != nil {
			return err
		}
		return m.start(ctx, tx, req)
	})
}

// Cancel withdraws a request on behalf of its requester. When an acceptance
// already won, the assigned provider is notified and released without penalty.
func (m *Manager) Cancel(ctx context.Context, id, requesterID, reason string) (model.EmergencyRequest, error) {
	const op = "dispatch.cancel"
	return m.mutate(ctx, op, id, func(tx *txn, req *model.EmergencyRequest) error {
		if req.RequesterID != requesterID {
			return apperr.Forbidden(op, "actor %s did not create %s", requesterID, req.ID)
		}
		code := ReasonCodeRequesterCancelled
		switch req.Status {
		case model.StatusPending, model.StatusExhausted:
		case model.StatusOfferOutstanding:
			offer := *req.Offer
			req.Offer = nil
			tx.offerResult(req, offer, metrics.OutcomeWithdrawn)
			tx.deliver(events.ProviderRoom(offer.CandidateID), events.OfferWithdrawn{
				RequestID: req.ID,
				Reason:    events.ReasonCancelled,
			})
		case model.StatusAssigned:
			code = ReasonCodeWithdrawnAfterAcceptance
			pid := req.AssignedProviderID
			tx.deliver(events.ProviderRoom(pid), events.DispatchCancelled{
				RequestID:  req.ID,
				By:         requesterID,
				Reason:     reason,
				ReasonCode: code,
			})
			m.release(tx, req.ID, pid)
		default:
			return apperr.Conflict(op, "request %s is %s", req.ID, req.Status)
		}
		req.Ranked = nil
		req.Cancellation = &model.Cancellation{By: requesterID, At: tx.now, Reason: reason, ReasonCode: code}
		if err := tx.transition(req, model.StatusCancelled, req.AssignedProviderID, code); err != nil {
			return err
		}
		ev := events.DispatchCancelled{RequestID: req.ID, By: requesterID, Reason: reason, ReasonCode: code}
		tx.deliver(events.RequesterRoom(req.RequesterID), ev)
		tx.deliver(events.RequestRoom(req.ID), ev)
		return nil
	})
}

// UpdateTracking advances the tracking sub-status of an assigned request by
// exactly one step. Reaching completed closes the request.
func (m *Manager) UpdateTracking(ctx context.Context, id, actorID string, sub model.TrackingStatus) (model.EmergencyRequest, error) {
	const op = "dispatch.tracking"
	if sub.Rank() < 0 {
		return model.EmergencyRequest{}, apperr.Validation(op, "unknown sub-status %q", sub)
	}
	return m.mutate(ctx, op, id, func(tx *txn, req *model.EmergencyRequest) error {
		if req.Status != model.StatusAssigned {
			return apperr.Conflict(op, "request %s is %s", req.ID, req.Status)
		}
		if sub == model.TrackingTutorConfirmed {
			if actorID != req.RequesterID {
				return apperr.Forbidden(op, "only the requester confirms arrival")
			}
		} else if actorID != req.AssignedProviderID {
			return apperr.Forbidden(op, "actor %s is not assigned to %s", actorID, req.ID)
		}
		next, ok := req.Tracking.SubStatus.Next()
		if !ok || next != sub {
			return apperr.Conflict(op, "cannot move tracking from %s to %s", req.Tracking.SubStatus, sub)
		}
		if req.Tracking.Timestamps == nil {
			req.Tracking.Timestamps = make(map[model.TrackingStatus]time.Time)
		}
		req.Tracking.SubStatus = sub
		req.Tracking.Timestamps[sub] = tx.now
		req.UpdatedAt = tx.now
		pid := req.AssignedProviderID
		if sub == model.TrackingCompleted {
			if err := tx.transition(req, model.StatusCompleted, pid, reasonCompleted); err != nil {
				return err
			}
			m.release(tx, req.ID, pid)
		}
		tx.deliverParties(req, pid, events.TrackingUpdated{RequestID: req.ID, SubStatus: sub, At: tx.now})
		return nil
	})
}

// ListPending returns the outstanding offers addressed to the provider.
func (m *Manager) ListPending(ctx context.Context, providerID string) ([]model.EmergencyRequest, error) {
	reqs, err := m.requests.ListByStatus(ctx, model.StatusOfferOutstanding)
	if err != nil {
		return nil, err
	}
	out := make([]model.EmergencyRequest, 0, len(reqs))
	for _, r := range reqs {
		if r.Offer != nil && r.Offer.CandidateID == providerID {
			out = append(out, r)
		}
	}
	return out, nil
}

// ProviderAvailabilityChanged applies a presence update and, when the
// provider came online, rescans waiting requests. It returns the number of
// requests whose dispatch was restarted.
func (m *Manager) ProviderAvailabilityChanged(ctx context.Context, providerID string, availableNow bool, status model.PresenceStatus) (model.Provider, int, error) {
	const op = "dispatch.availability"
	switch status {
	case model.PresenceOnline, model.PresenceOffline, model.PresenceBusy:
	default:
		return model.Provider{}, 0, apperr.Validation(op, "unknown presence status %q", status)
	}
	now := m.clock.Now()
	p, err := m.providers.Mutate(ctx, providerID, func(p *model.Provider) error {
		p.AvailableNow = availableNow
		p.Status = status
		if status == model.PresenceOnline && p.ActiveEmergencyID != "" {
			p.Status = model.PresenceBusy
		}
		p.UpdatedAt = now
		return nil
	})
	if err != nil {
		return model.Provider{}, 0, err
	}
	m.logger.Infof("provider %s presence available=%t status=%s", providerID, availableNow, status)
	if !p.Online() {
		return p, 0, nil
	}
	n, err := m.OnProviderBecameAvailable(ctx, providerID)
	return p, n, err
}

// OnProviderBecameAvailable restarts dispatch for every pending or exhausted
// request the provider is eligible for. Requests with a live offer are skipped,
// so repeated calls never double-offer. An exhausted request that finds no
// candidate again is left untouched and not counted.
func (m *Manager) OnProviderBecameAvailable(ctx context.Context, providerID string) (int, error) {
	const op = "dispatch.rescan"
	p, err := m.providers.Get(ctx, providerID)
	if err != nil {
		return 0, err
	}
	if !p.Online() {
		return 0, nil
	}
	reqs, err := m.requests.ListByStatus(ctx, model.StatusPending, model.StatusExhausted)
	if err != nil {
		return 0, err
	}
	started := 0
	for _, r := range reqs {
		if _, reason := Eligible(p, r); reason != "" {
			continue
		}
		_, err := m.mutate(ctx, op, r.ID, func(tx *txn, req *model.EmergencyRequest) error {
			if req.Offer != nil || (req.Status != model.StatusPending && req.Status != model.StatusExhausted) {
				return errSkip
			}
			wasExhausted := req.Status == model.StatusExhausted
			if err := m.start(ctx, tx, req); err != nil {
				return err
			}
			if wasExhausted && req.Status == model.StatusExhausted {
				return errSkip
			}
			return nil
		})
		switch {
		case err == nil:
			started++
		case errors.Is(err, errSkip), apperr.KindOf(err) == apperr.KindStateConflict:
		default:
			return started, err
		}
	}
	return started, nil
}

func guardOffer(tx *txn, req *model.EmergencyRequest, providerID string) error {
	if req.Status != model.StatusOfferOutstanding || req.Offer == nil {
		return apperr.Conflict(tx.op, "request %s has no outstanding offer", req.ID)
	}
	if req.Offer.CandidateID != providerID {
		return apperr.Conflict(tx.op, "offer of %s is not held by %s", req.ID, providerID)
	}
	if !tx.now.Before(req.Offer.ExpiresAt) {
		return apperr.Conflict(tx.op, "offer of %s expired", req.ID)
	}
	return nil
}

// start ranks the current provider pool and offers to the head of the list.
func (m *Manager) start(ctx context.Context, tx *txn, req *model.EmergencyRequest) error {
	if req.Status == model.StatusExhausted {
		if err := tx.transition(req, model.StatusPending, "", reasonReopened); err != nil {
			return err
		}
	}
	pool, err := m.providers.List(ctx)
	if err != nil {
		return err
	}
	ranked := m.ranker.Rank(*req, pool)
	tx.pools = append(tx.pools, metrics.CandidatePoolEvent{
		RequestID:  req.ID,
		Candidates: len(ranked),
		Excluded:   len(req.Excluded),
		Time:       tx.now,
	})
	req.Ranked = ranked
	return m.offerNext(ctx, tx, req)
}

// offerNext pops the remaining ranked list until a candidate is still online
// and not excluded. The list is never re-ranked.
func (m *Manager) offerNext(ctx context.Context, tx *txn, req *model.EmergencyRequest) error {
	for len(req.Ranked) > 0 {
		c := req.Ranked[0]
		req.Ranked = req.Ranked[1:]
		if req.IsExcluded(c.ProviderID) {
			continue
		}
		p, err := m.providers.Get(ctx, c.ProviderID)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindNotFound {
				continue
			}
			return err
		}
		if !p.Online() || p.ActiveEmergencyID != "" {
			continue
		}
		return m.makeOffer(tx, req, c)
	}
	return m.exhaust(tx, req)
}

func (m *Manager) makeOffer(tx *txn, req *model.EmergencyRequest, c model.Candidate) error {
	expires := tx.now.Add(m.cfg.OfferTTL())
	if !expires.After(req.LastOfferExpiry) {
		expires = req.LastOfferExpiry.Add(time.Millisecond)
	}
	req.Attempts++
	req.LastOfferExpiry = expires
	req.Offer = &model.Offer{
		CandidateID:     c.ProviderID,
		OfferedAt:       tx.now,
		ExpiresAt:       expires,
		Position:        c.Position,
		TotalCandidates: c.TotalCandidates,
		Attempt:         req.Attempts,
	}
	if err := tx.transition(req, model.StatusOfferOutstanding, c.ProviderID, reasonOffered); err != nil {
		return err
	}
	tx.deliver(events.ProviderRoom(c.ProviderID), events.OfferCreated{
		RequestID:       req.ID,
		TriageSummary:   events.SummarizeTriage(req.Triage),
		PriceQuote:      req.Pricing,
		DistanceKm:      c.DistanceKm,
		ETASeconds:      int64(c.ETA / time.Second),
		ExpiresAt:       expires,
		Position:        c.Position,
		TotalCandidates: c.TotalCandidates,
		Attempt:         req.Attempts,
	})
	return nil
}

func (m *Manager) exhaust(tx *txn, req *model.EmergencyRequest) error {
	req.Ranked = nil
	if err := tx.transition(req, model.StatusExhausted, "", reasonNoCandidates); err != nil {
		return err
	}
	tx.deliver(events.RequesterRoom(req.RequesterID), events.DispatchExhausted{RequestID: req.ID})
	return nil
}

// decline resolves the outstanding offer without assignment, excludes the
// candidate and cascades. Only the informational rejection counter changes.
func (m *Manager) decline(ctx context.Context, tx *txn, req *model.EmergencyRequest, outcome, reason string) error {
	offer := *req.Offer
	req.Exclude(offer.CandidateID)
	req.Offer = nil
	tx.offerResult(req, offer, outcome)
	tx.deliver(events.ProviderRoom(offer.CandidateID), events.OfferWithdrawn{RequestID: req.ID, Reason: reason})
	tx.effect(func(ctx context.Context) {
		prof, err := m.policy.RecordRejection(ctx, offer.CandidateID)
		if err != nil {
			m.logger.Errorf("record rejection of %s: %v", offer.CandidateID, err)
			return
		}
		m.recordReliability(offer.CandidateID, outcome, prof)
	})
	return m.offerNext(ctx, tx, req)
}

// claimProvider marks the provider busy with this request. It fails when the
// provider already serves another emergency.
func (m *Manager) claimProvider(ctx context.Context, tx *txn, requestID, providerID string) error {
	var prev model.Provider
	_, err := m.providers.Mutate(ctx, providerID, func(p *model.Provider) error {
		if p.ActiveEmergencyID != "" && p.ActiveEmergencyID != requestID {
			return apperr.Conflict(tx.op, "provider %s already serves %s", providerID, p.ActiveEmergencyID)
		}
		prev = *p
		p.ActiveEmergencyID = requestID
		p.Status = model.PresenceBusy
		p.UpdatedAt = tx.now
		return nil
	})
	if err != nil {
		return err
	}
	tx.onRollback(func(ctx context.Context) {
		_, err := m.providers.Mutate(ctx, providerID, func(p *model.Provider) error {
			if p.ActiveEmergencyID == requestID {
				p.ActiveEmergencyID = prev.ActiveEmergencyID
				p.Status = prev.Status
			}
			return nil
		})
		if err != nil {
			m.logger.Errorf("rollback claim of %s: %v", providerID, err)
		}
	})
	return nil
}

// release clears the provider back-reference once the request is stored and
// queues the provider for a rescan.
func (m *Manager) release(tx *txn, requestID, providerID string) {
	if providerID == "" {
		return
	}
	tx.effect(func(ctx context.Context) {
		_, err := m.providers.Mutate(ctx, providerID, func(p *model.Provider) error {
			if p.ActiveEmergencyID != requestID {
				return nil
			}
			p.ActiveEmergencyID = ""
			if p.Status == model.PresenceBusy {
				p.Status = model.PresenceOnline
			}
			p.UpdatedAt = tx.now
			return nil
		})
		if err != nil {
			m.logger.Errorf("release provider %s: %v", providerID, err)
		}
	})
	tx.rescan = append(tx.rescan, providerID)
}
