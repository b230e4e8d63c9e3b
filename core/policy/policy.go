// Package policy applies the cancellation and incident rules that feed the
// provider reliability score.
package policy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/clock"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/logger"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/core/reliability"
	"github.com/kilianp07/vetdispatch/core/store"
)

// Outcome classifies a provider cancellation.
type Outcome string

const (
	OutcomeOnTime  Outcome = "on_time"
	OutcomeLate    Outcome = "late"
	OutcomeRefused Outcome = "refused"
)

// RematchPriorityHigh marks late cancellations for urgent re-matching.
const RematchPriorityHigh = "high"

// Classify decides the outcome of a cancellation lead time ahead of the appointment.
func Classify(cfg Config, m model.Modality, lead time.Duration) Outcome {
	switch {
	case lead < cfg.HardLimit():
		return OutcomeRefused
	case lead >= cfg.Window(m):
		return OutcomeOnTime
	default:
		return OutcomeLate
	}
}

// CancelRequest is a provider initiated appointment cancellation.
type CancelRequest struct {
	AppointmentID string
	ProviderID    string
	Reason        string
	ReasonCode    string
}

// CancelResult reports what the cancellation did.
type CancelResult struct {
	Outcome         Outcome
	RequiresSupport bool
	Appointment     model.Appointment
	Reliability     model.ReliabilityProfile
}

// Policy owns every mutation of provider reliability counters.
type Policy struct {
	cfg       Config
	providers store.ProviderDirectory
	appts     store.AppointmentStore
	clock     clock.Clock
	log       logger.Logger
	notify    notify.BestEffort
}

// New creates a Policy. A nil notifier disables requester notifications.
func New(cfg Config, providers store.ProviderDirectory, appts store.AppointmentStore, clk clock.Clock, log logger.Logger, n notify.Notifier) (*Policy, error) {
	if providers == nil || appts == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("policy: nil parameter provided to New")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Policy{
		cfg:       cfg,
		providers: providers,
		appts:     appts,
		clock:     clk,
		log:       log,
		notify:    notify.BestEffort{Next: n, Log: log},
	}, nil
}

// Config returns the effective configuration.
func (p *Policy) Config() Config { return p.cfg }

// RecordRejection records a pre-acceptance decline or timeout. Only the
// informational rejection counter changes; the score is untouched.
func (p *Policy) RecordRejection(ctx context.Context, providerID string) (model.ReliabilityProfile, error) {
	prov, err := p.providers.Mutate(ctx, providerID, func(pr *model.Provider) error {
		pr.Reliability.EmergencyRejections++
		return nil
	})
	if err != nil {
		return model.ReliabilityProfile{}, err
	}
	return prov.Reliability, nil
}

// PenalizeIncident records a post-acceptance failure and recomputes the score.
func (p *Policy) PenalizeIncident(ctx context.Context, providerID string) (model.ReliabilityProfile, error) {
	prov, err := p.providers.Mutate(ctx, providerID, func(pr *model.Provider) error {
		pr.Reliability.EmergencyIncidents++
		pr.Reliability.EmergencyFailures++
		pr.Reliability = reliability.Recompute(pr.Reliability)
		return nil
	})
	if err != nil {
		return model.ReliabilityProfile{}, err
	}
	p.log.Infof("provider %s penalized for incident, score %d", providerID, prov.Reliability.Score)
	return prov.Reliability, nil
}

// CancelAppointment applies the provider cancellation windows. Within the hard
// limit the appointment is left untouched and a hard_limit_exceeded error is
// returned with RequiresSupport set.
func (p *Policy) CancelAppointment(ctx context.Context, req CancelRequest) (CancelResult, error) {
	const op = "policy.cancel_appointment"
	if strings.TrimSpace(req.Reason) == "" {
		return CancelResult{}, apperr.Validation(op, "reason is required")
	}
	appt, err := p.appts.Get(ctx, req.AppointmentID)
	if err != nil {
		return CancelResult{}, err
	}
	if appt.ProviderID != req.ProviderID {
		return CancelResult{}, apperr.Forbidden(op, "provider %s does not own appointment %s", req.ProviderID, appt.ID)
	}
	if appt.Status != model.AppointmentScheduled {
		return CancelResult{}, apperr.Conflict(op, "appointment %s is %s", appt.ID, appt.Status)
	}

	now := p.clock.Now()
	outcome := Classify(p.cfg, appt.Modality, appt.StartsAt.Sub(now))
	if outcome == OutcomeRefused {
		return CancelResult{Outcome: outcome, RequiresSupport: true, Appointment: appt},
			apperr.New(apperr.KindHardLimitExceeded, op, "appointment %s starts in less than %s", appt.ID, p.cfg.HardLimit())
	}

	appt, err = p.appts.Mutate(ctx, appt.ID, func(a *model.Appointment) error {
		if a.Status != model.AppointmentScheduled {
			return apperr.Conflict(op, "appointment %s is %s", a.ID, a.Status)
		}
		a.Cancellation = &model.Cancellation{By: req.ProviderID, At: now, Reason: req.Reason, ReasonCode: req.ReasonCode}
		if outcome == OutcomeOnTime {
			a.Status = model.AppointmentCancelledByProviderOnTime
		} else {
			a.Status = model.AppointmentCancelledLateByProvider
			a.Rematch = RematchPriorityHigh
		}
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}

	prov, err := p.providers.Mutate(ctx, req.ProviderID, func(pr *model.Provider) error {
		if outcome == OutcomeOnTime {
			pr.Reliability.OnTimeCancellations++
		} else {
			pr.Reliability.LateCancellations++
		}
		pr.Reliability = reliability.Recompute(pr.Reliability)
		return nil
	})
	if err != nil {
		return CancelResult{}, err
	}
	p.log.Infof("appointment %s cancelled by provider %s (%s)", appt.ID, req.ProviderID, outcome)

	p.notify.Send(ctx, notify.Delivery{
		Room: events.RequesterRoom(appt.RequesterID),
		Event: events.AppointmentCancelled{
			AppointmentID:   appt.ID,
			ProviderID:      appt.ProviderID,
			Status:          appt.Status,
			Reason:          req.Reason,
			ReasonCode:      req.ReasonCode,
			PriorityRematch: outcome == OutcomeLate,
		},
	})
	return CancelResult{Outcome: outcome, Appointment: appt, Reliability: prov.Reliability}, nil
}

// RecordNoShow marks the appointment as a provider no-show reported by its requester.
func (p *Policy) RecordNoShow(ctx context.Context, appointmentID, requesterID string) (model.ReliabilityProfile, error) {
	const op = "policy.no_show"
	appt, err := p.appts.Mutate(ctx, appointmentID, func(a *model.Appointment) error {
		if a.RequesterID != requesterID {
			return apperr.Forbidden(op, "requester %s does not own appointment %s", requesterID, a.ID)
		}
		if a.Status != model.AppointmentScheduled {
			return apperr.Conflict(op, "appointment %s is %s", a.ID, a.Status)
		}
		if p.clock.Now().Before(a.StartsAt) {
			return apperr.Validation(op, "appointment %s has not started", a.ID)
		}
		a.Status = model.AppointmentNoShow
		return nil
	})
	if err != nil {
		return model.ReliabilityProfile{}, err
	}
	prov, err := p.providers.Mutate(ctx, appt.ProviderID, func(pr *model.Provider) error {
		pr.Reliability.NoShows++
		pr.Reliability = reliability.Recompute(pr.Reliability)
		return nil
	})
	if err != nil {
		return model.ReliabilityProfile{}, err
	}
	return prov.Reliability, nil
}
