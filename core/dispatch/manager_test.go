package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/clock"
	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/model"
	coremon "github.com/kilianp07/vetdispatch/core/monitoring"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/core/reliability"
	"github.com/kilianp07/vetdispatch/core/store"
	"github.com/kilianp07/vetdispatch/infra/logger"
	"github.com/kilianp07/vetdispatch/internal/eventbus"
)

var (
	start = time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	paris = model.Location{Lat: 48.8566, Lng: 2.3522, Address: "Place de l'Hotel de Ville"}
	ttl   = 60 * time.Second
)

type fixture struct {
	m         *Manager
	clk       *clock.Fake
	rec       *notify.Recorder
	requests  store.RequestStore
	providers *store.MemoryProviderDirectory
	audit     logging.LogStore
}

func newFixture(t *testing.T, providers ...model.Provider) fixture {
	return newFixtureWithStore(t, store.NewMemoryRequestStore(), providers...)
}

func newFixtureWithStore(t *testing.T, reqs store.RequestStore, providers ...model.Provider) fixture {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	clk := clock.NewFake(start)
	dir := store.NewMemoryProviderDirectory(providers...)
	rec := &notify.Recorder{}
	pol, err := policy.New(policy.Config{}, dir, store.NewMemoryAppointmentStore(), clk, logger.NopLogger{}, rec)
	require.NoError(t, err)
	m, err := NewManager(Config{}, reqs, dir, pol, clk, rec, nil, logger.NopLogger{})
	require.NoError(t, err)
	audit, err := logging.NewJSONLStore(filepath.Join(t.TempDir(), "transitions.jsonl"))
	require.NoError(t, err)
	m.SetLogStore(audit)
	t.Cleanup(func() { _ = m.Close() })
	return fixture{m: m, clk: clk, rec: rec, requests: reqs, providers: dir, audit: audit}
}

// vet returns an online independent home-visit provider dLat degrees north of paris.
func vet(id string, dLat float64) model.Provider {
	return model.Provider{
		ID:               id,
		Kind:             model.ProviderIndependent,
		Approved:         true,
		EmergencyEnabled: true,
		AvailableNow:     true,
		Status:           model.PresenceOnline,
		HomeVisit:        true,
		Location:         model.Location{Lat: paris.Lat + dLat, Lng: paris.Lng},
		Reliability:      model.ReliabilityProfile{Score: 100},
	}
}

func emergency() SubmitRequest {
	return SubmitRequest{
		RequesterID: "owner1",
		Triage: model.Triage{
			MainReason:    "bleeding",
			CriticalFlags: []string{"hemorrhage"},
			PriorityHint:  model.PriorityHigh,
		},
		Location: paris,
		Pricing:  model.PriceQuote{Total: decimal.NewFromInt(120), Currency: "EUR"},
	}
}

func (f fixture) submit(t *testing.T) model.EmergencyRequest {
	t.Helper()
	req, err := f.m.Submit(context.Background(), emergency())
	require.NoError(t, err)
	return req
}

func (f fixture) get(t *testing.T, id string) model.EmergencyRequest {
	t.Helper()
	req, err := f.m.Get(context.Background(), id)
	require.NoError(t, err)
	return req
}

func (f fixture) provider(t *testing.T, id string) model.Provider {
	t.Helper()
	p, err := f.providers.Get(context.Background(), id)
	require.NoError(t, err)
	return p
}

func names(evs []events.Event) []events.Name {
	out := make([]events.Name, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.EventName())
	}
	return out
}

func TestSubmitOffersClosestCandidate(t *testing.T) {
	f := newFixture(t, vet("v3", 0.03), vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	assert.Equal(t, model.StatusOfferOutstanding, req.Status)
	require.NotNil(t, req.Offer)
	assert.Equal(t, "v1", req.Offer.CandidateID)
	assert.Equal(t, 1, req.Offer.Position)
	assert.Equal(t, 3, req.Offer.TotalCandidates)
	assert.Equal(t, 1, req.Offer.Attempt)
	assert.Equal(t, start.Add(ttl), req.Offer.ExpiresAt)
	assert.Equal(t, model.PriorityHigh, req.Triage.PriorityHint)
	assert.Equal(t, model.ModalityHomeVisit, req.Modality)

	got := f.rec.For(events.ProviderRoom("v1"))
	require.Len(t, got, 1)
	offer := got[0].(events.OfferCreated)
	assert.Equal(t, req.ID, offer.RequestID)
	assert.Equal(t, "bleeding", offer.TriageSummary.MainReason)
	assert.True(t, offer.PriceQuote.Total.Equal(decimal.NewFromInt(120)))
	assert.Greater(t, offer.DistanceKm, 1.0)
	assert.Greater(t, offer.ETASeconds, int64(0))
	assert.Empty(t, f.rec.For(events.ProviderRoom("v2")))

	assert.Equal(t, 1, f.clk.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(liveOffers))
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	cases := map[string]func(*SubmitRequest){
		"no requester": func(r *SubmitRequest) { r.RequesterID = "" },
		"no reason":    func(r *SubmitRequest) { r.Triage.MainReason = " " },
		"bad priority": func(r *SubmitRequest) { r.Triage.PriorityHint = "urgent" },
		"bad location": func(r *SubmitRequest) { r.Location.Lat = 91 },
		"tele":         func(r *SubmitRequest) { r.Modality = model.ModalityTele },
		"negative":     func(r *SubmitRequest) { r.Pricing.Total = decimal.NewFromInt(-1) },
	}
	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			in := emergency()
			mutate(&in)
			_, err := f.m.Submit(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
	assert.Empty(t, f.rec.Deliveries)
}

func TestCascadeAfterTimeouts(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02), vet("v3", 0.03))
	req := f.submit(t)

	f.clk.Advance(ttl)
	f.clk.Advance(ttl)

	got := f.get(t, req.ID)
	assert.Equal(t, model.StatusOfferOutstanding, got.Status)
	require.NotNil(t, got.Offer)
	assert.Equal(t, "v3", got.Offer.CandidateID)
	assert.Equal(t, 3, got.Offer.Position)
	assert.Equal(t, 3, got.Offer.TotalCandidates)
	assert.Equal(t, 3, got.Offer.Attempt)
	assert.ElementsMatch(t, []string{"v1", "v2"}, got.Excluded)

	for _, id := range []string{"v1", "v2"} {
		evs := f.rec.For(events.ProviderRoom(id))
		assert.Equal(t, []events.Name{events.NameOfferCreated, events.NameOfferWithdrawn}, names(evs))
		assert.Equal(t, events.ReasonTimeout, evs[1].(events.OfferWithdrawn).Reason)

		p := f.provider(t, id)
		assert.Equal(t, 1, p.Reliability.EmergencyRejections)
		assert.Equal(t, 100, p.Reliability.Score)
	}

	var last time.Time
	for _, d := range f.rec.Named(events.NameOfferCreated) {
		exp := d.Event.(events.OfferCreated).ExpiresAt
		assert.True(t, exp.After(last), "expires_at must strictly increase")
		last = exp
	}
	assert.Equal(t, 2.0, testutil.ToFloat64(offersTotal.WithLabelValues("timeout")))
	assert.Equal(t, 1, f.clk.Pending())
	assert.Equal(t, 1.0, testutil.ToFloat64(liveOffers))
}

func TestExhaustionWithoutCandidates(t *testing.T) {
	f := newFixture(t)
	req := f.submit(t)

	assert.Equal(t, model.StatusExhausted, req.Status)
	assert.Nil(t, req.Offer)
	assert.Zero(t, req.Attempts)
	assert.Empty(t, f.rec.Named(events.NameOfferCreated))
	assert.Equal(t, []events.Name{events.NameDispatchExhausted}, names(f.rec.For(events.RequesterRoom("owner1"))))
	assert.Zero(t, f.clk.Pending())

	recs, err := f.audit.Query(context.Background(), logging.LogQuery{RequestID: req.ID})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.StatusPending, recs[0].To)
	assert.Equal(t, model.StatusPending, recs[1].From)
	assert.Equal(t, model.StatusExhausted, recs[1].To)
}

func TestRejectLastCandidateExhausts(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	req := f.submit(t)

	got, err := f.m.Reject(context.Background(), req.ID, "v1", "in surgery")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExhausted, got.Status)
	assert.Nil(t, got.Offer)
	assert.Equal(t, []string{"v1"}, got.Excluded)
	assert.Zero(t, f.clk.Pending())
	assert.Len(t, f.rec.Named(events.NameDispatchExhausted), 1)
}

func TestRejectNeverPenalizes(t *testing.T) {
	late := vet("v1", 0.01)
	late.Reliability = reliability.Recompute(model.ReliabilityProfile{LateCancellations: 1, OnTimeCancellations: 2})
	f := newFixture(t, late, vet("v2", 0.02))
	before := late.Reliability.Score
	req := f.submit(t)

	got, err := f.m.Reject(context.Background(), req.ID, "v1", "too far")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Offer.CandidateID)
	assert.Equal(t, 2, got.Offer.Position)

	p := f.provider(t, "v1")
	assert.Equal(t, before, p.Reliability.Score)
	assert.Equal(t, 1, p.Reliability.EmergencyRejections)
	assert.Equal(t, events.ReasonRejected, f.rec.For(events.ProviderRoom("v1"))[1].(events.OfferWithdrawn).Reason)

	_, err = f.m.Reject(context.Background(), req.ID, "v1", "again")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestAcceptAssignsAndStopsTimer(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	got, err := f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusAssigned, got.Status)
	assert.Equal(t, "v1", got.AssignedProviderID)
	assert.Nil(t, got.Offer)
	assert.Equal(t, model.TrackingAccepted, got.Tracking.SubStatus)
	assert.Zero(t, f.clk.Pending())
	assert.Zero(t, testutil.ToFloat64(liveOffers))

	p := f.provider(t, "v1")
	assert.Equal(t, req.ID, p.ActiveEmergencyID)
	assert.Equal(t, model.PresenceBusy, p.Status)

	assigned := f.rec.Named(events.NameDispatchAssigned)
	rooms := make([]string, 0, len(assigned))
	for _, d := range assigned {
		rooms = append(rooms, d.Room)
	}
	assert.ElementsMatch(t, []string{events.RequesterRoom("owner1"), events.ProviderRoom("v1"), events.RequestRoom(req.ID)}, rooms)

	assert.Equal(t, 1.0, testutil.ToFloat64(offersTotal.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(transitionsTotal.WithLabelValues("offer_outstanding", "assigned")))

	f.clk.Advance(2 * ttl)
	assert.Equal(t, model.StatusAssigned, f.get(t, req.ID).Status)
}

func TestDuplicateAcceptIsConflict(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	req := f.submit(t)
	_, err := f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	before := f.get(t, req.ID)
	deliveries := len(f.rec.Deliveries)

	_, err = f.m.Accept(context.Background(), req.ID, "v1")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Equal(t, before, f.get(t, req.ID))
	assert.Len(t, f.rec.Deliveries, deliveries)
}

func TestAcceptGuards(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	_, err := f.m.Accept(context.Background(), req.ID, "v2")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	_, err = f.m.Accept(context.Background(), "missing", "v1")
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	f.clk.Advance(ttl)
	_, err = f.m.Accept(context.Background(), req.ID, "v1")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	assert.Equal(t, "v2", f.get(t, req.ID).Offer.CandidateID)
}

func TestAcceptFailsWhenProviderBusyElsewhere(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	first := f.submit(t)
	second := f.submit(t)
	require.Equal(t, "v1", second.Offer.CandidateID)

	_, err := f.m.Accept(context.Background(), first.ID, "v1")
	require.NoError(t, err)
	_, err = f.m.Accept(context.Background(), second.ID, "v1")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	got := f.get(t, second.ID)
	assert.Equal(t, model.StatusExhausted, got.Status)
	assert.Nil(t, got.Offer)
	assert.Equal(t, first.ID, f.provider(t, "v1").ActiveEmergencyID)
}

func TestAcceptWithdrawsOtherOffersOfProvider(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	ctx := context.Background()
	first := f.submit(t)
	second := f.submit(t)
	require.Equal(t, "v1", first.Offer.CandidateID)
	require.Equal(t, "v1", second.Offer.CandidateID)

	_, err := f.m.Accept(ctx, first.ID, "v1")
	require.NoError(t, err)

	got := f.get(t, second.ID)
	assert.Equal(t, model.StatusOfferOutstanding, got.Status)
	require.NotNil(t, got.Offer)
	assert.Equal(t, "v2", got.Offer.CandidateID)
	assert.NotContains(t, got.Excluded, "v1")
	assert.Equal(t, 1, f.clk.Pending())

	var withdrawn []events.OfferWithdrawn
	for _, ev := range f.rec.For(events.ProviderRoom("v1")) {
		if w, ok := ev.(events.OfferWithdrawn); ok {
			withdrawn = append(withdrawn, w)
		}
	}
	require.Len(t, withdrawn, 1)
	assert.Equal(t, second.ID, withdrawn[0].RequestID)
	assert.Equal(t, events.ReasonRaceLost, withdrawn[0].Reason)

	pending, err := f.m.ListPending(ctx, "v1")
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Zero(t, f.provider(t, "v1").Reliability.EmergencyRejections)

	_, err = f.m.Accept(ctx, second.ID, "v2")
	require.NoError(t, err)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)
	_, err := f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	before := f.get(t, req.ID)

	f.m.onExpire(req.ID, 1, 0)

	assert.Equal(t, before, f.get(t, req.ID))
	assert.Zero(t, testutil.ToFloat64(expiryFailures))
	assert.Zero(t, f.clk.Pending())
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	req := f.submit(t)

	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.m.Accept(context.Background(), req.ID, "v1")
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, apperr.ErrStateConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(15), conflicts.Load())
	assert.Len(t, f.rec.Named(events.NameDispatchAssigned), 3)
}

func TestIncidentPenalizesAndCascades(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)
	_, err := f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	before := f.provider(t, "v1").Reliability

	got, err := f.m.ReportIncident(context.Background(), req.ID, "v1", "car broke down", false)
	require.NoError(t, err)
	assert.Equal(t, model.StatusOfferOutstanding, got.Status)
	assert.Equal(t, "v2", got.Offer.CandidateID)
	assert.Contains(t, got.Excluded, "v1")
	assert.Empty(t, got.AssignedProviderID)
	require.NotNil(t, got.Incident)
	assert.True(t, got.Incident.RequiresReassignment)

	p := f.provider(t, "v1")
	assert.Greater(t, p.Reliability.EmergencyFailures, before.EmergencyFailures)
	assert.Equal(t, 1, p.Reliability.EmergencyIncidents)
	assert.LessOrEqual(t, p.Reliability.Score, before.Score-20+5)
	assert.Empty(t, p.ActiveEmergencyID)
	assert.Equal(t, model.PresenceOnline, p.Status)

	incidents := f.rec.For(events.RequesterRoom("owner1"))
	require.NotEmpty(t, incidents)
	inc, ok := incidents[len(incidents)-1].(events.DispatchIncident)
	require.True(t, ok)
	assert.True(t, inc.RequiresReassignment)
	assert.Equal(t, "car broke down", inc.Reason)

	recs, err := f.audit.Query(context.Background(), logging.LogQuery{RequestID: req.ID, Status: model.StatusIncidentReported})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.StatusAssigned, recs[0].From)
	assert.Equal(t, model.StatusPending, recs[1].To)
}

func TestIncidentGuards(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	_, err := f.m.ReportIncident(context.Background(), req.ID, "v1", "flat tyre", true)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	_, err = f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	_, err = f.m.ReportIncident(context.Background(), req.ID, "v1", "", true)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.m.ReportIncident(context.Background(), req.ID, "v2", "flat tyre", true)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	assert.Equal(t, model.StatusAssigned, f.get(t, req.ID).Status)
	assert.Equal(t, 100, f.provider(t, "v1").Reliability.Score)
}

func TestCancelOutstandingOffer(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	req := f.submit(t)

	_, err := f.m.Cancel(context.Background(), req.ID, "intruder", "nope")
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	got, err := f.m.Cancel(context.Background(), req.ID, "owner1", "pet is fine")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Nil(t, got.Offer)
	assert.Equal(t, ReasonCodeRequesterCancelled, got.Cancellation.ReasonCode)
	assert.Zero(t, f.clk.Pending())

	evs := f.rec.For(events.ProviderRoom("v1"))
	assert.Equal(t, events.ReasonCancelled, evs[len(evs)-1].(events.OfferWithdrawn).Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(offersTotal.WithLabelValues("withdrawn")))

	_, err = f.m.Cancel(context.Background(), req.ID, "owner1", "twice")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestCancelAfterAcceptanceWithdraws(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	req := f.submit(t)
	_, err := f.m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)

	got, err := f.m.Cancel(context.Background(), req.ID, "owner1", "found another vet")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, ReasonCodeWithdrawnAfterAcceptance, got.Cancellation.ReasonCode)

	evs := f.rec.For(events.ProviderRoom("v1"))
	cancelled, ok := evs[len(evs)-1].(events.DispatchCancelled)
	require.True(t, ok)
	assert.Equal(t, "owner1", cancelled.By)

	p := f.provider(t, "v1")
	assert.Empty(t, p.ActiveEmergencyID)
	assert.Equal(t, model.PresenceOnline, p.Status)
	assert.Equal(t, model.ReliabilityProfile{Score: 100}, p.Reliability)
}

func TestTrackingProgression(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	ctx := context.Background()
	req := f.submit(t)

	_, err := f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingEnRoute)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)

	_, err = f.m.Accept(ctx, req.ID, "v1")
	require.NoError(t, err)

	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", "teleported")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingArrived)
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
	_, err = f.m.UpdateTracking(ctx, req.ID, "owner1", model.TrackingEnRoute)
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingEnRoute)
	require.NoError(t, err)
	f.clk.Advance(10 * time.Minute)
	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingArrived)
	require.NoError(t, err)
	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingTutorConfirmed)
	assert.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = f.m.UpdateTracking(ctx, req.ID, "owner1", model.TrackingTutorConfirmed)
	require.NoError(t, err)
	_, err = f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingInService)
	require.NoError(t, err)
	got, err := f.m.UpdateTracking(ctx, req.ID, "v1", model.TrackingCompleted)
	require.NoError(t, err)

	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.Equal(t, start.Add(10*time.Minute), got.Tracking.Timestamps[model.TrackingArrived])
	assert.Len(t, got.Tracking.Timestamps, 6)
	assert.Empty(t, f.provider(t, "v1").ActiveEmergencyID)
	assert.Len(t, f.rec.For(events.RequesterRoom("owner1")), 1+5)

	_, err = f.m.Cancel(ctx, req.ID, "owner1", "late")
	assert.ErrorIs(t, err, apperr.ErrStateConflict)
}

func TestAvailabilityReopensExhaustedRequest(t *testing.T) {
	off := vet("v1", 0.01)
	off.AvailableNow = false
	off.Status = model.PresenceOffline
	f := newFixture(t, off)
	ctx := context.Background()
	req := f.submit(t)
	require.Equal(t, model.StatusExhausted, req.Status)

	p, n, err := f.m.ProviderAvailabilityChanged(ctx, "v1", true, model.PresenceOnline)
	require.NoError(t, err)
	assert.True(t, p.Online())
	assert.Equal(t, 1, n)

	got := f.get(t, req.ID)
	assert.Equal(t, model.StatusOfferOutstanding, got.Status)
	assert.Equal(t, "v1", got.Offer.CandidateID)

	n, err = f.m.OnProviderBecameAvailable(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, 1, f.get(t, req.ID).Attempts)
	assert.Len(t, f.rec.Named(events.NameOfferCreated), 1)

	recs, err := f.audit.Query(ctx, logging.LogQuery{RequestID: req.ID, Status: model.StatusExhausted})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "reopened", recs[1].Reason)
}

func TestRescanSkipsExcludedProvider(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	ctx := context.Background()
	req := f.submit(t)
	_, err := f.m.Reject(ctx, req.ID, "v1", "busy")
	require.NoError(t, err)

	n, err := f.m.OnProviderBecameAvailable(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, model.StatusExhausted, f.get(t, req.ID).Status)
}

func TestBusyProviderHeartbeatDoesNotReopen(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	ctx := context.Background()
	first := f.submit(t)
	_, err := f.m.Accept(ctx, first.ID, "v1")
	require.NoError(t, err)
	waiting := f.submit(t)
	require.Equal(t, model.StatusExhausted, waiting.Status)
	exhausted := len(f.rec.Named(events.NameDispatchExhausted))

	for i := 0; i < 3; i++ {
		p, n, err := f.m.ProviderAvailabilityChanged(ctx, "v1", true, model.PresenceOnline)
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Equal(t, model.PresenceBusy, p.Status)
		assert.False(t, p.Online())
	}

	assert.Len(t, f.rec.Named(events.NameDispatchExhausted), exhausted)
	recs, err := f.audit.Query(ctx, logging.LogQuery{RequestID: waiting.ID})
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = f.m.UpdateTracking(ctx, first.ID, "v1", model.TrackingEnRoute)
	require.NoError(t, err)
	n, err := f.m.OnProviderBecameAvailable(ctx, "v1")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAvailabilityValidation(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	_, _, err := f.m.ProviderAvailabilityChanged(context.Background(), "v1", true, "sleeping")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = f.m.ProviderAvailabilityChanged(context.Background(), "ghost", true, model.PresenceOnline)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	p, n, err := f.m.ProviderAvailabilityChanged(context.Background(), "v1", false, model.PresenceOffline)
	require.NoError(t, err)
	assert.False(t, p.Online())
	assert.Zero(t, n)
}

func TestListPending(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02))
	a := f.submit(t)
	b := f.submit(t)

	pending, err := f.m.ListPending(context.Background(), "v1")
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{pending[0].ID, pending[1].ID})

	pending, err = f.m.ListPending(context.Background(), "v2")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAtMostOneOutstandingOffer(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01), vet("v2", 0.02), vet("v3", 0.03))
	req := f.submit(t)
	for i := 0; i < 4; i++ {
		got := f.get(t, req.ID)
		if got.Offer != nil {
			holders := 0
			for _, id := range []string{"v1", "v2", "v3"} {
				pending, err := f.m.ListPending(context.Background(), id)
				require.NoError(t, err)
				holders += len(pending)
			}
			assert.Equal(t, 1, holders)
		}
		assert.LessOrEqual(t, f.clk.Pending(), 1)
		f.clk.Advance(ttl)
	}
	assert.Equal(t, model.StatusExhausted, f.get(t, req.ID).Status)
}

func TestNotificationFailureDoesNotBlockTransition(t *testing.T) {
	f := newFixture(t, vet("v1", 0.01))
	f.rec.Err = errors.New("socket closed")
	req := f.submit(t)
	assert.Equal(t, model.StatusOfferOutstanding, req.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(notifyFailures))
}

func TestTransitionBusReceivesRecords(t *testing.T) {
	f := newFixture(t)
	bus := eventbus.NewTyped[logging.TransitionRecord]()
	ch := bus.Subscribe()
	f.m.SetTransitionBus(bus)

	req := f.submit(t)
	var got []logging.TransitionRecord
	for len(got) < 2 {
		select {
		case rec := <-ch:
			got = append(got, rec)
		case <-time.After(time.Second):
			t.Fatalf("timeout waiting for transition records, got %d", len(got))
		}
	}
	assert.Equal(t, req.ID, got[0].RequestID)
	assert.Equal(t, model.StatusExhausted, got[1].To)
}

// flakyRequests fails the next failures updates with a non-conflict error.
type flakyRequests struct {
	*store.MemoryRequestStore
	failures atomic.Int32
}

func (s *flakyRequests) Update(ctx context.Context, req model.EmergencyRequest) (model.EmergencyRequest, error) {
	if s.failures.Add(-1) >= 0 {
		return model.EmergencyRequest{}, errors.New("disk full")
	}
	return s.MemoryRequestStore.Update(ctx, req)
}

type captureMonitor struct {
	coremon.NopMonitor
	mu   sync.Mutex
	tags []map[string]string
}

func (c *captureMonitor) CaptureException(_ error, tags map[string]string) {
	c.mu.Lock()
	c.tags = append(c.tags, tags)
	c.mu.Unlock()
}

func TestExpiryRetriesThenRecovers(t *testing.T) {
	reqs := &flakyRequests{MemoryRequestStore: store.NewMemoryRequestStore()}
	f := newFixtureWithStore(t, reqs, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	reqs.failures.Store(1)
	f.clk.Advance(ttl + time.Second)

	got := f.get(t, req.ID)
	assert.Equal(t, "v2", got.Offer.CandidateID)
	assert.Zero(t, testutil.ToFloat64(expiryFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(liveOffers))
}

func TestExpiryFailureIsReported(t *testing.T) {
	mon := &captureMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	reqs := &flakyRequests{MemoryRequestStore: store.NewMemoryRequestStore()}
	f := newFixtureWithStore(t, reqs, vet("v1", 0.01), vet("v2", 0.02))
	req := f.submit(t)

	reqs.failures.Store(100)
	f.clk.Advance(ttl + 5*time.Second)
	reqs.failures.Store(0)

	assert.Equal(t, 1.0, testutil.ToFloat64(expiryFailures))
	require.Len(t, mon.tags, 1)
	assert.Equal(t, req.ID, mon.tags[0]["request_id"])
	assert.Equal(t, "1", mon.tags[0]["attempt"])
	assert.Equal(t, "dispatch_manager", mon.tags[0]["module"])
	assert.Equal(t, "v1", f.get(t, req.ID).Offer.CandidateID)
}

type flakyProviders struct {
	*store.MemoryProviderDirectory
	failures atomic.Int32
}

func (d *flakyProviders) Mutate(ctx context.Context, id string, fn func(*model.Provider) error) (model.Provider, error) {
	if d.failures.Add(-1) >= 0 {
		return model.Provider{}, errors.New("disk full")
	}
	return d.MemoryProviderDirectory.Mutate(ctx, id, fn)
}

func newIncidentFixture(t *testing.T, failures int32) (*Manager, *clock.Fake, *store.MemoryProviderDirectory) {
	t.Helper()
	ResetMetrics(prometheus.NewRegistry())
	clk := clock.NewFake(start)
	dir := store.NewMemoryProviderDirectory(vet("v1", 0.01), vet("v2", 0.02))
	flaky := &flakyProviders{MemoryProviderDirectory: dir}
	rec := &notify.Recorder{}
	pol, err := policy.New(policy.Config{}, flaky, store.NewMemoryAppointmentStore(), clk, logger.NopLogger{}, rec)
	require.NoError(t, err)
	m, err := NewManager(Config{}, store.NewMemoryRequestStore(), dir, pol, clk, rec, nil, logger.NopLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	req, err := m.Submit(context.Background(), emergency())
	require.NoError(t, err)
	_, err = m.Accept(context.Background(), req.ID, "v1")
	require.NoError(t, err)
	flaky.failures.Store(failures)
	_, err = m.ReportIncident(context.Background(), req.ID, "v1", "flat tyre", true)
	require.NoError(t, err)
	return m, clk, dir
}

func TestIncidentPenaltyRetried(t *testing.T) {
	_, clk, dir := newIncidentFixture(t, 1)
	p, err := dir.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Zero(t, p.Reliability.EmergencyIncidents)

	clk.Advance(time.Second)
	p, err = dir.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Reliability.EmergencyIncidents)
	assert.Equal(t, 1, p.Reliability.EmergencyFailures)
}

func TestIncidentPenaltyFailureIsReported(t *testing.T) {
	mon := &captureMonitor{}
	coremon.Init(mon)
	t.Cleanup(func() { coremon.Init(coremon.NopMonitor{}) })

	_, clk, dir := newIncidentFixture(t, 100)
	clk.Advance(5 * time.Second)

	mon.mu.Lock()
	defer mon.mu.Unlock()
	require.Len(t, mon.tags, 1)
	assert.Equal(t, "penalize_incident", mon.tags[0]["operation"])
	assert.Equal(t, "v1", mon.tags[0]["provider_id"])
	p, err := dir.Get(context.Background(), "v1")
	require.NoError(t, err)
	assert.Zero(t, p.Reliability.EmergencyIncidents)
}

func TestNewManagerNilParams(t *testing.T) {
	if _, err := NewManager(Config{}, nil, nil, nil, nil, nil, nil, nil); err == nil {
		t.Fatalf("expected error for nil parameters")
	}
}
