package scenarios

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/clock"
	"github.com/kilianp07/vetdispatch/core/dispatch"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/core/store"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

// Epoch is the virtual start time of every scenario.
var Epoch = time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)

// Result is the state reached at the end of a scenario.
type Result struct {
	Request   model.EmergencyRequest
	Providers map[string]model.Provider
	Events    map[string]int
}

// Run plays the scenario against an in-memory dispatcher on a virtual clock.
func Run(ctx context.Context, sc *Scenario) (*Result, error) {
	clk := clock.NewFake(Epoch)
	providers := make([]model.Provider, len(sc.Providers))
	for i, p := range sc.Providers {
		providers[i] = p.ToModel()
	}
	dir := store.NewMemoryProviderDirectory(providers...)
	rec := &notify.Recorder{}
	pol, err := policy.New(policy.Config{}, dir, store.NewMemoryAppointmentStore(), clk, logger.NopLogger{}, rec)
	if err != nil {
		return nil, err
	}
	mgr, err := dispatch.NewManager(dispatch.Config{OfferTTLSeconds: sc.OfferTTLSeconds}, store.NewMemoryRequestStore(), dir, pol, clk, rec, nil, logger.NopLogger{})
	if err != nil {
		return nil, fmt.Errorf("manager: %w", err)
	}
	defer mgr.Close()

	in, err := sc.Request.ToModel()
	if err != nil {
		return nil, err
	}
	req, err := mgr.Submit(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("submit: %w", err)
	}

	for i, st := range sc.Steps {
		err := apply(ctx, mgr, clk, req, st)
		if st.ExpectError != "" {
			if got := apperr.KindOf(err); err == nil || string(got) != st.ExpectError {
				return nil, fmt.Errorf("step %d (%s): expected %s error, got %v", i+1, st.Action, st.ExpectError, err)
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, st.Action, err)
		}
	}

	res := &Result{Providers: make(map[string]model.Provider), Events: make(map[string]int)}
	if res.Request, err = mgr.Get(ctx, req.ID); err != nil {
		return nil, err
	}
	list, err := dir.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, p := range list {
		res.Providers[p.ID] = p
	}
	for _, d := range rec.Deliveries {
		res.Events[string(d.Event.EventName())]++
	}
	return res, nil
}

func apply(ctx context.Context, mgr *dispatch.Manager, clk *clock.Fake, req model.EmergencyRequest, st Step) error {
	var err error
	switch st.Action {
	case "accept":
		_, err = mgr.Accept(ctx, req.ID, st.Provider)
	case "reject":
		_, err = mgr.Reject(ctx, req.ID, st.Provider, st.Reason)
	case "wait":
		clk.Advance(time.Duration(st.Seconds) * time.Second)
	case "incident":
		_, err = mgr.ReportIncident(ctx, req.ID, st.Provider, st.Reason, st.RequiresReassignment)
	case "cancel":
		actor := st.Actor
		if actor == "" {
			actor = req.RequesterID
		}
		_, err = mgr.Cancel(ctx, req.ID, actor, st.Reason)
	case "tracking":
		actor := st.Actor
		if actor == "" {
			actor = st.Provider
		}
		_, err = mgr.UpdateTracking(ctx, req.ID, actor, model.TrackingStatus(st.SubStatus))
	case "presence":
		_, _, err = mgr.ProviderAvailabilityChanged(ctx, st.Provider, st.AvailableNow, model.PresenceStatus(st.Status))
	default:
		err = fmt.Errorf("unknown action %q", st.Action)
	}
	return err
}

// Verify compares the result with the expectations and lists every mismatch.
func Verify(sc *Scenario, res *Result) error {
	var errs []string
	exp := sc.Expected
	if got := string(res.Request.Status); got != exp.Status {
		errs = append(errs, fmt.Sprintf("status: want %s, got %s", exp.Status, got))
	}
	if res.Request.AssignedProviderID != exp.AssignedProvider {
		errs = append(errs, fmt.Sprintf("assigned provider: want %q, got %q", exp.AssignedProvider, res.Request.AssignedProviderID))
	}
	if exp.Offered != "" {
		if res.Request.Offer == nil || res.Request.Offer.CandidateID != exp.Offered {
			errs = append(errs, fmt.Sprintf("offer: want holder %s", exp.Offered))
		}
	}
	if exp.Attempts > 0 && res.Request.Attempts != exp.Attempts {
		errs = append(errs, fmt.Sprintf("attempts: want %d, got %d", exp.Attempts, res.Request.Attempts))
	}
	for _, id := range sortedKeys(exp.Rejections) {
		if got := res.Providers[id].Reliability.EmergencyRejections; got != exp.Rejections[id] {
			errs = append(errs, fmt.Sprintf("rejections of %s: want %d, got %d", id, exp.Rejections[id], got))
		}
	}
	for _, id := range sortedKeys(exp.Incidents) {
		if got := res.Providers[id].Reliability.EmergencyIncidents; got != exp.Incidents[id] {
			errs = append(errs, fmt.Sprintf("incidents of %s: want %d, got %d", id, exp.Incidents[id], got))
		}
	}
	for _, name := range sortedKeys(exp.Events) {
		if got := res.Events[name]; got != exp.Events[name] {
			errs = append(errs, fmt.Sprintf("event %s: want %d, got %d", name, exp.Events[name], got))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s: %s", sc.Name, strings.Join(errs, "; "))
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
