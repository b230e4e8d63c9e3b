package model

import (
	"math"
	"testing"
	"time"
)

func TestTrackingNext(t *testing.T) {
	want := []TrackingStatus{TrackingEnRoute, TrackingArrived, TrackingTutorConfirmed, TrackingInService, TrackingCompleted}
	cur := TrackingAccepted
	for _, w := range want {
		next, ok := cur.Next()
		if !ok || next != w {
			t.Fatalf("after %s expected %s, got %s (%t)", cur, w, next, ok)
		}
		cur = next
	}
	if _, ok := TrackingCompleted.Next(); ok {
		t.Fatalf("completed must be the last step")
	}
	if TrackingStatus("bogus").Rank() != -1 {
		t.Fatalf("unknown sub-status must rank -1")
	}
	if _, ok := TrackingStatus("").Next(); ok {
		t.Fatalf("empty sub-status has no successor")
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := EmergencyRequest{
		ID:       "r1",
		Triage:   Triage{MainReason: "seizure", CriticalFlags: []string{"unconscious"}},
		Excluded: []string{"v1"},
		Offer:    &Offer{CandidateID: "v2"},
		Ranked:   []Candidate{{ProviderID: "v3"}},
		Tracking: Tracking{SubStatus: TrackingAccepted, Timestamps: map[TrackingStatus]time.Time{TrackingAccepted: time.Unix(1, 0)}},
	}
	cp := orig.Clone()
	cp.Triage.CriticalFlags[0] = "changed"
	cp.Excluded[0] = "changed"
	cp.Offer.CandidateID = "changed"
	cp.Ranked[0].ProviderID = "changed"
	cp.Tracking.Timestamps[TrackingEnRoute] = time.Unix(2, 0)

	if orig.Triage.CriticalFlags[0] != "unconscious" || orig.Excluded[0] != "v1" ||
		orig.Offer.CandidateID != "v2" || orig.Ranked[0].ProviderID != "v3" ||
		len(orig.Tracking.Timestamps) != 1 {
		t.Fatalf("clone shares state with original: %+v", orig)
	}
}

func TestExcludeIsAppendOnly(t *testing.T) {
	var r EmergencyRequest
	r.Exclude("v1")
	r.Exclude("v1")
	r.Exclude("")
	r.Exclude("v2")
	if len(r.Excluded) != 2 || !r.IsExcluded("v1") || !r.IsExcluded("v2") || r.IsExcluded("v3") {
		t.Fatalf("unexpected exclusion set %v", r.Excluded)
	}
}

func TestIsParty(t *testing.T) {
	r := EmergencyRequest{RequesterID: "owner", AssignedProviderID: "vet"}
	if !r.IsParty("owner") || !r.IsParty("vet") || r.IsParty("other") || r.IsParty("") {
		t.Fatalf("unexpected party resolution")
	}
}

func TestProviderOffers(t *testing.T) {
	independent := Provider{Kind: ProviderIndependent, HomeVisit: true, InClinic: true}
	clinic := Provider{Kind: ProviderClinic, HomeVisit: true, InClinic: true}
	cases := []struct {
		p    Provider
		m    Modality
		want bool
	}{
		{independent, ModalityHomeVisit, true},
		{independent, ModalityInClinic, false},
		{clinic, ModalityHomeVisit, true},
		{clinic, ModalityInClinic, true},
		{clinic, ModalityTele, false},
	}
	for _, c := range cases {
		if got := c.p.Offers(c.m); got != c.want {
			t.Errorf("%s offers %s: got %t want %t", c.p.Kind, c.m, got, c.want)
		}
	}
}

func TestProviderOnline(t *testing.T) {
	p := Provider{AvailableNow: true, Status: PresenceOnline}
	if !p.Online() {
		t.Fatalf("expected online")
	}
	p.Status = PresenceBusy
	if p.Online() {
		t.Fatalf("busy provider must not be online")
	}
	p = Provider{AvailableNow: false, Status: PresenceOnline}
	if p.Online() {
		t.Fatalf("unavailable provider must not be online")
	}
	p = Provider{AvailableNow: true, Status: PresenceOnline, ActiveEmergencyID: "r1"}
	if p.Online() {
		t.Fatalf("provider serving an emergency must not be online")
	}
}

func TestDistanceKm(t *testing.T) {
	paris := Location{Lat: 48.8566, Lng: 2.3522}
	lyon := Location{Lat: 45.7640, Lng: 4.8357}
	d := DistanceKm(paris, lyon)
	if math.Abs(d-391.5) > 2 {
		t.Fatalf("unexpected Paris-Lyon distance %.1f", d)
	}
	if DistanceKm(paris, paris) != 0 {
		t.Fatalf("distance to self must be zero")
	}
	if math.Abs(DistanceKm(paris, lyon)-DistanceKm(lyon, paris)) > 1e-9 {
		t.Fatalf("distance must be symmetric")
	}
}

func TestStatusTerminal(t *testing.T) {
	for _, s := range []Status{StatusPending, StatusOfferOutstanding, StatusAssigned, StatusIncidentReported, StatusExhausted} {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatalf("completed and cancelled are terminal")
	}
}
