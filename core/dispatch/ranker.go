package dispatch

import (
	"sort"

	"github.com/kilianp07/vetdispatch/core/eta"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/reliability"
)

// Ranker orders the providers eligible for a request. An empty result is valid.
type Ranker interface {
	Rank(req model.EmergencyRequest, pool []model.Provider) []model.Candidate
}

// Ineligibility reasons returned by Eligible.
const (
	ReasonEmergencyDisabled = "emergency_disabled"
	ReasonNotApproved       = "not_approved"
	ReasonUnavailable       = "unavailable"
	ReasonModality          = "modality_mismatch"
	ReasonOutOfRange        = "out_of_range"
	ReasonExcluded          = "excluded"
)

// Eligible applies every eligibility filter to one provider and returns the
// distance to the request. reason is empty when the provider is eligible.
func Eligible(p model.Provider, req model.EmergencyRequest) (distanceKm float64, reason string) {
	switch {
	case !p.EmergencyEnabled:
		return 0, ReasonEmergencyDisabled
	case !p.Approved:
		return 0, ReasonNotApproved
	case !p.Online():
		return 0, ReasonUnavailable
	case !p.Offers(requiredModality(req)):
		return 0, ReasonModality
	case req.IsExcluded(p.ID):
		return 0, ReasonExcluded
	}
	d := model.DistanceKm(p.Location, req.Location)
	if p.CoverageRadiusKm > 0 && d > p.CoverageRadiusKm {
		return d, ReasonOutOfRange
	}
	return d, ""
}

func requiredModality(req model.EmergencyRequest) model.Modality {
	if req.Modality == "" {
		return model.ModalityHomeVisit
	}
	return req.Modality
}

// DistanceRanker orders by ascending distance, then descending reliability
// score, then provider id.
type DistanceRanker struct {
	ETA eta.Estimator
}

func (r DistanceRanker) Rank(req model.EmergencyRequest, pool []model.Provider) []model.Candidate {
	est := r.ETA
	if est == nil {
		est = eta.SpeedEstimator{}
	}
	var list []model.Candidate
	for _, p := range pool {
		d, reason := Eligible(p, req)
		if reason != "" {
			continue
		}
		list = append(list, model.Candidate{
			ProviderID:       p.ID,
			DistanceKm:       d,
			ReliabilityScore: reliability.Score(p.Reliability),
			CapabilityMatch:  true,
			ETA:              est.Estimate(p, req.Location, d),
		})
	}
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		if a.DistanceKm != b.DistanceKm {
			return a.DistanceKm < b.DistanceKm
		}
		if a.ReliabilityScore != b.ReliabilityScore {
			return a.ReliabilityScore > b.ReliabilityScore
		}
		return a.ProviderID < b.ProviderID
	})
	for i := range list {
		list[i].Position = i + 1
		list[i].TotalCandidates = len(list)
	}
	return list
}
