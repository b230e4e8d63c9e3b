// Package reliability derives a provider trust score from its history counters.
package reliability

import (
	"math"

	"github.com/kilianp07/vetdispatch/core/model"
)

const (
	// MaxScore is returned for providers without any negative history.
	MaxScore = 100

	latePenalty     = 10
	noShowPenalty   = 15
	incidentPenalty = 20
	onTimeBonusCap  = 5
)

// Score computes the reliability score in [0,100] from the profile counters.
// The cached Score field of p is ignored.
func Score(p model.ReliabilityProfile) int {
	negative := p.LateCancellations + p.NoShows + p.EmergencyIncidents
	if negative == 0 {
		return MaxScore
	}
	score := float64(MaxScore -
		p.LateCancellations*latePenalty -
		p.NoShows*noShowPenalty -
		p.EmergencyIncidents*incidentPenalty)
	if p.OnTimeCancellations > 0 {
		ratio := float64(p.OnTimeCancellations) / float64(negative)
		score += math.Min(ratio*onTimeBonusCap, onTimeBonusCap)
	}
	score = math.Max(0, math.Min(MaxScore, score))
	return int(math.Round(score))
}

// Recompute refreshes the cached score and returns the updated profile.
func Recompute(p model.ReliabilityProfile) model.ReliabilityProfile {
	p.Score = Score(p)
	return p
}
