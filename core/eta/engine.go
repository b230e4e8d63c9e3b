package eta

import (
	"math"
	"time"

	"github.com/kilianp07/vetdispatch/core/model"
)

// Estimator forecasts travel time from a provider to a request location.
type Estimator interface {
	Estimate(p model.Provider, to model.Location, distanceKm float64) time.Duration
}

// DefaultSpeedKmh is used when a SpeedEstimator has no speed configured.
const DefaultSpeedKmh = 30.0

// SpeedEstimator converts distance into time at a constant average speed.
// Teleconsultations and clinic visits still receive an estimate so that
// candidates stay comparable.
type SpeedEstimator struct {
	AverageKmh float64
}

func (s SpeedEstimator) Estimate(_ model.Provider, _ model.Location, distanceKm float64) time.Duration {
	speed := s.AverageKmh
	if speed <= 0 {
		speed = DefaultSpeedKmh
	}
	if distanceKm <= 0 {
		return 0
	}
	secs := math.Ceil(distanceKm / speed * 3600)
	return time.Duration(secs) * time.Second
}
