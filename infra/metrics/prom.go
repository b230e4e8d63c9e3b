package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/vetdispatch/core/metrics"
)

// PromSink records offer outcomes, transitions and reliability snapshots in
// Prometheus metrics.
type PromSink struct {
	offers      *prometheus.CounterVec
	position    *prometheus.HistogramVec
	transitions *prometheus.CounterVec
	score       *prometheus.GaugeVec
	pool        prometheus.Histogram
}

// NewPromSink registers metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	offers := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emergency_offer_results_total",
		Help: "Resolved emergency offers by outcome and attempt",
	}, []string{"outcome", "attempt"})
	position := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emergency_offer_position",
		Help:    "Queue position of the candidate when the offer resolved",
		Buckets: []float64{1, 2, 3, 5, 8, 13},
	}, []string{"outcome"})
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "emergency_request_transitions_total",
		Help: "Emergency request status transitions",
	}, []string{"to"})
	score := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "provider_reliability_score",
		Help: "Last computed reliability score per provider",
	}, []string{"provider_id"})
	pool := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "emergency_candidate_pool_size",
		Help:    "Number of eligible candidates per ranking pass",
		Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
	})

	var err error
	if offers, err = register(reg, offers); err != nil {
		return nil, err
	}
	if position, err = register(reg, position); err != nil {
		return nil, err
	}
	if transitions, err = register(reg, transitions); err != nil {
		return nil, err
	}
	if score, err = register(reg, score); err != nil {
		return nil, err
	}
	if pool, err = register(reg, pool); err != nil {
		return nil, err
	}
	return &PromSink{offers: offers, position: position, transitions: transitions, score: score, pool: pool}, nil
}

// register returns the already registered collector when c was registered before.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordOfferResult increments the outcome counter.
func (s *PromSink) RecordOfferResult(res coremetrics.OfferResult) error {
	s.offers.WithLabelValues(res.Outcome, strconv.Itoa(res.Attempt)).Inc()
	s.position.WithLabelValues(res.Outcome).Observe(float64(res.Position))
	return nil
}

// RecordTransition counts transitions by target status.
func (s *PromSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	s.transitions.WithLabelValues(string(ev.To)).Inc()
	return nil
}

// RecordReliability sets the provider score gauge.
func (s *PromSink) RecordReliability(ev coremetrics.ReliabilityEvent) error {
	s.score.WithLabelValues(ev.ProviderID).Set(float64(ev.Profile.Score))
	return nil
}

// RecordCandidatePool observes the ranking pass size.
func (s *PromSink) RecordCandidatePool(ev coremetrics.CandidatePoolEvent) error {
	s.pool.Observe(float64(ev.Candidates))
	return nil
}
