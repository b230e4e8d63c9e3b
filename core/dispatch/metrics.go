package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	offersTotal          *prometheus.CounterVec
	offerResponseSeconds *prometheus.HistogramVec
	transitionsTotal     *prometheus.CounterVec
	liveOffers           prometheus.Gauge
	expiryFailures       prometheus.Counter
	notifyFailures       prometheus.Counter
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec, *prometheus.CounterVec, prometheus.Gauge, prometheus.Counter, prometheus.Counter) {
	offers := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_offers_total",
			Help: "Number of resolved emergency offers by outcome",
		},
		[]string{"outcome"},
	)
	resp := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dispatch_offer_response_seconds",
			Help:    "Time between offer creation and its resolution",
			Buckets: []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"outcome"},
	)
	trans := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_transitions_total",
			Help: "Number of emergency request status transitions",
		},
		[]string{"from", "to"},
	)
	live := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dispatch_live_offers",
			Help: "Offers currently waiting for a response",
		},
	)
	expiry := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_expiry_failures_total",
			Help: "Offer expiry callbacks that failed after all retries",
		},
	)
	notif := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dispatch_notification_failures_total",
			Help: "Realtime notifications that could not be delivered",
		},
	)
	return offers, resp, trans, live, expiry, notif
}

func init() {
	offersTotal, offerResponseSeconds, transitionsTotal, liveOffers, expiryFailures, notifyFailures = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(offersTotal, offerResponseSeconds, transitionsTotal, liveOffers, expiryFailures, notifyFailures)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	offersTotal, offerResponseSeconds, transitionsTotal, liveOffers, expiryFailures, notifyFailures = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
