package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/infra/logger"
)

// InfluxSink writes dispatch events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// InfluxConfig is the decoded configuration of the influx sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.MetricsSink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// Close releases the underlying client.
func (s *InfluxSink) Close() {
	s.client.Close()
}

// RecordOfferResult writes one offer resolution.
func (s *InfluxSink) RecordOfferResult(res coremetrics.OfferResult) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("offer_result").
		AddTag("request_id", res.RequestID).
		AddTag("provider_id", res.ProviderID).
		AddTag("outcome", res.Outcome).
		AddTag("component", "dispatch_manager").
		AddField("attempt", res.Attempt).
		AddField("position", res.Position).
		AddField("total_candidates", res.Total).
		AddField("latency_ms", round3(res.Latency.Seconds()*1000)).
		SetTime(res.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTransition writes a request status change.
func (s *InfluxSink) RecordTransition(ev coremetrics.TransitionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("request_transition").
		AddTag("request_id", ev.RequestID).
		AddTag("from", string(ev.From)).
		AddTag("to", string(ev.To))
	if ev.ProviderID != "" {
		p = p.AddTag("provider_id", ev.ProviderID)
	}
	p = p.AddField("count", 1).SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordReliability writes a provider profile snapshot.
func (s *InfluxSink) RecordReliability(ev coremetrics.ReliabilityEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pr := ev.Profile
	p := write.NewPointWithMeasurement("provider_reliability").
		AddTag("provider_id", ev.ProviderID).
		AddTag("cause", ev.Cause).
		AddField("score", pr.Score).
		AddField("late_cancellations", pr.LateCancellations).
		AddField("no_shows", pr.NoShows).
		AddField("on_time_cancellations", pr.OnTimeCancellations).
		AddField("emergency_rejections", pr.EmergencyRejections).
		AddField("emergency_incidents", pr.EmergencyIncidents).
		AddField("emergency_failures", pr.EmergencyFailures).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordCandidatePool writes the size of a ranking pass.
func (s *InfluxSink) RecordCandidatePool(ev coremetrics.CandidatePoolEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("candidate_pool").
		AddTag("request_id", ev.RequestID).
		AddField("candidates", ev.Candidates).
		AddField("excluded", ev.Excluded).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
