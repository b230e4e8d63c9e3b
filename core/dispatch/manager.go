package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/kilianp07/vetdispatch/core/apperr"
	"github.com/kilianp07/vetdispatch/core/clock"
	"github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/eta"
	"github.com/kilianp07/vetdispatch/core/events"
	"github.com/kilianp07/vetdispatch/core/logger"
	"github.com/kilianp07/vetdispatch/core/metrics"
	"github.com/kilianp07/vetdispatch/core/model"
	coremon "github.com/kilianp07/vetdispatch/core/monitoring"
	"github.com/kilianp07/vetdispatch/core/notify"
	"github.com/kilianp07/vetdispatch/core/policy"
	"github.com/kilianp07/vetdispatch/core/store"
	"github.com/kilianp07/vetdispatch/internal/eventbus"
)

// errSkip aborts a guarded operation without reporting a failure.
var errSkip = errors.New("dispatch: skipped")

type offerTimer struct {
	attempt int
	timer   clock.Timer
}

// Manager is the sequential offer engine. It owns the single outstanding offer
// of every request, the expiry timers and every write of request status.
type Manager struct {
	cfg       Config
	requests  store.RequestStore
	providers store.ProviderDirectory
	policy    *policy.Policy
	ranker    Ranker
	clock     clock.Clock
	logger    logger.Logger
	metrics   metrics.MetricsSink
	notifier  notify.BestEffort
	audit     logging.LogStore
	bus       *eventbus.TypedBus[logging.TransitionRecord]
	locks     keyedMutex

	mu     sync.Mutex
	timers map[string]offerTimer
	closed bool
}

// NewManager creates a new manager. A nil sink or notifier disables the
// corresponding output.
func NewManager(cfg Config, requests store.RequestStore, providers store.ProviderDirectory, pol *policy.Policy, clk clock.Clock, n notify.Notifier, sink metrics.MetricsSink, log logger.Logger) (*Manager, error) {
	if requests == nil || providers == nil || pol == nil || clk == nil || log == nil {
		return nil, fmt.Errorf("dispatch: nil parameter provided to NewManager")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	if n == nil {
		n = notify.Nop{}
	}
	return &Manager{
		cfg:       cfg,
		requests:  requests,
		providers: providers,
		policy:    pol,
		ranker:    DistanceRanker{ETA: eta.SpeedEstimator{AverageKmh: cfg.AverageSpeedKmh}},
		clock:     clk,
		logger:    log,
		metrics:   sink,
		notifier: notify.BestEffort{
			Next:    n,
			Log:     log,
			Timeout: cfg.notifyTimeout(),
			OnFailure: func(string, events.Event, error) {
				notifyFailures.Inc()
			},
		},
		audit:  logging.NopStore{},
		timers: make(map[string]offerTimer),
	}, nil
}

// SetRanker replaces the candidate ranker.
func (m *Manager) SetRanker(r Ranker) {
	if r != nil {
		m.ranker = r
	}
}

// SetLogStore configures the store used to persist transition records.
func (m *Manager) SetLogStore(s logging.LogStore) {
	if s != nil {
		m.audit = s
	}
}

// SetTransitionBus publishes every committed transition on bus. Sinks
// implementing metrics.TransitionRecorder are fed from the bus by a collector.
func (m *Manager) SetTransitionBus(bus *eventbus.TypedBus[logging.TransitionRecord]) {
	m.bus = bus
}

// Config returns the effective configuration.
func (m *Manager) Config() Config { return m.cfg }

// Close stops every pending expiry timer. Outstanding offers stay stored.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for id, t := range m.timers {
		t.timer.Stop()
		delete(m.timers, id)
		liveOffers.Dec()
	}
	return nil
}

// Get returns the stored request.
func (m *Manager) Get(ctx context.Context, id string) (model.EmergencyRequest, error) {
	return m.requests.Get(ctx, id)
}

// mutate runs fn on the request under its lock, stores the result with a
// version check and publishes the collected side effects after unlocking.
func (m *Manager) mutate(ctx context.Context, op, id string, fn func(tx *txn, req *model.EmergencyRequest) error) (model.EmergencyRequest, error) {
	tx := newTxn(op, m.clock.Now())
	saved, err := m.locked(ctx, tx, id, fn)
	if err != nil {
		return model.EmergencyRequest{}, err
	}
	m.publish(ctx, tx)
	for _, pid := range tx.rescan {
		if _, err := m.OnProviderBecameAvailable(ctx, pid); err != nil {
			m.logger.Warnf("rescan for provider %s failed: %v", pid, err)
		}
	}
	return saved, nil
}

func (m *Manager) locked(ctx context.Context, tx *txn, id string, fn func(tx *txn, req *model.EmergencyRequest) error) (model.EmergencyRequest, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	req, err := m.requests.Get(ctx, id)
	if err != nil {
		return model.EmergencyRequest{}, err
	}
	if err := fn(tx, &req); err != nil {
		tx.rollback(ctx)
		return model.EmergencyRequest{}, err
	}
	saved, err := m.requests.Update(ctx, req)
	if err != nil {
		tx.rollback(ctx)
		if apperr.KindOf(err) == apperr.KindStateConflict {
			m.logger.Warnf("%s: concurrent update of request %s: %v", tx.op, id, err)
		}
		return model.EmergencyRequest{}, err
	}
	m.syncTimer(saved, tx.now)
	tx.runEffects(ctx)
	return saved, nil
}

// syncTimer stops the timer of a resolved offer and arms one for a new offer.
func (m *Manager) syncTimer(req model.EmergencyRequest, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.timers[req.ID]
	if ok && (req.Offer == nil || req.Offer.Attempt != cur.attempt) {
		cur.timer.Stop()
		delete(m.timers, req.ID)
		liveOffers.Dec()
		ok = false
	}
	if req.Offer == nil || ok || m.closed {
		return
	}
	id, attempt := req.ID, req.Offer.Attempt
	t := m.clock.AfterFunc(req.Offer.ExpiresAt.Sub(now), func() { m.onExpire(id, attempt, 0) })
	m.timers[id] = offerTimer{attempt: attempt, timer: t}
	liveOffers.Inc()
}

// onExpire is the timer callback. Failures other than a lost race are retried
// with exponential backoff and reported to monitoring once retries run out.
func (m *Manager) onExpire(id string, attempt, try int) {
	err := m.safeExpire(id, attempt)
	if err == nil {
		return
	}
	switch apperr.KindOf(err) {
	case apperr.KindStateConflict, apperr.KindNotFound:
		m.logger.Debugf("expiry of %s attempt %d ignored: %v", id, attempt, err)
		return
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	if try < m.cfg.ExpiryMaxRetries {
		backoff := m.cfg.retryBackoff(try)
		m.logger.Warnf("expiry of %s attempt %d failed, retry in %s: %v", id, attempt, backoff, err)
		m.clock.AfterFunc(backoff, func() { m.onExpire(id, attempt, try+1) })
		return
	}
	expiryFailures.Inc()
	m.logger.Errorf("expiry of %s attempt %d failed after %d retries: %v", id, attempt, try, err)
	coremon.CaptureException(err, map[string]string{
		"module":     "dispatch_manager",
		"request_id": id,
		"attempt":    strconv.Itoa(attempt),
	})
}

// penalizeIncident applies the incident penalty of an assigned provider. A
// failed write is retried like an expiry and reported once retries run out.
func (m *Manager) penalizeIncident(ctx context.Context, requestID, providerID string, try int) {
	prof, err := m.policy.PenalizeIncident(ctx, providerID)
	if err == nil {
		m.recordReliability(providerID, "incident", prof)
		return
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if !closed && try < m.cfg.ExpiryMaxRetries && apperr.KindOf(err) != apperr.KindNotFound {
		backoff := m.cfg.retryBackoff(try)
		m.logger.Warnf("penalize provider %s failed, retry in %s: %v", providerID, backoff, err)
		m.clock.AfterFunc(backoff, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			m.penalizeIncident(ctx, requestID, providerID, try+1)
		})
		return
	}
	m.logger.Errorf("penalize provider %s for %s failed: %v", providerID, requestID, err)
	coremon.CaptureException(err, map[string]string{
		"module":      "dispatch_manager",
		"request_id":  requestID,
		"provider_id": providerID,
		"operation":   "penalize_incident",
	})
}

func (m *Manager) safeExpire(id string, attempt int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperr.New(apperr.KindInternal, "dispatch.expire", "panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err = m.mutate(ctx, "dispatch.expire", id, func(tx *txn, req *model.EmergencyRequest) error {
		if req.Status != model.StatusOfferOutstanding || req.Offer == nil || req.Offer.Attempt != attempt {
			return apperr.Conflict(tx.op, "offer attempt %d of %s already resolved", attempt, id)
		}
		return m.decline(ctx, tx, req, metrics.OutcomeTimeout, events.ReasonTimeout)
	})
	return err
}

// publish writes audit records, metrics and notifications of a committed txn.
func (m *Manager) publish(ctx context.Context, tx *txn) {
	for _, rec := range tx.records {
		m.logger.Infof("request %s %s -> %s provider=%s reason=%s", rec.RequestID, rec.From, rec.To, rec.ProviderID, rec.Reason)
		transitionsTotal.WithLabelValues(string(rec.From), string(rec.To)).Inc()
		if err := m.audit.Append(ctx, rec); err != nil {
			m.logger.Errorf("audit append failed: %v", err)
		}
		if m.bus != nil {
			if dropped := m.bus.Publish(rec); dropped > 0 {
				m.logger.Warnf("transition bus dropped %d deliveries for %s", dropped, rec.RequestID)
			}
		}
	}
	for _, res := range tx.results {
		offersTotal.WithLabelValues(res.Outcome).Inc()
		offerResponseSeconds.WithLabelValues(res.Outcome).Observe(res.Latency.Seconds())
		if err := m.metrics.RecordOfferResult(res); err != nil {
			m.logger.Errorf("metrics error: %v", err)
		}
	}
	if pr, ok := m.metrics.(metrics.CandidatePoolRecorder); ok {
		for _, ev := range tx.pools {
			if err := pr.RecordCandidatePool(ev); err != nil {
				m.logger.Errorf("candidate pool metrics error: %v", err)
			}
		}
	}
	m.notifier.Send(ctx, tx.deliveries...)
}

func (m *Manager) recordReliability(providerID, cause string, p model.ReliabilityProfile) {
	if rr, ok := m.metrics.(metrics.ReliabilityRecorder); ok {
		if err := rr.RecordReliability(metrics.ReliabilityEvent{
			ProviderID: providerID,
			Profile:    p,
			Cause:      cause,
			Time:       m.clock.Now(),
		}); err != nil {
			m.logger.Errorf("reliability metrics error: %v", err)
		}
	}
}
