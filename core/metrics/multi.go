package metrics

// MultiSink fans events out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordOfferResult forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordOfferResult(res OfferResult) error {
	for _, s := range m.Sinks {
		if err := s.RecordOfferResult(res); err != nil {
			return err
		}
	}
	return nil
}

// RecordTransition forwards transitions to sinks that support them.
func (m *MultiSink) RecordTransition(ev TransitionEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(TransitionRecorder); ok {
			if err := rec.RecordTransition(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordReliability forwards profile snapshots.
func (m *MultiSink) RecordReliability(ev ReliabilityEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(ReliabilityRecorder); ok {
			if err := rec.RecordReliability(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordCandidatePool forwards ranking pass sizes.
func (m *MultiSink) RecordCandidatePool(ev CandidatePoolEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(CandidatePoolRecorder); ok {
			if err := rec.RecordCandidatePool(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
