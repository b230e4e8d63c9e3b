package metrics

import "testing"

type recordSink struct {
	count int
}

func (r *recordSink) RecordOfferResult(OfferResult) error {
	r.count++
	return nil
}

func (r *recordSink) RecordTransition(TransitionEvent) error {
	r.count++
	return nil
}

// plainSink only implements MetricsSink.
type plainSink struct{ count int }

func (p *plainSink) RecordOfferResult(OfferResult) error {
	p.count++
	return nil
}

func TestMultiSink(t *testing.T) {
	a := &recordSink{}
	b := &plainSink{}
	m := NewMultiSink(a, b)
	if err := m.RecordOfferResult(OfferResult{RequestID: "r1", Outcome: OutcomeAccepted}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := m.RecordTransition(TransitionEvent{RequestID: "r1"}); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if a.count != 2 || b.count != 1 {
		t.Fatalf("unexpected counts %d/%d", a.count, b.count)
	}
}
