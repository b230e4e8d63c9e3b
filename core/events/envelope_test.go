package events

import (
	"encoding/json"
	"testing"
	"time"
)

func TestEnvelopeMarshal(t *testing.T) {
	env := Wrap(ProviderRoom("p1"), OfferWithdrawn{RequestID: "r1", Reason: ReasonTimeout}, time.Unix(0, 0).UTC())
	b, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if m["event"] != "offer.withdrawn" || m["room"] != "provider:p1" {
		t.Fatalf("unexpected envelope %v", m)
	}
	payload, ok := m["payload"].(map[string]any)
	if !ok || payload["reason"] != "timeout" || payload["request_id"] != "r1" {
		t.Fatalf("unexpected payload %v", m["payload"])
	}
	if env.ID == "" {
		t.Fatalf("expected envelope id")
	}
}

func TestValidRoom(t *testing.T) {
	for _, r := range []string{RequestRoom("r"), RequesterRoom("u"), ProviderRoom("p")} {
		if !ValidRoom(r) {
			t.Fatalf("expected %q valid", r)
		}
	}
	for _, r := range []string{"provider:", "pets:1", ""} {
		if ValidRoom(r) {
			t.Fatalf("expected %q invalid", r)
		}
	}
}
