package scenarios

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/vetdispatch/core/dispatch"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/core/reliability"
)

// ProviderDef describes a provider of the scenario pool.
type ProviderDef struct {
	ID          string  `yaml:"id"`
	Kind        string  `yaml:"kind,omitempty"`
	Lat         float64 `yaml:"lat"`
	Lng         float64 `yaml:"lng"`
	InClinic    bool    `yaml:"in_clinic,omitempty"`
	Offline     bool    `yaml:"offline,omitempty"`
	NotApproved bool    `yaml:"not_approved,omitempty"`
	LateCancels int     `yaml:"late_cancellations,omitempty"`
	NoShows     int     `yaml:"no_shows,omitempty"`
	Incidents   int     `yaml:"incidents,omitempty"`
	CoverageKm  float64 `yaml:"coverage_km,omitempty"`
}

// ToModel converts the definition. Providers do home visits unless in_clinic is set.
func (p ProviderDef) ToModel() model.Provider {
	kind := model.ProviderKind(p.Kind)
	if kind == "" {
		kind = model.ProviderIndependent
	}
	status := model.PresenceOnline
	if p.Offline {
		status = model.PresenceOffline
	}
	return model.Provider{
		ID:               p.ID,
		Kind:             kind,
		Approved:         !p.NotApproved,
		EmergencyEnabled: true,
		AvailableNow:     !p.Offline,
		Status:           status,
		HomeVisit:        !p.InClinic,
		InClinic:         p.InClinic,
		Location:         model.Location{Lat: p.Lat, Lng: p.Lng},
		CoverageRadiusKm: p.CoverageKm,
		Reliability: reliability.Recompute(model.ReliabilityProfile{
			LateCancellations:  p.LateCancels,
			NoShows:            p.NoShows,
			EmergencyIncidents: p.Incidents,
		}),
	}
}

// RequestDef is the emergency submitted at the start of the scenario.
type RequestDef struct {
	RequesterID string  `yaml:"requester_id"`
	Reason      string  `yaml:"reason"`
	Priority    string  `yaml:"priority,omitempty"`
	Modality    string  `yaml:"modality,omitempty"`
	Lat         float64 `yaml:"lat"`
	Lng         float64 `yaml:"lng"`
	Price       string  `yaml:"price,omitempty"`
}

// ToModel converts the definition into a submission.
func (r RequestDef) ToModel() (dispatch.SubmitRequest, error) {
	price := decimal.Zero
	if r.Price != "" {
		p, err := decimal.NewFromString(r.Price)
		if err != nil {
			return dispatch.SubmitRequest{}, fmt.Errorf("price: %w", err)
		}
		price = p
	}
	return dispatch.SubmitRequest{
		RequesterID: r.RequesterID,
		Triage:      model.Triage{MainReason: r.Reason, PriorityHint: model.Priority(r.Priority)},
		Location:    model.Location{Lat: r.Lat, Lng: r.Lng},
		Modality:    model.Modality(r.Modality),
		Pricing:     model.PriceQuote{Total: price, Currency: "EUR"},
	}, nil
}

// Step is one action of a scenario. Actions are accept, reject, wait,
// incident, cancel, tracking and presence.
type Step struct {
	Action               string `yaml:"action"`
	Provider             string `yaml:"provider,omitempty"`
	Actor                string `yaml:"actor,omitempty"`
	Reason               string `yaml:"reason,omitempty"`
	Seconds              int    `yaml:"seconds,omitempty"`
	SubStatus            string `yaml:"sub_status,omitempty"`
	RequiresReassignment bool   `yaml:"requires_reassignment,omitempty"`
	AvailableNow         bool   `yaml:"available_now,omitempty"`
	Status               string `yaml:"status,omitempty"`
	// ExpectError is the error kind the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Expected is the final state checked after the last step.
type Expected struct {
	Status           string         `yaml:"status"`
	AssignedProvider string         `yaml:"assigned_provider,omitempty"`
	Offered          string         `yaml:"offered,omitempty"`
	Attempts         int            `yaml:"attempts,omitempty"`
	Rejections       map[string]int `yaml:"rejections,omitempty"`
	Incidents        map[string]int `yaml:"incidents,omitempty"`
	Events           map[string]int `yaml:"events,omitempty"`
}

type Scenario struct {
	Name            string        `yaml:"name"`
	Description     string        `yaml:"description,omitempty"`
	OfferTTLSeconds int           `yaml:"offer_ttl_seconds,omitempty"`
	Providers       []ProviderDef `yaml:"providers"`
	Request         RequestDef    `yaml:"request"`
	Steps           []Step        `yaml:"steps"`
	Expected        Expected      `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}
