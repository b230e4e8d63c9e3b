package model

import "time"

// ProviderKind distinguishes independent veterinarians from clinics.
type ProviderKind string

const (
	ProviderIndependent ProviderKind = "independent"
	ProviderClinic      ProviderKind = "clinic"
)

// PresenceStatus is the self-reported availability state of a provider.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
	PresenceBusy    PresenceStatus = "busy"
)

// ReliabilityProfile holds the counters the reliability score is derived from.
// Score caches the last computation and is never written independently.
type ReliabilityProfile struct {
	LateCancellations   int `json:"late_cancellations" yaml:"late_cancellations"`
	NoShows             int `json:"no_shows" yaml:"no_shows"`
	OnTimeCancellations int `json:"on_time_cancellations" yaml:"on_time_cancellations"`
	EmergencyRejections int `json:"emergency_rejections" yaml:"emergency_rejections"`
	EmergencyIncidents  int `json:"emergency_incidents" yaml:"emergency_incidents"`
	EmergencyFailures   int `json:"emergency_failures" yaml:"emergency_failures"`
	Score               int `json:"reliability_score" yaml:"-"`
}

// Provider is a veterinarian or clinic that can receive emergency offers.
type Provider struct {
	ID               string         `json:"id" yaml:"id"`
	Name             string         `json:"name,omitempty" yaml:"name"`
	Kind             ProviderKind   `json:"kind" yaml:"kind"`
	Approved         bool           `json:"approved" yaml:"approved"`
	EmergencyEnabled bool           `json:"emergency_enabled" yaml:"emergency_enabled"`
	AvailableNow     bool           `json:"available_now" yaml:"available_now"`
	Status           PresenceStatus `json:"status" yaml:"status"`
	// HomeVisit and InClinic describe the offering. Independent providers
	// only ever serve home visits regardless of InClinic.
	HomeVisit        bool               `json:"home_visit" yaml:"home_visit"`
	InClinic         bool               `json:"in_clinic" yaml:"in_clinic"`
	Location         Location           `json:"location" yaml:"location"`
	CoverageRadiusKm float64            `json:"coverage_radius_km,omitempty" yaml:"coverage_radius_km"`
	Reliability      ReliabilityProfile `json:"reliability" yaml:"reliability"`
	// ActiveEmergencyID is a non-owning reference; the request owns the relationship.
	ActiveEmergencyID string    `json:"active_emergency_id,omitempty" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// Offers reports whether the provider can serve the modality.
func (p Provider) Offers(m Modality) bool {
	switch m {
	case ModalityHomeVisit:
		return p.HomeVisit
	case ModalityInClinic:
		return p.Kind == ProviderClinic && p.InClinic
	default:
		return false
	}
}

// Online reports whether the provider currently accepts work. A provider
// serving an emergency is never online, whatever its presence status says.
func (p Provider) Online() bool {
	return p.AvailableNow && p.ActiveEmergencyID == "" && p.Status != PresenceOffline && p.Status != PresenceBusy
}

// Candidate is an eligible provider annotated for one request. It is never persisted
// outside the request's remaining ranked list.
type Candidate struct {
	ProviderID       string        `json:"provider_id"`
	DistanceKm       float64       `json:"distance_km"`
	ReliabilityScore int           `json:"reliability_score"`
	CapabilityMatch  bool          `json:"capability_match"`
	ETA              time.Duration `json:"eta"`
	Position         int           `json:"position"`
	TotalCandidates  int           `json:"total_candidates"`
}
