package model

import "time"

// Classification is the model's verdict for an observation or event.
type Classification string

const (
	ClassificationProbing              Classification = "probing"
	ClassificationVolumetricDDoS       Classification = "volumetric_ddos"
	ClassificationApplicationLayerDDoS Classification = "application_layer_ddos"
	ClassificationBenign               Classification = "benign"
)

// IsValid checks if the classification is a known value.
func (c Classification) IsValid() bool {
	switch c {
	case ClassificationProbing, ClassificationVolumetricDDoS,
		ClassificationApplicationLayerDDoS, ClassificationBenign:
		return true
	default:
		return false
	}
}

// IsAttack reports whether the classification describes hostile traffic.
func (c Classification) IsAttack() bool {
	return c == ClassificationVolumetricDDoS || c == ClassificationApplicationLayerDDoS
}

// EventStatus describes where an attack event is in its lifecycle.
type EventStatus string

const (
	StatusEmerging EventStatus = "emerging"
	StatusActive   EventStatus = "active"
	StatusDecaying EventStatus = "decaying"
	StatusExpired  EventStatus = "expired"
)

// BoundingBox is a lat/lon rectangle. MinLon may exceed MaxLon when the box
// crosses the antimeridian; the core never produces such boxes but region
// queries accept them.
type BoundingBox struct {
	MinLat float64 `json:"min_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLat float64 `json:"max_lat"`
	MaxLon float64 `json:"max_lon"`
}

// Contains reports whether the point lies inside the box.
func (b BoundingBox) Contains(lat, lon float64) bool {
	if lat < b.MinLat || lat > b.MaxLat {
		return false
	}
	if b.MinLon <= b.MaxLon {
		return lon >= b.MinLon && lon <= b.MaxLon
	}
	// Antimeridian crossing.
	return lon >= b.MinLon || lon <= b.MaxLon
}

// Extend grows the box to include the point.
func (b BoundingBox) Extend(lat, lon float64) BoundingBox {
	if lat < b.MinLat {
		b.MinLat = lat
	}
	if lat > b.MaxLat {
		b.MaxLat = lat
	}
	if lon < b.MinLon {
		b.MinLon = lon
	}
	if lon > b.MaxLon {
		b.MaxLon = lon
	}
	return b
}

// AttackEvent is the long-lived aggregate of correlated observations that
// describe one ongoing attack. The event store is the single writer; readers
// always receive copies.
type AttackEvent struct {
	// EventID is stable for the event's lifetime and never reused.
	EventID string `json:"event_id"`

	// Centroid of contributing observations, weighted toward recent and
	// high-confidence reports.
	CentroidLat float64 `json:"centroid_lat"`
	CentroidLon float64 `json:"centroid_lon"`

	// Bounds covers every contributing observation's location.
	Bounds BoundingBox `json:"bounds"`

	// CurrentIntensity decays over time and rises only when a new
	// correlated observation arrives.
	CurrentIntensity float64 `json:"current_intensity"`
	PeakIntensity    float64 `json:"peak_intensity"`

	Classification Classification `json:"classification"`

	// ClassificationScore is the threat score of the observation that last
	// set Classification. Used to resolve conflicting reports.
	ClassificationScore float64 `json:"classification_score"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// ObservationCount only grows, including counts absorbed from events
	// merged into this one.
	ObservationCount uint64 `json:"observation_count"`

	Status EventStatus `json:"status"`
}

// Clone returns a deep copy safe to hand to readers.
func (e *AttackEvent) Clone() *AttackEvent {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}

// DeltaKind tags an incremental event notification.
type DeltaKind string

const (
	DeltaCreated DeltaKind = "created"
	DeltaUpdated DeltaKind = "updated"
	DeltaExpired DeltaKind = "expired"
)

// EventDelta is one incremental change to the active-event set. Deltas are
// idempotent state replacements: applying a delta stream on top of any
// snapshot converges with direct polling.
type EventDelta struct {
	Kind  DeltaKind    `json:"kind"`
	Event *AttackEvent `json:"event"`
}
