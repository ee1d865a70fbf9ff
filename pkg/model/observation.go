package model

import (
	"net/netip"
	"time"
)

// RawObservation is a single normalized report of suspicious traffic from one
// threat-intelligence feed. Instances are immutable once produced by the
// normalizer; the pipeline consumes each exactly once.
type RawObservation struct {
	// ObservationID is assigned at normalization and identifies this exact
	// report for duplicate suppression.
	ObservationID string `json:"observation_id"`

	// SourceID names the feed that reported the traffic.
	SourceID string `json:"source_id"`

	// SourceAddr is the reported source network. Single addresses are
	// canonicalized to a /32 (or /128) prefix.
	SourceAddr netip.Prefix `json:"source_addr"`

	// ObservedAt is the feed's report time, not our receive time.
	ObservedAt time.Time `json:"observed_at"`

	// Metric is the reported traffic magnitude (packet or byte rate,
	// feed-dependent units, higher means heavier).
	Metric float64 `json:"metric"`

	// Tags carries feed-specific annotations verbatim.
	Tags map[string]string `json:"tags,omitempty"`
}

// EnrichedObservation is a RawObservation with resolved geolocation attached.
type EnrichedObservation struct {
	RawObservation

	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	GeoConfidence float64 `json:"geo_confidence"`
	Country       string  `json:"country,omitempty"`
	ASN           uint32  `json:"asn,omitempty"`
}

// ScoredObservation is an EnrichedObservation with the model's verdict.
type ScoredObservation struct {
	EnrichedObservation

	// ThreatScore is the model's DDoS confidence in [0, 1].
	ThreatScore    float64        `json:"threat_score"`
	Classification Classification `json:"classification"`
	ModelVersion   string         `json:"model_version"`
}
