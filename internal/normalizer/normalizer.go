// Package normalizer converts feed-adapter records into canonical
// observations the pipeline can process.
package normalizer

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// AdapterRecord is the schema feed adapters deliver. Adapters own the wire
// format of their upstream source; the core only sees this shape.
type AdapterRecord struct {
	SourceID   string            `json:"source_id"`
	SourceAddr string            `json:"source_addr"`
	ObservedAt time.Time         `json:"observed_at"`
	Metric     float64           `json:"metric"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// MalformedInputError reports adapter data the pipeline must drop.
// It is logged and counted, never treated as fatal.
type MalformedInputError struct {
	SourceID string
	Reason   string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed observation from %q: %s", e.SourceID, e.Reason)
}

// IsMalformed reports whether err is a MalformedInputError.
func IsMalformed(err error) bool {
	var m *MalformedInputError
	return errors.As(err, &m)
}

// Normalizer validates adapter records and produces RawObservations.
type Normalizer struct {
	maxFutureSkew time.Duration
	retention     time.Duration
	now           func() time.Time
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(n *Normalizer) { n.now = now }
}

// New creates a Normalizer. Records timestamped more than maxFutureSkew in
// the future or older than retention are rejected.
func New(maxFutureSkew, retention time.Duration, opts ...Option) *Normalizer {
	n := &Normalizer{
		maxFutureSkew: maxFutureSkew,
		retention:     retention,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize converts a record into a RawObservation. Pure aside from the
// clock read and ID assignment; no side effects on failure.
func (n *Normalizer) Normalize(rec AdapterRecord) (model.RawObservation, error) {
	if rec.SourceID == "" {
		return model.RawObservation{}, &MalformedInputError{SourceID: rec.SourceID, Reason: "missing source_id"}
	}
	if rec.SourceAddr == "" {
		return model.RawObservation{}, &MalformedInputError{SourceID: rec.SourceID, Reason: "missing source_addr"}
	}

	prefix, err := parsePrefix(rec.SourceAddr)
	if err != nil {
		return model.RawObservation{}, &MalformedInputError{
			SourceID: rec.SourceID,
			Reason:   fmt.Sprintf("invalid source_addr %q: %v", rec.SourceAddr, err),
		}
	}

	if rec.ObservedAt.IsZero() {
		return model.RawObservation{}, &MalformedInputError{SourceID: rec.SourceID, Reason: "missing observed_at"}
	}
	now := n.now().UTC()
	observed := rec.ObservedAt.UTC()
	if observed.After(now.Add(n.maxFutureSkew)) {
		return model.RawObservation{}, &MalformedInputError{
			SourceID: rec.SourceID,
			Reason:   fmt.Sprintf("observed_at %s is beyond the allowed future skew", observed.Format(time.RFC3339)),
		}
	}
	if observed.Before(now.Add(-n.retention)) {
		return model.RawObservation{}, &MalformedInputError{
			SourceID: rec.SourceID,
			Reason:   fmt.Sprintf("observed_at %s is older than the retention window", observed.Format(time.RFC3339)),
		}
	}

	if rec.Metric < 0 {
		return model.RawObservation{}, &MalformedInputError{
			SourceID: rec.SourceID,
			Reason:   fmt.Sprintf("negative metric %g", rec.Metric),
		}
	}

	return model.RawObservation{
		ObservationID: uuid.NewString(),
		SourceID:      rec.SourceID,
		SourceAddr:    prefix,
		ObservedAt:    observed,
		Metric:        rec.Metric,
		Tags:          rec.Tags,
	}, nil
}

// parsePrefix accepts a single IP or a CIDR range. Single addresses become
// full-length prefixes so downstream code handles one shape.
func parsePrefix(addr string) (netip.Prefix, error) {
	if p, err := netip.ParsePrefix(addr); err == nil {
		return p.Masked(), nil
	}
	ip, err := netip.ParseAddr(addr)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(ip, ip.BitLen()), nil
}
