// Package geo resolves source networks to geographic coordinates and
// enriches observations with the result.
package geo

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
)

// Location is a resolver's answer for one network prefix.
type Location struct {
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
	Country    string  `json:"country,omitempty"`
	ASN        uint32  `json:"asn,omitempty"`
}

// LookupError reports a resolver failure for one prefix.
type LookupError struct {
	Prefix netip.Prefix
	Err    error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("geo lookup for %s: %v", e.Prefix, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// IsLookupError reports whether err is a LookupError.
func IsLookupError(err error) bool {
	var l *LookupError
	return errors.As(err, &l)
}

// Resolver is the pluggable geolocation capability. Implementations must
// honor ctx cancellation; the enricher applies its own timeout.
type Resolver interface {
	Resolve(ctx context.Context, prefix netip.Prefix) (Location, error)
}

// StaticResolver answers from a fixed prefix table. Used in development and
// tests in place of a commercial IP database.
type StaticResolver struct {
	mu    sync.RWMutex
	table map[netip.Prefix]Location
}

// NewStaticResolver creates an empty static resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{table: make(map[netip.Prefix]Location)}
}

// Put registers a location for a prefix.
func (r *StaticResolver) Put(prefix netip.Prefix, loc Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.table[prefix.Masked()] = loc
}

// Resolve looks up the longest registered prefix containing the address.
func (r *StaticResolver) Resolve(ctx context.Context, prefix netip.Prefix) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, &LookupError{Prefix: prefix, Err: err}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if loc, ok := r.table[prefix.Masked()]; ok {
		return loc, nil
	}
	var best *Location
	bestBits := -1
	for p, loc := range r.table {
		if p.Contains(prefix.Addr()) && p.Bits() > bestBits {
			l := loc
			best = &l
			bestBits = p.Bits()
		}
	}
	if best == nil {
		return Location{}, &LookupError{Prefix: prefix, Err: errors.New("no entry")}
	}
	return *best, nil
}
