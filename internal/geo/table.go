package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/netip"
	"os"
)

// tableEntry is one row of the on-disk prefix table.
type tableEntry struct {
	Prefix     string  `json:"prefix"`
	Lat        float64 `json:"lat"`
	Lon        float64 `json:"lon"`
	Confidence float64 `json:"confidence"`
	Country    string  `json:"country,omitempty"`
	ASN        uint32  `json:"asn,omitempty"`
}

// LoadTable builds a StaticResolver from a JSON prefix table. The format is
// an array of {prefix, lat, lon, confidence, country, asn} rows.
func LoadTable(path string) (*StaticResolver, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geo table: %w", err)
	}

	var rows []tableEntry
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("parse geo table %s: %w", path, err)
	}

	r := NewStaticResolver()
	for i, row := range rows {
		prefix, err := netip.ParsePrefix(row.Prefix)
		if err != nil {
			return nil, fmt.Errorf("geo table %s row %d: %w", path, i, err)
		}
		r.Put(prefix.Masked(), Location{
			Lat:        row.Lat,
			Lon:        row.Lon,
			Confidence: row.Confidence,
			Country:    row.Country,
			ASN:        row.ASN,
		})
	}
	return r, nil
}

// SyntheticResolver derives a stable pseudo-location from the prefix itself.
// Development only: it keeps the map populated without a real prefix table,
// and the same prefix always lands in the same place so correlation still
// works.
type SyntheticResolver struct{}

// Resolve implements Resolver. It never fails.
func (SyntheticResolver) Resolve(_ context.Context, prefix netip.Prefix) (Location, error) {
	h := fnv.New64a()
	h.Write([]byte(prefix.Masked().String()))
	sum := h.Sum64()

	// Spread across inhabited latitudes; longitude covers the full range.
	lat := -55 + float64(sum%110_000)/1000
	lon := -180 + float64((sum>>20)%360_000)/1000
	return Location{Lat: lat, Lon: lon, Confidence: 0.5}, nil
}
