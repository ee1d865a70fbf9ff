package normalizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestNormalizer() *Normalizer {
	return New(30*time.Second, time.Hour, WithClock(func() time.Time { return fixedNow }))
}

func validRecord() AdapterRecord {
	return AdapterRecord{
		SourceID:   "radar",
		SourceAddr: "203.0.113.7",
		ObservedAt: fixedNow.Add(-time.Minute),
		Metric:     1500,
		Tags:       map[string]string{"protocol": "udp"},
	}
}

func TestNormalizeValid(t *testing.T) {
	n := newTestNormalizer()

	obs, err := n.Normalize(validRecord())
	require.NoError(t, err)

	assert.NotEmpty(t, obs.ObservationID)
	assert.Equal(t, "radar", obs.SourceID)
	assert.Equal(t, "203.0.113.7/32", obs.SourceAddr.String())
	assert.Equal(t, fixedNow.Add(-time.Minute), obs.ObservedAt)
	assert.Equal(t, 1500.0, obs.Metric)
	assert.Equal(t, "udp", obs.Tags["protocol"])
}

func TestNormalizeCIDR(t *testing.T) {
	n := newTestNormalizer()

	rec := validRecord()
	rec.SourceAddr = "203.0.113.128/25"
	obs, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.128/25", obs.SourceAddr.String())

	// Stray host bits are masked off.
	rec.SourceAddr = "203.0.113.200/25"
	obs, err = n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.128/25", obs.SourceAddr.String())
}

func TestNormalizeIPv6(t *testing.T) {
	n := newTestNormalizer()

	rec := validRecord()
	rec.SourceAddr = "2001:db8::1"
	obs, err := n.Normalize(rec)
	require.NoError(t, err)
	assert.Equal(t, "2001:db8::1/128", obs.SourceAddr.String())
}

func TestNormalizeRejects(t *testing.T) {
	n := newTestNormalizer()

	tests := []struct {
		name   string
		mutate func(*AdapterRecord)
	}{
		{"missing source_id", func(r *AdapterRecord) { r.SourceID = "" }},
		{"missing source_addr", func(r *AdapterRecord) { r.SourceAddr = "" }},
		{"garbage source_addr", func(r *AdapterRecord) { r.SourceAddr = "not-an-ip" }},
		{"zero observed_at", func(r *AdapterRecord) { r.ObservedAt = time.Time{} }},
		{"future observed_at", func(r *AdapterRecord) { r.ObservedAt = fixedNow.Add(time.Minute) }},
		{"stale observed_at", func(r *AdapterRecord) { r.ObservedAt = fixedNow.Add(-2 * time.Hour) }},
		{"negative metric", func(r *AdapterRecord) { r.Metric = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := validRecord()
			tt.mutate(&rec)
			_, err := n.Normalize(rec)
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "expected MalformedInputError, got %T", err)
		})
	}
}

func TestNormalizeWithinSkew(t *testing.T) {
	n := newTestNormalizer()

	// A few seconds ahead stays within the configured skew.
	rec := validRecord()
	rec.ObservedAt = fixedNow.Add(10 * time.Second)
	_, err := n.Normalize(rec)
	assert.NoError(t, err)
}

func TestUniqueObservationIDs(t *testing.T) {
	n := newTestNormalizer()

	a, err := n.Normalize(validRecord())
	require.NoError(t, err)
	b, err := n.Normalize(validRecord())
	require.NoError(t, err)
	assert.NotEqual(t, a.ObservationID, b.ObservationID)
}
