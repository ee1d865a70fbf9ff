package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

type stubModel struct {
	score float64
	class model.Classification
	err   error
	block bool
	calls int
	last  FeatureVector
}

func (m *stubModel) Version() string { return "stub-v1" }

func (m *stubModel) ScoreFeatures(ctx context.Context, f FeatureVector) (float64, model.Classification, error) {
	m.calls++
	m.last = f
	if m.block {
		<-ctx.Done()
		return 0, "", &UnavailableError{Err: ctx.Err()}
	}
	return m.score, m.class, m.err
}

func testScorerConfig() Config {
	return Config{
		Timeout:         50 * time.Millisecond,
		FrequencyWindow: 5 * time.Minute,
		FallbackScore:   0.2,
	}
}

func enrichedObs(addr string) model.EnrichedObservation {
	return model.EnrichedObservation{
		RawObservation: model.RawObservation{
			ObservationID: "obs-1",
			SourceID:      "radar",
			SourceAddr:    netip.MustParsePrefix(addr),
			ObservedAt:    time.Now().UTC(),
			Metric:        5000,
		},
		Lat:           10,
		Lon:           20,
		GeoConfidence: 0.9,
	}
}

func TestScoreHappyPath(t *testing.T) {
	m := &stubModel{score: 0.85, class: model.ClassificationVolumetricDDoS}
	s := NewScorer(m, testScorerConfig(), slog.Default())

	scored, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)

	assert.Equal(t, 0.85, scored.ThreatScore)
	assert.Equal(t, model.ClassificationVolumetricDDoS, scored.Classification)
	assert.Equal(t, "stub-v1", scored.ModelVersion)
	assert.Equal(t, 5000.0, m.last.Metric)
	assert.Equal(t, 1, m.last.SourceFrequency)
	assert.Equal(t, 0.9, m.last.GeoConfidence)
}

func TestScoreClampsRange(t *testing.T) {
	m := &stubModel{score: 1.7, class: model.ClassificationProbing}
	s := NewScorer(m, testScorerConfig(), slog.Default())

	scored, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, scored.ThreatScore)

	m.score = -0.3
	scored, err = s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)
	assert.Equal(t, 0.0, scored.ThreatScore)
}

func TestScoreFallbackOnModelError(t *testing.T) {
	m := &stubModel{err: errors.New("model crashed")}
	s := NewScorer(m, testScorerConfig(), slog.Default())

	scored, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err, "scoring failures must not drop observations")

	assert.Equal(t, 0.2, scored.ThreatScore)
	assert.Equal(t, model.ClassificationProbing, scored.Classification)
	assert.Equal(t, FallbackModelVersion, scored.ModelVersion)
}

func TestScoreFallbackOnTimeout(t *testing.T) {
	m := &stubModel{block: true}
	s := NewScorer(m, testScorerConfig(), slog.Default())

	start := time.Now()
	scored, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second, "must respect the time budget")
	assert.Equal(t, FallbackModelVersion, scored.ModelVersion)
	assert.Equal(t, model.ClassificationProbing, scored.Classification)
}

func TestScoreRejectsUnknownClassification(t *testing.T) {
	m := &stubModel{score: 0.5, class: model.Classification("weird")}
	s := NewScorer(m, testScorerConfig(), slog.Default())

	_, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestSourceFrequencyWindow(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := &stubModel{score: 0.5, class: model.ClassificationProbing}
	s := NewScorer(m, testScorerConfig(), slog.Default(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.last.SourceFrequency)

	// A different source has its own counter.
	_, err := s.Score(context.Background(), enrichedObs("198.51.100.1/32"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.last.SourceFrequency)

	// Entries fall out after the window passes.
	now = now.Add(10 * time.Minute)
	_, err = s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)
	assert.Equal(t, 1, m.last.SourceFrequency)
}

func TestIdleSourcesSweptFromFrequencyState(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	m := &stubModel{score: 0.5, class: model.ClassificationProbing}
	s := NewScorer(m, testScorerConfig(), slog.Default(), WithClock(clock))

	// One-off sources that never report again must not accumulate.
	for i := 0; i < 50; i++ {
		_, err := s.Score(context.Background(), enrichedObs(fmt.Sprintf("198.51.100.%d/32", i)))
		require.NoError(t, err)
	}
	require.Len(t, s.seen, 50)

	// The next observation past the window sweeps all idle entries.
	now = now.Add(10 * time.Minute)
	_, err := s.Score(context.Background(), enrichedObs("203.0.113.7/32"))
	require.NoError(t, err)
	assert.Len(t, s.seen, 1)
}

func TestHeuristicModelBands(t *testing.T) {
	m := DefaultHeuristicModel()
	ctx := context.Background()

	tests := []struct {
		name      string
		features  FeatureVector
		wantClass model.Classification
	}{
		{"volumetric flood", FeatureVector{Metric: 50000, SourceFrequency: 1, GeoConfidence: 0.9}, model.ClassificationVolumetricDDoS},
		{"bursty repeat source", FeatureVector{Metric: 500, SourceFrequency: 20, GeoConfidence: 0.9}, model.ClassificationApplicationLayerDDoS},
		{"quiet first-timer", FeatureVector{Metric: 10, SourceFrequency: 1, GeoConfidence: 0.9}, model.ClassificationBenign},
		{"moderate traffic", FeatureVector{Metric: 2000, SourceFrequency: 3, GeoConfidence: 0.9}, model.ClassificationProbing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score, class, err := m.ScoreFeatures(ctx, tt.features)
			require.NoError(t, err)
			assert.Equal(t, tt.wantClass, class)
			assert.GreaterOrEqual(t, score, 0.0)
			assert.LessOrEqual(t, score, 1.0)
		})
	}
}

func TestHeuristicModelGeoWeighting(t *testing.T) {
	m := DefaultHeuristicModel()
	ctx := context.Background()

	confident, _, err := m.ScoreFeatures(ctx, FeatureVector{Metric: 50000, SourceFrequency: 1, GeoConfidence: 0.9})
	require.NoError(t, err)
	vague, _, err := m.ScoreFeatures(ctx, FeatureVector{Metric: 50000, SourceFrequency: 1, GeoConfidence: 0.0})
	require.NoError(t, err)

	assert.Less(t, vague, confident)
}

func TestHeuristicModelDeterministic(t *testing.T) {
	m := DefaultHeuristicModel()
	ctx := context.Background()
	f := FeatureVector{Metric: 12345, SourceFrequency: 4, GeoConfidence: 0.7}

	s1, c1, err := m.ScoreFeatures(ctx, f)
	require.NoError(t, err)
	s2, c2, err := m.ScoreFeatures(ctx, f)
	require.NoError(t, err)

	assert.Equal(t, s1, s2)
	assert.Equal(t, c1, c2)
}
