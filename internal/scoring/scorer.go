// Package scoring assigns threat scores and classifications to enriched
// observations through a pluggable model capability.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// FallbackModelVersion marks observations scored by the timeout fallback.
const FallbackModelVersion = "fallback"

// UnavailableError reports a scoring capability failure. The pipeline counts
// it and falls back to a conservative classification; observations are never
// dropped for scoring failures.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("scoring unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var u *UnavailableError
	return errors.As(err, &u)
}

// FeatureVector is the fixed model input derived from one observation.
type FeatureVector struct {
	// Metric is the observation's reported traffic magnitude.
	Metric float64

	// SourceFrequency counts recent observations from the same source
	// network within the scorer's frequency window, this one included.
	SourceFrequency int

	// GeoConfidence is the enricher's confidence in the location.
	GeoConfidence float64
}

// Model is the pluggable scoring capability.
type Model interface {
	ScoreFeatures(ctx context.Context, features FeatureVector) (score float64, class model.Classification, err error)
	Version() string
}

// Config controls scorer behaviour.
type Config struct {
	Timeout         time.Duration
	FrequencyWindow time.Duration
	FallbackScore   float64
}

// Scorer wraps a Model with a time budget, a per-source frequency counter,
// and the fallback policy. The model call is the only suspension point and
// runs without any internal lock held.
type Scorer struct {
	model Model
	cfg   Config
	log   *slog.Logger

	mu        sync.Mutex
	seen      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// NewScorer creates a Scorer around the given model.
func NewScorer(m Model, cfg Config, log *slog.Logger, opts ...Option) *Scorer {
	s := &Scorer{
		model: m,
		cfg:   cfg,
		log:   log,
		seen:  make(map[string][]time.Time),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastSweep = s.now()
	return s
}

// Score derives the feature vector, invokes the model within the time
// budget, and returns the scored observation. On model failure or timeout
// the observation gets the conservative fallback verdict so correlation
// still receives a data point.
func (s *Scorer) Score(ctx context.Context, obs model.EnrichedObservation) (model.ScoredObservation, error) {
	start := time.Now()
	defer func() {
		metrics.ScoreDuration.Observe(time.Since(start).Seconds())
	}()

	features := FeatureVector{
		Metric:          obs.Metric,
		SourceFrequency: s.recordSource(obs.SourceAddr.String()),
		GeoConfidence:   obs.GeoConfidence,
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	score, class, err := s.model.ScoreFeatures(callCtx, features)
	if err != nil {
		metrics.ScoringFallbacks.Inc()
		s.log.Warn("scoring fell back to conservative verdict",
			"observation_id", obs.ObservationID, "error", err)
		return model.ScoredObservation{
			EnrichedObservation: obs,
			ThreatScore:         s.cfg.FallbackScore,
			Classification:      model.ClassificationProbing,
			ModelVersion:        FallbackModelVersion,
		}, nil
	}

	if score < 0 {
		score = 0
	} else if score > 1 {
		score = 1
	}
	if !class.IsValid() {
		return model.ScoredObservation{}, &UnavailableError{
			Err: fmt.Errorf("model returned unknown classification %q", class),
		}
	}

	return model.ScoredObservation{
		EnrichedObservation: obs,
		ThreatScore:         score,
		Classification:      class,
		ModelVersion:        s.model.Version(),
	}, nil
}

// recordSource notes one observation for the source and returns how many
// fell within the frequency window, pruning expired entries. Once per
// window it also sweeps sources that went quiet, keeping the map bounded
// by live traffic rather than every source ever seen.
func (s *Scorer) recordSource(source string) int {
	now := s.now()
	cutoff := now.Add(-s.cfg.FrequencyWindow)

	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastSweep) > s.cfg.FrequencyWindow {
		for src, times := range s.seen {
			if len(times) == 0 || !times[len(times)-1].After(cutoff) {
				delete(s.seen, src)
			}
		}
		s.lastSweep = now
	}

	times := s.seen[source]
	kept := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.seen[source] = kept
	return len(kept)
}
