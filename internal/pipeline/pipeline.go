// Package pipeline runs the observation path: normalize, geo-enrich, score,
// correlate. A bounded queue decouples feed intake from the worker pool; one
// bad observation never takes down a worker or the batch it arrived with.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/stormwatch-systems/stormwatch/internal/correlator"
	"github.com/stormwatch-systems/stormwatch/internal/geo"
	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/internal/normalizer"
	"github.com/stormwatch-systems/stormwatch/internal/scoring"
)

// ErrQueueFull is returned by Submit when the pipeline cannot absorb more
// intake. Feed adapters treat it as backpressure.
var ErrQueueFull = errors.New("pipeline queue full")

// Config sizes the pipeline.
type Config struct {
	Workers   int
	QueueSize int
}

// Pipeline wires the processing stages behind a bounded intake queue.
type Pipeline struct {
	normalizer *normalizer.Normalizer
	enricher   *geo.Enricher
	scorer     *scoring.Scorer
	correlator *correlator.Correlator
	log        *slog.Logger

	queue   chan normalizer.AdapterRecord
	workers int
}

// New creates a Pipeline. Stages are shared across workers and must be safe
// for concurrent use (all of them are).
func New(cfg Config, n *normalizer.Normalizer, e *geo.Enricher, s *scoring.Scorer, c *correlator.Correlator, log *slog.Logger) *Pipeline {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Pipeline{
		normalizer: n,
		enricher:   e,
		scorer:     s,
		correlator: c,
		log:        log,
		queue:      make(chan normalizer.AdapterRecord, queueSize),
		workers:    workers,
	}
}

// Submit queues one feed record for processing. Non-blocking: when the queue
// is full the record is rejected so the feed layer can apply backpressure
// instead of the pipeline buffering without bound.
func (p *Pipeline) Submit(rec normalizer.AdapterRecord) error {
	select {
	case p.queue <- rec:
		metrics.QueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		metrics.ObservationsTotal.WithLabelValues(rec.SourceID, "rejected").Inc()
		return ErrQueueFull
	}
}

// Run processes queued records with the worker pool until ctx is cancelled,
// then drains nothing further and returns once all workers stop.
func (p *Pipeline) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case rec := <-p.queue:
					metrics.QueueDepth.Set(float64(len(p.queue)))
					p.process(ctx, rec)
				}
			}
		}()
	}
	wg.Wait()
}

// process runs one record through every stage. Failures are isolated: a
// malformed or unresolvable observation is counted and dropped, nothing
// else.
func (p *Pipeline) process(ctx context.Context, rec normalizer.AdapterRecord) {
	obs, err := p.normalizer.Normalize(rec)
	if err != nil {
		if normalizer.IsMalformed(err) {
			metrics.MalformedTotal.WithLabelValues(rec.SourceID).Inc()
			metrics.ObservationsTotal.WithLabelValues(rec.SourceID, "malformed").Inc()
			p.log.Debug("dropped malformed observation", logging.Source(rec.SourceID), logging.Error(err))
			return
		}
		metrics.ObservationsTotal.WithLabelValues(rec.SourceID, "error").Inc()
		p.log.Warn("normalization failed", logging.Source(rec.SourceID), logging.Error(err))
		return
	}

	enriched, err := p.enricher.Enrich(ctx, obs)
	if err != nil {
		// Only reachable with geo degradation disabled; the observation
		// carries a location we refuse to guess at.
		metrics.ObservationsTotal.WithLabelValues(obs.SourceID, "unresolvable").Inc()
		p.log.Warn("dropped unresolvable observation",
			logging.Source(obs.SourceID), logging.ObservationID(obs.ObservationID), logging.Error(err))
		return
	}

	scored, err := p.scorer.Score(ctx, enriched)
	if err != nil {
		// The scorer falls back internally; an error here means the
		// observation itself cannot be scored at all.
		metrics.ObservationsTotal.WithLabelValues(obs.SourceID, "unscorable").Inc()
		p.log.Warn("dropped unscorable observation",
			logging.Source(obs.SourceID), logging.ObservationID(obs.ObservationID), logging.Error(err))
		return
	}

	p.correlator.Apply(scored)
	metrics.ObservationsTotal.WithLabelValues(obs.SourceID, "processed").Inc()
}
