package geo

import (
	"context"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// Config controls enricher behaviour.
type Config struct {
	CacheSize      int
	CacheTTL       time.Duration
	ResolveTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration

	// DegradeOnError forwards observations with an unknown location and
	// zero confidence when the resolver keeps failing, instead of
	// returning the lookup error.
	DegradeOnError bool
}

// Enricher attaches geolocation to raw observations. The local TTL-LRU cache
// bounds resolver load for repeated sources; the optional Redis tier shares
// entries across replicas. The resolver is never called while any lock is
// held.
type Enricher struct {
	resolver Resolver
	cache    *expirable.LRU[netip.Prefix, Location]
	shared   *RedisCache
	cfg      Config
	log      *slog.Logger

	// consecutiveFailures drives the readiness probe: a run of resolver
	// failures means enrichment is degraded, one success clears it.
	consecutiveFailures atomic.Int64
}

// NewEnricher creates an Enricher. shared may be nil.
func NewEnricher(resolver Resolver, shared *RedisCache, cfg Config, log *slog.Logger) *Enricher {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	return &Enricher{
		resolver: resolver,
		cache:    expirable.NewLRU[netip.Prefix, Location](cfg.CacheSize, nil, cfg.CacheTTL),
		shared:   shared,
		cfg:      cfg,
		log:      log,
	}
}

// Enrich resolves the observation's source prefix and returns the enriched
// copy. On persistent resolver failure it either degrades to an unknown
// location (DegradeOnError) or returns a LookupError; it never blocks beyond
// the configured timeout and retry budget.
func (e *Enricher) Enrich(ctx context.Context, obs model.RawObservation) (model.EnrichedObservation, error) {
	start := time.Now()
	defer func() {
		metrics.EnrichDuration.Observe(time.Since(start).Seconds())
	}()

	prefix := obs.SourceAddr

	if loc, ok := e.cache.Get(prefix); ok {
		metrics.GeoCacheHits.WithLabelValues("local").Inc()
		return enriched(obs, loc), nil
	}

	if loc, ok, err := e.shared.Get(ctx, prefix); err != nil {
		e.log.Warn("shared geo cache read failed", "error", err)
	} else if ok {
		metrics.GeoCacheHits.WithLabelValues("shared").Inc()
		e.cache.Add(prefix, loc)
		return enriched(obs, loc), nil
	}

	loc, err := e.resolveWithRetry(ctx, prefix)
	if err != nil {
		e.consecutiveFailures.Add(1)
		metrics.GeoLookupErrors.Inc()
		if !e.cfg.DegradeOnError {
			return model.EnrichedObservation{}, err
		}
		metrics.GeoDegraded.Inc()
		e.log.Warn("geo lookup degraded to unknown location",
			logging.Addr(prefix.String()), logging.Error(err))
		// Unknown-location marker: zero coordinates, zero confidence.
		// Not cached, so the next observation retries the resolver.
		return enriched(obs, Location{}), nil
	}

	e.consecutiveFailures.Store(0)
	e.cache.Add(prefix, loc)
	if err := e.shared.Put(ctx, prefix, loc); err != nil {
		e.log.Warn("shared geo cache write failed", "error", err)
	}
	return enriched(obs, loc), nil
}

// degradedAfter is how many resolver failures in a row flip the readiness
// probe.
const degradedAfter = 5

// Degraded reports a systemic resolver outage, as opposed to isolated
// lookup misses.
func (e *Enricher) Degraded() bool {
	return e.consecutiveFailures.Load() >= degradedAfter
}

func (e *Enricher) resolveWithRetry(ctx context.Context, prefix netip.Prefix) (Location, error) {
	var lastErr error
	for attempt := 0; attempt <= e.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := e.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return Location{}, &LookupError{Prefix: prefix, Err: ctx.Err()}
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, e.cfg.ResolveTimeout)
		loc, err := e.resolver.Resolve(callCtx, prefix)
		cancel()
		if err == nil {
			return loc, nil
		}
		lastErr = err
	}
	if _, ok := lastErr.(*LookupError); ok {
		return Location{}, lastErr
	}
	return Location{}, &LookupError{Prefix: prefix, Err: lastErr}
}

func enriched(obs model.RawObservation, loc Location) model.EnrichedObservation {
	return model.EnrichedObservation{
		RawObservation: obs,
		Lat:            loc.Lat,
		Lon:            loc.Lon,
		GeoConfidence:  loc.Confidence,
		Country:        loc.Country,
		ASN:            loc.ASN,
	}
}
