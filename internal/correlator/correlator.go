// Package correlator folds scored observations into long-lived attack
// events. One observation either reinforces an existing event near it,
// creates a new one, or collapses several overlapping events into one.
package correlator

import (
	"log/slog"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/stormwatch-systems/stormwatch/internal/config"
	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/internal/store"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// centroidAlpha weights new observations when shifting an event's centroid.
// The centroid stays inside the hull of contributing locations.
const centroidAlpha = 0.3

// Correlator applies observations to the event store. Safe for concurrent
// use: all event state lives in the store, which serializes writers per
// neighborhood.
type Correlator struct {
	store  *store.Store
	cfg    config.CorrelationConfig
	log    *slog.Logger
	dedupe *lru.Cache[string, struct{}]
}

// New creates a Correlator. The duplicate-suppression cache is only built
// when dedupe_observations is on.
func New(st *store.Store, cfg config.CorrelationConfig, log *slog.Logger) (*Correlator, error) {
	c := &Correlator{store: st, cfg: cfg, log: log}
	if cfg.DedupeObservations {
		size := cfg.DedupeCacheSize
		if size <= 0 {
			size = 16384
		}
		cache, err := lru.New[string, struct{}](size)
		if err != nil {
			return nil, err
		}
		c.dedupe = cache
	}
	return c, nil
}

// Apply correlates one scored observation into the active event set. Benign
// observations and duplicates are dropped.
func (c *Correlator) Apply(obs model.ScoredObservation) {
	if obs.Classification == model.ClassificationBenign {
		return
	}
	if c.dedupe != nil {
		if _, seen := c.dedupe.Get(obs.ObservationID); seen {
			metrics.DuplicatesSuppressed.Inc()
			return
		}
	}

	c.store.UpdateNeighborhood(obs.Lat, obs.Lon, func(candidates []*model.AttackEvent) store.Mutation {
		matches := c.match(obs, candidates)

		switch len(matches) {
		case 0:
			ev := c.newEvent(obs)
			metrics.EventsCreated.Inc()
			c.log.Debug("created attack event",
				logging.EventID(ev.EventID), "classification", string(ev.Classification))
			return store.Mutation{Upserts: []*model.AttackEvent{ev}}

		case 1:
			ev := c.merge(matches[0], obs)
			metrics.EventsMerged.Inc()
			return store.Mutation{Upserts: []*model.AttackEvent{ev}}

		default:
			winner, losers := splitNearest(matches, obs.Lat, obs.Lon)
			ev := c.merge(winner, obs)
			removes := make([]string, 0, len(losers))
			for _, loser := range losers {
				c.absorb(ev, loser)
				removes = append(removes, loser.EventID)
			}
			metrics.EventsMerged.Inc()
			metrics.EventsAbsorbed.Add(float64(len(losers)))
			c.log.Debug("collapsed overlapping events",
				logging.EventID(ev.EventID), "absorbed", len(losers))
			return store.Mutation{Upserts: []*model.AttackEvent{ev}, Removes: removes}
		}
	})

	if c.dedupe != nil {
		c.dedupe.Add(obs.ObservationID, struct{}{})
	}
}

// match filters neighborhood candidates down to events this observation may
// reinforce: close enough, recently seen, and describing the same kind of
// attack.
func (c *Correlator) match(obs model.ScoredObservation, candidates []*model.AttackEvent) []*model.AttackEvent {
	var out []*model.AttackEvent
	for _, ev := range candidates {
		if store.DistanceKm(obs.Lat, obs.Lon, ev.CentroidLat, ev.CentroidLon) > c.cfg.RadiusKm {
			continue
		}
		if obs.ObservedAt.Sub(ev.LastSeen) > c.cfg.Window {
			continue
		}
		if !compatible(obs.Classification, ev.Classification) {
			continue
		}
		out = append(out, ev)
	}
	return out
}

// compatible reports whether an observation of class a may reinforce an
// event of class b. Probing patterns may escalate into either attack kind,
// but the two attack kinds never merge with each other.
func compatible(a, b model.Classification) bool {
	if a == b {
		return true
	}
	return a == model.ClassificationProbing || b == model.ClassificationProbing
}

func (c *Correlator) newEvent(obs model.ScoredObservation) *model.AttackEvent {
	status := model.StatusEmerging
	if c.cfg.ActivationThreshold <= 1 {
		status = model.StatusActive
	}
	return &model.AttackEvent{
		EventID:     "atk-" + uuid.NewString(),
		CentroidLat: obs.Lat,
		CentroidLon: obs.Lon,
		Bounds: model.BoundingBox{
			MinLat: obs.Lat, MinLon: obs.Lon,
			MaxLat: obs.Lat, MaxLon: obs.Lon,
		},
		CurrentIntensity:    obs.ThreatScore,
		PeakIntensity:       obs.ThreatScore,
		Classification:      obs.Classification,
		ClassificationScore: obs.ThreatScore,
		FirstSeen:           obs.ObservedAt,
		LastSeen:            obs.ObservedAt,
		ObservationCount:    1,
		Status:              status,
	}
}

// merge folds the observation into the event in place and returns it. The
// event is already a private copy handed out by the store.
func (c *Correlator) merge(ev *model.AttackEvent, obs model.ScoredObservation) *model.AttackEvent {
	ev.CentroidLat = (1-centroidAlpha)*ev.CentroidLat + centroidAlpha*obs.Lat
	ev.CentroidLon = (1-centroidAlpha)*ev.CentroidLon + centroidAlpha*obs.Lon
	ev.Bounds = ev.Bounds.Extend(obs.Lat, obs.Lon)

	// Intensity never drops when reinforced: keep whichever is hotter,
	// the decayed current value or the new score.
	if obs.ThreatScore > ev.CurrentIntensity {
		ev.CurrentIntensity = obs.ThreatScore
	}
	if ev.CurrentIntensity > ev.PeakIntensity {
		ev.PeakIntensity = ev.CurrentIntensity
	}

	// A more confident verdict wins the event's classification. Probing
	// yields to a concrete attack kind at equal confidence.
	if obs.ThreatScore > ev.ClassificationScore ||
		(ev.Classification == model.ClassificationProbing && obs.Classification != model.ClassificationProbing) {
		ev.Classification = obs.Classification
		ev.ClassificationScore = obs.ThreatScore
	}

	if obs.ObservedAt.After(ev.LastSeen) {
		ev.LastSeen = obs.ObservedAt
	}
	if obs.ObservedAt.Before(ev.FirstSeen) {
		ev.FirstSeen = obs.ObservedAt
	}
	ev.ObservationCount++

	if ev.Status != model.StatusActive && ev.ObservationCount >= c.cfg.ActivationThreshold {
		ev.Status = model.StatusActive
	}
	return ev
}

// absorb folds a retired event's history into the winner after a multi-way
// merge.
func (c *Correlator) absorb(winner, loser *model.AttackEvent) {
	winner.ObservationCount += loser.ObservationCount
	winner.Bounds = winner.Bounds.Extend(loser.Bounds.MinLat, loser.Bounds.MinLon)
	winner.Bounds = winner.Bounds.Extend(loser.Bounds.MaxLat, loser.Bounds.MaxLon)
	if loser.PeakIntensity > winner.PeakIntensity {
		winner.PeakIntensity = loser.PeakIntensity
	}
	if loser.FirstSeen.Before(winner.FirstSeen) {
		winner.FirstSeen = loser.FirstSeen
	}
	if winner.Status != model.StatusActive && winner.ObservationCount >= c.cfg.ActivationThreshold {
		winner.Status = model.StatusActive
	}
}

// splitNearest picks the event whose centroid is closest to the point,
// breaking ties by lowest event ID so concurrent multi-way merges are
// deterministic.
func splitNearest(matches []*model.AttackEvent, lat, lon float64) (*model.AttackEvent, []*model.AttackEvent) {
	winner := matches[0]
	winnerDist := store.DistanceKm(lat, lon, winner.CentroidLat, winner.CentroidLon)
	for _, ev := range matches[1:] {
		d := store.DistanceKm(lat, lon, ev.CentroidLat, ev.CentroidLon)
		if d < winnerDist || (d == winnerDist && ev.EventID < winner.EventID) {
			winner = ev
			winnerDist = d
		}
	}
	losers := make([]*model.AttackEvent, 0, len(matches)-1)
	for _, ev := range matches {
		if ev != winner {
			losers = append(losers, ev)
		}
	}
	return winner, losers
}
