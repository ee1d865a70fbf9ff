// Package store holds the active attack events in a sharded, time-decaying
// in-memory index. It is the sole owner of mutable event state: writers go
// through neighborhood updates, readers always receive copies.
package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

// CapacityError reports that the store hit its event ceiling and evicted to
// make room. It is surfaced through logs and metrics, never by rejecting the
// incoming event.
type CapacityError struct {
	Capacity int
	Evicted  string
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("store at capacity %d, evicted event %s", e.Capacity, e.Evicted)
}

// Config controls store behaviour.
type Config struct {
	// RadiusKm sizes grid cells; it should match the correlation radius.
	RadiusKm float64

	Decay          DecayPolicy
	IntensityFloor float64

	// DecayingBelow is the intensity under which an Active event is
	// reported as Decaying.
	DecayingBelow float64

	MaxIdle       time.Duration
	SweepInterval time.Duration
	Capacity      int
	Shards        int
}

// entry wraps a live event with decay bookkeeping. base is the intensity
// written by the last mutation and baseAt the instant it was written;
// CurrentIntensity on reads is always recomputed from that anchor, so decay
// never compounds. LastSeen reflects observation timestamps, which may lag
// the write clock, and drives idle expiry only.
type entry struct {
	ev     *model.AttackEvent
	base   float64
	baseAt time.Time
}

type shard struct {
	mu    sync.RWMutex
	cells map[cell]map[string]*entry
}

// Mutation is the outcome of one neighborhood update: events to write and
// events to retire (merged away or otherwise removed from the active set).
type Mutation struct {
	Upserts []*model.AttackEvent
	Removes []string
}

// Store is the concurrency-safe active-event index.
type Store struct {
	cfg    Config
	grid   grid
	shards []*shard
	log    *slog.Logger
	now    func() time.Time

	// dir maps event ID to its current cell. Readers copy the cell under
	// RLock and release before touching shards, so dir never nests inside
	// a shard lock from the read path.
	dirMu sync.RWMutex
	dir   map[string]cell

	count atomic.Int64

	notifyMu sync.RWMutex
	notify   func([]model.EventDelta)
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store.
func New(cfg Config, log *slog.Logger, opts ...Option) *Store {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.Decay == nil {
		cfg.Decay = ExponentialDecay{HalfLife: 2 * time.Minute}
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Second
	}
	s := &Store{
		cfg:    cfg,
		grid:   newGrid(cfg.RadiusKm),
		shards: make([]*shard, cfg.Shards),
		log:    log,
		now:    time.Now,
		dir:    make(map[string]cell),
	}
	for i := range s.shards {
		s.shards[i] = &shard{cells: make(map[cell]map[string]*entry)}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetNotifier installs the delta sink. Deltas are delivered synchronously
// after shard locks are released.
func (s *Store) SetNotifier(fn func([]model.EventDelta)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.notify = fn
}

func (s *Store) publish(deltas []model.EventDelta) {
	if len(deltas) == 0 {
		return
	}
	s.notifyMu.RLock()
	fn := s.notify
	s.notifyMu.RUnlock()
	if fn != nil {
		fn(deltas)
	}
	for _, d := range deltas {
		metrics.DeltasPublished.WithLabelValues(string(d.Kind)).Inc()
	}
}

func (s *Store) shardFor(c cell) *shard {
	h := fnv.New32a()
	var buf [8]byte
	for i := 0; i < 4; i++ {
		buf[i] = byte(c.X >> (8 * i))
		buf[4+i] = byte(c.Y >> (8 * i))
	}
	h.Write(buf[:])
	return s.shards[h.Sum32()%uint32(len(s.shards))]
}

// lockShards write-locks the distinct shards owning the given cells in
// ascending index order, so concurrent neighborhood updates never deadlock.
// The returned function releases them.
func (s *Store) lockShards(cells []cell) func() {
	seen := make(map[*shard]struct{}, len(cells))
	idx := make([]int, 0, len(cells))
	for _, c := range cells {
		sh := s.shardFor(c)
		if _, ok := seen[sh]; ok {
			continue
		}
		seen[sh] = struct{}{}
		for i, cand := range s.shards {
			if cand == sh {
				idx = append(idx, i)
				break
			}
		}
	}
	sort.Ints(idx)
	for _, i := range idx {
		s.shards[i].mu.Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			s.shards[idx[i]].mu.Unlock()
		}
	}
}

// decayedClone returns a reader copy with CurrentIntensity and Status
// recomputed lazily for the given instant. Returns nil if the event is past
// expiry at that instant.
func (s *Store) decayedClone(e *entry, now time.Time) *model.AttackEvent {
	ev := e.ev.Clone()
	ev.CurrentIntensity = s.cfg.Decay.Decay(e.base, now.Sub(e.baseAt))

	if ev.CurrentIntensity <= s.cfg.IntensityFloor || now.Sub(ev.LastSeen) > s.cfg.MaxIdle {
		return nil
	}
	if ev.Status == model.StatusActive && ev.CurrentIntensity < s.cfg.DecayingBelow {
		ev.Status = model.StatusDecaying
	}
	return ev
}

// UpdateNeighborhood runs fn against copies of the live events near
// (lat, lon) and applies the returned mutation atomically for that
// neighborhood. Candidates carry lazily decayed intensity; events already
// past expiry are not offered. Upserted events must stay within the
// neighborhood (correlation merges always do). Deltas are published after
// the locks are released, so two writers racing on one neighborhood may
// deliver theirs out of order; the next sweep's Updated deltas bring any
// delta-replaying subscriber back to the live state. Publishing under the
// shard locks is not an option: the publisher takes its own lock around
// snapshot capture, which reads these shards.
func (s *Store) UpdateNeighborhood(lat, lon float64, fn func(candidates []*model.AttackEvent) Mutation) {
	cells := s.grid.neighborhood(lat, lon)
	now := s.now().UTC()

	unlock := s.lockShards(cells)

	var candidates []*model.AttackEvent
	for _, c := range cells {
		sh := s.shardFor(c)
		for _, e := range sh.cells[c] {
			if ev := s.decayedClone(e, now); ev != nil {
				candidates = append(candidates, ev)
			}
		}
	}

	mut := fn(candidates)

	deltas := make([]model.EventDelta, 0, len(mut.Upserts)+len(mut.Removes))
	for _, id := range mut.Removes {
		if ev := s.removeLocked(id); ev != nil {
			ev.Status = model.StatusExpired
			deltas = append(deltas, model.EventDelta{Kind: model.DeltaExpired, Event: ev})
		}
	}
	for _, ev := range mut.Upserts {
		created := s.upsertLocked(ev, now)
		kind := model.DeltaUpdated
		if created {
			kind = model.DeltaCreated
		}
		deltas = append(deltas, model.EventDelta{Kind: kind, Event: ev.Clone()})
	}

	unlock()

	s.publish(deltas)
	metrics.ActiveEvents.Set(float64(s.count.Load()))
	s.evictToCapacity()
}

// upsertLocked writes the event with its intensity anchored at now; the
// caller holds the owning shard lock. Reports whether the event is new to
// the index.
func (s *Store) upsertLocked(ev *model.AttackEvent, now time.Time) bool {
	c := s.grid.cellFor(ev.CentroidLat, ev.CentroidLon)

	s.dirMu.Lock()
	prev, existed := s.dir[ev.EventID]
	s.dir[ev.EventID] = c
	s.dirMu.Unlock()

	stored := ev.Clone()
	e := &entry{ev: stored, base: ev.CurrentIntensity, baseAt: now}

	if existed && prev != c {
		prevShard := s.shardFor(prev)
		delete(prevShard.cells[prev], ev.EventID)
		if len(prevShard.cells[prev]) == 0 {
			delete(prevShard.cells, prev)
		}
	}

	sh := s.shardFor(c)
	if sh.cells[c] == nil {
		sh.cells[c] = make(map[string]*entry)
	}
	sh.cells[c][ev.EventID] = e

	if !existed {
		s.count.Add(1)
	}
	return !existed
}

// removeLocked deletes the event and returns a copy, or nil if absent. The
// caller holds the owning shard lock.
func (s *Store) removeLocked(id string) *model.AttackEvent {
	s.dirMu.Lock()
	c, ok := s.dir[id]
	if ok {
		delete(s.dir, id)
	}
	s.dirMu.Unlock()
	if !ok {
		return nil
	}

	sh := s.shardFor(c)
	e, ok := sh.cells[c][id]
	if !ok {
		return nil
	}
	delete(sh.cells[c], id)
	if len(sh.cells[c]) == 0 {
		delete(sh.cells, c)
	}
	s.count.Add(-1)
	return e.ev.Clone()
}

// Get returns a copy of the event, with lazily decayed intensity. Events
// past expiry read as absent even before the sweep removes them.
func (s *Store) Get(id string) (*model.AttackEvent, bool) {
	s.dirMu.RLock()
	c, ok := s.dir[id]
	s.dirMu.RUnlock()
	if !ok {
		return nil, false
	}

	now := s.now().UTC()
	sh := s.shardFor(c)
	sh.mu.RLock()
	defer sh.mu.RUnlock()

	e, ok := sh.cells[c][id]
	if !ok {
		// Migrated between the dir read and the shard lock; treat as a
		// miss, the next read sees the new cell.
		return nil, false
	}
	ev := s.decayedClone(e, now)
	if ev == nil {
		return nil, false
	}
	return ev, true
}

// Snapshot returns a consistent point-in-time copy of all active events.
// Per-event atomicity is guaranteed; cross-shard skew is bounded by how fast
// shards are walked.
func (s *Store) Snapshot() []*model.AttackEvent {
	now := s.now().UTC()
	out := make([]*model.AttackEvent, 0, s.count.Load())
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, events := range sh.cells {
			for _, e := range events {
				if ev := s.decayedClone(e, now); ev != nil {
					out = append(out, ev)
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// QueryRegion returns copies of active events whose centroid lies inside the
// box. Small boxes walk only overlapping grid cells; boxes larger than the
// index fall back to a full scan.
func (s *Store) QueryRegion(box model.BoundingBox) []*model.AttackEvent {
	// The guard uses the arithmetic cell count; cells are materialized
	// only for boxes the index walk will actually serve.
	if s.grid.cellCountForBox(box) > 4*s.count.Load() {
		all := s.Snapshot()
		out := all[:0]
		for _, ev := range all {
			if box.Contains(ev.CentroidLat, ev.CentroidLon) {
				out = append(out, ev)
			}
		}
		return out
	}

	now := s.now().UTC()
	cells := s.grid.cellsForBox(box)

	// Group cells by shard so each shard is locked once.
	byShard := make(map[*shard][]cell)
	for _, c := range cells {
		sh := s.shardFor(c)
		byShard[sh] = append(byShard[sh], c)
	}

	var out []*model.AttackEvent
	for sh, shardCells := range byShard {
		sh.mu.RLock()
		for _, c := range shardCells {
			for _, e := range sh.cells[c] {
				ev := s.decayedClone(e, now)
				if ev != nil && box.Contains(ev.CentroidLat, ev.CentroidLon) {
					out = append(out, ev)
				}
			}
		}
		sh.mu.RUnlock()
	}
	return out
}

// Len returns the number of events in the active index, including any whose
// lazy expiry has not yet been materialized by a sweep.
func (s *Store) Len() int {
	return int(s.count.Load())
}

// Sweep materializes decay: updates statuses, expires events past the
// intensity floor or idle limit, and publishes the resulting deltas.
func (s *Store) Sweep() {
	now := s.now().UTC()
	var deltas []model.EventDelta
	expired := 0

	for _, sh := range s.shards {
		sh.mu.Lock()
		for c, events := range sh.cells {
			for id, e := range events {
				ev := s.decayedClone(e, now)
				if ev == nil {
					gone := e.ev.Clone()
					gone.Status = model.StatusExpired
					gone.CurrentIntensity = 0
					delete(events, id)
					s.dirMu.Lock()
					delete(s.dir, id)
					s.dirMu.Unlock()
					s.count.Add(-1)
					expired++
					deltas = append(deltas, model.EventDelta{Kind: model.DeltaExpired, Event: gone})
					continue
				}
				if ev.Status != e.ev.Status || ev.CurrentIntensity != e.ev.CurrentIntensity {
					e.ev.Status = ev.Status
					e.ev.CurrentIntensity = ev.CurrentIntensity
					deltas = append(deltas, model.EventDelta{Kind: model.DeltaUpdated, Event: ev})
				}
			}
			if len(events) == 0 {
				delete(sh.cells, c)
			}
		}
		sh.mu.Unlock()
	}

	if expired > 0 {
		metrics.EventsExpired.Add(float64(expired))
	}
	metrics.ActiveEvents.Set(float64(s.count.Load()))
	s.publish(deltas)
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// evictToCapacity removes the lowest-intensity, oldest events while the
// index exceeds its ceiling.
func (s *Store) evictToCapacity() {
	if s.cfg.Capacity <= 0 {
		return
	}
	for s.count.Load() > int64(s.cfg.Capacity) {
		victim := s.findEvictionVictim()
		if victim == "" {
			return
		}

		s.dirMu.RLock()
		c, ok := s.dir[victim]
		s.dirMu.RUnlock()
		if !ok {
			continue
		}

		sh := s.shardFor(c)
		sh.mu.Lock()
		// Re-check under the lock: the event may have migrated cells
		// between the directory read and here.
		s.dirMu.RLock()
		cur, still := s.dir[victim]
		s.dirMu.RUnlock()
		var ev *model.AttackEvent
		if still && cur == c {
			ev = s.removeLocked(victim)
		}
		sh.mu.Unlock()

		if ev != nil {
			ev.Status = model.StatusExpired
			metrics.CapacityEvictions.Inc()
			capErr := &CapacityError{Capacity: s.cfg.Capacity, Evicted: ev.EventID}
			s.log.Warn("evicted event under capacity pressure",
				logging.EventID(ev.EventID), logging.Error(capErr))
			s.publish([]model.EventDelta{{Kind: model.DeltaExpired, Event: ev}})
		}
	}
}

// findEvictionVictim picks the event with the lowest decayed intensity,
// breaking ties by oldest LastSeen.
func (s *Store) findEvictionVictim() string {
	now := s.now().UTC()
	var victimID string
	var victimIntensity float64
	var victimLastSeen time.Time

	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, events := range sh.cells {
			for id, e := range events {
				intensity := s.cfg.Decay.Decay(e.base, now.Sub(e.baseAt))
				if victimID == "" ||
					intensity < victimIntensity ||
					(intensity == victimIntensity && e.ev.LastSeen.Before(victimLastSeen)) {
					victimID = id
					victimIntensity = intensity
					victimLastSeen = e.ev.LastSeen
				}
			}
		}
		sh.mu.RUnlock()
	}
	return victimID
}
