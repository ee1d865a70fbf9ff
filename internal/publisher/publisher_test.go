package publisher

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/pkg/model"
)

func delta(kind model.DeltaKind, id string, intensity float64) model.EventDelta {
	return model.EventDelta{
		Kind: kind,
		Event: &model.AttackEvent{
			EventID:          id,
			CurrentIntensity: intensity,
			Status:           model.StatusActive,
		},
	}
}

func TestSubscribeReceivesSnapshot(t *testing.T) {
	snap := []*model.AttackEvent{{EventID: "atk-1"}, {EventID: "atk-2"}}
	p := New(func() []*model.AttackEvent { return snap }, 8, slog.Default())

	sub, got := p.Subscribe()
	defer p.Unsubscribe(sub)

	assert.Len(t, got, 2)
	assert.Equal(t, 1, p.SubscriberCount())
}

func TestPublishFanout(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 8, slog.Default())

	a, _ := p.Subscribe()
	b, _ := p.Subscribe()
	defer p.Unsubscribe(a)
	defer p.Unsubscribe(b)

	p.Publish([]model.EventDelta{delta(model.DeltaCreated, "atk-1", 0.9)})

	for _, sub := range []*Subscription{a, b} {
		d := <-sub.Deltas()
		assert.Equal(t, model.DeltaCreated, d.Kind)
		assert.Equal(t, "atk-1", d.Event.EventID)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 8, slog.Default())

	sub, _ := p.Subscribe()
	p.Unsubscribe(sub)
	p.Unsubscribe(sub) // idempotent

	_, open := <-sub.Deltas()
	assert.False(t, open)
	assert.Zero(t, p.SubscriberCount())
}

func TestSlowSubscriberDropped(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 2, slog.Default())

	slow, _ := p.Subscribe()

	// Three deltas overflow the backlog of two: the subscriber is
	// dropped and its channel closed after the buffered deltas.
	p.Publish([]model.EventDelta{
		delta(model.DeltaCreated, "atk-1", 0.9),
		delta(model.DeltaUpdated, "atk-1", 0.8),
		delta(model.DeltaUpdated, "atk-1", 0.7),
	})

	assert.Zero(t, p.SubscriberCount())

	received := 0
	for range slow.Deltas() {
		received++
	}
	assert.Equal(t, 2, received)
}

func TestPublishEmptyIsNoop(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 8, slog.Default())
	sub, _ := p.Subscribe()
	defer p.Unsubscribe(sub)

	p.Publish(nil)
	select {
	case <-sub.Deltas():
		t.Fatal("no delta expected")
	default:
	}
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 64, slog.Default())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				sub, _ := p.Subscribe()
				p.Unsubscribe(sub)
			}
		}()
	}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				p.Publish([]model.EventDelta{delta(model.DeltaUpdated, "atk-1", 0.5)})
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, p.SubscriberCount())
}

func TestSnapshotDeltaConvergence(t *testing.T) {
	// Simulate the contract: applying the delta stream on top of the
	// subscription snapshot yields the same state as polling afterwards.
	state := map[string]*model.AttackEvent{
		"atk-1": {EventID: "atk-1", CurrentIntensity: 0.9, Status: model.StatusActive},
	}
	snapshot := func() []*model.AttackEvent {
		out := make([]*model.AttackEvent, 0, len(state))
		for _, ev := range state {
			out = append(out, ev.Clone())
		}
		return out
	}
	p := New(snapshot, 16, slog.Default())

	sub, snap := p.Subscribe()
	defer p.Unsubscribe(sub)

	apply := func(m map[string]*model.AttackEvent, d model.EventDelta) {
		if d.Kind == model.DeltaExpired {
			delete(m, d.Event.EventID)
			return
		}
		m[d.Event.EventID] = d.Event.Clone()
	}

	// Mutate upstream state and publish the matching deltas.
	steps := []model.EventDelta{
		delta(model.DeltaUpdated, "atk-1", 0.5),
		delta(model.DeltaCreated, "atk-2", 0.8),
		delta(model.DeltaExpired, "atk-1", 0),
	}
	for _, d := range steps {
		apply(state, d)
		p.Publish([]model.EventDelta{d})
	}

	replay := make(map[string]*model.AttackEvent, len(snap))
	for _, ev := range snap {
		replay[ev.EventID] = ev
	}
	for i := 0; i < len(steps); i++ {
		apply(replay, <-sub.Deltas())
	}

	require.Len(t, replay, len(state))
	for id, want := range state {
		got, ok := replay[id]
		require.True(t, ok)
		assert.Equal(t, want.CurrentIntensity, got.CurrentIntensity)
	}
}

func TestSubscriberGaugeTracksRegistrations(t *testing.T) {
	p := New(func() []*model.AttackEvent { return nil }, 8, slog.Default())

	a, _ := p.Subscribe()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Subscribers))
	b, _ := p.Subscribe()
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Subscribers))

	p.Unsubscribe(a)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Subscribers))
	p.Unsubscribe(b)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Subscribers))

	// Churning subscriptions concurrently must leave the gauge at the
	// final count, never at a stale snapshot of it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				sub, _ := p.Subscribe()
				p.Unsubscribe(sub)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.Subscribers))
}
