package feeds

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"

	"github.com/stormwatch-systems/stormwatch/internal/config"
	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/normalizer"
	"github.com/stormwatch-systems/stormwatch/internal/pipeline"
)

// hotPrefix is a synthetic attack source: a /24 that keeps reporting so the
// map shows persistent, reinforcing events instead of uncorrelated noise.
type hotPrefix struct {
	cidr   string
	metric float64
}

// MockFeed fabricates feed records for local development. Roughly half the
// traffic comes from a small set of hot prefixes, the rest is one-off noise.
type MockFeed struct {
	cfg  config.FeedsConfig
	pipe *pipeline.Pipeline
	log  *slog.Logger
	hot  []hotPrefix
}

// NewMockFeed creates a mock feed with a fresh set of hot prefixes.
func NewMockFeed(cfg config.FeedsConfig, pipe *pipeline.Pipeline, log *slog.Logger) *MockFeed {
	gofakeit.Seed(time.Now().UnixNano())
	hot := make([]hotPrefix, 0, 6)
	for i := 0; i < 6; i++ {
		hot = append(hot, hotPrefix{
			cidr:   fmt.Sprintf("%d.%d.%d.0/24", gofakeit.Number(1, 223), gofakeit.Number(0, 255), gofakeit.Number(0, 255)),
			metric: float64(gofakeit.Number(15000, 120000)),
		})
	}
	return &MockFeed{cfg: cfg, pipe: pipe, log: log, hot: hot}
}

// Run emits batches on the configured interval until ctx is cancelled.
func (m *MockFeed) Run(ctx context.Context) {
	interval := m.cfg.MockInterval
	if interval <= 0 {
		interval = time.Second
	}
	batch := m.cfg.MockBatchSize
	if batch <= 0 {
		batch = 10
	}

	m.log.Info("mock feed started", "interval", interval, logging.Count(batch))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := 0; i < batch; i++ {
				if err := m.pipe.Submit(m.record()); err != nil {
					// Backpressure: skip the rest of this batch.
					break
				}
			}
		}
	}
}

func (m *MockFeed) record() normalizer.AdapterRecord {
	rec := normalizer.AdapterRecord{
		SourceID:   "mock",
		ObservedAt: time.Now().UTC(),
		Tags:       map[string]string{"synthetic": "true"},
	}
	if rand.Intn(2) == 0 {
		h := m.hot[rand.Intn(len(m.hot))]
		rec.SourceAddr = h.cidr
		// Jitter keeps the intensity moving without changing the band.
		rec.Metric = h.metric * (0.8 + 0.4*rand.Float64())
		return rec
	}
	rec.SourceAddr = gofakeit.IPv4Address()
	rec.Metric = float64(gofakeit.Number(1, 5000))
	return rec
}
