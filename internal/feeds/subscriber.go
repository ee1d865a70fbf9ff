// Package feeds is the intake layer: adapters that receive threat-intel
// reports from the outside and hand them to the pipeline. The NATS
// subscriber is the production path; the mock feed generates synthetic
// traffic for development.
package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/stormwatch-systems/stormwatch/internal/config"
	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/metrics"
	"github.com/stormwatch-systems/stormwatch/internal/normalizer"
	"github.com/stormwatch-systems/stormwatch/internal/pipeline"
)

// FeedRecord is the wire format feed adapters publish. Field names are the
// contract with external producers, so they never change with internal
// renames.
type FeedRecord struct {
	SourceID   string            `json:"source_id"`
	SourceAddr string            `json:"source_addr"`
	ObservedAt time.Time         `json:"observed_at"`
	Metric     float64           `json:"metric"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// Subscriber consumes feed records from NATS and submits them to the
// pipeline. Replicas sharing the queue group split the subject load.
type Subscriber struct {
	cfg  config.FeedsConfig
	pipe *pipeline.Pipeline
	log  *slog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewSubscriber connects to NATS. Reconnects are unbounded: intake outlives
// broker restarts.
func NewSubscriber(cfg config.FeedsConfig, pipe *pipeline.Pipeline, log *slog.Logger) (*Subscriber, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("stormwatch-intake"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(cfg.ConnectTimeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &Subscriber{cfg: cfg, pipe: pipe, log: log, conn: conn}, nil
}

// Start subscribes to every feed subject under the configured prefix.
func (s *Subscriber) Start() error {
	subject := s.cfg.SubjectPrefix + ".*"
	sub, err := s.conn.QueueSubscribe(subject, s.cfg.QueueGroup, s.handle)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	s.sub = sub
	s.log.Info("feed intake started", logging.Subject(subject), "queue_group", s.cfg.QueueGroup)
	return nil
}

func (s *Subscriber) handle(msg *nats.Msg) {
	var rec FeedRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		source := s.sourceFromSubject(msg.Subject)
		metrics.MalformedTotal.WithLabelValues(source).Inc()
		s.log.Debug("dropped undecodable feed message", logging.Subject(msg.Subject), logging.Error(err))
		return
	}
	if rec.SourceID == "" {
		// The last subject token names the feed when the payload omits it.
		rec.SourceID = s.sourceFromSubject(msg.Subject)
	}

	err := s.pipe.Submit(normalizer.AdapterRecord{
		SourceID:   rec.SourceID,
		SourceAddr: rec.SourceAddr,
		ObservedAt: rec.ObservedAt,
		Metric:     rec.Metric,
		Tags:       rec.Tags,
	})
	if errors.Is(err, pipeline.ErrQueueFull) {
		s.log.Warn("pipeline saturated, dropping feed record", logging.Source(rec.SourceID))
	}
}

func (s *Subscriber) sourceFromSubject(subject string) string {
	if i := strings.LastIndexByte(subject, '.'); i >= 0 && i+1 < len(subject) {
		return subject[i+1:]
	}
	return subject
}

// Run blocks until ctx is cancelled, then drains the subscription so
// in-flight messages finish before shutdown.
func (s *Subscriber) Run(ctx context.Context) {
	<-ctx.Done()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	_ = s.conn.Drain()
}

// Connected reports broker health for readiness checks.
func (s *Subscriber) Connected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close tears the connection down immediately.
func (s *Subscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
