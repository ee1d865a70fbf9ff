package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/stormwatch-systems/stormwatch/internal/config"
	"github.com/stormwatch-systems/stormwatch/internal/correlator"
	"github.com/stormwatch-systems/stormwatch/internal/feeds"
	"github.com/stormwatch-systems/stormwatch/internal/geo"
	"github.com/stormwatch-systems/stormwatch/internal/handlers"
	"github.com/stormwatch-systems/stormwatch/internal/logging"
	"github.com/stormwatch-systems/stormwatch/internal/normalizer"
	"github.com/stormwatch-systems/stormwatch/internal/pipeline"
	"github.com/stormwatch-systems/stormwatch/internal/publisher"
	"github.com/stormwatch-systems/stormwatch/internal/scoring"
	"github.com/stormwatch-systems/stormwatch/internal/server"
	"github.com/stormwatch-systems/stormwatch/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the attack-map service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func serve(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log := logging.New(logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	logging.SetDefault(log)
	component := func(name string) *slog.Logger {
		return log.Logger.With(logging.Component(name))
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event store and delta publisher.
	st := store.New(store.Config{
		RadiusKm:       cfg.Correlation.RadiusKm,
		Decay:          store.PolicyFor(cfg.Store.DecayShape, cfg.Store.DecayHalfLife),
		IntensityFloor: cfg.Store.IntensityFloor,
		DecayingBelow:  cfg.Store.DecayingBelow,
		MaxIdle:        cfg.Store.MaxIdle,
		SweepInterval:  cfg.Store.SweepInterval,
		Capacity:       cfg.Store.Capacity,
		Shards:         cfg.Store.Shards,
	}, component("store"))
	pub := publisher.New(st.Snapshot, publisher.DefaultBuffer, component("publisher"))
	st.SetNotifier(pub.Publish)

	// Geolocation: file-backed table when configured, synthetic
	// placements otherwise so development runs show a populated map.
	var resolver geo.Resolver
	if cfg.Geo.TablePath != "" {
		resolver, err = geo.LoadTable(cfg.Geo.TablePath)
		if err != nil {
			return err
		}
		log.Info("loaded geo prefix table", "path", cfg.Geo.TablePath)
	} else {
		resolver = geo.SyntheticResolver{}
		log.Warn("no geo table configured, using synthetic placements")
	}

	var shared *geo.RedisCache
	if cfg.Redis.Enabled {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(opts)
		defer client.Close()
		shared = geo.NewRedisCache(client, true, cfg.Geo.CacheTTL)
		log.Info("shared geo cache enabled", "url", cfg.Redis.URL)
	}

	enricher := geo.NewEnricher(resolver, shared, geo.Config{
		CacheSize:      cfg.Geo.CacheSize,
		CacheTTL:       cfg.Geo.CacheTTL,
		ResolveTimeout: cfg.Geo.ResolveTimeout,
		MaxRetries:     cfg.Geo.MaxRetries,
		RetryBackoff:   cfg.Geo.RetryBackoff,
		DegradeOnError: cfg.Geo.DegradeOnError,
	}, component("geo"))

	scorer := scoring.NewScorer(scoring.DefaultHeuristicModel(), scoring.Config{
		Timeout:         cfg.Scoring.Timeout,
		FrequencyWindow: cfg.Scoring.FrequencyWindow,
		FallbackScore:   cfg.Scoring.FallbackScore,
	}, component("scoring"))

	corr, err := correlator.New(st, cfg.Correlation, component("correlator"))
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Config{
		Workers:   cfg.Pipeline.Workers,
		QueueSize: cfg.Pipeline.QueueSize,
	}, normalizer.New(cfg.Pipeline.MaxFutureSkew, cfg.Pipeline.Retention), enricher, scorer, corr, component("pipeline"))

	// Intake: NATS in production, optionally the mock feed alongside for
	// development. A broker outage is fatal only when the mock is off.
	sub, err := feeds.NewSubscriber(cfg.Feeds, pipe, component("feeds"))
	if err != nil {
		if !cfg.Feeds.MockEnabled {
			return err
		}
		log.Warn("nats unavailable, running on mock feed only", "error", err)
		sub = nil
	} else {
		if err := sub.Start(); err != nil {
			return err
		}
		defer sub.Close()
	}

	go pipe.Run(ctx)
	go st.Run(ctx)
	if sub != nil {
		go sub.Run(ctx)
	}
	if cfg.Feeds.MockEnabled {
		go feeds.NewMockFeed(cfg.Feeds, pipe, component("feeds")).Run(ctx)
	}

	probes := map[string]handlers.Probe{
		"intake": func() bool {
			if sub != nil {
				return sub.Connected()
			}
			return cfg.Feeds.MockEnabled
		},
		"enrichment": func() bool { return !enricher.Degraded() },
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: server.NewRouter(
			handlers.NewEventsHandler(st),
			handlers.NewHealthHandler(probes),
			handlers.NewStreamHandler(pub, component("stream")),
		),
		ReadTimeout: cfg.Server.ReadTimeout,
		// Streaming responses outlive any fixed write timeout; the
		// stream handler enforces per-frame deadlines instead.
		WriteTimeout: 0,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("stormwatch listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return err
	}
	return nil
}
