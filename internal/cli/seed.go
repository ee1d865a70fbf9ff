package cli

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/stormwatch-systems/stormwatch/internal/config"
	"github.com/stormwatch-systems/stormwatch/internal/feeds"
)

var (
	seedCount    int
	seedInterval time.Duration
	seedSources  int
	seedFeed     string
)

// seedCmd publishes synthetic feed records to NATS so a running service has
// something to correlate. Development and demo tooling, not a load test.
var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish synthetic feed records to NATS",
	RunE: func(*cobra.Command, []string) error {
		return seed()
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedCount, "count", 200, "number of records to publish")
	seedCmd.Flags().DurationVar(&seedInterval, "interval", 50*time.Millisecond, "delay between records")
	seedCmd.Flags().IntVar(&seedSources, "sources", 8, "number of recurring attack prefixes")
	seedCmd.Flags().StringVar(&seedFeed, "feed", "seeder", "feed name (last subject token)")
	rootCmd.AddCommand(seedCmd)
}

func seed() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	conn, err := nats.Connect(cfg.Feeds.NATSURL,
		nats.Name("stormwatch-seeder"),
		nats.Timeout(cfg.Feeds.ConnectTimeout),
	)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	gofakeit.Seed(time.Now().UnixNano())
	prefixes := make([]string, seedSources)
	for i := range prefixes {
		prefixes[i] = fmt.Sprintf("%d.%d.%d.0/24",
			gofakeit.Number(1, 223), gofakeit.Number(0, 255), gofakeit.Number(0, 255))
	}

	subject := cfg.Feeds.SubjectPrefix + "." + seedFeed
	published := 0
	for i := 0; i < seedCount; i++ {
		rec := feeds.FeedRecord{
			SourceID:   seedFeed,
			SourceAddr: prefixes[rand.Intn(len(prefixes))],
			ObservedAt: time.Now().UTC(),
			Metric:     float64(gofakeit.Number(8000, 150000)),
			Tags:       map[string]string{"synthetic": "true"},
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		if err := conn.Publish(subject, data); err != nil {
			return fmt.Errorf("publish record %d: %w", i, err)
		}
		published++
		if seedInterval > 0 && i < seedCount-1 {
			time.Sleep(seedInterval)
		}
	}

	if err := conn.Flush(); err != nil {
		return err
	}
	fmt.Printf("published %d records to %s\n", published, subject)
	return nil
}
