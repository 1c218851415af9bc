package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/saviobatista/modes-feed/internal/config"
	"github.com/saviobatista/modes-feed/internal/connector"
	"github.com/saviobatista/modes-feed/internal/db"
	"github.com/saviobatista/modes-feed/internal/feed"
	"github.com/saviobatista/modes-feed/internal/nats"
	"github.com/saviobatista/modes-feed/internal/redis"
	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/storage"
	"github.com/saviobatista/modes-feed/internal/types"
)

const statsInterval = time.Minute

// Publisher is where the ingestor sends what its feeds produce
type Publisher interface {
	PublishUpdate(u *types.AircraftUpdate) error
	PublishReset(r types.PositionReset) error
	PublishRawFrame(f types.RawFrame) error
	Close()
}

// Options holds the command line flags
type Options struct {
	FeedsFile string
	Replay    string
	NoRaw     bool
	Verbose   bool
}

// Ingestor runs feeds and publishes their output
type Ingestor struct {
	publisher  Publisher
	logger     logrus.FieldLogger
	publishRaw bool
	feeds      map[string]*feed.Feed
}

// NewIngestor creates an ingestor publishing to publisher
func NewIngestor(publisher Publisher, publishRaw bool, logger logrus.FieldLogger) *Ingestor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Ingestor{
		publisher:  publisher,
		logger:     logger,
		publishRaw: publishRaw,
		feeds:      make(map[string]*feed.Feed),
	}
}

// AddFeed builds a feed from cfg and publishes its output
func (i *Ingestor) AddFeed(cfg config.FeedConfig) (*feed.Feed, error) {
	if _, exists := i.feeds[cfg.Name]; exists {
		return nil, fmt.Errorf("duplicate feed %q", cfg.Name)
	}
	f, err := feed.New(cfg, i.logger)
	if err != nil {
		return nil, fmt.Errorf("feed %s: %w", cfg.Name, err)
	}

	logger := i.logger.WithField("feed", cfg.Name)
	f.AddUpdateHandler(func(u *types.AircraftUpdate) {
		if err := i.publisher.PublishUpdate(u); err != nil {
			logger.WithError(err).Warn("Failed to publish update")
		}
	})
	f.AddPositionResetHandler(func(r types.PositionReset) {
		if err := i.publisher.PublishReset(r); err != nil {
			logger.WithError(err).Warn("Failed to publish position reset")
		}
	})
	f.AddErrorHandler(func(e connector.BackgroundError) {
		logger.WithField("component", e.Component).WithError(e.Err).Error("Feed background error")
	})
	if i.publishRaw {
		f.AddRawFrameHandler(func(frame types.RawFrame) {
			if err := i.publisher.PublishRawFrame(frame); err != nil {
				logger.WithError(err).Debug("Failed to publish raw frame")
			}
		})
	}

	i.feeds[cfg.Name] = f
	return f, nil
}

// Feed returns the named feed
func (i *Ingestor) Feed(name string) *feed.Feed {
	return i.feeds[name]
}

// Start connects every feed
func (i *Ingestor) Start() error {
	for name, f := range i.feeds {
		if err := f.Start(); err != nil {
			return fmt.Errorf("start feed %s: %w", name, err)
		}
	}
	return nil
}

// Close disconnects every feed
func (i *Ingestor) Close() {
	for _, f := range i.feeds {
		f.Close()
	}
}

// Reload applies new feed definitions to the running feeds with the same
// name. Feeds that are not running are reported and skipped.
func (i *Ingestor) Reload(feeds []config.FeedConfig) error {
	var errs []error
	for _, cfg := range feeds {
		f, ok := i.feeds[cfg.Name]
		if !ok {
			i.logger.WithField("feed", cfg.Name).Warn("New feed ignored until restart")
			continue
		}
		if err := f.ApplyConfiguration(cfg); err != nil {
			errs = append(errs, fmt.Errorf("feed %s: %w", cfg.Name, err))
		}
	}
	return errors.Join(errs...)
}

// StartPersistence persists the statistics of every feed to store
func (i *Ingestor) StartPersistence(ctx context.Context, store stats.Store, interval time.Duration) {
	for _, f := range i.feeds {
		f.StartPersistence(ctx, store, interval)
	}
}

// logStats periodically logs the counters of every feed
func (i *Ingestor) logStats(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, f := range i.feeds {
				snap := f.Statistics()
				i.logger.WithFields(logrus.Fields{
					"feed":           name,
					"total_messages": snap.TotalMessages,
					"bad_messages":   snap.BadMessages,
					"updates":        snap.Updates,
					"out_of_band":    snap.OutOfBand,
					"aircraft":       f.Aircraft().Count(),
				}).Info("Feed statistics")
			}
		}
	}
}

// Replay feeds a recorded frame file through a feed built from the
// recorded sources, one receiver per source, and publishes the output.
// It returns the number of frames replayed.
func Replay(path string, template config.FeedConfig, publisher Publisher, logger logrus.FieldLogger) (int, error) {
	r, err := storage.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open replay file: %w", err)
	}
	defer r.Close()

	var frames []types.RawFrame
	skipped, err := storage.ReadFrames(r, func(f types.RawFrame) {
		if f.Source == "" {
			f.Source = "replay"
		}
		frames = append(frames, f)
	})
	if err != nil {
		return 0, fmt.Errorf("read replay file: %w", err)
	}
	if skipped > 0 {
		logger.WithField("skipped", skipped).Warn("Skipped malformed records")
	}
	if len(frames) == 0 {
		return 0, nil
	}

	cfg := replayConfig(template, frames)
	ingestor := NewIngestor(publisher, false, logger)
	f, err := ingestor.AddFeed(cfg)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	for _, frame := range frames {
		line := []byte("*" + frame.Hex + ";\n")
		if err := f.ProcessBytes(frame.Source, frame.Timestamp, line); err != nil {
			return 0, err
		}
	}

	snap := f.Statistics()
	logger.WithFields(logrus.Fields{
		"frames":       len(frames),
		"bad_messages": snap.BadMessages,
		"updates":      snap.Updates,
		"aircraft":     f.Aircraft().Count(),
	}).Info("Replay finished")
	return len(frames), nil
}

// replayConfig keeps the settings of template and replaces its receivers
// with one AVR receiver per recorded source
func replayConfig(template config.FeedConfig, frames []types.RawFrame) config.FeedConfig {
	cfg := template
	if cfg.Name == "" {
		cfg.Name = "replay"
	}
	seen := make(map[string]bool)
	var sources []string
	for _, f := range frames {
		if !seen[f.Source] {
			seen[f.Source] = true
			sources = append(sources, f.Source)
		}
	}
	sort.Strings(sources)

	cfg.Receivers = nil
	for _, source := range sources {
		r := config.DefaultReceiverConfig()
		r.Name = source
		r.Format = "avr"
		r.Address = "replay"
		cfg.Receivers = append(cfg.Receivers, r)
	}
	return cfg
}

// multiStore writes statistics to several stores
type multiStore []stats.Store

func (m multiStore) StoreFeedStats(snap stats.Snapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.StoreFeedStats(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStatsStores connects to the optional statistics stores. The returned
// function closes them.
func openStatsStores(cfg *config.Config, logger logrus.FieldLogger) (multiStore, func()) {
	var stores multiStore
	var closers []func()

	if cfg.DBConnStr != "" {
		dbClient, err := db.New(cfg.DBConnStr)
		if err != nil {
			logger.WithError(err).Warn("Statistics will not be stored in the database")
		} else {
			stores = append(stores, dbClient)
			closers = append(closers, func() { _ = dbClient.Close() })
		}
	}
	if cfg.RedisAddr != "" {
		redisClient, err := redis.New(cfg.RedisAddr)
		if err != nil {
			logger.WithError(err).Warn("Statistics will not be stored in Redis")
		} else {
			stores = append(stores, redisClient)
			closers = append(closers, func() { _ = redisClient.Close() })
		}
	}

	return stores, func() {
		for _, c := range closers {
			c()
		}
	}
}

func run(opts Options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.FeedsFile != "" {
		cfg.FeedsFile = opts.FeedsFile
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)
	if opts.Verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	client, err := nats.New(cfg.NatsURL, logger)
	if err != nil {
		return err
	}
	defer client.Close()

	if opts.Replay != "" {
		template := config.DefaultFeedConfig()
		if feeds, err := cfg.Feeds(); err == nil && len(feeds) > 0 {
			template = feeds[0]
		}
		_, err := Replay(opts.Replay, template, client, logger)
		return err
	}

	feeds, err := cfg.Feeds()
	if err != nil {
		return err
	}

	ingestor := NewIngestor(client, !opts.NoRaw, logger)
	for _, fc := range feeds {
		if _, err := ingestor.AddFeed(fc); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, closeStores := openStatsStores(cfg, logger)
	defer closeStores()
	if len(stores) > 0 {
		ingestor.StartPersistence(ctx, stores, statsInterval)
	}

	if err := ingestor.Start(); err != nil {
		ingestor.Close()
		return err
	}
	go ingestor.logStats(ctx, statsInterval)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigChan {
		if sig != syscall.SIGHUP {
			break
		}
		logger.Info("Reloading feed configuration")
		feeds, err := cfg.Feeds()
		if err == nil {
			err = ingestor.Reload(feeds)
		}
		if err != nil {
			logger.WithError(err).Error("Failed to reload feed configuration")
		}
	}

	logger.Info("Shutting down...")
	ingestor.Close()
	return nil
}

func main() {
	var opts Options

	rootCmd := &cobra.Command{
		Use:   "ingestor",
		Short: "Mode-S / ADS-B feed ingestor",
		Long: `Connects to Mode-S receivers (Beast, AVR or BaseStation over TCP or serial),
decodes their frames into aircraft updates, merges feeds with more than one
receiver and publishes the result to NATS.

Feeds are read from FEEDS_FILE (or --feeds), or built from SOURCES. Send
SIGHUP to apply an edited feeds file to the running feeds.

Example usage:
  ingestor --feeds feeds.yaml
  ingestor --replay logs/modes_2024-01-15.log.gz`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts)
		},
	}

	rootCmd.Flags().StringVarP(&opts.FeedsFile, "feeds", "f", "", "Feeds file (overrides FEEDS_FILE)")
	rootCmd.Flags().StringVarP(&opts.Replay, "replay", "r", "", "Replay a recorded frame file instead of connecting")
	rootCmd.Flags().BoolVar(&opts.NoRaw, "no-raw", false, "Do not publish raw frames")
	rootCmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Verbose logging")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
