package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/saviobatista/modes-feed/internal/config"
	"github.com/saviobatista/modes-feed/internal/db"
	"github.com/saviobatista/modes-feed/internal/feed"
	"github.com/saviobatista/modes-feed/internal/nats"
	"github.com/saviobatista/modes-feed/internal/redis"
	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/types"
)

const (
	statsInterval = 5 * time.Minute
	logInterval   = time.Minute

	// sessionWriteEvery bounds how often a session row is refreshed
	sessionWriteEvery = 50
)

// DBClient interface for testability
type DBClient interface {
	StoreAircraftUpdate(u *types.AircraftUpdate) error
	StoreAircraftSession(a *types.Aircraft) error
	EndAircraftSession(sessionID string, endedAt time.Time) error
	GetOpenSessions() ([]*types.Aircraft, error)
	Close() error
}

// RedisClient interface for testability
type RedisClient interface {
	StoreAircraft(ctx context.Context, a *types.Aircraft) error
	DeleteAircraft(ctx context.Context, icao string) error
	Close() error
}

// StateTracker keeps the aircraft table of the published updates and
// mirrors it to Redis and Postgres
type StateTracker struct {
	db       DBClient
	redis    RedisClient
	aircraft *feed.AircraftList
	stats    *stats.Stats
	logger   logrus.FieldLogger
}

// NewStateTracker creates a new state tracker
func NewStateTracker(db DBClient, redis RedisClient, aircraftTimeout time.Duration, logger logrus.FieldLogger) *StateTracker {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	t := &StateTracker{
		db:       db,
		redis:    redis,
		aircraft: feed.NewAircraftList(aircraftTimeout),
		stats:    stats.New("tracker"),
		logger:   logger,
	}
	t.aircraft.AddEvictionHandler(t.sessionEnded)
	return t
}

// Start closes the sessions left open by a previous run and starts
// statistics logging and persistence
func (t *StateTracker) Start(ctx context.Context) error {
	sessions, err := t.db.GetOpenSessions()
	if err != nil {
		return fmt.Errorf("failed to load open sessions: %w", err)
	}
	for _, s := range sessions {
		if err := t.db.EndAircraftSession(s.SessionID, s.LastSeen); err != nil {
			t.logger.WithError(err).WithField("icao", s.Icao).Warn("Failed to end stale session")
		}
	}
	if len(sessions) > 0 {
		t.logger.WithField("sessions", len(sessions)).Info("Ended sessions from previous run")
	}

	if store, ok := t.db.(stats.Store); ok {
		t.stats.SetStore(store)
		go t.stats.StartPersistence(ctx, statsInterval, t.logger)
	}
	go t.logStats(ctx)
	return nil
}

// ProcessUpdate merges an update into the aircraft table and stores it
func (t *StateTracker) ProcessUpdate(u *types.AircraftUpdate) error {
	t.stats.IncrementTotalMessages()
	t.stats.UpdateLastMessageTime(u.ReceivedUtc)
	t.stats.IncrementDownlinkFormat(u.DownlinkFormat)
	if u.IsOutOfBand {
		t.stats.IncrementOutOfBand()
	}

	a := t.aircraft.Apply(u)

	if err := t.redis.StoreAircraft(context.Background(), a); err != nil {
		t.logger.WithError(err).WithField("icao", a.Icao).Warn("Failed to store aircraft in Redis")
	}

	if err := t.db.StoreAircraftUpdate(u); err != nil {
		t.stats.IncrementBadMessages()
		return fmt.Errorf("failed to store update: %w", err)
	}

	if a.Messages == 1 || a.Messages%sessionWriteEvery == 0 {
		if err := t.db.StoreAircraftSession(a); err != nil {
			t.stats.IncrementBadMessages()
			return fmt.Errorf("failed to store session: %w", err)
		}
	}

	t.stats.IncrementUpdates()
	return nil
}

// ProcessReset forgets the position of an aircraft
func (t *StateTracker) ProcessReset(r *types.PositionReset) {
	t.stats.IncrementPositionResets()
	t.aircraft.ResetPosition(*r)
	if a, ok := t.aircraft.Get(r.Icao); ok {
		if err := t.redis.StoreAircraft(context.Background(), a); err != nil {
			t.logger.WithError(err).WithField("icao", r.Icao).Warn("Failed to store aircraft in Redis")
		}
	}
}

// sessionEnded writes the final state of an aircraft that timed out
func (t *StateTracker) sessionEnded(a *types.Aircraft) {
	logger := t.logger.WithField("icao", a.Icao)
	if err := t.db.StoreAircraftSession(a); err != nil {
		logger.WithError(err).Warn("Failed to store final session state")
	}
	if err := t.db.EndAircraftSession(a.SessionID, a.LastSeen); err != nil {
		logger.WithError(err).Warn("Failed to end session")
	}
	if err := t.redis.DeleteAircraft(context.Background(), a.Icao); err != nil {
		logger.WithError(err).Warn("Failed to delete aircraft from Redis")
	}
}

// logStats periodically logs statistics
func (t *StateTracker) logStats(ctx context.Context) {
	ticker := time.NewTicker(logInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.logger.WithField("aircraft", t.aircraft.Count()).Infof("Statistics:\n%s", t.stats)
		}
	}
}

// createClients creates all the required clients for the application
func createClients(cfg *config.Config, logger logrus.FieldLogger) (*nats.Client, *db.Client, *redis.Client, error) {
	natsClient, err := nats.New(cfg.NatsURL, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create NATS client: %w", err)
	}

	dbClient, err := db.New(cfg.DBConnStr)
	if err != nil {
		natsClient.Close()
		return nil, nil, nil, fmt.Errorf("failed to create database client: %w", err)
	}

	redisClient, err := redis.New(cfg.RedisAddr)
	if err != nil {
		natsClient.Close()
		if closeErr := dbClient.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("Error closing database client")
		}
		return nil, nil, nil, fmt.Errorf("failed to create Redis client: %w", err)
	}

	return natsClient, dbClient, redisClient, nil
}

// setupNATSSubscription sends updates and position resets to the tracker
func setupNATSSubscription(natsClient *nats.Client, tracker *StateTracker) error {
	if err := natsClient.SubscribeUpdates(func(u *types.AircraftUpdate) {
		if err := tracker.ProcessUpdate(u); err != nil {
			tracker.logger.WithError(err).Warn("Failed to process update")
		}
	}); err != nil {
		return fmt.Errorf("failed to subscribe to updates: %w", err)
	}
	if err := natsClient.SubscribeResets(tracker.ProcessReset); err != nil {
		return fmt.Errorf("failed to subscribe to position resets: %w", err)
	}
	return nil
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.DBConnStr == "" {
		return fmt.Errorf("DB_CONN_STR is required")
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	aircraftTimeout := config.DefaultAircraftTimeout
	if feeds, err := cfg.Feeds(); err == nil && len(feeds) > 0 {
		aircraftTimeout = feeds[0].AircraftTimeout
	}

	natsClient, dbClient, redisClient, err := createClients(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		natsClient.Close()
		if err := dbClient.Close(); err != nil {
			logger.WithError(err).Warn("Error closing database client")
		}
		if err := redisClient.Close(); err != nil {
			logger.WithError(err).Warn("Error closing Redis client")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := NewStateTracker(dbClient, redisClient, aircraftTimeout, logger)
	if err := tracker.Start(ctx); err != nil {
		return err
	}
	if err := setupNATSSubscription(natsClient, tracker); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	return nil
}

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Error("Tracker failed")
		os.Exit(1)
	}
}
