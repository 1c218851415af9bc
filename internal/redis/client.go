package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/types"
)

// DefaultAircraftTTL is how long an aircraft stays in Redis after its last write
const DefaultAircraftTTL = time.Hour

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Client keeps the live picture of tracked aircraft in Redis
type Client struct {
	client RedisClientInterface
	ttl    time.Duration
}

// New creates a new Redis client
func New(addr string) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{client: client, ttl: DefaultAircraftTTL}, nil
}

// NewWithClient creates a new Redis client with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface) *Client {
	return &Client{client: client, ttl: DefaultAircraftTTL}
}

// SetTTL changes the expiry applied to aircraft keys
func (c *Client) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		c.ttl = ttl
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}

func aircraftKey(icao string) string {
	return fmt.Sprintf("aircraft:%s", icao)
}

func statsKey(feed string) string {
	return fmt.Sprintf("stats:%s", feed)
}

// getData retrieves data from Redis and unmarshals it into the target.
// It reports false when the key does not exist.
func (c *Client) getData(ctx context.Context, key string, target interface{}, dataType string) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s data: %w", dataType, err)
	}

	if err := json.Unmarshal(data, target); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s data: %w", dataType, err)
	}
	return true, nil
}

// StoreAircraft stores the latest state of an aircraft
func (c *Client) StoreAircraft(ctx context.Context, a *types.Aircraft) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal aircraft: %w", err)
	}
	return c.client.Set(ctx, aircraftKey(a.Icao), data, c.ttl).Err()
}

// GetAircraft retrieves the latest state of an aircraft, or nil when unknown
func (c *Client) GetAircraft(ctx context.Context, icao string) (*types.Aircraft, error) {
	var a types.Aircraft
	found, err := c.getData(ctx, aircraftKey(icao), &a, "aircraft")
	if err != nil || !found {
		return nil, err
	}
	return &a, nil
}

// DeleteAircraft removes an aircraft
func (c *Client) DeleteAircraft(ctx context.Context, icao string) error {
	return c.client.Del(ctx, aircraftKey(icao)).Err()
}

// StoreFeedStats keeps the most recent statistics snapshot of a feed
func (c *Client) StoreFeedStats(snap stats.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal statistics: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Set(ctx, statsKey(snap.Feed), data, 0).Err()
}

// GetFeedStats returns the most recent statistics snapshot of a feed
func (c *Client) GetFeedStats(ctx context.Context, feed string) (*stats.Snapshot, error) {
	var snap stats.Snapshot
	found, err := c.getData(ctx, statsKey(feed), &snap, "statistics")
	if err != nil || !found {
		return nil, err
	}
	return &snap, nil
}
