package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/saviobatista/modes-feed/internal/stats"
	"github.com/saviobatista/modes-feed/internal/types"
)

type Client struct {
	db *sql.DB
}

// New creates a new database client
func New(connStr string) (*Client, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	return &Client{db: db}, nil
}

// DB exposes the connection for migrations
func (c *Client) DB() *sql.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// StoreAircraftUpdate stores a single decoded message
func (c *Client) StoreAircraftUpdate(u *types.AircraftUpdate) error {
	query := `
		INSERT INTO aircraft_updates (
			time, icao, source, out_of_band, downlink_format, transponder,
			signal_level, callsign, callsign_suspect, altitude, altitude_type,
			latitude, longitude, ground_speed, speed_type, track,
			vertical_rate, squawk, emergency, on_ground
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := c.db.Exec(query,
		u.ReceivedUtc, u.Icao, u.Source, u.IsOutOfBand, u.DownlinkFormat, u.TransponderType.String(),
		u.SignalLevel, u.Callsign, u.CallsignIsSuspect, u.Altitude, u.AltitudeType.String(),
		u.Latitude, u.Longitude, u.GroundSpeed, u.SpeedType.String(), u.Track,
		u.VerticalRate, u.Squawk, u.Emergency, u.OnGround,
	)
	if err != nil {
		return fmt.Errorf("store update for %s: %w", u.Icao, err)
	}
	return nil
}

// StoreAircraftSession creates or refreshes the session row of an aircraft
func (c *Client) StoreAircraftSession(a *types.Aircraft) error {
	query := `
		INSERT INTO aircraft_sessions (
			session_id, icao, callsign, source, first_seen, last_seen,
			messages, last_latitude, last_longitude, max_altitude
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (session_id) DO UPDATE SET
			callsign = EXCLUDED.callsign,
			source = EXCLUDED.source,
			last_seen = EXCLUDED.last_seen,
			messages = EXCLUDED.messages,
			last_latitude = COALESCE(EXCLUDED.last_latitude, aircraft_sessions.last_latitude),
			last_longitude = COALESCE(EXCLUDED.last_longitude, aircraft_sessions.last_longitude),
			max_altitude = GREATEST(EXCLUDED.max_altitude, aircraft_sessions.max_altitude)
	`
	_, err := c.db.Exec(query,
		a.SessionID, a.Icao, a.Callsign, a.Source, a.FirstSeen, a.LastSeen,
		int64(a.Messages), a.Latitude, a.Longitude, a.Altitude,
	)
	return err
}

// EndAircraftSession marks a session as finished
func (c *Client) EndAircraftSession(sessionID string, endedAt time.Time) error {
	query := `UPDATE aircraft_sessions SET ended_at = $1 WHERE session_id = $2`
	_, err := c.db.Exec(query, endedAt, sessionID)
	return err
}

// GetOpenSessions returns sessions that have not been ended
func (c *Client) GetOpenSessions() ([]*types.Aircraft, error) {
	query := `
		SELECT session_id, icao, callsign, source, first_seen, last_seen, messages
		FROM aircraft_sessions
		WHERE ended_at IS NULL
	`
	rows, err := c.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*types.Aircraft
	for rows.Next() {
		var (
			a        types.Aircraft
			callsign sql.NullString
			messages int64
		)
		if err := rows.Scan(&a.SessionID, &a.Icao, &callsign, &a.Source, &a.FirstSeen, &a.LastSeen, &messages); err != nil {
			return nil, err
		}
		a.Callsign = callsign.String
		a.Messages = uint64(messages)
		sessions = append(sessions, &a)
	}
	return sessions, rows.Err()
}

// StoreFeedStats stores a statistics snapshot
func (c *Client) StoreFeedStats(snap stats.Snapshot) error {
	query := `
		INSERT INTO feed_stats (
			time, feed, total_messages, bad_messages, updates,
			position_resets, out_of_band, downlink_formats,
			last_message_time, uptime_seconds
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	formats := make([]int64, len(snap.DownlinkFormatCounts))
	for i, v := range snap.DownlinkFormatCounts {
		formats[i] = int64(v)
	}

	var lastMessage *time.Time
	if !snap.LastMessageTime.IsZero() {
		lastMessage = &snap.LastMessageTime
	}

	_, err := c.db.Exec(query,
		snap.Time,
		snap.Feed,
		int64(snap.TotalMessages),
		int64(snap.BadMessages),
		int64(snap.Updates),
		int64(snap.PositionResets),
		int64(snap.OutOfBand),
		pq.Array(formats),
		lastMessage,
		int64(snap.Uptime.Seconds()),
	)
	return err
}

// GetFeedStats retrieves the statistics of feed for a time range
func (c *Client) GetFeedStats(feed string, start, end time.Time) ([]stats.Snapshot, error) {
	query := `
		SELECT
			time, feed, total_messages, bad_messages, updates,
			position_resets, out_of_band, downlink_formats,
			last_message_time, uptime_seconds
		FROM feed_stats
		WHERE feed = $1 AND time BETWEEN $2 AND $3
		ORDER BY time DESC
	`

	rows, err := c.db.Query(query, feed, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snapshots []stats.Snapshot
	for rows.Next() {
		var (
			snap           stats.Snapshot
			totalMessages  int64
			badMessages    int64
			updates        int64
			positionResets int64
			outOfBand      int64
			formats        []int64
			lastMessage    sql.NullTime
			uptimeSeconds  int64
		)

		if err := rows.Scan(
			&snap.Time,
			&snap.Feed,
			&totalMessages,
			&badMessages,
			&updates,
			&positionResets,
			&outOfBand,
			pq.Array(&formats),
			&lastMessage,
			&uptimeSeconds,
		); err != nil {
			return nil, err
		}

		snap.TotalMessages = uint64(totalMessages)
		snap.BadMessages = uint64(badMessages)
		snap.Updates = uint64(updates)
		snap.PositionResets = uint64(positionResets)
		snap.OutOfBand = uint64(outOfBand)
		for i, v := range formats {
			if i < len(snap.DownlinkFormatCounts) {
				snap.DownlinkFormatCounts[i] = uint64(v)
			}
		}
		if lastMessage.Valid {
			snap.LastMessageTime = lastMessage.Time
		}
		snap.Uptime = time.Duration(uptimeSeconds) * time.Second

		snapshots = append(snapshots, snap)
	}

	return snapshots, rows.Err()
}
