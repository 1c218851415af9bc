package migrations

// InitialSchema creates the update, session and statistics tables
var InitialSchema = &Migration{
	ID:   "001_initial_schema",
	Name: "001_initial_schema",
	UpSQL: `
		-- Enable TimescaleDB extension
		CREATE EXTENSION IF NOT EXISTS timescaledb;

		-- One row per decoded message
		CREATE TABLE IF NOT EXISTS aircraft_updates (
			time TIMESTAMPTZ NOT NULL,
			icao TEXT NOT NULL,
			source TEXT NOT NULL,
			out_of_band BOOLEAN NOT NULL DEFAULT FALSE,
			downlink_format SMALLINT NOT NULL,
			transponder TEXT NOT NULL,
			signal_level SMALLINT,
			callsign TEXT,
			callsign_suspect BOOLEAN NOT NULL DEFAULT FALSE,
			altitude INTEGER,
			altitude_type TEXT,
			latitude DOUBLE PRECISION,
			longitude DOUBLE PRECISION,
			ground_speed DOUBLE PRECISION,
			speed_type TEXT,
			track DOUBLE PRECISION,
			vertical_rate INTEGER,
			squawk TEXT,
			emergency BOOLEAN,
			on_ground BOOLEAN
		);

		SELECT create_hypertable('aircraft_updates', 'time');

		CREATE INDEX IF NOT EXISTS idx_aircraft_updates_icao ON aircraft_updates (icao, time DESC);
		CREATE INDEX IF NOT EXISTS idx_aircraft_updates_callsign ON aircraft_updates (callsign);

		-- One row per period an aircraft stays in the aircraft table
		CREATE TABLE IF NOT EXISTS aircraft_sessions (
			session_id TEXT PRIMARY KEY,
			icao TEXT NOT NULL,
			callsign TEXT,
			source TEXT NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ,
			messages BIGINT NOT NULL DEFAULT 0,
			last_latitude DOUBLE PRECISION,
			last_longitude DOUBLE PRECISION,
			max_altitude INTEGER
		);

		CREATE INDEX IF NOT EXISTS idx_aircraft_sessions_icao ON aircraft_sessions (icao);
		CREATE INDEX IF NOT EXISTS idx_aircraft_sessions_ended_at ON aircraft_sessions (ended_at);

		-- Feed counters
		CREATE TABLE IF NOT EXISTS feed_stats (
			time TIMESTAMPTZ NOT NULL,
			feed TEXT NOT NULL,
			total_messages BIGINT NOT NULL,
			bad_messages BIGINT NOT NULL,
			updates BIGINT NOT NULL,
			position_resets BIGINT NOT NULL,
			out_of_band BIGINT NOT NULL,
			downlink_formats BIGINT[] NOT NULL,
			last_message_time TIMESTAMPTZ,
			uptime_seconds BIGINT NOT NULL
		);

		SELECT create_hypertable('feed_stats', 'time');

		CREATE INDEX IF NOT EXISTS idx_feed_stats_feed_time ON feed_stats (feed, time DESC);
	`,
	DownSQL: `
		DROP TABLE IF EXISTS feed_stats;
		DROP TABLE IF EXISTS aircraft_sessions;
		DROP TABLE IF EXISTS aircraft_updates;
	`,
}
