package migrations

var RetentionPolicies = &Migration{
	ID:   "002_retention_policies",
	Name: "002_retention_policies",
	UpSQL: `
	-- Raw updates are kept for 30 days
	SELECT add_retention_policy('aircraft_updates', INTERVAL '30 days');

	-- Statistics are kept for 90 days
	SELECT add_retention_policy('feed_stats', INTERVAL '90 days');

	-- Daily message counts per feed. Counters are cumulative, so the
	-- daily figure is the largest sample of the day.
	CREATE MATERIALIZED VIEW IF NOT EXISTS feed_stats_daily
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 day', time) AS day,
		feed,
		MAX(total_messages) AS total_messages,
		MAX(bad_messages) AS bad_messages,
		MAX(updates) AS updates,
		MAX(position_resets) AS position_resets,
		MAX(out_of_band) AS out_of_band
	FROM feed_stats
	GROUP BY day, feed
	WITH NO DATA;

	-- Hourly update counts per receiver
	CREATE MATERIALIZED VIEW IF NOT EXISTS aircraft_updates_hourly
	WITH (timescaledb.continuous) AS
	SELECT
		time_bucket('1 hour', time) AS hour,
		source,
		COUNT(*) AS update_count
	FROM aircraft_updates
	GROUP BY hour, source
	WITH NO DATA;
	`,
	DownSQL: `
	DROP MATERIALIZED VIEW IF EXISTS feed_stats_daily;
	DROP MATERIALIZED VIEW IF EXISTS aircraft_updates_hourly;
	SELECT remove_retention_policy('aircraft_updates');
	SELECT remove_retention_policy('feed_stats');
	`,
}
