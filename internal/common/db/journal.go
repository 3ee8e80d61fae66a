package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/transitpulse/internal/common/logger"
)

const pruneInterval = time.Hour

// CycleJournal keeps one Postgres row per published snapshot so
// operators can inspect matching quality over time. It is diagnostic
// only; callers treat every method as best-effort.
type CycleJournal struct {
	conn      *sql.DB
	logger    logger.Logger
	retention time.Duration
	lastPrune time.Time
}

// CycleRecord summarizes one completed publish cycle.
type CycleRecord struct {
	PublishedAt      time.Time
	ServiceDay       time.Time
	ScheduleLoadedAt time.Time
	Alerts           int
	TripUpdates      int
	Vehicles         int
	MatchedReports   int
	UnmatchedReports int
	Duration         time.Duration
}

func NewCycleJournal(ctx context.Context, connStr string, retention time.Duration, logger logger.Logger) (*CycleJournal, error) {
	conn, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	j := &CycleJournal{
		conn:      conn,
		logger:    logger,
		retention: retention,
	}
	if err := j.ensureSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Cycle journal ready", "retention", retention.String())
	return j, nil
}

func (j *CycleJournal) ensureSchema(ctx context.Context) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS feed_cycles (
			id                 BIGSERIAL PRIMARY KEY,
			published_at       TIMESTAMPTZ NOT NULL,
			service_day        DATE NOT NULL,
			schedule_loaded_at TIMESTAMPTZ NOT NULL,
			alerts             INTEGER NOT NULL,
			trip_updates       INTEGER NOT NULL,
			vehicles           INTEGER NOT NULL,
			matched_reports    INTEGER NOT NULL,
			unmatched_reports  INTEGER NOT NULL,
			duration_ms        BIGINT NOT NULL
		)`

	if _, err := j.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating journal table: %w", err)
	}
	return nil
}

// Record inserts one row and opportunistically prunes expired ones.
func (j *CycleJournal) Record(ctx context.Context, rec CycleRecord) error {
	const insert = `
		INSERT INTO feed_cycles (
			published_at, service_day, schedule_loaded_at,
			alerts, trip_updates, vehicles,
			matched_reports, unmatched_reports, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := j.conn.ExecContext(ctx, insert,
		rec.PublishedAt,
		rec.ServiceDay,
		rec.ScheduleLoadedAt,
		rec.Alerts,
		rec.TripUpdates,
		rec.Vehicles,
		rec.MatchedReports,
		rec.UnmatchedReports,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("inserting cycle record: %w", err)
	}

	if time.Since(j.lastPrune) >= pruneInterval {
		j.lastPrune = time.Now()
		j.prune(ctx)
	}
	return nil
}

func (j *CycleJournal) prune(ctx context.Context) {
	cutoff := time.Now().Add(-j.retention)

	res, err := j.conn.ExecContext(ctx, `DELETE FROM feed_cycles WHERE published_at < $1`, cutoff)
	if err != nil {
		j.logger.Warn("Journal prune failed", "error", err)
		return
	}

	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		j.logger.Info("Journal pruned",
			"rows_deleted", rows,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}

func (j *CycleJournal) Close() error {
	return j.conn.Close()
}
