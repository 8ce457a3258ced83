// Package store persists finished simulation runs to Postgres.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"github.com/bikeshare-sim/bikeshare-sim/sim"
)

const schema = `
CREATE TABLE IF NOT EXISTS sim_runs (
	run_id         UUID PRIMARY KEY,
	created_at     TIMESTAMPTZ NOT NULL,
	seed           BIGINT NOT NULL,
	horizon_s      BIGINT NOT NULL,
	sim_ended_s    BIGINT NOT NULL,
	completed      INTEGER NOT NULL,
	failed         INTEGER NOT NULL,
	total_walk_km  DOUBLE PRECISION NOT NULL,
	total_cycle_km DOUBLE PRECISION NOT NULL,
	outcome_counts JSONB NOT NULL
);
CREATE TABLE IF NOT EXISTS sim_trips (
	run_id              UUID NOT NULL REFERENCES sim_runs(run_id) ON DELETE CASCADE,
	trip_id             TEXT NOT NULL,
	outcome             TEXT NOT NULL,
	departure_s         BIGINT NOT NULL,
	end_s               BIGINT NOT NULL,
	origin_station      TEXT,
	destination_station TEXT,
	walk_km             DOUBLE PRECISION NOT NULL,
	cycle_km            DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (run_id, trip_id)
);
CREATE TABLE IF NOT EXISTS sim_station_usage (
	run_id                UUID NOT NULL REFERENCES sim_runs(run_id) ON DELETE CASCADE,
	station_id            TEXT NOT NULL,
	pickups               INTEGER NOT NULL,
	dropoffs              INTEGER NOT NULL,
	no_bike_failures      INTEGER NOT NULL,
	station_full_failures INTEGER NOT NULL,
	PRIMARY KEY (run_id, station_id)
);`

// Run is one finished simulation ready to be stored.
type Run struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Seed      int64
	Horizon   int64
	Report    sim.Report
}

// NewRun stamps a report with a fresh run id.
func NewRun(seed, horizon int64, report sim.Report) Run {
	return Run{ID: uuid.New(), CreatedAt: time.Now().UTC(), Seed: seed, Horizon: horizon, Report: report}
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store writes runs through the pgx database/sql driver.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the run tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveRun writes the run, its trips and station usage in one transaction.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := writeRun(ctx, tx, run); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logrus.Warnf("rollback run %s: %v", run.ID, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit run %s: %w", run.ID, err)
	}
	logrus.Infof("Stored run %s (%d trips)", run.ID, len(run.Report.Trips))
	return nil
}

func writeRun(ctx context.Context, ex execer, run Run) error {
	rep := run.Report
	counts, err := json.Marshal(rep.OutcomeCounts)
	if err != nil {
		return fmt.Errorf("encode outcome counts: %w", err)
	}
	completed := rep.OutcomeCounts[sim.OutcomeSuccess]
	_, err = ex.ExecContext(ctx,
		`INSERT INTO sim_runs (run_id, created_at, seed, horizon_s, sim_ended_s, completed, failed, total_walk_km, total_cycle_km, outcome_counts)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		run.ID.String(), run.CreatedAt, run.Seed, run.Horizon, rep.SimEndedTime,
		completed, len(rep.Trips)-completed, rep.TotalWalkKm, rep.TotalCycleKm, string(counts))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, t := range rep.Trips {
		_, err := ex.ExecContext(ctx,
			`INSERT INTO sim_trips (run_id, trip_id, outcome, departure_s, end_s, origin_station, destination_station, walk_km, cycle_km)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			run.ID.String(), t.TripID, string(t.Outcome), t.Departure, t.EndTime,
			nullable(string(t.OriginStation)), nullable(string(t.DestinationStation)),
			t.WalkToKm+t.WalkFromKm, t.CycleKm)
		if err != nil {
			return fmt.Errorf("insert trip %s: %w", t.TripID, err)
		}
	}

	ids := make([]string, 0, len(rep.StationUsage))
	for id := range rep.StationUsage {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	for _, id := range ids {
		u := rep.StationUsage[sim.StationID(id)]
		_, err := ex.ExecContext(ctx,
			`INSERT INTO sim_station_usage (run_id, station_id, pickups, dropoffs, no_bike_failures, station_full_failures)
VALUES ($1, $2, $3, $4, $5, $6)`,
			run.ID.String(), id, u.Pickups, u.Dropoffs, u.NoBikeFailures, u.StationFullFailures)
		if err != nil {
			return fmt.Errorf("insert usage %s: %w", id, err)
		}
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
