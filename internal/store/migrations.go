package store

import (
	"database/sql"
	"fmt"
	"time"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQL: `
CREATE TABLE IF NOT EXISTS stations (
    name TEXT PRIMARY KEY,
    prec_no INTEGER NOT NULL,
    block_no INTEGER NOT NULL,
    is_primary BOOLEAN DEFAULT FALSE,
    active BOOLEAN DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS daily_observations (
    date TEXT NOT NULL,
    station TEXT NOT NULL,
    temp_mean REAL,
    temp_max REAL,
    temp_min REAL,
    hum REAL,
    press REAL,
    precip REAL,
    sun REAL,
    dewpoint REAL,
    theta_e REAL,
    vpd REAL,
    wind_u REAL,
    wind_v REAL,
    quality_flags TEXT,
    fetched_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (date, station)
);

CREATE INDEX IF NOT EXISTS idx_daily_observations_station ON daily_observations(station, date);
`,
	},
	{
		Version:     2,
		Description: "Model artifacts",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_models (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    target TEXT NOT NULL,
    kind TEXT NOT NULL,
    trained_month INTEGER NOT NULL,
    trained_at DATETIME NOT NULL,
    training_rows INTEGER NOT NULL,
    artifact BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_forecast_models_target ON forecast_models(target, trained_at);
`,
	},
	{
		Version:     3,
		Description: "Forecast runs and verification",
		SQL: `
CREATE TABLE IF NOT EXISTS forecast_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_at DATETIME NOT NULL,
    issue_date TEXT NOT NULL,
    station TEXT NOT NULL,
    model_kind TEXT NOT NULL,
    training_rows INTEGER,
    today_max REAL NOT NULL,
    today_min REAL NOT NULL,
    tomorrow_max REAL NOT NULL,
    tomorrow_min REAL NOT NULL,
    theta_e_delta REAL,
    commentary TEXT NOT NULL,
    narrative TEXT
);

CREATE INDEX IF NOT EXISTS idx_forecast_runs_issue ON forecast_runs(issue_date);

CREATE TABLE IF NOT EXISTS forecast_verification (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id INTEGER NOT NULL REFERENCES forecast_runs(id),
    valid_date TEXT NOT NULL,
    lead_day INTEGER NOT NULL,
    forecast_temp_max REAL,
    forecast_temp_min REAL,
    actual_temp_max REAL,
    actual_temp_min REAL,
    bias_temp_max REAL,
    bias_temp_min REAL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(run_id, lead_day)
);
`,
	},
	{
		Version:     4,
		Description: "Ingest audit trail",
		SQL: `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at DATETIME NOT NULL,
    finished_at DATETIME,
    source TEXT NOT NULL,
    endpoint TEXT NOT NULL,
    range_start TEXT,
    range_end TEXT,
    dates_visited INTEGER,
    rows_stored INTEGER,
    dates_skipped INTEGER,
    requests INTEGER,
    success BOOLEAN DEFAULT FALSE,
    error_message TEXT
);

CREATE INDEX IF NOT EXISTS idx_ingest_runs_started ON ingest_runs(started_at);
`,
	},
}

func (s *Store) Migrate() error {
	if err := s.ensureMigrationsTable(); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations()
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		s.logger.Info("migrations: applying", "version", m.Version, "description", m.Description)

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("execute migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)",
			m.Version, m.Description, time.Now().UTC(),
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		s.logger.Debug("migrations: completed", "version", m.Version)
	}

	return nil
}

func (s *Store) ensureMigrationsTable() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at DATETIME
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations() (map[int]bool, error) {
	var versions []int
	if err := s.db.Select(&versions, "SELECT version FROM schema_migrations"); err != nil {
		return nil, err
	}

	applied := make(map[int]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (s *Store) MigrationVersion() (int, error) {
	var version sql.NullInt64
	err := s.db.Get(&version, "SELECT MAX(version) FROM schema_migrations")
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
