package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/lox/tenki/internal/models"
)

// IngestRun audits one pass of the history builder over a date range.
type IngestRun struct {
	ID           int64          `db:"id"`
	StartedAt    time.Time      `db:"started_at"`
	FinishedAt   sql.NullTime   `db:"finished_at"`
	Source       string         `db:"source"`   // "jma"
	Endpoint     string         `db:"endpoint"` // "hourly_s1", "daily"
	RangeStart   sql.NullString `db:"range_start"`
	RangeEnd     sql.NullString `db:"range_end"`
	DatesVisited sql.NullInt64  `db:"dates_visited"`
	RowsStored   sql.NullInt64  `db:"rows_stored"`
	DatesSkipped sql.NullInt64  `db:"dates_skipped"`
	Requests     sql.NullInt64  `db:"requests"`
	Success      bool           `db:"success"`
	ErrorMessage sql.NullString `db:"error_message"`
}

// StartIngestRun creates a new ingest run record and returns it.
func (s *Store) StartIngestRun(ctx context.Context, source, endpoint string, start, end time.Time) (*IngestRun, error) {
	run := &IngestRun{
		StartedAt:  time.Now().UTC(),
		Source:     source,
		Endpoint:   endpoint,
		RangeStart: sql.NullString{String: start.Format(models.DateLayout), Valid: true},
		RangeEnd:   sql.NullString{String: end.Format(models.DateLayout), Valid: true},
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (started_at, source, endpoint, range_start, range_end, success)
		VALUES (?, ?, ?, ?, ?, FALSE)
	`, run.StartedAt, run.Source, run.Endpoint, run.RangeStart, run.RangeEnd)
	if err != nil {
		return nil, err
	}

	run.ID, err = result.LastInsertId()
	if err != nil {
		return nil, err
	}

	return run, nil
}

// CompleteIngestRun updates the ingest run with results.
func (s *Store) CompleteIngestRun(ctx context.Context, run *IngestRun) error {
	if run == nil {
		return nil
	}

	run.FinishedAt = sql.NullTime{Time: time.Now().UTC(), Valid: true}

	_, err := s.db.NamedExecContext(ctx, `
		UPDATE ingest_runs SET
			finished_at = :finished_at,
			dates_visited = :dates_visited,
			rows_stored = :rows_stored,
			dates_skipped = :dates_skipped,
			requests = :requests,
			success = :success,
			error_message = :error_message
		WHERE id = :id
	`, run)
	return err
}

// IngestHealthSummary represents a daily ingest health summary.
type IngestHealthSummary struct {
	Date         string `db:"date" json:"date"`
	Source       string `db:"source" json:"source"`
	Endpoint     string `db:"endpoint" json:"endpoint"`
	TotalRuns    int    `db:"total_runs" json:"total_runs"`
	SuccessRuns  int    `db:"success_runs" json:"success_runs"`
	FailedRuns   int    `db:"failed_runs" json:"failed_runs"`
	RowsStored   int64  `db:"rows_stored" json:"rows_stored"`
	DatesSkipped int64  `db:"dates_skipped" json:"dates_skipped"`
}

// GetIngestHealth returns ingest health summaries for the last N days.
func (s *Store) GetIngestHealth(ctx context.Context, days int) ([]IngestHealthSummary, error) {
	var results []IngestHealthSummary
	err := s.db.SelectContext(ctx, &results, `
		SELECT
			DATE(SUBSTR(started_at, 1, 19)) AS date,
			source,
			endpoint,
			COUNT(*) AS total_runs,
			SUM(CASE WHEN success THEN 1 ELSE 0 END) AS success_runs,
			SUM(CASE WHEN NOT success THEN 1 ELSE 0 END) AS failed_runs,
			COALESCE(SUM(rows_stored), 0) AS rows_stored,
			COALESCE(SUM(dates_skipped), 0) AS dates_skipped
		FROM ingest_runs
		WHERE SUBSTR(started_at, 1, 19) > datetime('now', '-' || ? || ' days')
		GROUP BY date, source, endpoint
		ORDER BY date DESC, source, endpoint
	`, days)
	return results, err
}

// GetRecentIngestErrors returns recent finished runs that failed.
func (s *Store) GetRecentIngestErrors(ctx context.Context, limit int) ([]IngestRun, error) {
	var results []IngestRun
	err := s.db.SelectContext(ctx, &results, `
		SELECT id, started_at, finished_at, source, endpoint, range_start, range_end,
			   dates_visited, rows_stored, dates_skipped, requests, success, error_message
		FROM ingest_runs
		WHERE success = FALSE AND finished_at IS NOT NULL
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	return results, err
}
