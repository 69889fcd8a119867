package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Store{db: sqlx.NewDb(db, "sqlite"), logger: logger}
}

// Open opens the SQLite database at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	s := New(db, logger)
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SyncStations upserts every registry station and deactivates the rest.
func (s *Store) SyncStations(ctx context.Context, reg registry.Registry) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE stations SET active = FALSE`); err != nil {
		return fmt.Errorf("deactivate stations: %w", err)
	}
	for _, st := range reg.Stations() {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stations (name, prec_no, block_no, is_primary, active)
			VALUES (?, ?, ?, ?, TRUE)
			ON CONFLICT(name) DO UPDATE SET
				prec_no = excluded.prec_no,
				block_no = excluded.block_no,
				is_primary = excluded.is_primary,
				active = TRUE
		`, st.Name, st.PrecNo, st.BlockNo, st.Name == reg.Primary())
		if err != nil {
			return fmt.Errorf("upsert station %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

func (s *Store) GetActiveStations(ctx context.Context) ([]models.Station, error) {
	var stations []models.Station
	err := s.db.SelectContext(ctx, &stations, `
		SELECT name, prec_no AS precno, block_no AS blockno, active
		FROM stations WHERE active = TRUE ORDER BY name
	`)
	return stations, err
}

type observationRow struct {
	Date         string          `db:"date"`
	Station      string          `db:"station"`
	TempMean     sql.NullFloat64 `db:"temp_mean"`
	TempMax      sql.NullFloat64 `db:"temp_max"`
	TempMin      sql.NullFloat64 `db:"temp_min"`
	Humidity     sql.NullFloat64 `db:"hum"`
	Pressure     sql.NullFloat64 `db:"press"`
	Precip       sql.NullFloat64 `db:"precip"`
	Sunshine     sql.NullFloat64 `db:"sun"`
	Dewpoint     sql.NullFloat64 `db:"dewpoint"`
	ThetaE       sql.NullFloat64 `db:"theta_e"`
	VPD          sql.NullFloat64 `db:"vpd"`
	WindU        sql.NullFloat64 `db:"wind_u"`
	WindV        sql.NullFloat64 `db:"wind_v"`
	QualityFlags sql.NullString  `db:"quality_flags"`
}

const observationColumns = `date, station, temp_mean, temp_max, temp_min, hum, press, precip, sun,
	dewpoint, theta_e, vpd, wind_u, wind_v, quality_flags`

func nullFloat(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

func toObservationRow(obs models.DailyObservation) observationRow {
	row := observationRow{
		Date:     obs.Date.Format(models.DateLayout),
		Station:  obs.StationID,
		TempMean: nullFloat(obs.TempMean),
		TempMax:  nullFloat(obs.TempMax),
		TempMin:  nullFloat(obs.TempMin),
		Humidity: nullFloat(obs.Humidity),
		Pressure: nullFloat(obs.Pressure),
		Precip:   nullFloat(obs.Precip),
		Sunshine: nullFloat(obs.Sunshine),
		Dewpoint: nullFloat(obs.Dewpoint),
		ThetaE:   nullFloat(obs.ThetaE),
		VPD:      nullFloat(obs.VPD),
		WindU:    nullFloat(obs.WindU),
		WindV:    nullFloat(obs.WindV),
	}
	if len(obs.QualityFlags) > 0 {
		data, _ := json.Marshal(obs.QualityFlags)
		row.QualityFlags = sql.NullString{String: string(data), Valid: true}
	}
	return row
}

func (r observationRow) observation() (models.DailyObservation, error) {
	date, err := time.Parse(models.DateLayout, r.Date)
	if err != nil {
		return models.DailyObservation{}, fmt.Errorf("parse date %q: %w", r.Date, err)
	}
	obs := models.DailyObservation{
		Date:      date,
		StationID: r.Station,
		TempMean:  floatOrNaN(r.TempMean),
		TempMax:   floatOrNaN(r.TempMax),
		TempMin:   floatOrNaN(r.TempMin),
		Humidity:  floatOrNaN(r.Humidity),
		Pressure:  floatOrNaN(r.Pressure),
		Precip:    floatOrNaN(r.Precip),
		Sunshine:  floatOrNaN(r.Sunshine),
		Dewpoint:  floatOrNaN(r.Dewpoint),
		ThetaE:    floatOrNaN(r.ThetaE),
		VPD:       floatOrNaN(r.VPD),
		WindU:     floatOrNaN(r.WindU),
		WindV:     floatOrNaN(r.WindV),
	}
	if r.QualityFlags.Valid && r.QualityFlags.String != "" {
		if err := json.Unmarshal([]byte(r.QualityFlags.String), &obs.QualityFlags); err != nil {
			return models.DailyObservation{}, fmt.Errorf("decode quality flags for %s %s: %w", r.Station, r.Date, err)
		}
	}
	return obs, nil
}

const upsertObservation = `
	INSERT INTO daily_observations (` + observationColumns + `, fetched_at)
	VALUES (:date, :station, :temp_mean, :temp_max, :temp_min, :hum, :press, :precip, :sun,
		:dewpoint, :theta_e, :vpd, :wind_u, :wind_v, :quality_flags, CURRENT_TIMESTAMP)
	ON CONFLICT(date, station) DO UPDATE SET
		temp_mean = excluded.temp_mean,
		temp_max = excluded.temp_max,
		temp_min = excluded.temp_min,
		hum = excluded.hum,
		press = excluded.press,
		precip = excluded.precip,
		sun = excluded.sun,
		dewpoint = excluded.dewpoint,
		theta_e = excluded.theta_e,
		vpd = excluded.vpd,
		wind_u = excluded.wind_u,
		wind_v = excluded.wind_v,
		quality_flags = excluded.quality_flags,
		fetched_at = excluded.fetched_at
`

// SaveSnapshot upserts every station of one complete day in a single
// transaction.
func (s *Store) SaveSnapshot(ctx context.Context, snap models.Snapshot) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveSnapshot(ctx, tx, snap); err != nil {
		return err
	}
	return tx.Commit()
}

func saveSnapshot(ctx context.Context, tx *sqlx.Tx, snap models.Snapshot) error {
	for name, obs := range snap.Stations {
		obs.StationID = name
		obs.Date = snap.Date
		if _, err := tx.NamedExecContext(ctx, upsertObservation, toObservationRow(obs)); err != nil {
			return fmt.Errorf("save %s %s: %w", name, snap.Date.Format(models.DateLayout), err)
		}
	}
	return nil
}

// SaveTable upserts every row of t and returns the number of days written.
func (s *Store) SaveTable(ctx context.Context, t history.Table) (int, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, snap := range t.Rows {
		if err := saveSnapshot(ctx, tx, snap); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return t.Len(), nil
}

// LoadHistory returns every stored date that is complete for the registry.
func (s *Store) LoadHistory(ctx context.Context, reg registry.Registry) (history.Table, error) {
	return s.loadTable(ctx, reg, "", "")
}

// LoadRange is LoadHistory restricted to dates in [start, end].
func (s *Store) LoadRange(ctx context.Context, reg registry.Registry, start, end time.Time) (history.Table, error) {
	return s.loadTable(ctx, reg, start.Format(models.DateLayout), end.Format(models.DateLayout))
}

func (s *Store) loadTable(ctx context.Context, reg registry.Registry, start, end string) (history.Table, error) {
	query := `SELECT ` + observationColumns + ` FROM daily_observations WHERE station IN (?)`
	args := []any{reg.StationNames()}
	if start != "" {
		query += ` AND date >= ? AND date <= ?`
		args = append(args, start, end)
	}
	query += ` ORDER BY date, station`

	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return history.Table{}, err
	}

	var rows []observationRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return history.Table{}, fmt.Errorf("load history: %w", err)
	}

	byDate := make(map[string]*models.Snapshot)
	var order []string
	for _, r := range rows {
		obs, err := r.observation()
		if err != nil {
			return history.Table{}, err
		}
		snap, ok := byDate[r.Date]
		if !ok {
			snap = &models.Snapshot{Date: obs.Date, Stations: make(map[string]models.DailyObservation)}
			byDate[r.Date] = snap
			order = append(order, r.Date)
		}
		snap.Stations[r.Station] = obs
	}

	snaps := make([]models.Snapshot, 0, len(order))
	for _, d := range order {
		if snap := byDate[d]; history.Complete(*snap, reg) {
			snaps = append(snaps, *snap)
		}
	}
	return history.NewTable(snaps...), nil
}

// DailyObservation returns the stored observation, or nil if there is none.
func (s *Store) DailyObservation(ctx context.Context, station string, date time.Time) (*models.DailyObservation, error) {
	var row observationRow
	err := s.db.GetContext(ctx, &row, `SELECT `+observationColumns+` FROM daily_observations WHERE station = ? AND date = ?`,
		station, date.Format(models.DateLayout))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obs, err := row.observation()
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

// LatestDate returns the most recent date with any stored observation.
func (s *Store) LatestDate(ctx context.Context) (time.Time, bool, error) {
	var d sql.NullString
	if err := s.db.GetContext(ctx, &d, `SELECT MAX(date) FROM daily_observations`); err != nil {
		return time.Time{}, false, err
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(models.DateLayout, d.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse date %q: %w", d.String, err)
	}
	return t, true, nil
}

// ModelRecord is an encoded model artifact and the metadata needed to decide
// whether it is still current.
type ModelRecord struct {
	ID           int64     `db:"id"`
	Target       string    `db:"target"`
	Kind         string    `db:"kind"`
	TrainedMonth int       `db:"trained_month"`
	TrainedAt    time.Time `db:"trained_at"`
	TrainingRows int       `db:"training_rows"`
	Artifact     []byte    `db:"artifact"`
}

func (s *Store) SaveModel(ctx context.Context, m *ModelRecord) error {
	result, err := s.db.NamedExecContext(ctx, `
		INSERT INTO forecast_models (target, kind, trained_month, trained_at, training_rows, artifact)
		VALUES (:target, :kind, :trained_month, :trained_at, :training_rows, :artifact)
	`, m)
	if err != nil {
		return fmt.Errorf("save model %s: %w", m.Target, err)
	}
	m.ID, err = result.LastInsertId()
	return err
}

// LatestModel returns the newest artifact for target, or nil if none exists.
func (s *Store) LatestModel(ctx context.Context, target string) (*ModelRecord, error) {
	var m ModelRecord
	err := s.db.GetContext(ctx, &m, `
		SELECT id, target, kind, trained_month, trained_at, training_rows, artifact
		FROM forecast_models
		WHERE target = ?
		ORDER BY trained_at DESC, id DESC
		LIMIT 1
	`, target)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type forecastRunRow struct {
	ID           int64           `db:"id"`
	RunAt        time.Time       `db:"run_at"`
	IssueDate    string          `db:"issue_date"`
	Station      string          `db:"station"`
	ModelKind    string          `db:"model_kind"`
	TrainingRows sql.NullInt64   `db:"training_rows"`
	TodayMax     float64         `db:"today_max"`
	TodayMin     float64         `db:"today_min"`
	TomorrowMax  float64         `db:"tomorrow_max"`
	TomorrowMin  float64         `db:"tomorrow_min"`
	ThetaEDelta  sql.NullFloat64 `db:"theta_e_delta"`
	Commentary   string          `db:"commentary"`
	Narrative    sql.NullString  `db:"narrative"`
}

const forecastRunColumns = `id, run_at, issue_date, station, model_kind, training_rows,
	today_max, today_min, tomorrow_max, tomorrow_min, theta_e_delta, commentary, narrative`

func (r forecastRunRow) run() (models.ForecastRun, error) {
	issue, err := time.Parse(models.DateLayout, r.IssueDate)
	if err != nil {
		return models.ForecastRun{}, fmt.Errorf("parse issue date %q: %w", r.IssueDate, err)
	}
	return models.ForecastRun{
		ID:           r.ID,
		RunAt:        r.RunAt,
		IssueDate:    issue,
		StationID:    r.Station,
		ModelKind:    r.ModelKind,
		TrainingRows: int(r.TrainingRows.Int64),
		TodayMax:     r.TodayMax,
		TodayMin:     r.TodayMin,
		TomorrowMax:  r.TomorrowMax,
		TomorrowMin:  r.TomorrowMin,
		ThetaEDelta:  r.ThetaEDelta,
		Commentary:   r.Commentary,
		Narrative:    r.Narrative,
	}, nil
}

func (s *Store) SaveForecastRun(ctx context.Context, run *models.ForecastRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO forecast_runs (run_at, issue_date, station, model_kind, training_rows,
			today_max, today_min, tomorrow_max, tomorrow_min, theta_e_delta, commentary, narrative)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.RunAt.UTC(), run.IssueDate.Format(models.DateLayout), run.StationID, run.ModelKind, run.TrainingRows,
		run.TodayMax, run.TodayMin, run.TomorrowMax, run.TomorrowMin, run.ThetaEDelta, run.Commentary, run.Narrative)
	if err != nil {
		return fmt.Errorf("save forecast run: %w", err)
	}
	run.ID, err = result.LastInsertId()
	return err
}

// SetNarrative attaches generated prose to a stored run.
func (s *Store) SetNarrative(ctx context.Context, runID int64, narrative string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE forecast_runs SET narrative = ? WHERE id = ?`, narrative, runID)
	return err
}

// LatestForecastRun returns the most recent run, or nil if none exists.
func (s *Store) LatestForecastRun(ctx context.Context) (*models.ForecastRun, error) {
	var row forecastRunRow
	err := s.db.GetContext(ctx, &row, `SELECT `+forecastRunColumns+` FROM forecast_runs ORDER BY run_at DESC, id DESC LIMIT 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run, err := row.run()
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// ForecastRunsIssued returns the runs whose first forecast day is date.
func (s *Store) ForecastRunsIssued(ctx context.Context, date time.Time) ([]models.ForecastRun, error) {
	var rows []forecastRunRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+forecastRunColumns+` FROM forecast_runs WHERE issue_date = ? ORDER BY run_at`,
		date.Format(models.DateLayout))
	if err != nil {
		return nil, err
	}
	runs := make([]models.ForecastRun, 0, len(rows))
	for _, r := range rows {
		run, err := r.run()
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// InsertVerification records a verification, ignoring one already stored for
// the same run and lead day.
func (s *Store) InsertVerification(ctx context.Context, v models.ForecastVerification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forecast_verification (
			run_id, valid_date, lead_day,
			forecast_temp_max, forecast_temp_min, actual_temp_max, actual_temp_min, bias_temp_max, bias_temp_min
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, lead_day) DO NOTHING
	`, v.RunID, v.ValidDate.Format(models.DateLayout), v.LeadDay,
		nullFloat(v.ForecastTempMax), nullFloat(v.ForecastTempMin),
		nullFloat(v.ActualTempMax), nullFloat(v.ActualTempMin),
		nullFloat(v.BiasTempMax), nullFloat(v.BiasTempMin))
	return err
}

func (s *Store) HasVerification(ctx context.Context, runID int64, leadDay int) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM forecast_verification WHERE run_id = ? AND lead_day = ?`, runID, leadDay)
	return count > 0, err
}

// VerificationStats returns bias and MAE per lead day.
func (s *Store) VerificationStats(ctx context.Context) ([]models.VerificationStats, error) {
	var stats []models.VerificationStats
	err := s.db.SelectContext(ctx, &stats, `
		SELECT
			lead_day,
			COUNT(*) AS count,
			AVG(bias_temp_max) AS avg_max_bias,
			AVG(bias_temp_min) AS avg_min_bias,
			AVG(ABS(bias_temp_max)) AS mae_max,
			AVG(ABS(bias_temp_min)) AS mae_min
		FROM forecast_verification
		WHERE bias_temp_max IS NOT NULL
		GROUP BY lead_day
		ORDER BY lead_day
	`)
	return stats, err
}
