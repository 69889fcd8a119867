package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

// MaxCatchUpDays bounds how far back CatchUp reaches for missing days.
const MaxCatchUpDays = 31

type DailyConfig struct {
	Store    *store.Store
	Fetcher  history.Fetcher
	Registry registry.Registry
	Clock    clockwork.Clock
	Location *time.Location
	// Delay between requests, as for history.BuilderConfig.
	Delay  time.Duration
	Logger *slog.Logger
}

// DailyJobs keeps the stored history current and scores past forecasts.
type DailyJobs struct {
	store   *store.Store
	builder *history.Builder
	reg     registry.Registry
	clock   clockwork.Clock
	loc     *time.Location
	logger  *slog.Logger
}

func NewDailyJobs(cfg DailyConfig) *DailyJobs {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	var sink history.Sink
	if cfg.Store != nil {
		sink = cfg.Store
	}
	return &DailyJobs{
		store: cfg.Store,
		builder: history.NewBuilder(history.BuilderConfig{
			Fetcher:  cfg.Fetcher,
			Registry: cfg.Registry,
			Clock:    cfg.Clock,
			Delay:    cfg.Delay,
			Sink:     sink,
			Logger:   cfg.Logger,
		}),
		reg:    cfg.Registry,
		clock:  cfg.Clock,
		loc:    cfg.Location,
		logger: cfg.Logger,
	}
}

// Yesterday is the most recent complete calendar day in the job's zone.
func (d *DailyJobs) Yesterday() time.Time {
	return models.DateOnly(d.clock.Now().In(d.loc)).AddDate(0, 0, -1)
}

// RunAll appends forDate to the history and verifies the forecasts valid on it.
func (d *DailyJobs) RunAll(ctx context.Context, forDate time.Time) error {
	d.logger.Info("daily: running jobs", "date", forDate.Format(models.DateLayout))

	if _, err := d.BuildRange(ctx, forDate, forDate); err != nil {
		d.logger.Error("daily: append failed", "error", err)
	}

	if _, err := d.VerifyForecasts(ctx, forDate); err != nil {
		d.logger.Error("daily: verification failed", "error", err)
		return err
	}
	return nil
}

// BuildRange fetches [start, end] into the store and records an ingest run.
func (d *DailyJobs) BuildRange(ctx context.Context, start, end time.Time) (history.BuildStats, error) {
	run, err := d.store.StartIngestRun(ctx, "jma", "hourly_s1", start, end)
	if err != nil {
		d.logger.Warn("daily: start ingest run", "error", err)
	}

	_, stats, err := d.builder.Build(ctx, start, end)

	if run != nil {
		run.Success = err == nil
		run.DatesVisited = sql.NullInt64{Int64: int64(stats.DatesVisited), Valid: true}
		run.RowsStored = sql.NullInt64{Int64: int64(stats.RowsBuilt), Valid: true}
		run.DatesSkipped = sql.NullInt64{Int64: int64(stats.DatesSkipped), Valid: true}
		run.Requests = sql.NullInt64{Int64: int64(stats.Requests), Valid: true}
		if err != nil {
			run.ErrorMessage = sql.NullString{String: err.Error(), Valid: true}
		}
		// the build context may already be canceled
		if cerr := d.store.CompleteIngestRun(context.WithoutCancel(ctx), run); cerr != nil {
			d.logger.Warn("daily: complete ingest run", "error", cerr)
		}
	}

	if err != nil {
		return stats, fmt.Errorf("build %s..%s: %w", start.Format(models.DateLayout), end.Format(models.DateLayout), err)
	}
	return stats, nil
}

// CatchUp fills the days between the latest stored date and yesterday, at
// most MaxCatchUpDays of them. An empty store is left to build-history.
func (d *DailyJobs) CatchUp(ctx context.Context) error {
	latest, ok, err := d.store.LatestDate(ctx)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Info("daily: no stored history, skipping catch-up")
		return nil
	}

	yesterday := d.Yesterday()
	start := latest.AddDate(0, 0, 1)
	if start.After(yesterday) {
		return nil
	}
	if oldest := yesterday.AddDate(0, 0, -(MaxCatchUpDays - 1)); start.Before(oldest) {
		d.logger.Warn("daily: gap too large, catching up partially",
			"latest", latest.Format(models.DateLayout), "from", oldest.Format(models.DateLayout))
		start = oldest
	}

	d.logger.Info("daily: catching up", "start", start.Format(models.DateLayout), "end", yesterday.Format(models.DateLayout))
	if _, err := d.BuildRange(ctx, start, yesterday); err != nil {
		return err
	}
	for day := start; !day.After(yesterday); day = day.AddDate(0, 0, 1) {
		if _, err := d.VerifyForecasts(ctx, day); err != nil {
			return err
		}
	}
	return nil
}

// VerifyForecasts scores every run whose today (lead 0) or tomorrow (lead 1)
// is forDate against the stored observation of the primary station.
func (d *DailyJobs) VerifyForecasts(ctx context.Context, forDate time.Time) (int, error) {
	forDate = models.DateOnly(forDate)
	primary := d.reg.Primary()

	actual, err := d.store.DailyObservation(ctx, primary, forDate)
	if err != nil {
		return 0, err
	}
	if actual == nil || !valid(actual.TempMax) || !valid(actual.TempMin) {
		d.logger.Info("daily: no actuals", "station", primary, "date", forDate.Format(models.DateLayout))
		return 0, nil
	}

	verified := 0
	for lead := 0; lead <= 1; lead++ {
		runs, err := d.store.ForecastRunsIssued(ctx, forDate.AddDate(0, 0, -lead))
		if err != nil {
			return verified, err
		}
		for _, run := range runs {
			has, err := d.store.HasVerification(ctx, run.ID, lead)
			if err != nil {
				return verified, err
			}
			if has {
				continue
			}

			v := models.ForecastVerification{
				RunID:         run.ID,
				ValidDate:     forDate,
				LeadDay:       lead,
				ActualTempMax: actual.TempMax,
				ActualTempMin: actual.TempMin,
			}
			if lead == 0 {
				v.ForecastTempMax, v.ForecastTempMin = run.TodayMax, run.TodayMin
			} else {
				v.ForecastTempMax, v.ForecastTempMin = run.TomorrowMax, run.TomorrowMin
			}
			v.BiasTempMax = v.ForecastTempMax - v.ActualTempMax
			v.BiasTempMin = v.ForecastTempMin - v.ActualTempMin

			if err := d.store.InsertVerification(ctx, v); err != nil {
				d.logger.Error("daily: insert verification", "run_id", run.ID, "error", err)
				continue
			}
			d.logger.Info("daily: verified forecast",
				"run_id", run.ID, "date", forDate.Format(models.DateLayout), "lead", lead,
				"bias_max", fmt.Sprintf("%.1f", v.BiasTempMax), "bias_min", fmt.Sprintf("%.1f", v.BiasTempMin))
			verified++
		}
	}

	d.logger.Info("daily: verification done", "date", forDate.Format(models.DateLayout), "verified", verified)
	return verified, nil
}
