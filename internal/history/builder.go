package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/metrics"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

// DefaultDelay is the pause between consecutive requests to the portal.
const DefaultDelay = 100 * time.Millisecond

// Fetcher returns one station-day, or false when it is unavailable.
type Fetcher interface {
	Daily(ctx context.Context, date time.Time, st models.Station) (*models.DailyObservation, bool)
}

// Sink receives each complete row as it is built.
type Sink interface {
	SaveSnapshot(ctx context.Context, snap models.Snapshot) error
}

type BuilderConfig struct {
	Fetcher  Fetcher
	Registry registry.Registry
	Clock    clockwork.Clock
	// Delay between requests. Zero selects DefaultDelay; negative disables it.
	Delay  time.Duration
	Sink   Sink
	Logger *slog.Logger
}

// Builder walks a date range one station-day at a time.
type Builder struct {
	fetcher  Fetcher
	registry registry.Registry
	clock    clockwork.Clock
	delay    time.Duration
	sink     Sink
	logger   *slog.Logger
}

func NewBuilder(cfg BuilderConfig) *Builder {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Builder{
		fetcher:  cfg.Fetcher,
		registry: cfg.Registry,
		clock:    cfg.Clock,
		delay:    cfg.Delay,
		sink:     cfg.Sink,
		logger:   cfg.Logger,
	}
}

// BuildStats summarises a Build call.
type BuildStats struct {
	DatesVisited int
	RowsBuilt    int
	DatesSkipped int
	Requests     int
}

// Build fetches every station for each date in [start, end] and keeps the
// dates for which every station is available. On cancellation it returns the
// rows built so far together with the context error.
func (b *Builder) Build(ctx context.Context, start, end time.Time) (Table, BuildStats, error) {
	start, end = models.DateOnly(start), models.DateOnly(end)
	var stats BuildStats
	var rows []models.Snapshot

	if end.Before(start) {
		return Table{}, stats, fmt.Errorf("history: end %s before start %s", end.Format(models.DateLayout), start.Format(models.DateLayout))
	}

	stations := b.registry.Stations()
	b.logger.Info("history: build starting",
		"start", start.Format(models.DateLayout),
		"end", end.Format(models.DateLayout),
		"stations", len(stations))

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return NewTable(rows...), stats, err
		}
		stats.DatesVisited++

		snap := models.Snapshot{Date: d, Stations: make(map[string]models.DailyObservation, len(stations))}
		var missing []string
		for _, st := range stations {
			if stats.Requests > 0 {
				if err := b.pause(ctx); err != nil {
					return NewTable(rows...), stats, err
				}
			}
			stats.Requests++

			obs, ok := b.fetcher.Daily(ctx, d, st)
			if !ok {
				missing = append(missing, st.Name)
				continue
			}
			snap.Stations[st.Name] = *obs
		}

		if len(missing) > 0 {
			stats.DatesSkipped++
			metrics.HistoryDatesSkipped.Inc()
			b.logger.Debug("history: date dropped", "date", d.Format(models.DateLayout), "missing", missing)
			continue
		}

		if b.sink != nil {
			if err := b.sink.SaveSnapshot(ctx, snap); err != nil {
				return NewTable(rows...), stats, fmt.Errorf("history: save %s: %w", d.Format(models.DateLayout), err)
			}
		}
		rows = append(rows, snap)
		stats.RowsBuilt++
		metrics.HistoryRowsBuilt.Inc()

		if stats.RowsBuilt%50 == 0 {
			b.logger.Info("history: progress", "rows", stats.RowsBuilt, "date", d.Format(models.DateLayout))
		}
	}

	b.logger.Info("history: build complete",
		"rows", stats.RowsBuilt,
		"skipped", stats.DatesSkipped,
		"requests", stats.Requests)
	return NewTable(rows...), stats, nil
}

func (b *Builder) pause(ctx context.Context) error {
	if b.delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.clock.After(b.delay):
		return nil
	}
}
