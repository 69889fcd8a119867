package forecast

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/metrics"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

// ErrIncompleteRecent means the days before today could not all be assembled.
var ErrIncompleteRecent = errors.New("recent days incomplete")

// JST is the portal's local time; "today" is a calendar day in this zone.
var JST = time.FixedZone("JST", 9*60*60)

// Repository is the persistence the service needs. *store.Store satisfies it.
type Repository interface {
	LoadHistory(ctx context.Context, reg registry.Registry) (history.Table, error)
	LoadRange(ctx context.Context, reg registry.Registry, start, end time.Time) (history.Table, error)
	LatestModel(ctx context.Context, target string) (*store.ModelRecord, error)
	SaveModel(ctx context.Context, m *store.ModelRecord) error
	SaveForecastRun(ctx context.Context, run *models.ForecastRun) error
	SetNarrative(ctx context.Context, runID int64, narrative string) error
}

// Narrator turns a prediction into prose. It is optional.
type Narrator interface {
	Narrate(ctx context.Context, p *Prediction, recent []models.Snapshot) (string, error)
}

// Builder fetches rows that are not in the repository yet.
type Builder interface {
	Build(ctx context.Context, start, end time.Time) (history.Table, history.BuildStats, error)
}

type ServiceConfig struct {
	Forecaster *Forecaster
	Registry   registry.Registry
	Repository Repository
	Builder    Builder
	Narrator   Narrator
	Clock      clockwork.Clock
	Location   *time.Location
	Logger     *slog.Logger
}

// Service runs the fetch, predict and persist cycle. Runs are serialised.
type Service struct {
	mu         sync.Mutex
	forecaster *Forecaster
	reg        registry.Registry
	repo       Repository
	builder    Builder
	narrator   Narrator
	clock      clockwork.Clock
	loc        *time.Location
	logger     *slog.Logger
}

func NewService(cfg ServiceConfig) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Location == nil {
		cfg.Location = JST
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Service{
		forecaster: cfg.Forecaster,
		reg:        cfg.Registry,
		repo:       cfg.Repository,
		builder:    cfg.Builder,
		narrator:   cfg.Narrator,
		clock:      cfg.Clock,
		loc:        cfg.Location,
		logger:     cfg.Logger,
	}
}

// Result is one completed forecast run.
type Result struct {
	Run        models.ForecastRun
	Prediction *Prediction
	// Recent holds the observed days fed to the model, oldest first.
	Recent []models.Snapshot
}

// Today returns the current calendar date in the service's zone.
func (s *Service) Today() time.Time {
	return models.DateOnly(s.clock.Now().In(s.loc))
}

// Run forecasts today and tomorrow from the days ending yesterday. Nothing is
// stored unless both days are predicted.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := s.clock.Now()
	res, err := s.run(ctx)
	metrics.ForecastRunDuration.Observe(s.clock.Since(began).Seconds())
	if err != nil {
		metrics.ForecastRunsTotal.WithLabelValues("error").Inc()
		s.logger.Error("forecast: run failed", "error", err)
		return nil, err
	}
	metrics.ForecastRunsTotal.WithLabelValues("ok").Inc()
	return res, nil
}

func (s *Service) run(ctx context.Context) (*Result, error) {
	today := s.Today()

	if err := s.ensureModels(ctx, today.Month()); err != nil {
		return nil, err
	}

	recent, err := s.recent(ctx, today)
	if err != nil {
		return nil, err
	}

	p, err := s.forecaster.Predict(recent)
	if err != nil {
		return nil, err
	}

	maxA, _ := s.forecaster.Models()
	run := models.ForecastRun{
		RunAt:        s.clock.Now().UTC(),
		IssueDate:    p.Today,
		StationID:    p.Station,
		ModelKind:    string(maxA.Model.Kind),
		TrainingRows: maxA.TrainingRows,
		TodayMax:     p.TodayMax,
		TodayMin:     p.TodayMin,
		TomorrowMax:  p.TomorrowMax,
		TomorrowMin:  p.TomorrowMin,
		Commentary:   p.Commentary,
	}
	if !math.IsNaN(p.ThetaEDelta) {
		run.ThetaEDelta = sql.NullFloat64{Float64: p.ThetaEDelta, Valid: true}
	}
	if err := s.repo.SaveForecastRun(ctx, &run); err != nil {
		return nil, fmt.Errorf("save forecast run: %w", err)
	}

	oldestFirst := make([]models.Snapshot, len(recent))
	for i, snap := range recent {
		oldestFirst[len(recent)-1-i] = snap
	}

	if s.narrator != nil {
		text, err := s.narrator.Narrate(ctx, p, oldestFirst)
		switch {
		case err != nil:
			s.logger.Warn("forecast: narrative failed", "error", err)
		case text != "":
			if err := s.repo.SetNarrative(ctx, run.ID, text); err != nil {
				s.logger.Warn("forecast: save narrative failed", "run_id", run.ID, "error", err)
			} else {
				run.Narrative = sql.NullString{String: text, Valid: true}
			}
		}
	}

	s.logger.Info("forecast: run complete",
		"run_id", run.ID,
		"today", p.Today.Format(models.DateLayout),
		"today_max", round1(p.TodayMax),
		"today_min", round1(p.TodayMin),
		"tomorrow_max", round1(p.TomorrowMax),
		"tomorrow_min", round1(p.TomorrowMin))

	return &Result{Run: run, Prediction: p, Recent: oldestFirst}, nil
}

// recent returns the lag window ending yesterday, most recent first. Stored
// days are used as is; missing days are fetched.
func (s *Service) recent(ctx context.Context, today time.Time) ([]models.Snapshot, error) {
	lags := s.forecaster.Schema().Lags
	end := today.AddDate(0, 0, -1)
	start := today.AddDate(0, 0, -lags)

	stored, err := s.repo.LoadRange(ctx, s.reg, start, end)
	if err != nil {
		return nil, fmt.Errorf("load recent days: %w", err)
	}

	have := make(map[string]bool, stored.Len())
	for _, snap := range stored.Rows {
		have[snap.Date.Format(models.DateLayout)] = true
	}
	var first, last time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if have[d.Format(models.DateLayout)] {
			continue
		}
		if first.IsZero() {
			first = d
		}
		last = d
	}

	tbl := stored
	if !first.IsZero() {
		if s.builder == nil {
			return nil, fmt.Errorf("%w: missing %s and no fetcher configured", ErrIncompleteRecent, first.Format(models.DateLayout))
		}
		s.logger.Info("forecast: fetching recent days",
			"start", first.Format(models.DateLayout), "end", last.Format(models.DateLayout))
		fetched, _, err := s.builder.Build(ctx, first, last)
		if err != nil {
			return nil, fmt.Errorf("fetch recent days: %w", err)
		}
		tbl = history.Merge(stored, fetched).Between(start, end)
	}

	if tbl.Len() < lags {
		return nil, fmt.Errorf("%w: have %d of %d days between %s and %s", ErrIncompleteRecent,
			tbl.Len(), lags, start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	return tbl.Recent(lags), nil
}

// ensureModels loads stored artifacts, retraining when they are missing, were
// trained for another month or kind, or no longer match the schema.
func (s *Service) ensureModels(ctx context.Context, month time.Month) error {
	if maxA, minA := s.forecaster.Models(); current(maxA, month, s.forecaster.Kind()) && current(minA, month, s.forecaster.Kind()) {
		return nil
	}

	maxA, minA, err := s.loadStored(ctx)
	if err != nil {
		s.logger.Warn("forecast: stored models unusable", "error", err)
	}
	if err == nil && current(maxA, month, s.forecaster.Kind()) && current(minA, month, s.forecaster.Kind()) {
		err = s.forecaster.Load(maxA, minA)
		if err == nil {
			s.logger.Debug("forecast: loaded stored models", "month", month)
			return nil
		}
		s.logger.Info("forecast: stored models rejected", "error", err)
	}

	return s.train(ctx, month)
}

func current(a *Artifact, month time.Month, kind Kind) bool {
	return a != nil && a.TrainedMonth == month && a.Model.Kind == kind
}

func (s *Service) loadStored(ctx context.Context) (maxA, minA *Artifact, err error) {
	maxT, minT := s.forecaster.Targets()
	if maxA, err = s.loadArtifact(ctx, maxT.Name()); err != nil {
		return nil, nil, err
	}
	if minA, err = s.loadArtifact(ctx, minT.Name()); err != nil {
		return nil, nil, err
	}
	return maxA, minA, nil
}

func (s *Service) loadArtifact(ctx context.Context, target string) (*Artifact, error) {
	rec, err := s.repo.LatestModel(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", target, err)
	}
	if rec == nil {
		return nil, nil
	}
	var a Artifact
	if err := a.UnmarshalBinary(rec.Artifact); err != nil {
		return nil, fmt.Errorf("model %s: %w", target, err)
	}
	return &a, nil
}

// Train fits both models on the stored history and persists them.
func (s *Service) Train(ctx context.Context, month time.Month) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.train(ctx, month)
}

func (s *Service) train(ctx context.Context, month time.Month) error {
	tbl, err := s.repo.LoadHistory(ctx, s.reg)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	s.logger.Info("forecast: training", "month", month, "days", tbl.Len(), "kind", s.forecaster.Kind())

	if err := s.forecaster.Train(tbl, month, s.clock.Now().UTC()); err != nil {
		return err
	}

	maxA, minA := s.forecaster.Models()
	for _, a := range []*Artifact{maxA, minA} {
		data, err := a.MarshalBinary()
		if err != nil {
			return fmt.Errorf("encode model %s: %w", a.Target.Name(), err)
		}
		rec := &store.ModelRecord{
			Target:       a.Target.Name(),
			Kind:         string(a.Model.Kind),
			TrainedMonth: int(a.TrainedMonth),
			TrainedAt:    a.TrainedAt,
			TrainingRows: a.TrainingRows,
			Artifact:     data,
		}
		if err := s.repo.SaveModel(ctx, rec); err != nil {
			return err
		}
	}

	s.logger.Info("forecast: trained", "rows", maxA.TrainingRows,
		"first", maxA.FirstDate.Format(models.DateLayout), "last", maxA.LastDate.Format(models.DateLayout))
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
