package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/logging"
)

// DefaultDailyAt is the local time the daily jobs run, after the portal has
// published the previous day.
const DefaultDailyAt = "06:00"

// Forecaster runs a forecast; *forecast.Service satisfies it.
type Forecaster interface {
	Run(ctx context.Context) (*forecast.Result, error)
}

type SchedulerConfig struct {
	Daily *DailyJobs
	// Forecaster, when set, issues a forecast after the daily jobs so that
	// every day has a run to verify.
	Forecaster Forecaster
	Location   *time.Location
	At         string
	// JobTimeout bounds one execution of the daily jobs.
	JobTimeout time.Duration
	Logger     *slog.Logger
}

type Scheduler struct {
	scheduler  *gocron.Scheduler
	daily      *DailyJobs
	forecaster Forecaster
	at         string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.At == "" {
		cfg.At = DefaultDailyAt
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 30 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	s := gocron.NewScheduler(cfg.Location)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler:  s,
		daily:      cfg.Daily,
		forecaster: cfg.Forecaster,
		at:         cfg.At,
		timeout:    cfg.JobTimeout,
		logger:     cfg.Logger,
	}
}

// Run catches up on missed days, schedules the daily jobs and blocks until
// ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.daily.CatchUp(ctx); err != nil {
		s.logger.Error("scheduler: catch-up failed", "error", err)
	}

	if _, err := s.scheduler.Every(1).Day().At(s.at).Do(s.RunDailyJobs, ctx); err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("scheduler: started", "at", s.at)

	<-ctx.Done()
	s.logger.Info("scheduler: shutting down")
	s.scheduler.Stop()
	return nil
}

// RunDailyJobs appends and verifies yesterday, then optionally issues a
// forecast.
func (s *Scheduler) RunDailyJobs(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	if err := s.daily.RunAll(ctx, s.daily.Yesterday()); err != nil {
		s.logger.Error("scheduler: daily jobs failed", "error", err)
	}

	if s.forecaster == nil {
		return
	}
	if _, err := s.forecaster.Run(ctx); err != nil {
		s.logger.Error("scheduler: forecast failed", "error", err)
	}
}
