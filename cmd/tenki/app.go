package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/httputil"
	"github.com/lox/tenki/internal/ingest"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/narrative"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

// Globals are the flags shared by every command.
type Globals struct {
	DB        string `default:"data/tenki.db" env:"TENKI_DB" help:"Path to the SQLite database."`
	LogFormat string `default:"text" enum:"text,json" env:"TENKI_LOG_FORMAT" help:"Log format (text or json)."`
	LogLevel  string `default:"info" env:"TENKI_LOG_LEVEL" help:"Log level."`
	Timezone  string `default:"Asia/Tokyo" env:"TENKI_TIMEZONE" help:"Zone that defines today."`

	Stations string `default:"tokyo=44:47662,kofu=49:47638" env:"TENKI_STATIONS" help:"Stations as name=prec_no:block_no, comma separated."`
	Fields   string `default:"all" enum:"all,base" env:"TENKI_FIELDS" help:"Tracked field set."`
	Primary  string `default:"tokyo" env:"TENKI_PRIMARY" help:"Station whose temperatures are forecast."`

	Model string `default:"linear" enum:"linear,ridge,bagged" env:"TENKI_MODEL" help:"Regression model kind."`
	Lags  int    `default:"7" env:"TENKI_LAGS" help:"Days of history fed to the model."`

	BaseURL     string        `default:"https://www.data.jma.go.jp/obd/stats/etrn/view/hourly_s1.php" env:"TENKI_JMA_URL" help:"JMA hourly table URL."`
	Delay       time.Duration `default:"100ms" env:"TENKI_DELAY" help:"Pause between portal requests."`
	HTTPTimeout time.Duration `default:"10s" env:"TENKI_HTTP_TIMEOUT" help:"Per-request timeout."`
	Retries     uint64        `default:"0" env:"TENKI_RETRIES" help:"Extra attempts per failed request."`

	OpenAIKey   string `env:"OPENAI_API_KEY" help:"Enables narrative commentary when set."`
	OpenAIModel string `default:"gpt-4o-mini" env:"TENKI_OPENAI_MODEL" help:"Chat model for narratives."`
}

// app holds the wired components for one command invocation.
type app struct {
	logger  *slog.Logger
	store   *store.Store
	reg     registry.Registry
	loc     *time.Location
	fetcher *ingest.Fetcher
}

func (g *Globals) open(ctx context.Context) (*app, error) {
	logger, err := logging.New(os.Stderr, g.LogFormat, g.LogLevel)
	if err != nil {
		return nil, err
	}

	reg, err := registry.Parse(g.Stations, g.Fields, g.Primary)
	if err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(g.Timezone)
	if err != nil {
		logger.Warn("tenki: unknown timezone, using JST", "timezone", g.Timezone, "error", err)
		loc = forecast.JST
	}

	st, err := store.Open(g.DB, logger)
	if err != nil {
		return nil, err
	}
	if err := st.SyncStations(ctx, reg); err != nil {
		st.Close()
		return nil, fmt.Errorf("sync stations: %w", err)
	}

	fetcher := ingest.NewFetcher(ingest.FetcherConfig{
		Client:  httputil.NewClient(g.HTTPTimeout),
		BaseURL: g.BaseURL,
		Retries: g.Retries,
		Logger:  logger,
	})

	return &app{logger: logger, store: st, reg: reg, loc: loc, fetcher: fetcher}, nil
}

func (a *app) Close() error { return a.store.Close() }

func (a *app) builder(delay time.Duration) *history.Builder {
	return history.NewBuilder(history.BuilderConfig{
		Fetcher:  a.fetcher,
		Registry: a.reg,
		Delay:    delay,
		Sink:     a.store,
		Logger:   a.logger,
	})
}

func (a *app) service(g *Globals) (*forecast.Service, error) {
	kind, err := forecast.ParseKind(g.Model)
	if err != nil {
		return nil, err
	}
	cfg := forecast.ServiceConfig{
		Forecaster: forecast.New(forecast.Config{
			Registry: a.reg,
			Lags:     g.Lags,
			Fit:      forecast.FitOptions{Kind: kind},
		}),
		Registry:   a.reg,
		Repository: a.store,
		Builder:    a.builder(g.Delay),
		Location:   a.loc,
		Logger:     a.logger,
	}
	if g.OpenAIKey != "" {
		n, err := narrative.New(narrative.Config{
			APIKey: g.OpenAIKey,
			Model:  g.OpenAIModel,
			Logger: a.logger,
		})
		if err != nil {
			return nil, err
		}
		cfg.Narrator = n
	}
	return forecast.NewService(cfg), nil
}
