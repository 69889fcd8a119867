// Package api serves the dashboard, the JSON endpoints and the forecast card.
package api

import (
	"context"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/imagegen"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

// Forecaster runs a forecast on demand; *forecast.Service satisfies it.
type Forecaster interface {
	Run(ctx context.Context) (*forecast.Result, error)
}

type Config struct {
	Store *store.Store
	// Forecaster is optional; without it POST /forecast reports an error.
	Forecaster Forecaster
	Registry   registry.Registry
	Addr       string
	Location   *time.Location
	Clock      clockwork.Clock
	Logger     *slog.Logger
}

type Server struct {
	store      *store.Store
	forecaster Forecaster
	reg        registry.Registry
	addr       string
	loc        *time.Location
	clock      clockwork.Clock
	tmpl       *template.Template
	cards      *imagegen.Cache
	logger     *slog.Logger
}

func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}
	return &Server{
		store:      cfg.Store,
		forecaster: cfg.Forecaster,
		reg:        cfg.Registry,
		addr:       cfg.Addr,
		loc:        cfg.Location,
		clock:      cfg.Clock,
		tmpl:       newTemplates(),
		cards:      imagegen.NewCache(time.Hour, cfg.Clock),
		logger:     cfg.Logger,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /forecast", s.handleForecast)
	mux.HandleFunc("GET /forecast.png", s.handleForecastImage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/forecast/latest", s.handleAPILatestForecast)
	mux.HandleFunc("GET /api/history", s.handleAPIHistory)
	mux.HandleFunc("GET /api/stations", s.handleAPIStations)
	mux.HandleFunc("GET /api/accuracy", s.handleAPIAccuracy)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn("api: shutdown", "error", err)
		}
	}()

	s.logger.Info("api: listening", "addr", s.addr)
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
