package forecast

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/tenki/internal/features"
	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/metrics"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

type Config struct {
	Registry registry.Registry
	Lags     int
	Fit      FitOptions
	// Unweighted disables seasonal weighting of training rows.
	Unweighted bool
}

// Forecaster owns the max and min models of the primary station.
type Forecaster struct {
	reg        registry.Registry
	schema     features.Schema
	opts       FitOptions
	unweighted bool

	maxModel *Artifact
	minModel *Artifact
}

func New(cfg Config) *Forecaster {
	return &Forecaster{
		reg:        cfg.Registry,
		schema:     features.NewSchema(cfg.Registry, cfg.Lags),
		opts:       cfg.Fit.withDefaults(),
		unweighted: cfg.Unweighted,
	}
}

func (f *Forecaster) Schema() features.Schema { return f.schema }

func (f *Forecaster) Kind() Kind { return f.opts.Kind }

// Targets returns the primary station's max and min temperature targets.
func (f *Forecaster) Targets() (maxT, minT features.Target) {
	p := f.reg.Primary()
	return features.Target{Station: p, Field: models.FieldTempMax},
		features.Target{Station: p, Field: models.FieldTempMin}
}

// Models returns the loaded artifacts, nil before Train or Load.
func (f *Forecaster) Models() (maxA, minA *Artifact) { return f.maxModel, f.minModel }

// Train fits both targets on the table, weighting rows towards month.
func (f *Forecaster) Train(t history.Table, month time.Month, now time.Time) error {
	maxTarget, minTarget := f.Targets()
	maxA, err := f.train(t, maxTarget, month, now)
	if err != nil {
		return err
	}
	minA, err := f.train(t, minTarget, month, now)
	if err != nil {
		return err
	}
	f.maxModel, f.minModel = maxA, minA
	return nil
}

func (f *Forecaster) train(t history.Table, target features.Target, month time.Month, now time.Time) (*Artifact, error) {
	m := features.Build(t, f.schema, target)
	if m.Len() == 0 {
		return nil, fmt.Errorf("train %s: %w", target.Name(), ErrNoTrainingRows)
	}

	var w []float64
	if !f.unweighted {
		w = SeasonalWeights(m.Dates, month)
	}

	model, err := Fit(m.X, m.Y, w, f.opts)
	if err != nil {
		return nil, fmt.Errorf("train %s: %w", target.Name(), err)
	}
	metrics.TrainingsTotal.WithLabelValues(target.Name()).Inc()

	return &Artifact{
		Target:       target,
		Schema:       f.schema,
		Model:        *model,
		TrainedMonth: month,
		TrainedAt:    now,
		TrainingRows: m.Len(),
		FirstDate:    m.Dates[0],
		LastDate:     m.Dates[m.Len()-1],
	}, nil
}

// Load installs previously trained artifacts after checking they were fitted
// on this forecaster's schema and targets.
func (f *Forecaster) Load(maxA, minA *Artifact) error {
	maxTarget, minTarget := f.Targets()
	for _, c := range []struct {
		a      *Artifact
		target features.Target
	}{{maxA, maxTarget}, {minA, minTarget}} {
		if c.a == nil {
			return fmt.Errorf("load %s: missing artifact", c.target.Name())
		}
		if c.a.Target != c.target {
			return fmt.Errorf("load: artifact predicts %s, want %s", c.a.Target.Name(), c.target.Name())
		}
		if err := f.schema.Equal(c.a.Schema); err != nil {
			return fmt.Errorf("load %s: %w", c.target.Name(), err)
		}
	}
	f.maxModel, f.minModel = maxA, minA
	return nil
}

// Prediction is today's and tomorrow's forecast for the primary station.
type Prediction struct {
	Station     string
	Today       time.Time
	Tomorrow    time.Time
	TodayMax    float64
	TodayMin    float64
	TomorrowMax float64
	TomorrowMin float64
	// ThetaEDelta is lag1 minus lag2 theta-e of the primary station; NaN
	// when either day lacks it.
	ThetaEDelta float64
	Commentary  string
	// Synthetic is the stand-in for today used to chain the second step.
	Synthetic models.Snapshot
}

// Predict forecasts today from the recent days (recent[0] most recent, i.e.
// yesterday) and then tomorrow by feeding a synthetic today back in.
func (f *Forecaster) Predict(recent []models.Snapshot) (*Prediction, error) {
	if f.maxModel == nil || f.minModel == nil {
		return nil, errors.New("predict: models not trained or loaded")
	}
	if len(recent) < f.schema.Lags {
		return nil, fmt.Errorf("predict: need %d recent days, have %d", f.schema.Lags, len(recent))
	}
	recent = recent[:f.schema.Lags]

	todayMax, todayMin, err := f.step(recent)
	if err != nil {
		return nil, fmt.Errorf("predict today: %w", err)
	}

	synthetic := SyntheticDay(recent[0], f.reg.Primary(), todayMax, todayMin)
	chained := make([]models.Snapshot, 0, len(recent))
	chained = append(chained, synthetic)
	chained = append(chained, recent[:len(recent)-1]...)

	tomorrowMax, tomorrowMin, err := f.step(chained)
	if err != nil {
		return nil, fmt.Errorf("predict tomorrow: %w", err)
	}

	thetaDelta := math.NaN()
	if len(recent) >= 2 {
		p := f.reg.Primary()
		thetaDelta = recent[0].Stations[p].ThetaE - recent[1].Stations[p].ThetaE
	}

	return &Prediction{
		Station:     f.reg.Primary(),
		Today:       synthetic.Date,
		Tomorrow:    synthetic.Date.AddDate(0, 0, 1),
		TodayMax:    todayMax,
		TodayMin:    todayMin,
		TomorrowMax: tomorrowMax,
		TomorrowMin: tomorrowMin,
		ThetaEDelta: thetaDelta,
		Commentary:  Commentary(thetaDelta, tomorrowMax-todayMax),
		Synthetic:   synthetic,
	}, nil
}

func (f *Forecaster) step(recent []models.Snapshot) (hi, lo float64, err error) {
	x, err := features.Vector(f.schema, recent)
	if err != nil {
		return 0, 0, err
	}
	if hi, err = f.maxModel.Predict(f.schema, x); err != nil {
		return 0, 0, err
	}
	if lo, err = f.minModel.Predict(f.schema, x); err != nil {
		return 0, 0, err
	}
	return hi, lo, nil
}

// SyntheticDay builds the record that stands in for a day that has not been
// observed yet. The primary station takes the predicted extremes and their
// midpoint as the mean; every other quantity, and every other station, is
// carried over from last with precipitation set to zero. Humidity, pressure,
// sunshine and the derived fields are therefore yesterday's, which limits the
// accuracy of the second step.
func SyntheticDay(last models.Snapshot, primary string, predMax, predMin float64) models.Snapshot {
	date := last.Date.AddDate(0, 0, 1)
	out := models.Snapshot{Date: date, Stations: make(map[string]models.DailyObservation, len(last.Stations))}
	for name, obs := range last.Stations {
		obs.Date = date
		obs.Precip = 0
		obs.QualityFlags = nil
		if name == primary {
			obs.TempMax = predMax
			obs.TempMin = predMin
			obs.TempMean = (predMax + predMin) / 2
		}
		out.Stations[name] = obs
	}
	return out
}
