// Package features turns the history table into lagged feature vectors.
//
// The column order is owned by Schema and is identical for training and
// inference: lag 1 (the most recent day) first, then for each lag every
// station in registry order, and for each station every field in registry
// order.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

// DefaultLags is the length of the lag window in days.
const DefaultLags = 7

var ErrSchemaMismatch = errors.New("feature schema mismatch")

// Key identifies one feature column.
type Key struct {
	Lag     int          `json:"lag"`
	Station string       `json:"station"`
	Field   models.Field `json:"field"`
}

// Name is the column name, e.g. lag1_tokyo_temp_max.
func (k Key) Name() string {
	return fmt.Sprintf("lag%d_%s", k.Lag, registry.Column(k.Station, k.Field))
}

// Schema is the ordered list of feature columns.
type Schema struct {
	Lags int   `json:"lags"`
	Keys []Key `json:"keys"`
}

// NewSchema enumerates lag × station × field for the registry.
func NewSchema(reg registry.Registry, lags int) Schema {
	if lags <= 0 {
		lags = DefaultLags
	}
	stations := reg.StationNames()
	fields := reg.Fields()
	keys := make([]Key, 0, lags*len(stations)*len(fields))
	for lag := 1; lag <= lags; lag++ {
		for _, st := range stations {
			for _, f := range fields {
				keys = append(keys, Key{Lag: lag, Station: st, Field: f})
			}
		}
	}
	return Schema{Lags: lags, Keys: keys}
}

func (s Schema) Len() int { return len(s.Keys) }

func (s Schema) names() []string {
	names := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		names[i] = k.Name()
	}
	return names
}

// Equal returns nil when both schemas have the same keys in the same order,
// and an error wrapping ErrSchemaMismatch that names the first difference
// otherwise.
func (s Schema) Equal(other Schema) error {
	if s.Lags != other.Lags {
		return fmt.Errorf("%w: lag window %d, want %d", ErrSchemaMismatch, other.Lags, s.Lags)
	}
	if len(s.Keys) != len(other.Keys) {
		return fmt.Errorf("%w: %d features, want %d", ErrSchemaMismatch, len(other.Keys), len(s.Keys))
	}
	for i := range s.Keys {
		if s.Keys[i] != other.Keys[i] {
			return fmt.Errorf("%w: feature %d is %s, want %s", ErrSchemaMismatch, i, other.Keys[i].Name(), s.Keys[i].Name())
		}
	}
	return nil
}

// Target names the value being predicted.
type Target struct {
	Station string       `json:"station"`
	Field   models.Field `json:"field"`
}

func (t Target) Name() string { return registry.Column(t.Station, t.Field) }

// Matrix is a trainable design matrix. Row i of X is the feature vector for
// Dates[i] and Y[i] is the target observed on that date.
type Matrix struct {
	Dates []time.Time
	X     [][]float64
	Y     []float64
}

func (m Matrix) Len() int { return len(m.Y) }

// Build shifts the table along its row order: the lag-k feature of row i is
// row i-k. The first s.Lags rows, and any row with a missing feature or
// target, are left out. A gap in the table's dates therefore shortens the
// real lag distance.
func Build(t history.Table, s Schema, target Target) Matrix {
	var m Matrix
	for i := s.Lags; i < t.Len(); i++ {
		y := t.Value(i, target.Station, target.Field)
		if !finite(y) {
			continue
		}

		x := make([]float64, len(s.Keys))
		ok := true
		for j, k := range s.Keys {
			v := t.Value(i-k.Lag, k.Station, k.Field)
			if !finite(v) {
				ok = false
				break
			}
			x[j] = v
		}
		if !ok {
			continue
		}

		m.Dates = append(m.Dates, t.Rows[i].Date)
		m.X = append(m.X, x)
		m.Y = append(m.Y, y)
	}
	return m
}

// Vector builds the inference vector. recent[0] is the most recent day
// (lag 1) and recent[s.Lags-1] the oldest, matching Build.
func Vector(s Schema, recent []models.Snapshot) ([]float64, error) {
	if len(recent) < s.Lags {
		return nil, fmt.Errorf("need %d recent days, have %d", s.Lags, len(recent))
	}
	x := make([]float64, len(s.Keys))
	for j, k := range s.Keys {
		obs, ok := recent[k.Lag-1].Stations[k.Station]
		if !ok {
			return nil, fmt.Errorf("%s: station %s missing on %s", k.Name(), k.Station, recent[k.Lag-1].Date.Format(models.DateLayout))
		}
		v := obs.Value(k.Field)
		if !finite(v) {
			return nil, fmt.Errorf("%s: value missing on %s", k.Name(), recent[k.Lag-1].Date.Format(models.DateLayout))
		}
		x[j] = v
	}
	return x, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
