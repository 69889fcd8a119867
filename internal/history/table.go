// Package history assembles per-station daily observations into the
// date-ordered table the models are trained on.
package history

import (
	"math"
	"slices"
	"time"

	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

// Table is an ascending, duplicate-free sequence of complete daily rows.
type Table struct {
	Rows []models.Snapshot
}

// NewTable sorts rows by date. When a date appears more than once the last
// occurrence wins.
func NewTable(rows ...models.Snapshot) Table {
	byDate := make(map[time.Time]int, len(rows))
	out := make([]models.Snapshot, 0, len(rows))
	for _, r := range rows {
		r.Date = models.DateOnly(r.Date)
		if i, ok := byDate[r.Date]; ok {
			out[i] = r
			continue
		}
		byDate[r.Date] = len(out)
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b models.Snapshot) int {
		return a.Date.Compare(b.Date)
	})
	return Table{Rows: out}
}

// Merge combines tables; rows from later tables replace earlier ones on the
// same date.
func Merge(tables ...Table) Table {
	var all []models.Snapshot
	for _, t := range tables {
		all = append(all, t.Rows...)
	}
	return NewTable(all...)
}

func (t Table) Len() int { return len(t.Rows) }

// Last returns the most recent row.
func (t Table) Last() (models.Snapshot, bool) {
	if len(t.Rows) == 0 {
		return models.Snapshot{}, false
	}
	return t.Rows[len(t.Rows)-1], true
}

// Recent returns up to n rows, most recent first.
func (t Table) Recent(n int) []models.Snapshot {
	if n > len(t.Rows) {
		n = len(t.Rows)
	}
	out := make([]models.Snapshot, 0, n)
	for i := len(t.Rows) - 1; i >= len(t.Rows)-n; i-- {
		out = append(out, t.Rows[i])
	}
	return out
}

// Between returns the rows with start <= date <= end.
func (t Table) Between(start, end time.Time) Table {
	start, end = models.DateOnly(start), models.DateOnly(end)
	var out []models.Snapshot
	for _, r := range t.Rows {
		if !r.Date.Before(start) && !r.Date.After(end) {
			out = append(out, r)
		}
	}
	return Table{Rows: out}
}

// Value returns a station's field on row i, NaN when the station is absent.
func (t Table) Value(i int, station string, f models.Field) float64 {
	obs, ok := t.Rows[i].Stations[station]
	if !ok {
		return math.NaN()
	}
	return obs.Value(f)
}

// Complete reports whether snap has an observation for every registry station.
func Complete(snap models.Snapshot, reg registry.Registry) bool {
	for _, name := range reg.StationNames() {
		if _, ok := snap.Stations[name]; !ok {
			return false
		}
	}
	return true
}
