package history

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

// Header returns the CSV header: date, then station_field for every station
// and field in registry order.
func Header(reg registry.Registry) []string {
	header := []string{"date"}
	for _, st := range reg.StationNames() {
		for _, f := range reg.Fields() {
			header = append(header, registry.Column(st, f))
		}
	}
	return header
}

// WriteCSV writes t in registry column order. Missing values are empty.
func WriteCSV(w io.Writer, t Table, reg registry.Registry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(reg)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	stations := reg.StationNames()
	fields := reg.Fields()
	for _, row := range t.Rows {
		rec := make([]string, 0, 1+len(stations)*len(fields))
		rec = append(rec, row.Date.Format(models.DateLayout))
		for _, st := range stations {
			obs, ok := row.Stations[st]
			for _, f := range fields {
				v := math.NaN()
				if ok {
					v = obs.Value(f)
				}
				rec = append(rec, formatValue(v))
			}
		}
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("write %s: %w", row.Date.Format(models.DateLayout), err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV or by earlier tooling. Columns
// are matched by name; unknown columns are ignored and columns absent from
// the file read as missing. Rows missing a station entirely are dropped so
// the table keeps only complete dates.
func ReadCSV(r io.Reader, reg registry.Registry) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, errors.New("read csv: empty input")
		}
		return Table{}, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	dateCol, ok := index["date"]
	if !ok {
		return Table{}, errors.New("read csv: no date column")
	}

	stations := reg.StationNames()
	fields := reg.Fields()
	var rows []models.Snapshot
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return Table{}, fmt.Errorf("read line %d: %w", line, err)
		}
		if dateCol >= len(rec) {
			return Table{}, fmt.Errorf("read line %d: missing date", line)
		}
		date, err := time.Parse(models.DateLayout, strings.TrimSpace(rec[dateCol]))
		if err != nil {
			return Table{}, fmt.Errorf("read line %d: %w", line, err)
		}

		snap := models.Snapshot{Date: date, Stations: make(map[string]models.DailyObservation, len(stations))}
		for _, st := range stations {
			obs := models.NewDailyObservation(st, date)
			present := false
			for _, f := range fields {
				col, ok := index[registry.Column(st, f)]
				if !ok || col >= len(rec) {
					continue
				}
				present = true
				v, err := parseValue(rec[col])
				if err != nil {
					return Table{}, fmt.Errorf("read line %d column %s: %w", line, header[col], err)
				}
				obs.SetValue(f, v)
			}
			if present {
				snap.Stations[st] = obs
			}
		}
		if len(snap.Stations) == len(stations) {
			rows = append(rows, snap)
		}
	}

	return NewTable(rows...), nil
}

func formatValue(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func parseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan":
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
