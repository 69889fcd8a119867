package main

import (
	"bytes"
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

func TestPrintResult(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	obs := models.NewDailyObservation("tokyo", day(9))
	obs.TempMax, obs.TempMin = 13.4, 5.2

	res := &forecast.Result{
		Run: models.ForecastRun{Narrative: sql.NullString{String: "Bring a jacket.", Valid: true}},
		Prediction: &forecast.Prediction{
			Station: "tokyo", Today: day(10), Tomorrow: day(11),
			TodayMax: 14.2, TodayMin: 6.1, TomorrowMax: 15.3, TomorrowMin: 7.4,
			Commentary: forecast.WarmerSlightText,
		},
		Recent: []models.Snapshot{{Date: day(9), Stations: map[string]models.DailyObservation{"tokyo": obs}}},
	}

	var buf bytes.Buffer
	assert.NoError(t, printResult(&buf, res, "tokyo"))
	out := buf.String()

	assert.Contains(t, out, "2024-03-09  13.4  5.2")
	assert.Contains(t, out, "2024-03-11  15.3  7.4  tomorrow")
	assert.True(t, strings.Index(out, forecast.WarmerSlightText) < strings.Index(out, "Bring a jacket."))
}

func TestImportCSVCmd(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "history.csv")
	data := "date,tokyo_temp_max,kofu_temp_max\n" +
		"2024-01-02,9.5,8.0\n" +
		"2024-01-01,10.0,7.5\n" +
		"2024-01-03,11.0,9.0\n"
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	g := &Globals{
		DB:          filepath.Join(dir, "tenki.db"),
		LogFormat:   "text",
		LogLevel:    "error",
		Timezone:    "Asia/Tokyo",
		Stations:    "tokyo=44:47662,kofu=49:47638",
		Fields:      "all",
		Primary:     "tokyo",
		BaseURL:     "http://127.0.0.1:0/",
		HTTPTimeout: time.Second,
	}
	require.NoError(t, (&ImportCSVCmd{File: file}).Run(g, context.Background()))

	st, err := store.Open(g.DB, nil)
	require.NoError(t, err)
	defer st.Close()
	reg, err := registry.Parse(g.Stations, g.Fields, g.Primary)
	require.NoError(t, err)

	tbl, err := st.LoadHistory(context.Background(), reg)
	require.NoError(t, err)
	require.Equal(t, 3, tbl.Len())
	last, ok := tbl.Last()
	require.True(t, ok)
	assert.Equal(t, "2024-01-03", last.Date.Format(models.DateLayout))
	assert.Equal(t, 11.0, last.Stations["tokyo"].TempMax)
}
