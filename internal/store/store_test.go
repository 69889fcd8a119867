package store

import (
	"context"
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := New(db, nil)
	if err := store.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func day(d int) time.Time {
	return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC)
}

func snapshot(date time.Time, stations ...string) models.Snapshot {
	snap := models.Snapshot{Date: date, Stations: map[string]models.DailyObservation{}}
	for i, name := range stations {
		obs := models.NewDailyObservation(name, date)
		for j, f := range models.AllFields {
			obs.SetValue(f, float64(date.Day()*100+i*10+j))
		}
		snap.Stations[name] = obs
	}
	return snap
}

func TestMigrate_Idempotent(t *testing.T) {
	store := setupTestStore(t)
	require.NoError(t, store.Migrate())

	v, err := store.MigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, len(migrations), v)
}

func TestSyncStations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SyncStations(ctx, registry.Default()))
	stations, err := store.GetActiveStations(ctx)
	require.NoError(t, err)
	assert.Len(t, stations, len(registry.Default().Stations()))

	// kofu drops out of the registry
	moved, err := registry.Parse("tokyo=44:47662,osaka=62:47772", "base", "")
	require.NoError(t, err)
	require.NoError(t, store.SyncStations(ctx, moved))

	stations, err = store.GetActiveStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "osaka", stations[0].Name)
	assert.Equal(t, 62, stations[0].PrecNo)
	assert.Equal(t, 47772, stations[0].BlockNo)
	assert.True(t, stations[0].Active)
	assert.Equal(t, "tokyo", stations[1].Name)
}

func TestSaveSnapshot_RoundTripsNaNAndFlags(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	snap := snapshot(day(1), "tokyo", "kofu")
	obs := snap.Stations["tokyo"]
	obs.Sunshine = math.NaN()
	obs.QualityFlags = []string{"calm_with_speed"}
	snap.Stations["tokyo"] = obs
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.DailyObservation(ctx, "tokyo", day(1))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, math.IsNaN(got.Sunshine))
	assert.Equal(t, obs.TempMax, got.TempMax)
	assert.Equal(t, obs.WindV, got.WindV)
	assert.Equal(t, []string{"calm_with_speed"}, got.QualityFlags)
	assert.True(t, got.Date.Equal(day(1)))

	missing, err := store.DailyObservation(ctx, "tokyo", day(2))
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSaveSnapshot_Upserts(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	snap := snapshot(day(1), "tokyo")
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	obs := snap.Stations["tokyo"]
	obs.TempMax = 21.5
	snap.Stations["tokyo"] = obs
	require.NoError(t, store.SaveSnapshot(ctx, snap))

	got, err := store.DailyObservation(ctx, "tokyo", day(1))
	require.NoError(t, err)
	assert.Equal(t, 21.5, got.TempMax)

	var count int
	require.NoError(t, store.db.Get(&count, "SELECT COUNT(*) FROM daily_observations"))
	assert.Equal(t, 1, count)
}

func TestLoadHistory_OnlyCompleteDates(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	reg, err := registry.Parse("tokyo=44:47662,kofu=49:47638", "base", "")
	require.NoError(t, err)

	tbl := history.NewTable(
		snapshot(day(3), "tokyo", "kofu"),
		snapshot(day(1), "tokyo", "kofu"),
	)
	n, err := store.SaveTable(ctx, tbl)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	// partial day
	require.NoError(t, store.SaveSnapshot(ctx, snapshot(day(2), "tokyo")))
	// station outside the registry
	require.NoError(t, store.SaveSnapshot(ctx, snapshot(day(1), "osaka")))

	got, err := store.LoadHistory(ctx, reg)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())
	assert.True(t, got.Rows[0].Date.Equal(day(1)))
	assert.True(t, got.Rows[1].Date.Equal(day(3)))
	assert.Len(t, got.Rows[0].Stations, 2)
	assert.Equal(t, tbl.Rows[0].Stations["kofu"].ThetaE, got.Rows[0].Stations["kofu"].ThetaE)

	ranged, err := store.LoadRange(ctx, reg, day(2), day(5))
	require.NoError(t, err)
	require.Equal(t, 1, ranged.Len())
	assert.True(t, ranged.Rows[0].Date.Equal(day(3)))

	latest, ok, err := store.LatestDate(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, latest.Equal(day(3)))
}

func TestLatestDate_Empty(t *testing.T) {
	store := setupTestStore(t)
	_, ok, err := store.LatestDate(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestModels(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	m, err := store.LatestModel(ctx, "tokyo_temp_max")
	require.NoError(t, err)
	assert.Nil(t, m)

	older := &ModelRecord{
		Target: "tokyo_temp_max", Kind: "linear", TrainedMonth: 2,
		TrainedAt: time.Date(2024, 2, 1, 6, 0, 0, 0, time.UTC), TrainingRows: 100,
		Artifact: []byte(`{"old":true}`),
	}
	newer := &ModelRecord{
		Target: "tokyo_temp_max", Kind: "ridge", TrainedMonth: 3,
		TrainedAt: time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC), TrainingRows: 130,
		Artifact: []byte(`{"new":true}`),
	}
	other := &ModelRecord{
		Target: "tokyo_temp_min", Kind: "linear", TrainedMonth: 3,
		TrainedAt: time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC), TrainingRows: 130,
		Artifact: []byte(`{}`),
	}
	for _, rec := range []*ModelRecord{older, newer, other} {
		require.NoError(t, store.SaveModel(ctx, rec))
		assert.NotZero(t, rec.ID)
	}

	m, err = store.LatestModel(ctx, "tokyo_temp_max")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "ridge", m.Kind)
	assert.Equal(t, 3, m.TrainedMonth)
	assert.Equal(t, 130, m.TrainingRows)
	assert.Equal(t, []byte(`{"new":true}`), m.Artifact)
	assert.True(t, m.TrainedAt.Equal(newer.TrainedAt))
}

func TestForecastRunsAndVerification(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	latest, err := store.LatestForecastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)

	run := &models.ForecastRun{
		RunAt:        time.Date(2024, 3, 5, 7, 0, 0, 0, time.UTC),
		IssueDate:    day(5),
		StationID:    "tokyo",
		ModelKind:    "linear",
		TrainingRows: 300,
		TodayMax:     15.2,
		TodayMin:     6.1,
		TomorrowMax:  16.0,
		TomorrowMin:  7.0,
		ThetaEDelta:  sql.NullFloat64{Float64: 1.5, Valid: true},
		Commentary:   "stable",
	}
	require.NoError(t, store.SaveForecastRun(ctx, run))
	require.NotZero(t, run.ID)
	require.NoError(t, store.SetNarrative(ctx, run.ID, "mild"))

	latest, err = store.LatestForecastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, run.ID, latest.ID)
	assert.True(t, latest.IssueDate.Equal(day(5)))
	assert.Equal(t, 16.0, latest.TomorrowMax)
	assert.Equal(t, 300, latest.TrainingRows)
	assert.Equal(t, sql.NullString{String: "mild", Valid: true}, latest.Narrative)
	assert.Equal(t, 1.5, latest.ThetaEDelta.Float64)

	runs, err := store.ForecastRunsIssued(ctx, day(5))
	require.NoError(t, err)
	require.Len(t, runs, 1)

	none, err := store.ForecastRunsIssued(ctx, day(6))
	require.NoError(t, err)
	assert.Empty(t, none)

	verifications := []models.ForecastVerification{
		{RunID: run.ID, ValidDate: day(5), LeadDay: 0, ForecastTempMax: 15.2, ForecastTempMin: 6.1,
			ActualTempMax: 14.2, ActualTempMin: 7.1, BiasTempMax: 1.0, BiasTempMin: -1.0},
		{RunID: run.ID, ValidDate: day(6), LeadDay: 1, ForecastTempMax: 16.0, ForecastTempMin: 7.0,
			ActualTempMax: 19.0, ActualTempMin: 5.0, BiasTempMax: -3.0, BiasTempMin: 2.0},
	}
	for _, v := range verifications {
		require.NoError(t, store.InsertVerification(ctx, v))
	}
	// duplicate is ignored
	require.NoError(t, store.InsertVerification(ctx, verifications[0]))

	has, err := store.HasVerification(ctx, run.ID, 1)
	require.NoError(t, err)
	assert.True(t, has)
	has, err = store.HasVerification(ctx, run.ID, 2)
	require.NoError(t, err)
	assert.False(t, has)

	stats, err := store.VerificationStats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, 0, stats[0].LeadDay)
	assert.Equal(t, 1, stats[0].Count)
	assert.InDelta(t, 1.0, stats[0].AvgMaxBias.Float64, 1e-9)
	assert.InDelta(t, 1.0, stats[0].MAEMin.Float64, 1e-9)
	assert.Equal(t, 1, stats[1].LeadDay)
	assert.InDelta(t, 3.0, stats[1].MAEMax.Float64, 1e-9)
	assert.InDelta(t, 2.0, stats[1].AvgMinBias.Float64, 1e-9)
}

func TestIngestRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	ok, err := store.StartIngestRun(ctx, "jma", "hourly_s1", day(1), day(3))
	require.NoError(t, err)
	ok.Success = true
	ok.DatesVisited = sql.NullInt64{Int64: 3, Valid: true}
	ok.RowsStored = sql.NullInt64{Int64: 2, Valid: true}
	ok.DatesSkipped = sql.NullInt64{Int64: 1, Valid: true}
	require.NoError(t, store.CompleteIngestRun(ctx, ok))

	failed, err := store.StartIngestRun(ctx, "jma", "hourly_s1", day(4), day(4))
	require.NoError(t, err)
	failed.ErrorMessage = sql.NullString{String: "context canceled", Valid: true}
	require.NoError(t, store.CompleteIngestRun(ctx, failed))

	require.NoError(t, store.CompleteIngestRun(ctx, nil))

	errs, err := store.GetRecentIngestErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, failed.ID, errs[0].ID)
	assert.Equal(t, "context canceled", errs[0].ErrorMessage.String)
	assert.Equal(t, "2024-03-04", errs[0].RangeStart.String)
	assert.True(t, errs[0].FinishedAt.Valid)

	health, err := store.GetIngestHealth(ctx, 1)
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.Equal(t, 2, health[0].TotalRuns)
	assert.Equal(t, 1, health[0].SuccessRuns)
	assert.Equal(t, 1, health[0].FailedRuns)
	assert.Equal(t, int64(2), health[0].RowsStored)
}
