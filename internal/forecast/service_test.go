package forecast

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lox/tenki/internal/history"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/registry"
	"github.com/lox/tenki/internal/store"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	s := store.New(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

type stubBuilder struct {
	source history.Table
	calls  [][2]time.Time
}

func (b *stubBuilder) Build(_ context.Context, start, end time.Time) (history.Table, history.BuildStats, error) {
	b.calls = append(b.calls, [2]time.Time{start, end})
	t := b.source.Between(start, end)
	return t, history.BuildStats{RowsBuilt: t.Len()}, nil
}

type stubNarrator struct {
	text string
	err  error
	got  []models.Snapshot
}

func (n *stubNarrator) Narrate(_ context.Context, _ *Prediction, recent []models.Snapshot) (string, error) {
	n.got = recent
	return n.text, n.err
}

// noonJST returns 12:00 JST on the given UTC calendar date.
func noonJST(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 3, 0, 0, 0, time.UTC)
}

func newService(repo Repository, clock clockwork.Clock, b Builder, n Narrator) *Service {
	reg := registry.Default()
	return NewService(ServiceConfig{
		Forecaster: New(Config{Registry: reg}),
		Registry:   reg,
		Repository: repo,
		Builder:    b,
		Narrator:   n,
		Clock:      clock,
	})
}

func TestService_RunTrainsAndPersists(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40)) // through 2024-02-09
	require.NoError(t, err)

	narrator := &stubNarrator{text: "A mild day."}
	svc := newService(st, clockwork.NewFakeClockAt(noonJST(2024, 2, 10)), nil, narrator)

	res, err := svc.Run(ctx)
	require.NoError(t, err)

	assert.True(t, res.Prediction.Today.Equal(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC)))
	require.Len(t, res.Recent, 7)
	assert.True(t, res.Recent[0].Date.Equal(time.Date(2024, 2, 3, 0, 0, 0, 0, time.UTC)))
	assert.True(t, res.Recent[6].Date.Equal(time.Date(2024, 2, 9, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, res.Recent, narrator.got)

	latest, err := st.LatestForecastRun(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, res.Run.ID, latest.ID)
	assert.Equal(t, "tokyo", latest.StationID)
	assert.Equal(t, "linear", latest.ModelKind)
	assert.InDelta(t, res.Prediction.TomorrowMax, latest.TomorrowMax, 1e-9)
	assert.Equal(t, "A mild day.", latest.Narrative.String)
	assert.Equal(t, res.Prediction.Commentary, latest.Commentary)

	rec, err := st.LatestModel(ctx, "tokyo_temp_max")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int(time.February), rec.TrainedMonth)
	assert.Equal(t, 33, rec.TrainingRows)
}

func TestService_ReusesStoredModels(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40))
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(noonJST(2024, 2, 10))

	first, err := newService(st, clock, nil, nil).Run(ctx)
	require.NoError(t, err)
	trained, err := st.LatestModel(ctx, "tokyo_temp_min")
	require.NoError(t, err)

	second, err := newService(st, clock, nil, nil).Run(ctx)
	require.NoError(t, err)
	reused, err := st.LatestModel(ctx, "tokyo_temp_min")
	require.NoError(t, err)

	assert.Equal(t, trained.ID, reused.ID, "same month must not retrain")
	assert.InDelta(t, first.Prediction.TodayMin, second.Prediction.TodayMin, 1e-9)
	assert.NotEqual(t, first.Run.ID, second.Run.ID)
}

func TestService_RetrainsForNewMonthAndFetchesMissingDays(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40))
	require.NoError(t, err)
	clock := clockwork.NewFakeClockAt(noonJST(2024, 2, 10))
	builder := &stubBuilder{source: syntheticTable(60)} // through 2024-02-29

	svc := newService(st, clock, builder, nil)
	_, err = svc.Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, builder.calls)
	feb, err := st.LatestModel(ctx, "tokyo_temp_max")
	require.NoError(t, err)

	clock.Advance(20 * 24 * time.Hour) // 2024-03-01
	res, err := svc.Run(ctx)
	require.NoError(t, err)

	require.Len(t, builder.calls, 1)
	assert.True(t, builder.calls[0][0].Equal(time.Date(2024, 2, 23, 0, 0, 0, 0, time.UTC)))
	assert.True(t, builder.calls[0][1].Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)))
	assert.True(t, res.Prediction.Today.Equal(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))

	mar, err := st.LatestModel(ctx, "tokyo_temp_max")
	require.NoError(t, err)
	assert.NotEqual(t, feb.ID, mar.ID)
	assert.Equal(t, int(time.March), mar.TrainedMonth)
}

// wideBuilder ignores the requested range and returns its whole source.
type wideBuilder struct{ source history.Table }

func (b wideBuilder) Build(context.Context, time.Time, time.Time) (history.Table, history.BuildStats, error) {
	return b.source, history.BuildStats{RowsBuilt: b.source.Len()}, nil
}

func TestService_RecentIgnoresDaysOutsideWindow(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40)) // through 2024-02-09
	require.NoError(t, err)

	svc := newService(st, clockwork.NewFakeClockAt(noonJST(2024, 2, 13)), wideBuilder{source: syntheticTable(60)}, nil)
	res, err := svc.Run(ctx)
	require.NoError(t, err)

	require.Len(t, res.Recent, 7)
	assert.Equal(t, "2024-02-06", res.Recent[0].Date.Format(models.DateLayout))
	assert.Equal(t, "2024-02-12", res.Recent[len(res.Recent)-1].Date.Format(models.DateLayout))
}

func TestService_IncompleteRecentStoresNothing(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40))
	require.NoError(t, err)

	// two days after the last stored row, with no way to fetch the gap
	svc := newService(st, clockwork.NewFakeClockAt(noonJST(2024, 2, 12)), nil, nil)
	_, err = svc.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompleteRecent))

	latest, err := st.LatestForecastRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestService_NarratorFailureKeepsForecast(t *testing.T) {
	ctx := context.Background()
	st := setupStore(t)
	_, err := st.SaveTable(ctx, syntheticTable(40))
	require.NoError(t, err)

	narrator := &stubNarrator{err: errors.New("rate limited")}
	res, err := newService(st, clockwork.NewFakeClockAt(noonJST(2024, 2, 10)), nil, narrator).Run(ctx)
	require.NoError(t, err)
	assert.False(t, res.Run.Narrative.Valid)
	assert.NotEmpty(t, res.Run.Commentary)
}

func TestService_TrainWithoutHistory(t *testing.T) {
	st := setupStore(t)
	svc := newService(st, clockwork.NewFakeClockAt(noonJST(2024, 2, 10)), nil, nil)
	err := svc.Train(context.Background(), time.February)
	assert.True(t, errors.Is(err, ErrNoTrainingRows))
}
