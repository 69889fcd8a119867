package api

import (
	"math"
	"time"

	"github.com/lox/tenki/internal/forecast"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/store"
)

// IndexData is everything the dashboard renders.
type IndexData struct {
	Station  string
	Palette  forecast.Palette
	Forecast *ForecastView
	Error    string
	Accuracy []models.VerificationStats
}

// ForecastView is a forecast run formatted for the page.
type ForecastView struct {
	RunAt       string
	Today       string
	Tomorrow    string
	TodayMax    float64
	TodayMin    float64
	TomorrowMax float64
	TomorrowMin float64
	Commentary  string
	Narrative   string
	Trend       []TrendRow
}

// TrendRow is one day of the trend table; Forecast marks predicted rows.
type TrendRow struct {
	Date     string
	Max      float64
	Min      float64
	Forecast bool
}

func newForecastView(run models.ForecastRun, loc *time.Location) *ForecastView {
	return &ForecastView{
		RunAt:       run.RunAt.In(loc).Format("2006-01-02 15:04"),
		Today:       run.IssueDate.Format(models.DateLayout),
		Tomorrow:    run.IssueDate.AddDate(0, 0, 1).Format(models.DateLayout),
		TodayMax:    run.TodayMax,
		TodayMin:    run.TodayMin,
		TomorrowMax: run.TomorrowMax,
		TomorrowMin: run.TomorrowMin,
		Commentary:  run.Commentary,
		Narrative:   run.Narrative.String,
	}
}

// trendRows lists the observed days of station followed by the two forecast days.
func trendRows(recent []models.Snapshot, station string, run models.ForecastRun) []TrendRow {
	rows := make([]TrendRow, 0, len(recent)+2)
	for _, snap := range recent {
		row := TrendRow{Date: snap.Date.Format(models.DateLayout), Max: math.NaN(), Min: math.NaN()}
		if obs, ok := snap.Stations[station]; ok {
			row.Max, row.Min = obs.TempMax, obs.TempMin
		}
		rows = append(rows, row)
	}
	return append(rows,
		TrendRow{Date: run.IssueDate.Format(models.DateLayout), Max: run.TodayMax, Min: run.TodayMin, Forecast: true},
		TrendRow{Date: run.IssueDate.AddDate(0, 0, 1).Format(models.DateLayout), Max: run.TomorrowMax, Min: run.TomorrowMin, Forecast: true},
	)
}

// predictionOf restores the prediction a stored run was made from.
func predictionOf(run *models.ForecastRun) *forecast.Prediction {
	if run == nil {
		return nil
	}
	return &forecast.Prediction{
		Station:     run.StationID,
		Today:       run.IssueDate,
		Tomorrow:    run.IssueDate.AddDate(0, 0, 1),
		TodayMax:    run.TodayMax,
		TodayMin:    run.TodayMin,
		TomorrowMax: run.TomorrowMax,
		TomorrowMin: run.TomorrowMin,
		ThetaEDelta: run.ThetaEDelta.Float64,
		Commentary:  run.Commentary,
	}
}

func paletteForRun(run *models.ForecastRun) forecast.Palette {
	return forecast.PaletteFor(predictionOf(run))
}

// ForecastJSON is the API shape of a forecast run.
type ForecastJSON struct {
	ID          int64     `json:"id"`
	RunAt       time.Time `json:"run_at"`
	Station     string    `json:"station"`
	Model       string    `json:"model"`
	Today       string    `json:"today"`
	Tomorrow    string    `json:"tomorrow"`
	TodayMax    float64   `json:"today_max"`
	TodayMin    float64   `json:"today_min"`
	TomorrowMax float64   `json:"tomorrow_max"`
	TomorrowMin float64   `json:"tomorrow_min"`
	ThetaEDelta *float64  `json:"theta_e_delta"`
	Commentary  string    `json:"commentary"`
	Narrative   *string   `json:"narrative,omitempty"`
}

func newForecastJSON(run models.ForecastRun) ForecastJSON {
	out := ForecastJSON{
		ID:          run.ID,
		RunAt:       run.RunAt,
		Station:     run.StationID,
		Model:       run.ModelKind,
		Today:       run.IssueDate.Format(models.DateLayout),
		Tomorrow:    run.IssueDate.AddDate(0, 0, 1).Format(models.DateLayout),
		TodayMax:    run.TodayMax,
		TodayMin:    run.TodayMin,
		TomorrowMax: run.TomorrowMax,
		TomorrowMin: run.TomorrowMin,
		Commentary:  run.Commentary,
	}
	if run.ThetaEDelta.Valid {
		v := run.ThetaEDelta.Float64
		out.ThetaEDelta = &v
	}
	if run.Narrative.Valid {
		v := run.Narrative.String
		out.Narrative = &v
	}
	return out
}

// HistoryRow is one stored day keyed by CSV column name; missing values are null.
type HistoryRow struct {
	Date   string              `json:"date"`
	Values map[string]*float64 `json:"values"`
}

// AccuracyJSON is the API shape of verification stats for one lead day.
type AccuracyJSON struct {
	LeadDay    int      `json:"lead_day"`
	Count      int      `json:"count"`
	AvgMaxBias *float64 `json:"avg_max_bias"`
	AvgMinBias *float64 `json:"avg_min_bias"`
	MAEMax     *float64 `json:"mae_max"`
	MAEMin     *float64 `json:"mae_min"`
}

// HealthStatus is the /health response.
type HealthStatus struct {
	Status        string                      `json:"status"`
	SchemaVersion int                         `json:"schema_version"`
	LatestDate    string                      `json:"latest_date,omitempty"`
	AgeDays       int                         `json:"age_days"`
	Ingest        []store.IngestHealthSummary `json:"ingest"`
	RecentErrors  []string                    `json:"recent_errors,omitempty"`
	Errors        []string                    `json:"errors,omitempty"`
}

// StationJSON is the API shape of a configured station.
type StationJSON struct {
	Name    string `json:"name"`
	PrecNo  int    `json:"prec_no"`
	BlockNo int    `json:"block_no"`
	Primary bool   `json:"primary"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
