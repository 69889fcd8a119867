package models

import (
	"database/sql"
	"math"
	"time"
)

// DateLayout is the calendar-date format used in CSV files, URLs and the database.
const DateLayout = "2006-01-02"

type Station struct {
	Name    string `validate:"required,alphanum"` // column prefix, e.g. "tokyo"
	PrecNo  int    `validate:"gt=0"`              // JMA prefecture code
	BlockNo int    `validate:"gt=0"`              // JMA observation point code
	Active  bool
}

// Field names a tracked daily quantity. The string value is the CSV column suffix.
type Field string

const (
	FieldTempMean Field = "temp_mean"
	FieldTempMax  Field = "temp_max"
	FieldTempMin  Field = "temp_min"
	FieldHumidity Field = "hum"
	FieldPressure Field = "press"
	FieldPrecip   Field = "precip"
	FieldSunshine Field = "sun"
	FieldDewpoint Field = "dewpoint"
	FieldThetaE   Field = "theta_e"
	FieldVPD      Field = "vpd"
	FieldWindU    Field = "wind_u"
	FieldWindV    Field = "wind_v"
)

// BaseFields are the seven quantities read directly from the hourly table.
var BaseFields = []Field{
	FieldTempMean, FieldTempMax, FieldTempMin,
	FieldHumidity, FieldPressure, FieldPrecip, FieldSunshine,
}

// AllFields is BaseFields followed by the derived thermodynamic quantities.
var AllFields = []Field{
	FieldTempMean, FieldTempMax, FieldTempMin,
	FieldHumidity, FieldPressure, FieldPrecip, FieldSunshine,
	FieldDewpoint, FieldThetaE, FieldVPD, FieldWindU, FieldWindV,
}

// DailyObservation is one station's summary of one day of hourly rows.
// Unparseable quantities are NaN; a day that could not be fetched at all has
// no DailyObservation.
type DailyObservation struct {
	Date      time.Time
	StationID string
	TempMean  float64
	TempMax   float64
	TempMin   float64
	Humidity  float64 // mean relative humidity, percent
	Pressure  float64 // mean sea-level pressure, hPa
	Precip    float64 // mm
	Sunshine  float64 // hours
	Dewpoint  float64 // °C
	ThetaE    float64 // K
	VPD       float64 // hPa
	WindU     float64 // m/s, eastward
	WindV     float64 // m/s, northward

	QualityFlags []string
}

// Value returns the quantity for f, or NaN for an unknown field.
func (o DailyObservation) Value(f Field) float64 {
	switch f {
	case FieldTempMean:
		return o.TempMean
	case FieldTempMax:
		return o.TempMax
	case FieldTempMin:
		return o.TempMin
	case FieldHumidity:
		return o.Humidity
	case FieldPressure:
		return o.Pressure
	case FieldPrecip:
		return o.Precip
	case FieldSunshine:
		return o.Sunshine
	case FieldDewpoint:
		return o.Dewpoint
	case FieldThetaE:
		return o.ThetaE
	case FieldVPD:
		return o.VPD
	case FieldWindU:
		return o.WindU
	case FieldWindV:
		return o.WindV
	}
	return math.NaN()
}

// SetValue stores v for f and reports whether f is known.
func (o *DailyObservation) SetValue(f Field, v float64) bool {
	switch f {
	case FieldTempMean:
		o.TempMean = v
	case FieldTempMax:
		o.TempMax = v
	case FieldTempMin:
		o.TempMin = v
	case FieldHumidity:
		o.Humidity = v
	case FieldPressure:
		o.Pressure = v
	case FieldPrecip:
		o.Precip = v
	case FieldSunshine:
		o.Sunshine = v
	case FieldDewpoint:
		o.Dewpoint = v
	case FieldThetaE:
		o.ThetaE = v
	case FieldVPD:
		o.VPD = v
	case FieldWindU:
		o.WindU = v
	case FieldWindV:
		o.WindV = v
	default:
		return false
	}
	return true
}

// NewDailyObservation returns an observation with every quantity missing.
func NewDailyObservation(stationID string, date time.Time) DailyObservation {
	o := DailyObservation{Date: DateOnly(date), StationID: stationID}
	for _, f := range AllFields {
		o.SetValue(f, math.NaN())
	}
	return o
}

// Snapshot is one calendar day across stations, keyed by station name.
type Snapshot struct {
	Date     time.Time
	Stations map[string]DailyObservation
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

type ForecastRun struct {
	ID           int64
	RunAt        time.Time
	IssueDate    time.Time // first forecast day (today)
	StationID    string
	ModelKind    string
	TrainingRows int
	TodayMax     float64
	TodayMin     float64
	TomorrowMax  float64
	TomorrowMin  float64
	ThetaEDelta  sql.NullFloat64
	Commentary   string
	Narrative    sql.NullString
}

type ForecastVerification struct {
	ID              int64
	RunID           int64
	ValidDate       time.Time
	LeadDay         int // 0 = issued for the same day, 1 = next day
	ForecastTempMax float64
	ForecastTempMin float64
	ActualTempMax   float64
	ActualTempMin   float64
	BiasTempMax     float64
	BiasTempMin     float64
	CreatedAt       time.Time
}

type VerificationStats struct {
	LeadDay    int             `db:"lead_day" json:"lead_day"`
	Count      int             `db:"count" json:"count"`
	AvgMaxBias sql.NullFloat64 `db:"avg_max_bias" json:"-"`
	AvgMinBias sql.NullFloat64 `db:"avg_min_bias" json:"-"`
	MAEMax     sql.NullFloat64 `db:"mae_max" json:"-"`
	MAEMin     sql.NullFloat64 `db:"mae_min" json:"-"`
}
