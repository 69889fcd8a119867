package ingest

import (
	"math"

	"github.com/lox/tenki/internal/models"
)

const (
	FlagTempOutOfRange     = "temp_out_of_range"
	FlagTempOrder          = "temp_min_above_max"
	FlagHumidityInvalid    = "humidity_invalid"
	FlagPressureOutOfRange = "pressure_out_of_range"
	FlagPrecipNegative     = "precip_negative"
	FlagSunshineInvalid    = "sunshine_invalid"
	FlagCalmWithSpeed      = "calm_with_speed"
)

// ValidateObservation returns quality flags for implausible values. Flagged
// values are kept as reported; missing (NaN) values are never flagged.
func ValidateObservation(obs *models.DailyObservation) []string {
	var flags []string

	for _, v := range []float64{obs.TempMean, obs.TempMax, obs.TempMin} {
		if valid(v) && (v < -40 || v > 45) {
			flags = append(flags, FlagTempOutOfRange)
			break
		}
	}

	if valid(obs.TempMin) && valid(obs.TempMax) && obs.TempMin > obs.TempMax {
		flags = append(flags, FlagTempOrder)
	}

	if valid(obs.Humidity) && (obs.Humidity < 0 || obs.Humidity > 100) {
		flags = append(flags, FlagHumidityInvalid)
	}

	if valid(obs.Pressure) && (obs.Pressure < 870 || obs.Pressure > 1085) {
		flags = append(flags, FlagPressureOutOfRange)
	}

	if valid(obs.Precip) && obs.Precip < 0 {
		flags = append(flags, FlagPrecipNegative)
	}

	if valid(obs.Sunshine) && (obs.Sunshine < 0 || obs.Sunshine > 24) {
		flags = append(flags, FlagSunshineInvalid)
	}

	return flags
}

func valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
