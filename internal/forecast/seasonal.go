package forecast

import "time"

// MonthDistance is the circular distance between two calendar months, 0..6.
func MonthDistance(a, b time.Month) int {
	d := int(a) - int(b)
	if d < 0 {
		d = -d
	}
	if 12-d < d {
		return 12 - d
	}
	return d
}

// SeasonalWeight favours rows from months close to current: 1 for the same
// month down to 1/7 for the opposite season.
func SeasonalWeight(m, current time.Month) float64 {
	return 1 / (1 + float64(MonthDistance(m, current)))
}

// SeasonalWeights returns one weight per date.
func SeasonalWeights(dates []time.Time, current time.Month) []float64 {
	w := make([]float64, len(dates))
	for i, d := range dates {
		w[i] = SeasonalWeight(d.Month(), current)
	}
	return w
}
