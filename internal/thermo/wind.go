package thermo

import "strings"

// Calm is the label JMA reports when there is no measurable wind.
const Calm = "静穏"

var compassDegrees = map[string]float64{
	"北": 0, "北北東": 22.5, "北東": 45, "東北東": 67.5,
	"東": 90, "東南東": 112.5, "南東": 135, "南南東": 157.5,
	"南": 180, "南南西": 202.5, "南西": 225, "西南西": 247.5,
	"西": 270, "西北西": 292.5, "北西": 315, "北北西": 337.5,
	// Calm has no direction; 0° is harmless only while the speed is ~0.
	Calm: 0,
}

// CompassDegrees maps a JMA compass label to degrees. Unknown labels,
// including the missing-data markers, report false.
func CompassDegrees(label string) (float64, bool) {
	deg, ok := compassDegrees[strings.TrimSpace(label)]
	return deg, ok
}
