package thermo

import (
	"math"
	"strings"
)

// calmSpeedTolerance is the largest speed (m/s) still consistent with a calm report.
const calmSpeedTolerance = 0.2

// Derived holds the quantities computed from a day's means and wind series.
type Derived struct {
	Dewpoint float64
	ThetaE   float64
	VPD      float64
	WindU    float64
	WindV    float64
	// CalmWithSpeed counts hours reported calm but with a speed above
	// calmSpeedTolerance. Their components use the 0° convention.
	CalmWithSpeed int
}

// Derive computes the derived quantities for one day. humidityPct is the mean
// relative humidity in percent; speeds and dirs are the hourly wind series.
// Hours with an unknown direction label or unparseable speed are skipped in
// the wind means; a day with no usable wind hour yields NaN components.
func Derive(tMean, humidityPct, pMean float64, speeds []float64, dirs []string) Derived {
	d := Derived{}

	d.Dewpoint = Dewpoint(tMean, humidityPct/100)
	d.ThetaE = EquivalentPotentialTemperature(pMean, tMean, d.Dewpoint)
	d.VPD = VaporPressureDeficit(tMean, d.Dewpoint)

	var sumU, sumV float64
	var n int
	for i, speed := range speeds {
		if i >= len(dirs) || math.IsNaN(speed) {
			continue
		}
		deg, ok := CompassDegrees(dirs[i])
		if !ok {
			continue
		}
		if strings.TrimSpace(dirs[i]) == Calm && speed > calmSpeedTolerance {
			d.CalmWithSpeed++
		}
		u, v := WindComponents(speed, deg)
		sumU += u
		sumV += v
		n++
	}
	if n == 0 {
		d.WindU = math.NaN()
		d.WindV = math.NaN()
	} else {
		d.WindU = sumU / float64(n)
		d.WindV = sumV / float64(n)
	}

	return d
}
