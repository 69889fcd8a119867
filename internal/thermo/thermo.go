// Package thermo derives dewpoint, equivalent potential temperature,
// vapor-pressure deficit and wind components from daily means using the
// standard Bolton (1980) formulations.
package thermo

import "math"

const (
	zeroCelsius = 273.15
	// Rd/Cp for dry air.
	kappa = 0.2857
	// Ratio of molecular weights of water and dry air.
	epsilon = 0.6219569

	satA = 6.112 // hPa
	satB = 17.67
	satC = 243.5 // °C
)

// SaturationVaporPressure returns the saturation vapor pressure in hPa over
// liquid water at tC degrees Celsius.
func SaturationVaporPressure(tC float64) float64 {
	return satA * math.Exp(satB*tC/(tC+satC))
}

// Dewpoint returns the dewpoint in °C for temperature tC and relative
// humidity rh expressed as a fraction in (0, 1].
func Dewpoint(tC, rh float64) float64 {
	e := rh * SaturationVaporPressure(tC)
	return dewpointFromVaporPressure(e)
}

func dewpointFromVaporPressure(e float64) float64 {
	val := math.Log(e / satA)
	return satC * val / (satB - val)
}

// MixingRatio returns the mass mixing ratio (kg/kg) for partial pressure e
// in total pressure p, both in hPa.
func MixingRatio(e, p float64) float64 {
	return epsilon * e / (p - e)
}

// PotentialTemperature returns θ in kelvin for pressure p (hPa) and
// temperature tC.
func PotentialTemperature(p, tC float64) float64 {
	return (tC + zeroCelsius) * math.Pow(1000/p, kappa)
}

// EquivalentPotentialTemperature returns θe in kelvin following Bolton (1980)
// equations 21, 39 and 43.
func EquivalentPotentialTemperature(p, tC, tdC float64) float64 {
	t := tC + zeroCelsius
	td := tdC + zeroCelsius
	e := SaturationVaporPressure(tdC)
	r := MixingRatio(e, p)

	tl := 56 + 1/(1/(td-56)+math.Log(t/td)/800)
	thetaL := PotentialTemperature(p-e, tC) * math.Pow(t/tl, 0.28*r)
	return thetaL * math.Exp(r*(1+0.448*r)*(3036/tl-1.78))
}

// VaporPressureDeficit returns es(T) - es(Td) in hPa.
func VaporPressureDeficit(tC, tdC float64) float64 {
	return SaturationVaporPressure(tC) - SaturationVaporPressure(tdC)
}

// WindComponents resolves a wind report (speed, direction the wind blows
// from in degrees) into eastward u and northward v components.
func WindComponents(speed, dirDeg float64) (u, v float64) {
	rad := dirDeg * math.Pi / 180
	return -speed * math.Sin(rad), -speed * math.Cos(rad)
}
