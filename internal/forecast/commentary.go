package forecast

// Bucket edges for the theta-e delta (K) and the max temperature delta (°C).
const (
	energySurge   = 3.0
	energyDrop    = -3.0
	energyRising  = 1.0
	warmerSharply = 2.0
	coolerSharply = -2.0
	warmerSlight  = 0.5
	coolerSlight  = -0.5
)

const (
	EnergySurgeText  = "Warm, moist, high-energy air is flowing in (equivalent potential temperature rising sharply), so "
	EnergyDropText   = "Dry or cold air is flowing in from the north (equivalent potential temperature falling), so "
	EnergyRisingText = "Atmospheric energy is trending gently upward, and "
	EnergyStableText = "Atmospheric heat energy is relatively stable, and "

	WarmerSharplyText = "tomorrow will be notably warmer than today. Take care against heat stress and dehydration."
	CoolerSharplyText = "tomorrow will be notably cooler than today. Dress for the drop."
	WarmerSlightText  = "tomorrow will be slightly warmer than today."
	CoolerSlightText  = "tomorrow will be slightly cooler than today."
	UnchangedText     = "tomorrow's temperature will be about the same as today."
)

// Commentary turns the energy delta and the predicted day-on-day change in
// maximum temperature into a two-part sentence. A NaN delta falls into the
// stable or unchanged bucket.
func Commentary(thetaDelta, tempDelta float64) string {
	return energyText(thetaDelta) + temperatureText(tempDelta)
}

func energyText(d float64) string {
	switch {
	case d >= energySurge:
		return EnergySurgeText
	case d <= energyDrop:
		return EnergyDropText
	case d > energyRising:
		return EnergyRisingText
	}
	return EnergyStableText
}

func temperatureText(d float64) string {
	switch {
	case d >= warmerSharply:
		return WarmerSharplyText
	case d <= coolerSharply:
		return CoolerSharplyText
	case d >= warmerSlight:
		return WarmerSlightText
	case d <= coolerSlight:
		return CoolerSlightText
	}
	return UnchangedText
}
