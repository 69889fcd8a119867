package forecast

import "time"

// Palette defines the color scheme for a forecast card or page.
type Palette struct {
	// Background is the main page background color
	Background string
	// Card is the background for cards/panels
	Card string
	// CardBorder is an optional border/highlight for cards
	CardBorder string
	// Text is the primary text color
	Text string
	// TextMuted is the secondary/muted text color
	TextMuted string
	// Accent is the primary accent color (links, highlights)
	Accent string
	// AccentAlt is a secondary accent (temperature high, etc.)
	AccentAlt string
}

// DefaultPalette is the fallback dark theme.
var DefaultPalette = Palette{
	Background: "#0f0f1a",
	Card:       "#1a1a2e",
	CardBorder: "#2a2a4e",
	Text:       "#eeeeee",
	TextMuted:  "#666666",
	Accent:     "#4fc3f7",
	AccentAlt:  "#ff7043",
}

// Trend is the direction of tomorrow's maximum against today's.
type Trend string

const (
	TrendWarmer Trend = "warmer"
	TrendCooler Trend = "cooler"
	TrendSteady Trend = "steady"
)

// TrendOf buckets tempDelta with the same threshold as the slight commentary.
func TrendOf(tempDelta float64) Trend {
	switch {
	case tempDelta >= warmerSlight:
		return TrendWarmer
	case tempDelta <= coolerSlight:
		return TrendCooler
	}
	return TrendSteady
}

// Season is the meteorological season of a month in the northern hemisphere.
func Season(m time.Month) string {
	switch m {
	case time.March, time.April, time.May:
		return "spring"
	case time.June, time.July, time.August:
		return "summer"
	case time.September, time.October, time.November:
		return "autumn"
	}
	return "winter"
}

// seasonPalettes holds the base scheme for each season.
var seasonPalettes = map[string]Palette{
	"spring": {
		Background: "#1a1820", // cool dawn
		Card:       "#282630",
		CardBorder: "#3a3848",
		Text:       "#f0f0f8",
		TextMuted:  "#8888a0",
		Accent:     "#88aadd",
		AccentAlt:  "#dd8866",
	},
	"summer": {
		Background: "#2a2520", // warm dark brown
		Card:       "#3a3530",
		CardBorder: "#554a40",
		Text:       "#fff8f0",
		TextMuted:  "#a09080",
		Accent:     "#66b8d8",
		AccentAlt:  "#ff6644",
	},
	"autumn": {
		Background: "#201820", // purple dusk
		Card:       "#302830",
		CardBorder: "#483848",
		Text:       "#f0e8f0",
		TextMuted:  "#9080a0",
		Accent:     "#aa88cc",
		AccentAlt:  "#cc7755",
	},
	"winter": {
		Background: "#060810",
		Card:       "#101420",
		CardBorder: "#1a2030",
		Text:       "#d0d8e8",
		TextMuted:  "#506080",
		Accent:     "#6688bb",
		AccentAlt:  "#cc7766",
	},
}

// trendBorders tints the card edge towards the direction of change.
var trendBorders = map[Trend]string{
	TrendWarmer: "#c0603a",
	TrendCooler: "#3a70b0",
}

// GetPalette returns the season's palette for date with the card border
// tinted by trend.
func GetPalette(date time.Time, trend Trend) Palette {
	p, ok := seasonPalettes[Season(date.Month())]
	if !ok {
		return DefaultPalette
	}
	if border, ok := trendBorders[trend]; ok {
		p.CardBorder = border
	}
	return p
}

// PaletteFor picks the palette for a prediction.
func PaletteFor(p *Prediction) Palette {
	if p == nil {
		return DefaultPalette
	}
	return GetPalette(p.Today, TrendOf(p.TomorrowMax-p.TodayMax))
}
