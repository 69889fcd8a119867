package forecast

import (
	"math"
	"testing"
	"time"
)

func TestTrendOf(t *testing.T) {
	tests := []struct {
		delta float64
		want  Trend
	}{
		{0.5, TrendWarmer},
		{3, TrendWarmer},
		{0.49, TrendSteady},
		{-0.49, TrendSteady},
		{-0.5, TrendCooler},
		{math.NaN(), TrendSteady},
	}
	for _, tt := range tests {
		if got := TrendOf(tt.delta); got != tt.want {
			t.Errorf("TrendOf(%v) = %q, want %q", tt.delta, got, tt.want)
		}
	}
}

func TestGetPalette(t *testing.T) {
	jan := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	jul := time.Date(2024, 7, 15, 0, 0, 0, 0, time.UTC)
	oct := time.Date(2024, 10, 15, 0, 0, 0, 0, time.UTC)

	steady := GetPalette(oct, TrendSteady)
	if steady != seasonPalettes["autumn"] {
		t.Errorf("autumn steady = %+v", steady)
	}

	cooler := GetPalette(jan, TrendCooler)
	if cooler.Background != seasonPalettes["winter"].Background {
		t.Errorf("winter cooler background = %q", cooler.Background)
	}
	if cooler.CardBorder != trendBorders[TrendCooler] {
		t.Errorf("winter cooler border = %q", cooler.CardBorder)
	}
	if GetPalette(jul, TrendWarmer).CardBorder != trendBorders[TrendWarmer] {
		t.Error("summer warmer border not tinted")
	}
	if seasonPalettes["winter"].CardBorder == trendBorders[TrendCooler] {
		t.Error("base palette modified")
	}

	if got := PaletteFor(nil); got != DefaultPalette {
		t.Errorf("nil prediction = %+v, want default", got)
	}
	p := &Prediction{Today: jul, TodayMax: 30, TomorrowMax: 27}
	if got := PaletteFor(p); got != GetPalette(jul, TrendCooler) {
		t.Errorf("PaletteFor = %+v", got)
	}
}
