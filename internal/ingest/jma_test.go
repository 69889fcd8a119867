package ingest

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/japanese"

	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/thermo"
)

var tokyo = models.Station{Name: "tokyo", PrecNo: 44, BlockNo: 47662, Active: true}

// hour is one data row of the hourly table in page column order.
type hour struct {
	press, precip, temp, hum, speed, dir, sun string
}

func (h hour) cells(n int) []string {
	// hour, local pressure, sea-level pressure, precip, temp, dewpoint,
	// vapour pressure, humidity, speed, direction, sunshine, ...
	c := []string{fmt.Sprint(n), "1000.0", h.press, h.precip, h.temp, "5.0", "8.0", h.hum, h.speed, h.dir, h.sun, "", "", "", "", "", ""}
	return c
}

func hourlyPage(meta string, hours ...hour) string {
	var b strings.Builder
	b.WriteString("<html><head>")
	b.WriteString(meta)
	b.WriteString("<title>hourly</title></head><body>")
	b.WriteString(`<table id="tablefix1" class="data2_s">`)
	b.WriteString(`<tr class="mtx"><th rowspan="2">時</th><th colspan="2">気圧(hPa)</th></tr>`)
	b.WriteString(`<tr class="mtx"><th>現地</th><th>海面</th></tr>`)
	for i, h := range hours {
		b.WriteString(`<tr class="mtx" style="text-align:right;">`)
		for _, c := range h.cells(i + 1) {
			b.WriteString(`<td class="data_0_0">`)
			b.WriteString(c)
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

var threeHours = []hour{
	{press: "1010.0", precip: "--", temp: "10.0", hum: "50", speed: "2.0", dir: "北", sun: "0.5"},
	{press: "1012.0", precip: "1.5", temp: "12.0", hum: "60", speed: "3.0", dir: "南", sun: ""},
	{press: "×", precip: "0.5", temp: "14.0", hum: "70", speed: "///", dir: "東", sun: "1.0"},
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc, cfg FetcherConfig) *Fetcher {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg.BaseURL = srv.URL
	cfg.Client = srv.Client()
	return NewFetcher(cfg)
}

func TestFetcher_URL(t *testing.T) {
	f := NewFetcher(FetcherConfig{})
	got := f.URL(tokyo, time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC))
	want := "https://www.data.jma.go.jp/obd/stats/etrn/view/hourly_s1.php?prec_no=44&block_no=47662&year=2024&month=3&day=5&view="
	assert.Equal(t, want, got)
}

func TestFetcher_Daily(t *testing.T) {
	var gotQuery string
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, hourlyPage("", threeHours...))
	}, FetcherConfig{})

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	obs, ok := f.Daily(context.Background(), date, tokyo)
	require.True(t, ok)
	require.NotNil(t, obs)

	assert.Equal(t, "prec_no=44&block_no=47662&year=2024&month=1&day=15&view=", gotQuery)
	assert.Equal(t, "tokyo", obs.StationID)
	assert.True(t, obs.Date.Equal(date))
	assert.InDelta(t, 12.0, obs.TempMean, 1e-9)
	assert.InDelta(t, 14.0, obs.TempMax, 1e-9)
	assert.InDelta(t, 10.0, obs.TempMin, 1e-9)
	assert.InDelta(t, 60.0, obs.Humidity, 1e-9)
	assert.InDelta(t, 1011.0, obs.Pressure, 1e-9)
	assert.InDelta(t, 2.0, obs.Precip, 1e-9)
	assert.InDelta(t, 1.5, obs.Sunshine, 1e-9)

	td := thermo.Dewpoint(12, 0.6)
	assert.InDelta(t, td, obs.Dewpoint, 1e-9)
	assert.InDelta(t, thermo.EquivalentPotentialTemperature(1011, 12, td), obs.ThetaE, 1e-9)
	assert.InDelta(t, thermo.VaporPressureDeficit(12, td), obs.VPD, 1e-9)

	// north 2 m/s and south 3 m/s; the third hour has no speed.
	assert.InDelta(t, 0.0, obs.WindU, 1e-9)
	assert.InDelta(t, 0.5, obs.WindV, 1e-9)
	assert.Empty(t, obs.QualityFlags)
}

func TestFetcher_Daily_ShiftJIS(t *testing.T) {
	page := hourlyPage(`<meta http-equiv="Content-Type" content="text/html; charset=Shift_JIS">`,
		hour{press: "1000.0", precip: "0.0", temp: "5.0", hum: "40", speed: "4.0", dir: "西", sun: "1.0"},
		hour{press: "1002.0", precip: "0.0", temp: "7.0", hum: "50", speed: "2.0", dir: "西", sun: "1.0"},
	)
	encoded, err := japanese.ShiftJIS.NewEncoder().String(page)
	require.NoError(t, err)

	tests := []struct {
		name        string
		contentType string
	}{
		{"charset in header", "text/html; charset=Shift_JIS"},
		{"charset from meta prescan", "text/html"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				fmt.Fprint(w, encoded)
			}, FetcherConfig{})

			obs, ok := f.Daily(context.Background(), time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), tokyo)
			require.True(t, ok)
			// Both hours blow from the west, so u is the mean speed.
			assert.InDelta(t, 3.0, obs.WindU, 1e-9)
			assert.InDelta(t, 0.0, obs.WindV, 1e-9)
		})
	}
}

func TestFetcher_Daily_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "boom", http.StatusInternalServerError)
			},
		},
		{
			name: "not found",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.NotFound(w, r)
			},
		},
		{
			name: "headers only",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, hourlyPage(""))
			},
		},
		{
			name: "not a table",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, "<html><body><p>maintenance</p>")
			},
		},
		{
			name: "humidity missing all day",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, hourlyPage("",
					hour{press: "1000", precip: "0", temp: "10", hum: "///", speed: "1", dir: "北", sun: "0"},
					hour{press: "1000", precip: "0", temp: "11", hum: "×", speed: "1", dir: "北", sun: "0"},
				))
			},
		},
		{
			name: "temperature missing all day",
			handler: func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, hourlyPage("",
					hour{press: "1000", precip: "0", temp: "--", hum: "50", speed: "1", dir: "北", sun: "0"},
				))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newTestFetcher(t, tt.handler, FetcherConfig{})
			obs, ok := f.Daily(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tokyo)
			assert.False(t, ok)
			assert.Nil(t, obs)
		})
	}
}

func TestFetcher_Daily_Retries(t *testing.T) {
	var hits atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, hourlyPage("", threeHours...))
	}, FetcherConfig{Retries: 2})

	_, ok := f.Daily(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tokyo)
	assert.True(t, ok)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_Daily_SingleAttemptByDefault(t *testing.T) {
	var hits atomic.Int32
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "busy", http.StatusServiceUnavailable)
	}, FetcherConfig{})

	_, ok := f.Daily(context.Background(), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tokyo)
	assert.False(t, ok)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetcher_Daily_CircuitBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	var logs bytes.Buffer
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}, FetcherConfig{BreakerThreshold: 2, Logger: slog.New(slog.NewTextHandler(&logs, nil))})

	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		_, ok := f.Daily(context.Background(), day.AddDate(0, 0, i), tokyo)
		assert.False(t, ok)
	}
	assert.Equal(t, int32(2), hits.Load(), "open breaker should short-circuit later requests")

	// refused dates are reported so a rerun can target them
	out := logs.String()
	assert.Equal(t, 2, strings.Count(out, "circuit breaker open"))
	assert.Contains(t, out, "date=2024-01-03")
	assert.Contains(t, out, "date=2024-01-04")
	assert.NotContains(t, out, "date=2024-01-01 reason")
}

func TestFetcher_Daily_CanceledContext(t *testing.T) {
	f := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, hourlyPage("", threeHours...))
	}, FetcherConfig{Retries: 3})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	obs, ok := f.Daily(ctx, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tokyo)
	assert.False(t, ok)
	assert.Nil(t, obs)
}

func TestParseHourly(t *testing.T) {
	t.Run("short rows pad with missing values", func(t *testing.T) {
		page := `<table><tr class="mtx"><th>h</th></tr><tr class="mtx"><th>h</th></tr>` +
			`<tr class="mtx"><td>1</td><td>1000</td><td>1012.5</td><td>0.0</td><td>9.5</td></tr></table>`
		rows, err := ParseHourly(strings.NewReader(page), DefaultColumns)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, 1012.5, rows[0].Pressure)
		assert.Equal(t, 9.5, rows[0].Temp)
		assert.True(t, math.IsNaN(rows[0].Humidity))
		assert.True(t, math.IsNaN(rows[0].Sunshine))
		assert.Equal(t, "", rows[0].WindDir)
	})

	t.Run("quality markers are missing", func(t *testing.T) {
		page := hourlyPage("", hour{press: "1012.5 )", precip: "--", temp: "9.5]", hum: "#", speed: "1.0", dir: "静穏", sun: "Inf"})
		rows, err := ParseHourly(strings.NewReader(page), DefaultColumns)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		for name, v := range map[string]float64{
			"pressure": rows[0].Pressure, "precip": rows[0].Precip, "temp": rows[0].Temp,
			"humidity": rows[0].Humidity, "sunshine": rows[0].Sunshine,
		} {
			assert.True(t, math.IsNaN(v), "%s = %v, want NaN", name, v)
		}
		assert.Equal(t, thermo.Calm, rows[0].WindDir)
	})

	t.Run("rows without mtx class are ignored", func(t *testing.T) {
		page := `<table><tr class="mtx"><th>h</th></tr><tr class="mtx"><th>h</th></tr>` +
			`<tr><td>1</td><td>1000</td><td>1012.5</td></tr></table>`
		rows, err := ParseHourly(strings.NewReader(page), DefaultColumns)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestSummarize_CalmWithSpeed(t *testing.T) {
	rows := []HourlyRow{
		{Pressure: 1000, Precip: math.NaN(), Temp: 10, Humidity: 50, WindSpeed: 2.5, WindDir: thermo.Calm, Sunshine: math.NaN()},
		{Pressure: 1000, Precip: math.NaN(), Temp: 12, Humidity: 60, WindSpeed: 0, WindDir: thermo.Calm, Sunshine: math.NaN()},
	}
	obs, calm, ok := Summarize("kofu", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), rows)
	require.True(t, ok)
	assert.Equal(t, 1, calm)
	assert.Contains(t, obs.QualityFlags, FlagCalmWithSpeed)
	assert.Equal(t, 0.0, obs.Precip)
	assert.Equal(t, 0.0, obs.Sunshine)
}

func TestSummarize_NoRows(t *testing.T) {
	obs, _, ok := Summarize("tokyo", time.Now(), nil)
	assert.False(t, ok)
	assert.Nil(t, obs)
}
