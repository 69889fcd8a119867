package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"

	"github.com/lox/tenki/internal/htmlutil"
	"github.com/lox/tenki/internal/httputil"
	"github.com/lox/tenki/internal/logging"
	"github.com/lox/tenki/internal/metrics"
	"github.com/lox/tenki/internal/models"
	"github.com/lox/tenki/internal/thermo"
)

const DefaultBaseURL = "https://www.data.jma.go.jp/obd/stats/etrn/view/hourly_s1.php"

// maxPageBytes bounds how much of a response is read; a real page is ~30KB.
const maxPageBytes = 4 << 20

// headerRows is the number of leading tr.mtx rows holding column headings.
const headerRows = 2

var (
	errStatus = errors.New("unexpected status")
	errDecode = errors.New("decode page")
)

// Columns are the zero-based td offsets of each quantity in a data row.
type Columns struct {
	Pressure  int
	Precip    int
	Temp      int
	Humidity  int
	WindSpeed int
	WindDir   int
	Sunshine  int
}

// DefaultColumns matches the layout of the hourly_s1 page for surface stations.
var DefaultColumns = Columns{
	Pressure:  2,
	Precip:    3,
	Temp:      4,
	Humidity:  7,
	WindSpeed: 8,
	WindDir:   9,
	Sunshine:  10,
}

// HourlyRow is one parsed data row. Unparseable numbers are NaN.
type HourlyRow struct {
	Pressure  float64
	Precip    float64
	Temp      float64
	Humidity  float64
	WindSpeed float64
	WindDir   string
	Sunshine  float64
}

type FetcherConfig struct {
	Client  *http.Client
	BaseURL string
	Columns Columns
	// Retries is the number of extra attempts after a failed request.
	// Zero means a single attempt.
	Retries uint64
	// BreakerThreshold is the number of consecutive request failures that
	// opens the circuit. Zero selects 5.
	BreakerThreshold uint32
	BreakerTimeout   time.Duration
	Logger           *slog.Logger
}

// Fetcher retrieves one station-day from the JMA hourly table and reduces it
// to a daily summary.
type Fetcher struct {
	client  *http.Client
	baseURL string
	columns Columns
	retries uint64
	breaker *gobreaker.CircuitBreaker
	logger  *slog.Logger
}

func NewFetcher(cfg FetcherConfig) *Fetcher {
	if cfg.Client == nil {
		cfg.Client = httputil.NewClient(0)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Columns == (Columns{}) {
		cfg.Columns = DefaultColumns
	}
	if cfg.BreakerThreshold == 0 {
		cfg.BreakerThreshold = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Discard()
	}

	logger := cfg.Logger
	threshold := cfg.BreakerThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "jma",
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("ingest: circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Fetcher{
		client:  cfg.Client,
		baseURL: cfg.BaseURL,
		columns: cfg.Columns,
		retries: cfg.Retries,
		breaker: cb,
		logger:  cfg.Logger,
	}
}

// URL returns the hourly page address for a station and calendar date.
func (f *Fetcher) URL(st models.Station, date time.Time) string {
	return fmt.Sprintf("%s?prec_no=%d&block_no=%d&year=%d&month=%d&day=%d&view=",
		f.baseURL, st.PrecNo, st.BlockNo, date.Year(), int(date.Month()), date.Day())
}

// Daily fetches and summarises one station-day. The boolean is false when the
// day is unavailable for any reason; the cause is logged and counted but not
// returned, so callers treat every failure the same way.
func (f *Fetcher) Daily(ctx context.Context, date time.Time, st models.Station) (*models.DailyObservation, bool) {
	date = models.DateOnly(date)
	log := f.logger.With("station", st.Name, "date", date.Format(models.DateLayout))

	start := time.Now()
	rows, err := f.fetchRows(ctx, f.URL(st, date))
	metrics.JMAFetchLatency.WithLabelValues(st.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		reason := failureReason(err)
		metrics.JMAFetchesTotal.WithLabelValues(st.Name, reason).Inc()
		if reason == "breaker_open" {
			log.Warn("ingest: date dropped, circuit breaker open", "reason", reason)
		} else {
			log.Debug("ingest: fetch failed", "reason", reason, "error", err)
		}
		return nil, false
	}

	obs, calmWithSpeed, ok := Summarize(st.Name, date, rows)
	if !ok {
		metrics.JMAFetchesTotal.WithLabelValues(st.Name, "incomplete").Inc()
		log.Debug("ingest: day incomplete", "rows", len(rows))
		return nil, false
	}

	if calmWithSpeed > 0 {
		metrics.CalmWithSpeedHours.WithLabelValues(st.Name).Add(float64(calmWithSpeed))
		log.Warn("ingest: calm hours reported with wind speed", "hours", calmWithSpeed)
	}
	if len(obs.QualityFlags) > 0 {
		log.Warn("ingest: quality flags", "flags", obs.QualityFlags)
	}

	metrics.JMAFetchesTotal.WithLabelValues(st.Name, "ok").Inc()
	return obs, true
}

func (f *Fetcher) fetchRows(ctx context.Context, url string) ([]HourlyRow, error) {
	var rows []HourlyRow
	operation := func() error {
		result, err := f.breaker.Execute(func() (interface{}, error) {
			return f.get(ctx, url)
		})
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			return err
		}

		parsed, err := ParseHourly(strings.NewReader(result.(string)), f.columns)
		if err != nil {
			return backoff.Permanent(err)
		}
		rows = parsed
		return nil
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.retries), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return nil, err
	}
	return rows, nil
}

// get returns the page body decoded to UTF-8.
func (f *Fetcher) get(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", httputil.UserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %d", errStatus, resp.StatusCode)
	}

	r, err := charset.NewReader(io.LimitReader(resp.Body, maxPageBytes), resp.Header.Get("Content-Type"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errDecode, err)
	}
	body, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errDecode, err)
	}
	return string(body), nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	case errors.Is(err, errStatus):
		return "status"
	case errors.Is(err, errDecode):
		return "decode"
	}
	return "network"
}

// ParseHourly extracts the data rows of the hourly table from a UTF-8 page.
// A page without data rows yields no rows and no error.
func ParseHourly(r io.Reader, cols Columns) ([]HourlyRow, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errDecode, err)
	}

	trs := findRows(doc, nil)
	if len(trs) <= headerRows {
		return nil, nil
	}

	rows := make([]HourlyRow, 0, len(trs)-headerRows)
	for _, tr := range trs[headerRows:] {
		var cells []string
		for c := tr.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && c.Data == "td" {
				cells = append(cells, htmlutil.NodeText(c))
			}
		}
		rows = append(rows, HourlyRow{
			Pressure:  number(cells, cols.Pressure),
			Precip:    number(cells, cols.Precip),
			Temp:      number(cells, cols.Temp),
			Humidity:  number(cells, cols.Humidity),
			WindSpeed: number(cells, cols.WindSpeed),
			WindDir:   text(cells, cols.WindDir),
			Sunshine:  number(cells, cols.Sunshine),
		})
	}
	return rows, nil
}

func findRows(n *html.Node, acc []*html.Node) []*html.Node {
	if n.Type == html.ElementNode && n.Data == "tr" && hasClass(n, "mtx") {
		acc = append(acc, n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		acc = findRows(c, acc)
	}
	return acc
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key != "class" {
			continue
		}
		for _, c := range strings.Fields(a.Val) {
			if c == class {
				return true
			}
		}
	}
	return false
}

func text(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// number parses a cell strictly; quality markers such as ")" or "]" and the
// "--" and "×" placeholders all yield NaN.
func number(cells []string, i int) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(text(cells, i)), 64)
	if err != nil || math.IsInf(v, 0) {
		return math.NaN()
	}
	return v
}

// Summarize reduces hourly rows to a daily observation. It reports false when
// there are no rows or when mean temperature or mean humidity is missing. The
// int result is the number of calm hours carrying a nonzero speed.
func Summarize(station string, date time.Time, rows []HourlyRow) (*models.DailyObservation, int, bool) {
	if len(rows) == 0 {
		return nil, 0, false
	}

	n := len(rows)
	temps := make([]float64, n)
	hums := make([]float64, n)
	press := make([]float64, n)
	precip := make([]float64, n)
	sun := make([]float64, n)
	speeds := make([]float64, n)
	dirs := make([]string, n)
	for i, r := range rows {
		temps[i] = r.Temp
		hums[i] = r.Humidity
		press[i] = r.Pressure
		precip[i] = r.Precip
		sun[i] = r.Sunshine
		speeds[i] = r.WindSpeed
		dirs[i] = r.WindDir
	}

	tMean := nanMean(temps)
	humMean := nanMean(hums)
	if math.IsNaN(tMean) || math.IsNaN(humMean) {
		return nil, 0, false
	}
	pMean := nanMean(press)

	d := thermo.Derive(tMean, humMean, pMean, speeds, dirs)

	obs := models.NewDailyObservation(station, date)
	obs.TempMean = tMean
	obs.TempMax = nanMax(temps)
	obs.TempMin = nanMin(temps)
	obs.Humidity = humMean
	obs.Pressure = pMean
	obs.Precip = zeroFilledSum(precip)
	obs.Sunshine = zeroFilledSum(sun)
	obs.Dewpoint = d.Dewpoint
	obs.ThetaE = d.ThetaE
	obs.VPD = d.VPD
	obs.WindU = d.WindU
	obs.WindV = d.WindV

	obs.QualityFlags = ValidateObservation(&obs)
	if d.CalmWithSpeed > 0 {
		obs.QualityFlags = append(obs.QualityFlags, FlagCalmWithSpeed)
	}

	return &obs, d.CalmWithSpeed, true
}

func nanMean(vs []float64) float64 {
	var sum float64
	var n int
	for _, v := range vs {
		if !math.IsNaN(v) {
			sum += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

func nanMax(vs []float64) float64 {
	out := math.NaN()
	for _, v := range vs {
		if !math.IsNaN(v) && (math.IsNaN(out) || v > out) {
			out = v
		}
	}
	return out
}

func nanMin(vs []float64) float64 {
	out := math.NaN()
	for _, v := range vs {
		if !math.IsNaN(v) && (math.IsNaN(out) || v < out) {
			out = v
		}
	}
	return out
}

func zeroFilledSum(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		if !math.IsNaN(v) {
			sum += v
		}
	}
	return sum
}
