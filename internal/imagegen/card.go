package imagegen

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/lox/tenki/internal/forecast"
)

// CardWidth and CardHeight are the Open Graph image dimensions.
const (
	CardWidth  = 1200
	CardHeight = 630
)

const margin = 60

var (
	faceLarge   font.Face
	faceRegular font.Face
	faceSmall   font.Face
	fontOnce    sync.Once
	fontErr     error
	// renderMu serialises use of the shared faces, which are not safe for
	// concurrent use.
	renderMu sync.Mutex
)

func newFace(data []byte, size float64) (font.Face, error) {
	f, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
}

func loadFonts() {
	fontOnce.Do(func() {
		if faceLarge, fontErr = newFace(gobold.TTF, 96); fontErr != nil {
			fontErr = fmt.Errorf("create large face: %w", fontErr)
			return
		}
		if faceRegular, fontErr = newFace(goregular.TTF, 36); fontErr != nil {
			fontErr = fmt.Errorf("create regular face: %w", fontErr)
			return
		}
		if faceSmall, fontErr = newFace(goregular.TTF, 26); fontErr != nil {
			fontErr = fmt.Errorf("create small face: %w", fontErr)
		}
	})
}

// CardData is what the forecast card shows.
type CardData struct {
	Station     string
	Today       time.Time
	Tomorrow    time.Time
	TodayMax    float64
	TodayMin    float64
	TomorrowMax float64
	TomorrowMin float64
	Commentary  string
	Palette     forecast.Palette
}

// NewCardData fills a card from a prediction using its trend palette.
func NewCardData(p *forecast.Prediction) CardData {
	return CardData{
		Station:     p.Station,
		Today:       p.Today,
		Tomorrow:    p.Tomorrow,
		TodayMax:    p.TodayMax,
		TodayMin:    p.TodayMin,
		TomorrowMax: p.TomorrowMax,
		TomorrowMin: p.TomorrowMin,
		Commentary:  p.Commentary,
		Palette:     forecast.PaletteFor(p),
	}
}

// RenderCard draws the two-day forecast as a PNG.
func RenderCard(data CardData) ([]byte, error) {
	loadFonts()
	if fontErr != nil {
		return nil, fmt.Errorf("load fonts: %w", fontErr)
	}
	renderMu.Lock()
	defer renderMu.Unlock()

	pal := data.Palette
	if pal == (forecast.Palette{}) {
		pal = forecast.DefaultPalette
	}
	bg := parseHex(pal.Background)
	card := parseHex(pal.Card)
	text := parseHex(pal.Text)
	muted := parseHex(pal.TextMuted)
	accent := parseHex(pal.Accent)
	accentAlt := parseHex(pal.AccentAlt)

	img := image.NewRGBA(image.Rect(0, 0, CardWidth, CardHeight))
	drawGradient(img, bg, card)

	col := CardWidth / 2
	drawText(img, strings.ToUpper(data.Station), margin, 80, muted, faceRegular)

	drawDay(img, "Today "+data.Today.Format("Jan 2"), data.TodayMax, data.TodayMin, margin, text, accentAlt, accent, muted)
	drawDay(img, "Tomorrow "+data.Tomorrow.Format("Jan 2"), data.TomorrowMax, data.TomorrowMin, col, text, accentAlt, accent, muted)

	y := 420
	for _, line := range wrap(data.Commentary, faceSmall, CardWidth-2*margin) {
		if y > CardHeight-70 {
			break
		}
		drawText(img, line, margin, y, text, faceSmall)
		y += 36
	}

	drawText(img, "tenki", margin, CardHeight-30, muted, faceSmall)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func drawDay(img *image.RGBA, label string, hi, lo float64, x int, text, hiCol, loCol, muted color.RGBA) {
	drawText(img, label, x, 170, muted, faceRegular)
	drawText(img, fmt.Sprintf("%.0f°", hi), x, 290, hiCol, faceLarge)
	drawText(img, fmt.Sprintf("%.0f°", lo), x+220, 290, loCol, faceLarge)
	drawText(img, "max / min", x, 340, text, faceSmall)
}

// drawGradient fills img from top to bottom between two colors.
func drawGradient(img *image.RGBA, top, bottom color.RGBA) {
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		p := float64(y-b.Min.Y) / float64(b.Dy())
		c := color.RGBA{
			R: lerp(top.R, bottom.R, p),
			G: lerp(top.G, bottom.G, p),
			B: lerp(top.B, bottom.B, p),
			A: 255,
		}
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetRGBA(x, y, c)
		}
	}
}

func lerp(a, b uint8, p float64) uint8 {
	return uint8(float64(a) + (float64(b)-float64(a))*p)
}

// drawText draws text at the given position using the specified font face.
func drawText(img *image.RGBA, text string, x, y int, col color.Color, face font.Face) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(col),
		Face: face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}

// wrap breaks s into lines no wider than width pixels.
func wrap(s string, face font.Face, width int) []string {
	var lines []string
	var line string
	for _, word := range strings.Fields(s) {
		next := word
		if line != "" {
			next = line + " " + word
		}
		if line != "" && font.MeasureString(face, next).Ceil() > width {
			lines = append(lines, line)
			next = word
		}
		line = next
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

// parseHex parses "#rrggbb", returning opaque black for anything else.
func parseHex(s string) color.RGBA {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.RGBA{A: 255}
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.RGBA{A: 255}
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}
