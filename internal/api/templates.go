package api

import (
	"database/sql"
	"embed"
	"fmt"
	"html/template"
	"math"
	"strings"
)

//go:embed templates/*
var templateFS embed.FS

// newTemplates creates and parses the HTML templates with custom functions.
func newTemplates() *template.Template {
	funcs := template.FuncMap{
		"temp": func(f float64) string {
			if math.IsNaN(f) {
				return "–"
			}
			return fmt.Sprintf("%.1f", f)
		},
		"nullf": func(f sql.NullFloat64) string {
			if !f.Valid {
				return "–"
			}
			return fmt.Sprintf("%+.1f", f.Float64)
		},
		"mae": func(f sql.NullFloat64) string {
			if !f.Valid {
				return "–"
			}
			return fmt.Sprintf("%.1f", f.Float64)
		},
		"biasClass": biasClass,
		"upper":     strings.ToUpper,
	}
	return template.Must(template.New("").Funcs(funcs).ParseFS(templateFS, "templates/*.html"))
}

func biasClass(bias sql.NullFloat64) string {
	if !bias.Valid {
		return ""
	}
	abs := math.Abs(bias.Float64)
	if abs <= 1 {
		return "good"
	}
	if abs <= 3 {
		return "ok"
	}
	return "bad"
}
