// Package registry holds the immutable station and field configuration shared
// by the fetcher, history builder, feature builder and forecaster.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lox/tenki/internal/models"
)

var validate = validator.New()

// Registry is read-only after construction; accessors return copies.
type Registry struct {
	stations []models.Station
	fields   []models.Field
	primary  string
}

// Default is the Tokyo/Kofu pair with every tracked field, Tokyo primary.
func Default() Registry {
	r, err := New([]models.Station{
		{Name: "tokyo", PrecNo: 44, BlockNo: 47662, Active: true},
		{Name: "kofu", PrecNo: 49, BlockNo: 47638, Active: true},
	}, models.AllFields, "tokyo")
	if err != nil {
		panic(err)
	}
	return r
}

// New validates the stations and fields and returns a registry. An empty
// primary selects the first station.
func New(stations []models.Station, fields []models.Field, primary string) (Registry, error) {
	if len(stations) == 0 {
		return Registry{}, errors.New("registry: at least one station required")
	}
	if len(fields) == 0 {
		return Registry{}, errors.New("registry: at least one field required")
	}

	seen := make(map[string]bool, len(stations))
	for _, st := range stations {
		if err := validate.Struct(st); err != nil {
			return Registry{}, fmt.Errorf("registry: station %q: %w", st.Name, err)
		}
		if seen[st.Name] {
			return Registry{}, fmt.Errorf("registry: duplicate station %q", st.Name)
		}
		seen[st.Name] = true
	}

	fieldSeen := make(map[models.Field]bool, len(fields))
	for _, f := range fields {
		if !slices.Contains(models.AllFields, f) {
			return Registry{}, fmt.Errorf("registry: unknown field %q", f)
		}
		if fieldSeen[f] {
			return Registry{}, fmt.Errorf("registry: duplicate field %q", f)
		}
		fieldSeen[f] = true
	}

	if primary == "" {
		primary = stations[0].Name
	}
	if !seen[primary] {
		return Registry{}, fmt.Errorf("registry: primary station %q not configured", primary)
	}

	return Registry{
		stations: slices.Clone(stations),
		fields:   slices.Clone(fields),
		primary:  primary,
	}, nil
}

// Parse builds a registry from "name=prec:block,name=prec:block". fieldSet is
// "all" or "base".
func Parse(spec, fieldSet, primary string) (Registry, error) {
	var stations []models.Station
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, codes, ok := strings.Cut(part, "=")
		if !ok {
			return Registry{}, fmt.Errorf("registry: station %q: want name=prec:block", part)
		}
		precStr, blockStr, ok := strings.Cut(codes, ":")
		if !ok {
			return Registry{}, fmt.Errorf("registry: station %q: want name=prec:block", part)
		}
		prec, err := strconv.Atoi(strings.TrimSpace(precStr))
		if err != nil {
			return Registry{}, fmt.Errorf("registry: station %q prec_no: %w", name, err)
		}
		block, err := strconv.Atoi(strings.TrimSpace(blockStr))
		if err != nil {
			return Registry{}, fmt.Errorf("registry: station %q block_no: %w", name, err)
		}
		stations = append(stations, models.Station{
			Name:    strings.TrimSpace(name),
			PrecNo:  prec,
			BlockNo: block,
			Active:  true,
		})
	}

	var fields []models.Field
	switch fieldSet {
	case "", "all":
		fields = models.AllFields
	case "base":
		fields = models.BaseFields
	default:
		return Registry{}, fmt.Errorf("registry: unknown field set %q (allowed: all, base)", fieldSet)
	}

	return New(stations, fields, primary)
}

func (r Registry) Stations() []models.Station { return slices.Clone(r.stations) }

func (r Registry) Fields() []models.Field { return slices.Clone(r.fields) }

func (r Registry) Primary() string { return r.primary }

// StationNames returns station names in registry order.
func (r Registry) StationNames() []string {
	names := make([]string, len(r.stations))
	for i, st := range r.stations {
		names[i] = st.Name
	}
	return names
}

// Station looks up a station by name.
func (r Registry) Station(name string) (models.Station, bool) {
	for _, st := range r.stations {
		if st.Name == name {
			return st, true
		}
	}
	return models.Station{}, false
}

// Column is the flat-table column name for a station's field.
func Column(station string, f models.Field) string {
	return station + "_" + string(f)
}
