package registry

import (
	"testing"

	"github.com/lox/tenki/internal/models"
)

func TestDefault(t *testing.T) {
	r := Default()
	if r.Primary() != "tokyo" {
		t.Errorf("Primary() = %q, want tokyo", r.Primary())
	}
	names := r.StationNames()
	if len(names) != 2 || names[0] != "tokyo" || names[1] != "kofu" {
		t.Errorf("StationNames() = %v, want [tokyo kofu]", names)
	}
	if len(r.Fields()) != 12 {
		t.Errorf("len(Fields()) = %d, want 12", len(r.Fields()))
	}
	st, ok := r.Station("kofu")
	if !ok || st.PrecNo != 49 || st.BlockNo != 47638 {
		t.Errorf("Station(kofu) = %+v, %v", st, ok)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		spec        string
		fields      string
		primary     string
		wantErr     bool
		wantPrimary string
		wantFields  int
	}{
		{name: "two stations", spec: "tokyo=44:47662,kofu=49:47638", wantPrimary: "tokyo", wantFields: 12},
		{name: "explicit primary", spec: "tokyo=44:47662,kofu=49:47638", primary: "kofu", wantPrimary: "kofu", wantFields: 12},
		{name: "base fields", spec: "tokyo=44:47662", fields: "base", wantPrimary: "tokyo", wantFields: 7},
		{name: "spaces tolerated", spec: " tokyo = 44 : 47662 , ", wantPrimary: "tokyo", wantFields: 12},
		{name: "missing codes", spec: "tokyo", wantErr: true},
		{name: "bad prec", spec: "tokyo=x:47662", wantErr: true},
		{name: "zero block", spec: "tokyo=44:0", wantErr: true},
		{name: "non alphanumeric name", spec: "to-kyo=44:47662", wantErr: true},
		{name: "duplicate", spec: "tokyo=44:47662,tokyo=44:47662", wantErr: true},
		{name: "unknown primary", spec: "tokyo=44:47662", primary: "osaka", wantErr: true},
		{name: "unknown field set", spec: "tokyo=44:47662", fields: "some", wantErr: true},
		{name: "empty", spec: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := Parse(tt.spec, tt.fields, tt.primary)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if r.Primary() != tt.wantPrimary {
				t.Errorf("Primary() = %q, want %q", r.Primary(), tt.wantPrimary)
			}
			if len(r.Fields()) != tt.wantFields {
				t.Errorf("len(Fields()) = %d, want %d", len(r.Fields()), tt.wantFields)
			}
		})
	}
}

func TestRegistryIsImmutable(t *testing.T) {
	r := Default()
	st := r.Stations()
	st[0].Name = "mutated"
	f := r.Fields()
	f[0] = models.FieldWindV

	if r.StationNames()[0] != "tokyo" {
		t.Error("mutating Stations() result changed the registry")
	}
	if r.Fields()[0] != models.FieldTempMean {
		t.Error("mutating Fields() result changed the registry")
	}
}

func TestColumn(t *testing.T) {
	if got := Column("tokyo", models.FieldThetaE); got != "tokyo_theta_e" {
		t.Errorf("Column() = %q, want tokyo_theta_e", got)
	}
}
