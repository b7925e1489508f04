package sensors

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/jkaberg/hass-sensors/internal/permission"
)

func TestStringify(t *testing.T) {
	f := 12.25
	s := "parked"
	var nilFloat *float64

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"float", 21.5, "21.5"},
		{"whole float", 88.0, "88"},
		{"float32", float32(0.5), "0.5"},
		{"int", 88, "88"},
		{"bool", true, "true"},
		{"string", "on", "on"},
		{"float pointer", &f, "12.25"},
		{"nil float pointer", nilFloat, ""},
		{"string pointer", &s, "parked"},
		{"stringer", time.Duration(1500) * time.Millisecond, "1.5s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestRegistrationValidate(t *testing.T) {
	if err := (Registration{}).Validate(); !errors.Is(err, ErrEmptyUniqueID) {
		t.Errorf("Validate() = %v, want ErrEmptyUniqueID", err)
	}
	if err := (Registration{UniqueID: "speed"}).Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestSnapshotFind(t *testing.T) {
	snap := &Snapshot{Registrations: []Registration{{UniqueID: "speed", State: 10.0}, {UniqueID: "mileage"}}}
	if r, ok := snap.Find("speed"); !ok || r.State != 10.0 {
		t.Errorf("Find(speed) = %+v, %v", r, ok)
	}
	if _, ok := snap.Find("location"); ok {
		t.Error("Find(location) found a missing sensor")
	}
	var nilSnap *Snapshot
	if _, ok := nilSnap.Find("speed"); ok {
		t.Error("nil snapshot found a sensor")
	}
}

func TestCatalogIDsUnique(t *testing.T) {
	seen := make(map[string]bool)
	diplus := make(map[int]bool)
	for _, d := range Catalog {
		if d.ID == "" {
			t.Fatalf("definition %+v has no id", d)
		}
		if seen[d.ID] {
			t.Errorf("duplicate catalog id %q", d.ID)
		}
		seen[d.ID] = true
		if d.Source == SourceDiplus {
			if diplus[d.DiplusID] {
				t.Errorf("duplicate Di-Plus id %d", d.DiplusID)
			}
			diplus[d.DiplusID] = true
			if d.ScaleFactor == 0 {
				t.Errorf("%s has zero scale factor", d.ID)
			}
		}
	}
}

func TestCapabilityResolver(t *testing.T) {
	r := NewCapabilityResolver(map[string][]string{
		"wifi_connection": {},
		"speed":           {permission.FineLocation},
	})

	tests := []struct {
		id   string
		want []string
	}{
		{"location", []string{permission.FineLocation, permission.BackgroundLocation}},
		{"wifi_connection", []string{}},
		{"speed", []string{permission.FineLocation}},
		{"mileage", nil},
		{"unknown", nil},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := r.Required(tt.id)
			if len(got) != len(tt.want) || (len(got) > 0 && !reflect.DeepEqual(got, tt.want)) {
				t.Errorf("Required(%s) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}

	got := r.Required("location")
	got[0] = "mutated"
	if Lookup("location").Capabilities[0] != permission.FineLocation {
		t.Error("Required() exposed the catalog slice")
	}
}

func TestBySource(t *testing.T) {
	if n := len(BySource(SourceLocation)); n != 1 {
		t.Errorf("BySource(location) = %d definitions, want 1", n)
	}
	if n := len(BySource(SourceDiplus)); n < 10 {
		t.Errorf("BySource(diplus) = %d definitions", n)
	}
}
