package registry

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

func TestNew_Default(t *testing.T) {
	reg, err := New(Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pairs := reg.Pairs()
	if len(pairs) != 1 {
		t.Fatalf("pairs=%d want 1", len(pairs))
	}
	if pairs[0].Urban.Name != "Phoenix" || pairs[0].Rural.Name != "Buckeye" {
		t.Fatalf("unexpected pair %s", pairs[0].Key())
	}
	if pairs[0].Rural.IsUrban || pairs[0].Rural.PairName != "" {
		t.Fatal("rural location must carry no pair reference")
	}
	if len(reg.Locations()) != 2 {
		t.Fatalf("locations=%d want 2", len(reg.Locations()))
	}
}

func TestNew_Malformed(t *testing.T) {
	cases := []struct {
		name    string
		entries []Entry
	}{
		{"empty", nil},
		{"missing pair", []Entry{{Name: "U", Urban: true}}},
		{"unknown pair", []Entry{{Name: "U", Urban: true, Pair: "R"}}},
		{"self pair", []Entry{{Name: "U", Urban: true, Pair: "U"}}},
		{"urban cycle", []Entry{
			{Name: "A", Urban: true, Pair: "B"},
			{Name: "B", Urban: true, Pair: "A"},
		}},
		{"rural references rural", []Entry{
			{Name: "U", Urban: true, Pair: "R1"},
			{Name: "R1", Pair: "R2"},
			{Name: "R2"},
		}},
		{"duplicate", []Entry{
			{Name: "U", Urban: true, Pair: "R"},
			{Name: "R"},
			{Name: "R"},
		}},
		{"bad coordinates", []Entry{
			{Name: "U", Urban: true, Pair: "R", Latitude: 91},
			{Name: "R"},
		}},
		{"no pairs", []Entry{{Name: "R"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.entries)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, models.ErrConfiguration) {
				t.Fatalf("error %v does not wrap ErrConfiguration", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yaml")
	content := `locations:
  - name: Madrid
    latitude: 40.4168
    longitude: -3.7038
    urban: true
    pair: Guadalix de la Sierra
  - name: Guadalix de la Sierra
    latitude: 40.7838
    longitude: -3.6901
  - name: Berlin
    latitude: 52.52
    longitude: 13.405
    urban: true
    pair: Nauen
  - name: Nauen
    latitude: 52.608
    longitude: 12.879
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	entries, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	reg, err := New(entries)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pairs := reg.Pairs()
	if len(pairs) != 2 || pairs[0].Urban.Name != "Berlin" || pairs[1].Rural.Name != "Guadalix de la Sierra" {
		t.Fatalf("unexpected pairs: %+v", pairs)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, models.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestBind(t *testing.T) {
	reg, err := New(Default())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	pairs, err := reg.Bind(map[string]int64{"Phoenix": 1, "Buckeye": 2})
	if err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if pairs[0].Urban.ID != 1 || pairs[0].Rural.ID != 2 || *pairs[0].Urban.PairID != 2 {
		t.Fatalf("unexpected ids: %+v", pairs[0])
	}
	if _, err := reg.Bind(map[string]int64{"Phoenix": 1}); err == nil {
		t.Fatal("expected error for missing rural id")
	}
}
