// Package registry holds the static urban/rural location catalog.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/02loveslollipop/urban-heat-differential/internal/models"
)

// Entry is one catalog location as written in the YAML file.
type Entry struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	Urban     bool    `yaml:"urban"`
	Pair      string  `yaml:"pair,omitempty"`
}

type catalogFile struct {
	Locations []Entry `yaml:"locations"`
}

// Registry is the validated, read-only catalog.
type Registry struct {
	locations []models.Location
	pairs     []models.Pair
}

// Default returns the built-in catalog.
func Default() []Entry {
	return []Entry{
		{Name: "Phoenix", Latitude: 33.4484, Longitude: -112.0740, Urban: true, Pair: "Buckeye"},
		{Name: "Buckeye", Latitude: 33.3705, Longitude: -112.5838},
	}
}

// LoadFile reads catalog entries from a YAML file.
func LoadFile(path string) ([]Entry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", models.ErrConfiguration, path, err)
	}
	var file catalogFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", models.ErrConfiguration, path, err)
	}
	return file.Locations, nil
}

// New validates entries and builds the registry. Every error wraps models.ErrConfiguration.
func New(entries []Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: catalog is empty", models.ErrConfiguration)
	}

	byName := make(map[string]Entry, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: location with empty name", models.ErrConfiguration)
		}
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate location %q", models.ErrConfiguration, name)
		}
		if e.Latitude < -90 || e.Latitude > 90 || e.Longitude < -180 || e.Longitude > 180 {
			return nil, fmt.Errorf("%w: location %q has invalid coordinates", models.ErrConfiguration, name)
		}
		e.Name = name
		e.Pair = strings.TrimSpace(e.Pair)
		byName[name] = e
	}

	reg := &Registry{}
	for _, e := range entries {
		e = byName[strings.TrimSpace(e.Name)]
		if !e.Urban {
			if e.Pair != "" {
				return nil, fmt.Errorf("%w: rural location %q must not reference %q", models.ErrConfiguration, e.Name, e.Pair)
			}
			reg.locations = append(reg.locations, toLocation(e))
			continue
		}
		if e.Pair == "" {
			return nil, fmt.Errorf("%w: urban location %q has no rural pair", models.ErrConfiguration, e.Name)
		}
		if e.Pair == e.Name {
			return nil, fmt.Errorf("%w: urban location %q is paired with itself", models.ErrConfiguration, e.Name)
		}
		rural, ok := byName[e.Pair]
		if !ok {
			return nil, fmt.Errorf("%w: urban location %q references unknown location %q", models.ErrConfiguration, e.Name, e.Pair)
		}
		if rural.Urban {
			return nil, fmt.Errorf("%w: urban location %q references urban location %q", models.ErrConfiguration, e.Name, e.Pair)
		}
		urban := toLocation(e)
		reg.locations = append(reg.locations, urban)
		reg.pairs = append(reg.pairs, models.Pair{Urban: urban, Rural: toLocation(rural)})
	}

	if len(reg.pairs) == 0 {
		return nil, fmt.Errorf("%w: catalog has no urban/rural pairs", models.ErrConfiguration)
	}

	sort.Slice(reg.pairs, func(i, j int) bool { return reg.pairs[i].Urban.Name < reg.pairs[j].Urban.Name })
	return reg, nil
}

// Pairs returns all urban/rural pairs ordered by urban name.
func (r *Registry) Pairs() []models.Pair {
	out := make([]models.Pair, len(r.pairs))
	copy(out, r.pairs)
	return out
}

// Locations returns every catalog location in declaration order.
func (r *Registry) Locations() []models.Location {
	out := make([]models.Location, len(r.locations))
	copy(out, r.locations)
	return out
}

// Bind returns the pairs with storage ids filled in from ids (name -> location_id).
func (r *Registry) Bind(ids map[string]int64) ([]models.Pair, error) {
	out := r.Pairs()
	for i := range out {
		urbanID, ok := ids[out[i].Urban.Name]
		if !ok {
			return nil, fmt.Errorf("location %q has no storage id", out[i].Urban.Name)
		}
		ruralID, ok := ids[out[i].Rural.Name]
		if !ok {
			return nil, fmt.Errorf("location %q has no storage id", out[i].Rural.Name)
		}
		out[i].Urban.ID = urbanID
		out[i].Rural.ID = ruralID
		out[i].Urban.PairID = &ruralID
	}
	return out, nil
}

func toLocation(e Entry) models.Location {
	return models.Location{
		Name:      e.Name,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		IsUrban:   e.Urban,
		PairName:  e.Pair,
	}
}
