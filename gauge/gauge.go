package gauge

import (
	"fmt"
	"math"
)

type Gauge struct {
	ID        string   `json:"gauge_id"`
	Name      string   `json:"station_name"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	River     string   `json:"river,omitempty"`
	Provider  string   `json:"provider"`
	Altitude  *float64 `json:"altitude,omitempty"`
	Area      *float64 `json:"area,omitempty"`
	Country   string   `json:"country,omitempty"`
}

// HasValidLocation reports whether the coordinates are finite WGS84 degrees.
func (g Gauge) HasValidLocation() bool {
	return ValidLocation(g.Latitude, g.Longitude)
}

func ValidLocation(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}

	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

type GaugeCollection struct {
	Provider string  `json:"provider"`
	Gauges   []Gauge `json:"gauges"`
}

func NewGaugeCollection(provider string) *GaugeCollection {
	return &GaugeCollection{
		Provider: provider,
		Gauges:   []Gauge{},
	}
}

func (c *GaugeCollection) Len() int {
	return len(c.Gauges)
}

// Add appends the gauge unless a gauge with the same ID is already present.
// It returns false for duplicates.
func (c *GaugeCollection) Add(g Gauge) bool {
	if c.Has(g.ID) {
		return false
	}

	if g.Provider == "" {
		g.Provider = c.Provider
	}

	c.Gauges = append(c.Gauges, g)
	return true
}

func (c *GaugeCollection) Has(id string) bool {
	_, ok := c.Find(id)
	return ok
}

func (c *GaugeCollection) Find(id string) (Gauge, bool) {
	for _, g := range c.Gauges {
		if g.ID == id {
			return g, true
		}
	}

	return Gauge{}, false
}

func (c *GaugeCollection) IDs() []string {
	ids := make([]string, len(c.Gauges))
	for i, g := range c.Gauges {
		ids[i] = g.ID
	}

	return ids
}

// Validate checks the catalogue invariants: non-empty unique IDs and
// coordinates within WGS84 bounds.
func (c *GaugeCollection) Validate() error {
	seen := make(map[string]struct{}, len(c.Gauges))
	for i, g := range c.Gauges {
		if g.ID == "" {
			return fmt.Errorf("%w: gauge at position %d has no id", ErrMalformedResponse, i)
		}

		if _, ok := seen[g.ID]; ok {
			return fmt.Errorf("%w: duplicate gauge id %s", ErrMalformedResponse, g.ID)
		}
		seen[g.ID] = struct{}{}

		if !g.HasValidLocation() {
			return fmt.Errorf("%w: gauge %s has invalid location (%f, %f)", ErrMalformedResponse, g.ID, g.Latitude, g.Longitude)
		}
	}

	return nil
}
