// Package table reads and writes the gauge-list and observation-series
// result tables as CSV.
package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
)

var (
	GaugeHeader  = []string{"gauge_id", "station_name", "river", "latitude", "longitude", "altitude", "area", "country", "provider"}
	SeriesHeader = []string{"time", "value", "variable", "unit", "gauge_id"}
)

var ErrMissingColumn = errors.New("missing required column")

// SitesFileName is the conventional name of a cached provider catalogue.
func SitesFileName(provider string) string {
	return provider + "_sites.csv"
}

// ReadGaugesFile loads a cached catalogue. A missing file is reported as
// gauge.ErrNoCatalogue.
func ReadGaugesFile(path, provider string) (*gauge.GaugeCollection, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: no site list configured for %s", gauge.ErrNoCatalogue, provider)
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", gauge.ErrNoCatalogue, path)
		}
		return nil, fmt.Errorf("failed to open site list %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	return ReadGauges(f, provider)
}

// CheckGauge reports gauge.ErrUnknownGauge when gaugeID is missing from the
// cached catalogue at path. Catalogue load errors are returned as they are.
func CheckGauge(path, provider, gaugeID string) error {
	collection, err := ReadGaugesFile(path, provider)
	if err != nil {
		return err
	}

	if !collection.Has(gaugeID) {
		return fmt.Errorf("%w: %s is not in the %s site list", gauge.ErrUnknownGauge, gaugeID, provider)
	}
	return nil
}

// ReadGauges parses a CSV catalogue with at least gauge_id, latitude and
// longitude columns. Rows without valid coordinates are skipped.
func ReadGauges(r io.Reader, provider string) (*gauge.GaugeCollection, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read site list header: %v", gauge.ErrMalformedResponse, err)
	}

	columns := indexColumns(header)
	for _, required := range []string{"gauge_id", "latitude", "longitude"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	collection := gauge.NewGaugeCollection(provider)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read site list: %v", gauge.ErrMalformedResponse, err)
		}

		field := func(name string) string {
			idx, ok := columns[name]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}

		lat, latOK := normalize.ParseFloat(field("latitude"))
		lon, lonOK := normalize.ParseFloat(field("longitude"))
		id := field("gauge_id")
		if id == "" || !latOK || !lonOK || !gauge.ValidLocation(lat, lon) {
			continue
		}

		g := gauge.Gauge{
			ID:        id,
			Name:      field("station_name"),
			River:     field("river"),
			Latitude:  lat,
			Longitude: lon,
			Country:   field("country"),
			Provider:  provider,
		}
		if v, ok := normalize.ParseFloat(field("altitude")); ok {
			g.Altitude = &v
		}
		if v, ok := normalize.ParseFloat(field("area")); ok {
			g.Area = &v
		}

		collection.Add(g)
	}

	return collection, nil
}

func indexColumns(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		switch name {
		case "id", "site", "station_id", "code":
			name = "gauge_id"
		case "name":
			name = "station_name"
		case "lat":
			name = "latitude"
		case "lon", "lng", "long":
			name = "longitude"
		}
		if _, exists := columns[name]; !exists {
			columns[name] = i
		}
	}

	return columns
}

func WriteGauges(w io.Writer, collection *gauge.GaugeCollection) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(GaugeHeader); err != nil {
		return err
	}

	for _, g := range collection.Gauges {
		record := []string{
			g.ID,
			g.Name,
			g.River,
			formatFloat(g.Latitude),
			formatFloat(g.Longitude),
			formatOptional(g.Altitude),
			formatOptional(g.Area),
			g.Country,
			g.Provider,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSeries writes the flat observation table. Daily values are written as
// plain dates, sub-daily ones as RFC 3339 timestamps.
func WriteSeries(w io.Writer, series *gauge.Series) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(SeriesHeader); err != nil {
		return err
	}

	layout := gauge.DateLayout
	if series.Variable.IsInstant() {
		layout = time.RFC3339
	}

	for _, row := range series.Rows() {
		record := []string{
			row.Time.Format(layout),
			formatFloat(row.Value),
			string(row.Variable),
			string(row.Unit),
			row.GaugeID,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}
