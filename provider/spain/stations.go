package spain

import (
	"archive/zip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
)

const (
	listEncoding = "latin1"
	// ETRS89 coordinates of the peninsula default to this UTM zone
	defaultUTMZone = 30
)

var (
	latitudeColumns  = []string{"LATITUD", "LAT", "LATWGS84", "LAT_WGS84", "LAT_ETRS89"}
	longitudeColumns = []string{"LONGITUD", "LON", "LONG", "LONGWGS84", "LON_WGS84", "LONG_ETRS89"}
	eastingColumns   = []string{"XETRS89", "X_ETRS89", "UTM_X", "COORD_X", "X"}
	northingColumns  = []string{"YETRS89", "Y_ETRS89", "UTM_Y", "COORD_Y", "Y"}
	zoneColumns      = []string{"HUSO", "HUSO_ETRS89", "ZONA"}
)

type record struct {
	columns map[string]int
	values  []string
}

func (r record) get(names ...string) string {
	for _, name := range names {
		if idx, ok := r.columns[name]; ok && idx < len(r.values) {
			if v := strings.TrimSpace(r.values[idx]); v != "" {
				return v
			}
		}
	}
	return ""
}

func (r record) float(names ...string) (float64, bool) {
	return normalize.ParseFloat(r.get(names...))
}

func (r record) location() (float64, float64, bool) {
	lat, okLat := r.float(latitudeColumns...)
	lon, okLon := r.float(longitudeColumns...)
	if okLat && okLon {
		return lat, lon, gauge.ValidLocation(lat, lon)
	}

	easting, okX := r.float(eastingColumns...)
	northing, okY := r.float(northingColumns...)
	if !okX || !okY {
		return 0, 0, false
	}

	zone := defaultUTMZone
	if z, ok := r.float(zoneColumns...); ok && z >= 1 && z <= 60 {
		zone = int(z)
	}

	lat, lon = normalize.UTMToWGS84(zone, true, easting, northing)
	return lat, lon, gauge.ValidLocation(lat, lon)
}

func readStations(file *zip.File) (*gauge.GaugeCollection, error) {
	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", file.Name, err)
	}
	defer src.Close()

	decoded, err := normalize.DecodeCharset(src, listEncoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(decoded)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read station list header: %v", gauge.ErrMalformedResponse, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToUpper(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["COD_HIDRO"]; !ok {
		return nil, fmt.Errorf("%w: station list lacks COD_HIDRO", gauge.ErrMalformedResponse)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for {
		values, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return collection, nil
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read station list: %v", gauge.ErrMalformedResponse, err)
		}

		rec := record{columns: columns, values: values}
		id := rec.get("COD_HIDRO")
		lat, lon, ok := rec.location()
		if id == "" || !ok {
			continue
		}

		g := gauge.Gauge{
			ID:        id,
			Name:      rec.get("NOM_ANUARIO"),
			River:     rec.get("RIO"),
			Latitude:  lat,
			Longitude: lon,
			Country:   "ES",
		}
		if v, ok := rec.float("COTA_Z"); ok {
			g.Altitude = &v
		}
		if v, ok := rec.float("CUENCA_TOTAL"); ok {
			g.Area = &v
		}
		collection.Add(g)
	}
}
