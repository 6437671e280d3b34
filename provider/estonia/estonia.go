// Package estonia reads daily series from EstModel, the hydrological model
// platform of the Estonian Environment Agency. Station coordinates are not
// part of EstModel and are matched by name from the WISKI stations published
// on the Estonian geoportal.
package estonia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "estonia"
	DefaultBaseURL = "https://estmodel.envir.ee"
	DefaultWFSURL  = "https://inspire.geoportaal.ee/geoserver/EF_hydrojaamad/wfs"

	hydrologicalStation = "HYDROLOGICAL"
	wfsTypeName         = "EF_hydrojaamad:EF.EnvironmentalMonitoringFacilities"
)

type measurement struct {
	parameter string
	kind      string
}

var measurements = map[gauge.Variable]measurement{
	gauge.DischargeDailyMean:        {parameter: "Q", kind: "MEAN"},
	gauge.StageDailyMean:            {parameter: "H", kind: "MEAN"},
	gauge.WaterTemperatureDailyMean: {parameter: "T", kind: "MEAN"},
}

var (
	nameSeparators = regexp.MustCompile(`[-/:.,]`)
	nameNoise      = regexp.MustCompile(`hudro\w*|jaam`)
	spaces         = regexp.MustCompile(`\s+`)
)

type station struct {
	Code normalize.FlexString `json:"code"`
	Name string               `json:"name"`
	Type string               `json:"type"`
}

// river and location are the parts of a "River: Location" station name.
func (s station) river() string {
	river, _, ok := strings.Cut(s.Name, ":")
	if !ok {
		return ""
	}
	return strings.TrimSpace(river)
}

func (s station) location() string {
	_, location, ok := strings.Cut(s.Name, ":")
	if !ok {
		return strings.TrimSpace(s.Name)
	}
	return strings.TrimSpace(location)
}

type featureCollection struct {
	Features []struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
		Geometry struct {
			Type        string          `json:"type"`
			Coordinates json.RawMessage `json:"coordinates"`
		} `json:"geometry"`
	} `json:"features"`
}

type site struct {
	name      string
	latitude  float64
	longitude float64
}

type reading struct {
	StartDate string              `json:"startDate"`
	Value     normalize.FlexFloat `json:"value"`
}

type Fetcher struct {
	baseURL string
	wfsURL  string
	client  *transport.Client
	logger  *slog.Logger
}

func NewFetcher(baseURL, wfsURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if wfsURL == "" {
		wfsURL = DefaultWFSURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		wfsURL:  wfsURL,
		client:  client,
		logger:  logger,
	}
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean, gauge.WaterTemperatureDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// GetGaugeIDs lists the hydrological EstModel stations that could be
// located in the WISKI station layer.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations []station
	if err := f.client.GetJSON(ctx, f.baseURL+"/stations", nil, nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch EstModel stations: %w", err)
	}

	sites, err := f.fetchSites(ctx)
	if err != nil {
		return nil, err
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	unlocated := 0
	for _, st := range stations {
		if st.Type != hydrologicalStation || st.Code.String() == "" {
			continue
		}

		s, ok := matchSite(st.location(), sites)
		if !ok {
			unlocated++
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        strings.TrimSpace(st.Code.String()),
			Name:      st.Name,
			River:     st.river(),
			Latitude:  s.latitude,
			Longitude: s.longitude,
			Country:   "EE",
		})
	}

	f.logger.Info("Fetched EstModel stations", "count", collection.Len(), "unlocated", unlocated)
	return collection, nil
}

func (f *Fetcher) fetchSites(ctx context.Context) ([]site, error) {
	query := url.Values{
		"request":      {"GetFeature"},
		"service":      {"WFS"},
		"version":      {"2.0.0"},
		"outputFormat": {"application/json"},
		"typeNames":    {wfsTypeName},
	}

	var features featureCollection
	if err := f.client.GetJSON(ctx, f.wfsURL, query, nil, &features); err != nil {
		return nil, fmt.Errorf("failed to fetch WISKI stations: %w", err)
	}

	sites := make([]site, 0, len(features.Features))
	for _, feature := range features.Features {
		x, y, ok := pointCoordinates(feature.Geometry.Coordinates)
		if !ok {
			continue
		}

		lat, lon := normalize.EstonianLambert.ToGeographic(x, y)
		if !gauge.ValidLocation(lat, lon) {
			continue
		}
		sites = append(sites, site{name: normalizeName(feature.Properties.Name), latitude: lat, longitude: lon})
	}

	return sites, nil
}

// pointCoordinates accepts Point and single-point MultiPoint geometries.
func pointCoordinates(raw json.RawMessage) (float64, float64, bool) {
	var point []float64
	if err := json.Unmarshal(raw, &point); err == nil && len(point) >= 2 {
		return point[0], point[1], true
	}

	var points [][]float64
	if err := json.Unmarshal(raw, &points); err == nil && len(points) > 0 && len(points[0]) >= 2 {
		return points[0][0], points[0][1], true
	}

	return 0, 0, false
}

// matchSite returns the first site whose normalized name contains the
// station location or is contained in it.
func matchSite(location string, sites []site) (site, bool) {
	name := normalizeName(location)
	if name == "" {
		return site{}, false
	}

	for _, s := range sites {
		if s.name == "" {
			continue
		}
		if strings.Contains(s.name, name) || strings.Contains(name, s.name) {
			return s, true
		}
	}

	return site{}, false
}

// normalizeName lowercases, strips diacritics and drops the words for
// "hydrological station" so EstModel and WISKI names compare equal.
func normalizeName(name string) string {
	stripDiacritics := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripDiacritics, strings.ToLower(name))
	if err != nil {
		folded = strings.ToLower(name)
	}

	folded = nameSeparators.ReplaceAllString(folded, " ")
	folded = nameNoise.ReplaceAllString(folded, "")
	return strings.TrimSpace(spaces.ReplaceAllString(folded, " "))
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	m := measurements[variable]
	resourceURL := fmt.Sprintf("%s/stations/%s/measurements", f.baseURL, url.PathEscape(gaugeID))
	query := url.Values{
		"parameter":  {m.parameter},
		"type":       {m.kind},
		"start-year": {strconv.Itoa(period.Start.Year())},
		"end-year":   {strconv.Itoa(period.End.Year())},
	}

	var readings []reading
	if err := f.client.GetJSON(ctx, resourceURL, query, nil, &readings); err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: EstModel does not know station %s", gauge.ErrUnknownGauge, gaugeID)
		case errors.Is(err, transport.ErrNoContent):
			return nil, fmt.Errorf("%w: empty EstModel response for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch EstModel %s of %s: %w", m.parameter, gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for _, r := range readings {
		// daily values are keyed by their local calendar date
		if len(r.StartDate) < len(gauge.DateLayout) {
			continue
		}
		t, err := normalize.ParseTime(r.StartDate[:len(gauge.DateLayout)], gauge.DateLayout)
		if err != nil || !r.Value.Valid {
			continue
		}
		builder.Add(t, r.Value.Value)
	}

	return builder.Build(period)
}
