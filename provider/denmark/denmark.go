// Package denmark reads river gauges of the Danish VandA/H hydrometry
// service on Miljøportal.
package denmark

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "denmark"
	DefaultBaseURL = "https://vandah.miljoeportal.dk/api"

	utmZone = 32

	// readings at or below this value are placeholders for missing data
	missingThreshold = -777

	requestTimeLayout = "2006-01-02T15:04Z"
)

var areaPattern = regexp.MustCompile(`(?i)(\d+(?:[.,]\d+)?)\s*(?:km2|km²|km\^2)`)

type series struct {
	path       string
	conversion normalize.Conversion
}

var (
	flows  = series{path: "/water-flows", conversion: normalize.LitersToCubicMeters}
	levels = series{path: "/water-levels", conversion: normalize.CentimetersToMeters}
)

var seriesByVariable = map[gauge.Variable]series{
	gauge.DischargeDailyMean: flows,
	gauge.DischargeInstant:   flows,
	gauge.StageDailyMean:     levels,
	gauge.StageInstant:       levels,
}

type location struct {
	X    normalize.FlexFloat  `json:"x"`
	Y    normalize.FlexFloat  `json:"y"`
	SRID normalize.FlexString `json:"srid"`
}

func (l *location) valid() bool {
	return l != nil && l.X.Valid && l.Y.Valid
}

// wgs84 returns latitude and longitude. ETRS89 UTM32 coordinates are
// converted, anything else is taken as longitude/latitude.
func (l *location) wgs84() (float64, float64) {
	srid := strings.ToLower(l.SRID.String())
	for _, marker := range []string{"25832", "utm32", "etrs89"} {
		if strings.Contains(srid, marker) {
			return normalize.UTMToWGS84(utmZone, true, l.X.Value, l.Y.Value)
		}
	}

	return l.Y.Value, l.X.Value
}

type station struct {
	StationID         normalize.FlexString `json:"stationId"`
	Name              string               `json:"name"`
	Description       string               `json:"description"`
	Location          *location            `json:"location"`
	MeasurementPoints []struct {
		Location *location `json:"location"`
	} `json:"measurementPoints"`
}

func (s station) location() *location {
	if s.Location.valid() {
		return s.Location
	}
	if len(s.MeasurementPoints) > 0 && s.MeasurementPoints[0].Location.valid() {
		return s.MeasurementPoints[0].Location
	}
	return nil
}

// river is the part of the station name before the first comma.
func (s station) river() string {
	name, _, _ := strings.Cut(s.Name, ",")
	return strings.TrimSpace(name)
}

type measurement struct {
	StationID normalize.FlexString `json:"stationId"`
	Results   []struct {
		MeasurementDateTime string              `json:"measurementDateTime"`
		Result              normalize.FlexFloat `json:"result"`
	} `json:"results"`
}

type Fetcher struct {
	baseURL string
	client  *transport.Client
	logger  *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{
		gauge.DischargeDailyMean,
		gauge.StageDailyMean,
		gauge.DischargeInstant,
		gauge.StageInstant,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations []station
	if err := f.client.GetJSON(ctx, f.baseURL+"/stations", nil, nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch VandA/H stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, st := range stations {
		loc := st.location()
		if loc == nil || st.StationID == "" {
			continue
		}

		lat, lon := loc.wgs84()
		if !gauge.ValidLocation(lat, lon) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        st.StationID.String(),
			Name:      strings.TrimSpace(st.Name),
			River:     st.river(),
			Latitude:  lat,
			Longitude: lon,
			Area:      parseArea(st.Description),
			Country:   "DK",
		})
	}

	f.logger.Info("Fetched VandA/H stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	s := seriesByVariable[variable]
	query := url.Values{
		"stationId": {gaugeID},
		"from":      {period.Start.Format(requestTimeLayout)},
		"to":        {period.Until().Add(-1).Format(requestTimeLayout)},
		"format":    {"json"},
	}

	var measurements []measurement
	if err := f.client.GetJSON(ctx, f.baseURL+s.path, query, nil, &measurements); err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: VandA/H does not know station %s", gauge.ErrUnknownGauge, gaugeID)
		case errors.Is(err, transport.ErrNoContent):
			return nil, fmt.Errorf("%w: empty VandA/H response for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch VandA/H %s of %s: %w", s.path, gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, s.conversion)
	for _, m := range measurements {
		for _, r := range m.Results {
			if !r.Result.Valid || r.Result.Value <= missingThreshold {
				continue
			}

			t, err := normalize.ParseTime(r.MeasurementDateTime)
			if err != nil {
				f.logger.Debug("Skipping VandA/H reading", "time", r.MeasurementDateTime, "error", err)
				continue
			}
			builder.Add(t, r.Result.Value)
		}
	}

	if variable.IsInstant() {
		return builder.Build(period)
	}
	return builder.BuildDailyMeans(period)
}

func parseArea(description string) *float64 {
	match := areaPattern.FindStringSubmatch(description)
	if match == nil {
		return nil
	}

	v, ok := normalize.ParseFloat(match[1])
	if !ok {
		return nil
	}
	return &v
}
