// Package pegelonline reads the federal waterway gauges of the German
// Waterways and Shipping Administration through the PEGELONLINE REST API.
// The service keeps roughly the last 30 days of readings.
package pegelonline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "germany_pegelonline"
	DefaultBaseURL = "https://www.pegelonline.wsv.de/webservices/rest-api/v2"
)

type timeseries struct {
	shortName  string
	conversion normalize.Conversion
}

var (
	waterLevel       = timeseries{shortName: "W", conversion: normalize.CentimetersToMeters}
	discharge        = timeseries{shortName: "Q", conversion: normalize.Identity}
	waterTemperature = timeseries{shortName: "WT", conversion: normalize.Identity}
)

var timeseriesByVariable = map[gauge.Variable]timeseries{
	gauge.StageInstant:            waterLevel,
	gauge.StageDailyMean:          waterLevel,
	gauge.DischargeInstant:        discharge,
	gauge.DischargeDailyMean:      discharge,
	gauge.WaterTemperatureInstant: waterTemperature,
}

type StationList []Station

type Station struct {
	UUID      string              `json:"uuid"`
	Number    string              `json:"number"`
	LongName  string              `json:"longname"`
	ShortName string              `json:"shortname"`
	KM        normalize.FlexFloat `json:"km"`
	Latitude  normalize.FlexFloat `json:"latitude"`
	Longitude normalize.FlexFloat `json:"longitude"`
	Water     StationWater        `json:"water"`
}

type StationWater struct {
	LongName  string `json:"longname"`
	ShortName string `json:"shortname"`
}

type Measurement struct {
	Timestamp string              `json:"timestamp"`
	Value     normalize.FlexFloat `json:"value"`
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
		gauge.StageInstant,
		gauge.StageDailyMean,
		gauge.DischargeInstant,
		gauge.DischargeDailyMean,
		gauge.WaterTemperatureInstant,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// GetGaugeIDs lists all stations; gauges are keyed by the station UUID.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations StationList
	if err := f.client.GetJSON(ctx, f.baseURL+"/stations.json", nil, nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch PEGELONLINE stations: %w", err)
	}

	title := cases.Title(language.German)
	collection := gauge.NewGaugeCollection(ProviderName)
	for _, st := range stations {
		if st.UUID == "" || !st.Latitude.Valid || !st.Longitude.Valid {
			continue
		}
		if !gauge.ValidLocation(st.Latitude.Value, st.Longitude.Value) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        st.UUID,
			Name:      title.String(st.LongName),
			River:     title.String(st.Water.LongName),
			Latitude:  st.Latitude.Value,
			Longitude: st.Longitude.Value,
			Country:   "DE",
		})
	}

	f.logger.Info("Fetched PEGELONLINE stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	ts := timeseriesByVariable[variable]
	resourceURL := fmt.Sprintf("%s/stations/%s/%s/measurements.json", f.baseURL, url.PathEscape(gaugeID), ts.shortName)
	query := url.Values{
		"start": {period.Start.Format(time.RFC3339)},
		"end":   {period.Until().Format(time.RFC3339)},
	}

	var measurements []Measurement
	if err := f.client.GetJSON(ctx, resourceURL, query, nil, &measurements); err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: PEGELONLINE has no %s series for %s", gauge.ErrUnknownGauge, ts.shortName, gaugeID)
		case errors.Is(err, transport.ErrNoContent):
			return nil, fmt.Errorf("%w: empty PEGELONLINE response for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch PEGELONLINE measurements of %s: %w", gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, ts.conversion)
	for _, m := range measurements {
		t, err := normalize.ParseTime(m.Timestamp)
		if err != nil || !m.Value.Valid {
			continue
		}
		builder.Add(t, m.Value.Value)
	}

	f.logger.Debug("Fetched PEGELONLINE measurements", "gaugeID", gaugeID, "timeseries", ts.shortName, "count", builder.Len())
	if variable.IsInstant() {
		return builder.Build(period)
	}
	return builder.BuildDailyMeans(period)
}
