// Package lithuania reads hydrological observations from the api.meteo.lt
// service of the Lithuanian Hydrometeorological Service.
package lithuania

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "lithuania"
	DefaultBaseURL = "https://api.meteo.lt/v1"

	// RequestsPerMinute is the documented quota of the API.
	RequestsPerMinute = 180
)

type station struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	WaterBody   string `json:"waterBody"`
	Coordinates struct {
		Latitude  normalize.FlexFloat `json:"latitude"`
		Longitude normalize.FlexFloat `json:"longitude"`
	} `json:"coordinates"`
}

type observation struct {
	Date      string              `json:"observationDateUtc"`
	Level     normalize.FlexFloat `json:"waterLevel"`
	Discharge normalize.FlexFloat `json:"waterDischarge"`
}

type monthDocument struct {
	Observations []observation `json:"observations"`
}

type Fetcher struct {
	baseURL string
	client  *transport.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		limiter: rate.NewLimiter(rate.Every(time.Minute/RequestsPerMinute), RequestsPerMinute),
		logger:  logger,
	}
}

// WithLimiter replaces the default quota limiter.
func (f *Fetcher) WithLimiter(limiter *rate.Limiter) *Fetcher {
	if limiter != nil {
		f.limiter = limiter
	}
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.limiter != nil && f.client.IsReady()
}

func (f *Fetcher) getJSON(ctx context.Context, path string, v any) error {
	if err := f.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limiter: %v", gauge.ErrNetwork, err)
	}

	return f.client.GetJSON(ctx, f.baseURL+path, nil, nil, v)
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations []station
	if err := f.getJSON(ctx, "/hydro-stations", &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch meteo.lt stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, s := range stations {
		lat, lon := s.Coordinates.Latitude, s.Coordinates.Longitude
		if s.Code == "" || !lat.Valid || !lon.Valid || !gauge.ValidLocation(lat.Value, lon.Value) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        strings.TrimSpace(s.Code),
			Name:      s.Name,
			River:     s.WaterBody,
			Latitude:  lat.Value,
			Longitude: lon.Value,
			Country:   "LT",
		})
	}

	f.logger.Info("Fetched meteo.lt stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	series, err := f.getData(ctx, gaugeID, variable, period)
	if err != nil {
		return nil, gauge.ExplainNoData(ctx, f, gaugeID, err)
	}
	return series, nil
}

func (f *Fetcher) getData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	conversion := normalize.Identity
	if variable == gauge.StageDailyMean {
		conversion = normalize.CentimetersToMeters
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, conversion)
	for _, month := range period.Months() {
		path := fmt.Sprintf("/hydro-stations/%s/observations/historical/%s", url.PathEscape(gaugeID), month.Format("2006-01"))

		var doc monthDocument
		if err := f.getJSON(ctx, path, &doc); err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Debug("No meteo.lt observations for month", "gauge", gaugeID, "month", month.Format("2006-01"))
				continue
			}
			return nil, fmt.Errorf("failed to fetch meteo.lt observations of %s: %w", gaugeID, err)
		}

		for _, obs := range doc.Observations {
			t, err := normalize.ParseTime(obs.Date)
			if err != nil {
				continue
			}

			value := obs.Discharge
			if variable == gauge.StageDailyMean {
				value = obs.Level
			}
			if value.Valid {
				builder.Add(normalize.Day(t), value.Value)
			}
		}
	}

	return builder.Build(period)
}
