// Package norway queries HydAPI of the Norwegian Water Resources and Energy
// Directorate (NVE). Every request needs an API key.
package norway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "norway"
	DefaultBaseURL = "https://hydapi.nve.no/api/v1"

	apiKeyHeader = "X-API-Key"
)

type parameter struct {
	id         int
	resolution int // minutes, 0 is the raw series
}

var parameters = map[gauge.Variable]parameter{
	gauge.StageDailyMean:            {id: 1000, resolution: 1440},
	gauge.DischargeDailyMean:        {id: 1001, resolution: 1440},
	gauge.WaterTemperatureDailyMean: {id: 1003, resolution: 1440},
	gauge.StageInstant:              {id: 1000, resolution: 0},
	gauge.DischargeInstant:          {id: 1001, resolution: 0},
}

type station struct {
	ID            string              `json:"stationId"`
	Name          string              `json:"stationName"`
	River         string              `json:"riverName"`
	Latitude      normalize.FlexFloat `json:"latitude"`
	Longitude     normalize.FlexFloat `json:"longitude"`
	Altitude      normalize.FlexFloat `json:"masl"`
	CatchmentArea normalize.FlexFloat `json:"catchmentArea"`
}

type observationSeries struct {
	StationID    string `json:"stationId"`
	Parameter    int    `json:"parameter"`
	Observations []struct {
		Time  string              `json:"time"`
		Value normalize.FlexFloat `json:"value"`
	} `json:"observations"`
}

type envelope[T any] struct {
	Data []T `json:"data"`
}

type Fetcher struct {
	baseURL string
	secrets secret.Store
	client  *transport.Client
	logger  *slog.Logger
}

func NewFetcher(baseURL string, secrets secret.Store, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		secrets: secrets,
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
		gauge.WaterTemperatureDailyMean,
		gauge.DischargeInstant,
		gauge.StageInstant,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.secrets != nil && f.client.IsReady()
}

func (f *Fetcher) header() (http.Header, error) {
	key, err := f.secrets.Get(secret.NVEAPIKey)
	if err != nil || key == "" {
		return nil, fmt.Errorf("%w: %s is not set", gauge.ErrCredentials, secret.NVEAPIKey)
	}

	header := http.Header{}
	header.Set(apiKeyHeader, key)
	return header, nil
}

// GetGaugeIDs merges the lists of active and closed stations.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	header, err := f.header()
	if err != nil {
		return nil, err
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, active := range []string{"0", "1"} {
		var stations envelope[station]
		if err := f.client.GetJSON(ctx, f.baseURL+"/Stations", url.Values{"Active": {active}}, header, &stations); err != nil {
			return nil, fmt.Errorf("failed to fetch NVE stations: %w", err)
		}

		for _, s := range stations.Data {
			if s.ID == "" || !s.Latitude.Valid || !s.Longitude.Valid {
				continue
			}

			g := gauge.Gauge{
				ID:        s.ID,
				Name:      s.Name,
				River:     s.River,
				Latitude:  s.Latitude.Value,
				Longitude: s.Longitude.Value,
				Altitude:  s.Altitude.Ptr(),
				Area:      s.CatchmentArea.Ptr(),
				Country:   "NO",
			}
			if g.HasValidLocation() {
				collection.Add(g)
			}
		}
	}

	f.logger.Info("Fetched NVE stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	header, err := f.header()
	if err != nil {
		return nil, err
	}

	param := parameters[variable]
	query := url.Values{
		"StationId":      {gaugeID},
		"Parameter":      {strconv.Itoa(param.id)},
		"ResolutionTime": {strconv.Itoa(param.resolution)},
		"ReferenceTime":  {period.Start.Format(gauge.DateLayout) + "/" + period.Until().Format(gauge.DateLayout)},
	}

	var result envelope[observationSeries]
	if err := f.client.GetJSON(ctx, f.baseURL+"/Observations", query, header, &result); err != nil {
		if transport.StatusCode(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: NVE rejected station %s: %v", gauge.ErrUnknownGauge, gaugeID, err)
		}
		return nil, fmt.Errorf("failed to fetch NVE observations of %s: %w", gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for _, s := range result.Data {
		for _, obs := range s.Observations {
			t, err := normalize.ParseTime(obs.Time)
			if err != nil || !obs.Value.Valid {
				continue
			}
			if !variable.IsInstant() {
				t = normalize.Day(t)
			}
			builder.Add(t, obs.Value.Value)
		}
	}

	return builder.Build(period)
}
