// Package uknrfa retrieves gauged daily flows and catchment rainfall from
// the UK National River Flow Archive.
package uknrfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "uk_nrfa"
	DefaultBaseURL = "https://nrfaapps.ceh.ac.uk/nrfa/ws"
)

var dataTypes = map[gauge.Variable]string{
	gauge.DischargeDailyMean:             "gdf",
	gauge.CatchmentPrecipitationDailySum: "cdr",
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
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.CatchmentPrecipitationDailySum}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

type stationInfo struct {
	Data []struct {
		ID            normalize.FlexString `json:"id"`
		Name          normalize.FlexString `json:"name"`
		River         normalize.FlexString `json:"river"`
		Latitude      normalize.FlexFloat  `json:"latitude"`
		Longitude     normalize.FlexFloat  `json:"longitude"`
		CatchmentArea normalize.FlexFloat  `json:"catchment-area"`
		Altitude      normalize.FlexFloat  `json:"50-percentile-altitude"`
	} `json:"data"`
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	query := url.Values{
		"station": {"*"},
		"format":  {"json-object"},
		"fields":  {"all"},
	}

	var info stationInfo
	if err := f.client.GetJSON(ctx, f.baseURL+"/station-info", query, nil, &info); err != nil {
		return nil, fmt.Errorf("failed to fetch NRFA catalogue: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, s := range info.Data {
		if s.ID == "" || !s.Latitude.Valid || !s.Longitude.Valid || !gauge.ValidLocation(s.Latitude.Value, s.Longitude.Value) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        s.ID.String(),
			Name:      s.Name.String(),
			River:     s.River.String(),
			Latitude:  s.Latitude.Value,
			Longitude: s.Longitude.Value,
			Area:      s.CatchmentArea.Ptr(),
			Altitude:  s.Altitude.Ptr(),
			Country:   "GB",
			Provider:  ProviderName,
		})
	}

	f.logger.Info("Fetched NRFA stations", "count", collection.Len())
	return collection, nil
}

type timeSeries struct {
	DataStream []json.RawMessage `json:"data-stream"`
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	query := url.Values{
		"station":    {gaugeID},
		"data-type":  {dataTypes[variable]},
		"format":     {"json-object"},
		"start-date": {period.Start.Format(gauge.DateLayout) + "T00:00:00Z"},
		"end-date":   {period.End.Format(gauge.DateLayout) + "T23:59:59Z"},
	}

	var ts timeSeries
	if err := f.client.GetJSON(ctx, f.baseURL+"/time-series", query, nil, &ts); err != nil {
		if errors.Is(err, transport.ErrResourceNotFound) || transport.StatusCode(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: %s (%v)", gauge.ErrUnknownGauge, gaugeID, err)
		}
		return nil, fmt.Errorf("failed to fetch NRFA time series of %s: %w", gaugeID, err)
	}

	if len(ts.DataStream)%2 != 0 {
		return nil, fmt.Errorf("%w: data-stream of %s has odd length %d", gauge.ErrMalformedResponse, gaugeID, len(ts.DataStream))
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for i := 0; i < len(ts.DataStream); i += 2 {
		var stamp string
		if err := json.Unmarshal(ts.DataStream[i], &stamp); err != nil {
			return nil, fmt.Errorf("%w: data-stream date at %d: %v", gauge.ErrMalformedResponse, i, err)
		}

		t, err := normalize.ParseTime(stamp)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
		}

		var value normalize.FlexFloat
		if err := json.Unmarshal(ts.DataStream[i+1], &value); err != nil || !value.Valid {
			continue
		}
		builder.Add(normalize.Day(t), value.Value)
	}

	return builder.Build(period)
}
