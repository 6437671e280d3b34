// Package ukea retrieves data from the Environment Agency Hydrology API
// (England).
package ukea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "uk_ea"
	DefaultBaseURL = "http://environment.data.gov.uk/hydrology"

	DefaultPageLimit = 100000
	stationsLimit    = 10000
)

var measureNotations = map[gauge.Variable]string{
	gauge.DischargeDailyMean: "flow-m-86400-m3s-qualified",
	gauge.StageInstant:       "level-i-900-m-qualified",
	gauge.StageDailyMean:     "level-i-900-m-qualified",
}

type Fetcher struct {
	baseURL   string
	pageLimit int
	client    *transport.Client
	logger    *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		pageLimit: DefaultPageLimit,
		client:    client,
		logger:    logger,
	}
}

// WithPageLimit sets the number of readings requested per page.
func (f *Fetcher) WithPageLimit(limit int) *Fetcher {
	if limit > 0 {
		f.pageLimit = limit
	}
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageInstant, gauge.StageDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

type stationList struct {
	Items []struct {
		Notation         normalize.FlexString `json:"notation"`
		StationReference normalize.FlexString `json:"stationReference"`
		Label            normalize.FlexString `json:"label"`
		Lat              normalize.FlexFloat  `json:"lat"`
		Long             normalize.FlexFloat  `json:"long"`
		RiverName        normalize.FlexString `json:"riverName"`
		CatchmentArea    normalize.FlexFloat  `json:"catchmentArea"`
	} `json:"items"`
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations stationList
	query := url.Values{"_limit": {strconv.Itoa(stationsLimit)}}
	if err := f.client.GetJSON(ctx, f.baseURL+"/id/stations.json", query, nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch EA stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, s := range stations.Items {
		id := s.Notation.String()
		if id == "" || !s.Lat.Valid || !s.Long.Valid || !gauge.ValidLocation(s.Lat.Value, s.Long.Value) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        id,
			Name:      s.Label.String(),
			Latitude:  s.Lat.Value,
			Longitude: s.Long.Value,
			River:     s.RiverName.String(),
			Area:      s.CatchmentArea.Ptr(),
			Country:   "GB",
			Provider:  ProviderName,
		})
	}

	f.logger.Info("Fetched EA stations", "count", collection.Len())
	return collection, nil
}

type measureList struct {
	Items []struct {
		Notation normalize.FlexString `json:"notation"`
	} `json:"items"`
}

type readingList struct {
	Items []struct {
		DateTime string              `json:"dateTime"`
		Date     string              `json:"date"`
		Value    normalize.FlexFloat `json:"value"`
	} `json:"items"`
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	notation, err := f.findMeasure(ctx, gaugeID, measureNotations[variable])
	if err != nil {
		return nil, err
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	readingsURL := fmt.Sprintf("%s/id/measures/%s/readings", f.baseURL, url.PathEscape(notation))
	for offset := 0; ; offset += f.pageLimit {
		query := url.Values{
			"mineq-date": {period.Start.Format(gauge.DateLayout)},
			"maxeq-date": {period.End.Format(gauge.DateLayout)},
			"_sort":      {"dateTime"},
			"_limit":     {strconv.Itoa(f.pageLimit)},
		}
		if offset > 0 {
			query.Set("_offset", strconv.Itoa(offset))
		}

		var readings readingList
		if err := f.client.GetJSON(ctx, readingsURL, query, nil, &readings); err != nil {
			return nil, fmt.Errorf("failed to fetch readings of %s: %w", notation, err)
		}

		for _, item := range readings.Items {
			stamp := item.DateTime
			if stamp == "" {
				stamp = item.Date
			}

			t, err := normalize.ParseTime(stamp)
			if err != nil {
				return nil, fmt.Errorf("%w: reading of %s: %v", gauge.ErrMalformedResponse, notation, err)
			}

			if !item.Value.Valid {
				continue
			}
			if variable == gauge.DischargeDailyMean {
				t = normalize.Day(t)
			}
			builder.Add(t, item.Value.Value)
		}

		if len(readings.Items) < f.pageLimit {
			break
		}
		f.logger.Debug("Fetching next page of readings", "measure", notation, "offset", offset+f.pageLimit)
	}

	if variable == gauge.StageDailyMean {
		return builder.BuildDailyMeans(period)
	}

	return builder.Build(period)
}

// findMeasure returns the full measure notation of the station matching
// the given suffix.
func (f *Fetcher) findMeasure(ctx context.Context, gaugeID, suffix string) (string, error) {
	var measures measureList
	query := url.Values{"station": {gaugeID}}
	if err := f.client.GetJSON(ctx, f.baseURL+"/id/measures", query, nil, &measures); err != nil {
		if errors.Is(err, transport.ErrResourceNotFound) {
			return "", fmt.Errorf("%w: %s", gauge.ErrUnknownGauge, gaugeID)
		}
		return "", fmt.Errorf("failed to fetch measures of %s: %w", gaugeID, err)
	}

	if len(measures.Items) == 0 {
		return "", fmt.Errorf("%w: station %s has no measures", gauge.ErrUnknownGauge, gaugeID)
	}

	for _, m := range measures.Items {
		if strings.Contains(m.Notation.String(), suffix) {
			return m.Notation.String(), nil
		}
	}

	return "", fmt.Errorf("%w: station %s has no %s measure", gauge.ErrNoData, gaugeID, suffix)
}
