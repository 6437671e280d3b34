// Package czech reads historical hydrology open data of the Czech
// Hydrometeorological Institute (CHMI).
package czech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "czech"
	DefaultBaseURL = "https://opendata.chmi.cz/hydrology/historical"
)

type series struct {
	resolution string
	tsConID    string
	conversion normalize.Conversion
}

func (s series) path(gaugeID string, year int) string {
	if s.resolution == "hourly" {
		return fmt.Sprintf("/data/hourly/H_%s_HQ_%d.json", gaugeID, year)
	}
	return fmt.Sprintf("/data/daily/H_%s_DQ_%d.json", gaugeID, year)
}

var catalogue = map[gauge.Variable]series{
	gauge.DischargeDailyMean:        {resolution: "daily", tsConID: "QD", conversion: normalize.Identity},
	gauge.StageDailyMean:            {resolution: "daily", tsConID: "HD", conversion: normalize.CentimetersToMeters},
	gauge.WaterTemperatureDailyMean: {resolution: "daily", tsConID: "TD", conversion: normalize.Identity},
	gauge.DischargeInstant:          {resolution: "hourly", tsConID: "QH", conversion: normalize.Identity},
	gauge.StageInstant:              {resolution: "hourly", tsConID: "HH", conversion: normalize.CentimetersToMeters},
}

// block is the tabular encoding used throughout the portal: a comma
// separated header and one value array per row.
type block struct {
	Header string                   `json:"header"`
	Values [][]normalize.FlexString `json:"values"`
}

func (b block) rows() []map[string]string {
	header := strings.Split(b.Header, ",")
	rows := make([]map[string]string, 0, len(b.Values))
	for _, values := range b.Values {
		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(values) {
				row[strings.TrimSpace(name)] = values[i].String()
			}
		}
		rows = append(rows, row)
	}

	return rows
}

type metadataDocument struct {
	Data struct {
		Data block `json:"data"`
	} `json:"data"`
}

type yearDocument struct {
	TSList []struct {
		TSConID string `json:"tsConID"`
		TSData  struct {
			Data block `json:"data"`
		} `json:"tsData"`
	} `json:"tsList"`
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
		gauge.WaterTemperatureDailyMean,
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

	var doc metadataDocument
	if err := f.client.GetJSON(ctx, f.baseURL+"/metadata/meta1.json", nil, nil, &doc); err != nil {
		return nil, fmt.Errorf("failed to fetch CHMI metadata: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, row := range doc.Data.Data.rows() {
		lat, okLat := normalize.ParseFloat(row["GEOGR1"])
		lon, okLon := normalize.ParseFloat(row["GEOGR2"])
		if row["objID"] == "" || !okLat || !okLon || !gauge.ValidLocation(lat, lon) {
			continue
		}

		g := gauge.Gauge{
			ID:        row["objID"],
			Name:      row["STATION_NAME"],
			River:     row["STREAM_NAME"],
			Latitude:  lat,
			Longitude: lon,
			Country:   "CZ",
		}
		if area, ok := normalize.ParseFloat(row["PLO_STA"]); ok {
			g.Area = &area
		}
		collection.Add(g)
	}

	f.logger.Info("Fetched CHMI stations", "count", collection.Len())
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

	target := catalogue[variable]
	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, target.conversion)
	for _, year := range period.Years() {
		var doc yearDocument
		err := f.client.GetJSON(ctx, f.baseURL+target.path(gaugeID, year), nil, nil, &doc)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Debug("No CHMI data for year", "gauge", gaugeID, "year", year)
				continue
			}
			return nil, fmt.Errorf("failed to fetch CHMI data of %s for %d: %w", gaugeID, year, err)
		}

		found := false
		for _, ts := range doc.TSList {
			if !strings.EqualFold(ts.TSConID, target.tsConID) {
				continue
			}
			found = true

			for _, row := range ts.TSData.Data.rows() {
				t, err := normalize.ParseTime(row["DT"])
				if err != nil {
					continue
				}
				if !variable.IsInstant() {
					t = normalize.Day(t)
				}
				builder.AddString(t, row["VAL"])
			}
		}

		if !found {
			f.logger.Warn("CHMI year file lacks series", "gauge", gaugeID, "year", year, "series", target.tsConID)
		}
	}

	return builder.Build(period)
}
