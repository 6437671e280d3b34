// Package australia queries the Bureau of Meteorology Water Data Online
// service, a Kisters KiWIS deployment.
package australia

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "australia"
	DefaultBaseURL = "http://www.bom.gov.au/waterdata/services"

	dailyMeanSeries = "DMQaQc.Merged.DailyMean.24HR"
	valuesHeader    = "#Timestamp;Value;Quality Code"
	kiwisTimeLayout = "2006-01-02T15:04:05.000"
)

var parameterTypes = map[gauge.Variable]string{
	gauge.DischargeDailyMean: "Water Course Discharge",
	gauge.StageDailyMean:     "Water Course Level",
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
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

func (f *Fetcher) query(request string, params url.Values) url.Values {
	query := url.Values{
		"service": {"kisters"},
		"type":    {"QueryServices"},
		"request": {request},
	}
	for key, values := range params {
		query[key] = values
	}

	return query
}

// getTable runs a KiWIS query in JSON format. KiWIS answers with a list of
// rows whose first row is the header; a lookup without hits yields nil.
func (f *Fetcher) getTable(ctx context.Context, request string, params url.Values) ([]map[string]string, error) {
	params.Set("format", "json")

	var raw []json.RawMessage
	if err := f.client.GetJSON(ctx, f.baseURL, f.query(request, params), nil, &raw); err != nil {
		return nil, err
	}

	if len(raw) < 2 {
		// e.g. ["No matches."]
		return nil, nil
	}

	var header []string
	if err := json.Unmarshal(raw[0], &header); err != nil {
		return nil, fmt.Errorf("%w: unexpected KiWIS header: %v", gauge.ErrMalformedResponse, err)
	}

	rows := make([]map[string]string, 0, len(raw)-1)
	for _, line := range raw[1:] {
		var cells []normalize.FlexString
		if err := json.Unmarshal(line, &cells); err != nil {
			return nil, fmt.Errorf("%w: unexpected KiWIS row: %v", gauge.ErrMalformedResponse, err)
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(cells) {
				row[name] = cells[i].String()
			}
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	rows, err := f.getTable(ctx, "getStationList", url.Values{
		"returnfields": {"station_no,station_name,station_latitude,station_longitude"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list BoM stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, row := range rows {
		lat, okLat := normalize.ParseFloat(row["station_latitude"])
		lon, okLon := normalize.ParseFloat(row["station_longitude"])
		if row["station_no"] == "" || !okLat || !okLon || !gauge.ValidLocation(lat, lon) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        row["station_no"],
			Name:      row["station_name"],
			Latitude:  lat,
			Longitude: lon,
			Country:   "AU",
		})
	}

	f.logger.Info("Fetched BoM stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) timeseriesID(ctx context.Context, gaugeID string, variable gauge.Variable) (string, error) {
	rows, err := f.getTable(ctx, "getTimeseriesList", url.Values{
		"parametertype_name": {parameterTypes[variable]},
		"ts_name":            {dailyMeanSeries},
		"station_no":         {gaugeID},
	})
	if err != nil {
		return "", fmt.Errorf("failed to look up time series of %s: %w", gaugeID, err)
	}

	for _, row := range rows {
		if id := row["ts_id"]; id != "" {
			return id, nil
		}
	}

	return "", fmt.Errorf("%w: no %s series for station %s", gauge.ErrUnknownGauge, parameterTypes[variable], gaugeID)
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	tsID, err := f.timeseriesID(ctx, gaugeID, variable)
	if err != nil {
		return nil, err
	}

	query := f.query("getTimeseriesValues", url.Values{
		"datasource":   {"0"},
		"format":       {"csv"},
		"ts_id":        {tsID},
		"from":         {period.Start.Format(kiwisTimeLayout)},
		"to":           {period.End.Format(kiwisTimeLayout)},
		"returnfields": {"Timestamp,Value,Quality Code,Interpolation Type"},
		"metadata":     {"true"},
	})

	content, err := f.client.Get(ctx, f.baseURL, query, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch values of series %s: %w", tsID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	if err := parseValues(content, builder); err != nil {
		return nil, fmt.Errorf("failed to parse values of series %s: %w", tsID, err)
	}

	return builder.Build(period)
}

// parseValues reads the semicolon separated block following the commented
// header. Timestamps carry the station's local offset; the local calendar
// day is kept.
func parseValues(content []byte, builder *normalize.Builder) error {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	inData := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inData {
			inData = strings.HasPrefix(line, valuesHeader)
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, ";")
		if len(fields) < 2 || len(fields[0]) < len(gauge.DateLayout) {
			continue
		}

		day, err := normalize.ParseTime(fields[0][:len(gauge.DateLayout)], gauge.DateLayout)
		if err != nil {
			continue
		}
		builder.AddString(day, fields[1])
	}

	if err := scanner.Err(); err != nil {
		return err
	}

	if !inData {
		return fmt.Errorf("%w: values header missing", gauge.ErrMalformedResponse)
	}

	return nil
}
