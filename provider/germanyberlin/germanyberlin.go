// Package germanyberlin reads surface water gauges of the Berlin
// Wasserportal run by the Senate Department for the Environment.
package germanyberlin

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "germany_berlin"
	DefaultBaseURL = "https://wasserportal.berlin.de"

	queryDateLayout = "02.01.2006"
	utmZone         = 33
)

// portalZone is the fixed CET offset the portal reports instantaneous values in.
var portalZone = time.FixedZone("MEZ", 60*60)

type theme struct {
	topic      string
	series     string
	conversion normalize.Conversion
}

var themes = map[gauge.Variable]theme{
	gauge.StageDailyMean:            {topic: "ows", series: "tw", conversion: normalize.CentimetersToMeters},
	gauge.DischargeDailyMean:        {topic: "odf", series: "tw", conversion: normalize.Identity},
	gauge.WaterTemperatureDailyMean: {topic: "owt", series: "tw", conversion: normalize.Identity},
	gauge.StageInstant:              {topic: "ows", series: "ew", conversion: normalize.CentimetersToMeters},
	gauge.DischargeInstant:          {topic: "odf", series: "ew", conversion: normalize.Identity},
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
		gauge.StageDailyMean,
		gauge.DischargeDailyMean,
		gauge.WaterTemperatureDailyMean,
		gauge.StageInstant,
		gauge.DischargeInstant,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
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

	th := themes[variable]
	query := url.Values{
		"anzeige": {"d"},
		"station": {gaugeID},
		"thema":   {th.topic},
		"sreihe":  {th.series},
		"smode":   {"c"},
		"sdatum":  {period.Start.Format(queryDateLayout)},
	}

	content, err := f.client.Get(ctx, f.baseURL+"/station.php", query, nil)
	if err != nil {
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty export for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch Wasserportal data of %s: %w", gaugeID, err)
	}

	text := string(bytes.TrimSpace(content))
	if strings.Contains(text, "<html") || strings.Contains(text, "Fehler") {
		return nil, fmt.Errorf("%w: Wasserportal returned no export for %s %s", gauge.ErrNoData, gaugeID, th.topic)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, th.conversion)
	if err := parseExport(strings.NewReader(text), variable.IsInstant(), builder); err != nil {
		return nil, fmt.Errorf("station %s: %w", gaugeID, err)
	}

	return builder.Build(period)
}

func parseExport(r io.Reader, instant bool, builder *normalize.Builder) error {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: failed to read export header: %v", gauge.ErrMalformedResponse, err)
	}

	timeIdx := 0
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if strings.Contains(name, "datum") || strings.Contains(name, "zeit") {
			timeIdx = i
			break
		}
	}
	valueIdx := 1
	if timeIdx != 0 {
		valueIdx = 0
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read export row: %v", gauge.ErrMalformedResponse, err)
		}
		if len(record) <= timeIdx || len(record) <= valueIdx {
			continue
		}

		t, err := time.ParseInLocation("02.01.2006 15:04", strings.TrimSpace(record[timeIdx]), portalZone)
		if err != nil {
			t, err = normalize.ParseTime(record[timeIdx], queryDateLayout)
			if err != nil {
				continue
			}
		}
		if !instant {
			t = normalize.Day(t)
		}

		builder.AddString(t, record[valueIdx])
	}
}
