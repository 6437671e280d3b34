// Package southafrica scrapes verified hydrological data published by the
// South African Department of Water and Sanitation (DWS).
package southafrica

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "south_africa"
	DefaultBaseURL = "https://www.dws.gov.za/Hydrology/Verified/HyData.aspx"

	noDataMarker = "No data for this period"
	dateLayout   = "20060102"
)

var dataLinePattern = regexp.MustCompile(`^[0-9]{8}`)

type request struct {
	dataType    string
	chunkYears  int
	valueColumn int
}

var requests = map[gauge.Variable]request{
	// DATE TIME COR_LEVEL COR_LEVEL_QUAL COR_FLOW COR_FLOW_QUAL
	gauge.StageDailyMean: {dataType: "Point", chunkYears: 1, valueColumn: 2},
	// DATE D_AVG_FR QUAL
	gauge.DischargeDailyMean: {dataType: "Daily", chunkYears: 20, valueColumn: 1},
}

type Fetcher struct {
	baseURL   string
	sitesPath string
	client    *transport.Client
	logger    *slog.Logger
}

func NewFetcher(baseURL, sitesPath string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL:   baseURL,
		sitesPath: sitesPath,
		client:    client,
		logger:    logger,
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

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	return table.ReadGaugesFile(f.sitesPath, ProviderName)
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	if err := f.checkGauge(gaugeID); err != nil {
		return nil, err
	}

	req := requests[variable]
	var readings []gauge.Observation
	for _, chunk := range period.Chunks(req.chunkYears) {
		query := url.Values{
			"Station":  {gaugeID + "100.00"},
			"DataType": {req.dataType},
			"StartDT":  {chunk.Start.Format(gauge.DateLayout)},
			"EndDT":    {chunk.End.Format(gauge.DateLayout)},
			"SiteType": {"RIV"},
		}

		content, err := f.client.Get(ctx, f.baseURL, query, nil)
		if errors.Is(err, transport.ErrNoContent) {
			f.logger.Debug("Empty DWS page", "gauge", gaugeID, "chunk", chunk.String())
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch DWS data of %s for %s: %w", gaugeID, chunk, err)
		}

		block, err := preformatted(content)
		if err != nil {
			return nil, err
		}
		if block == "" {
			f.logger.Warn("DWS page without data block", "gauge", gaugeID, "chunk", chunk.String())
			continue
		}
		if strings.Contains(block, noDataMarker) {
			f.logger.Debug("No DWS data for chunk", "gauge", gaugeID, "chunk", chunk.String())
			continue
		}

		readings = append(readings, parseBlock(block, req.valueColumn)...)
	}

	// level readings are point samples, several per day
	sort.SliceStable(readings, func(i, j int) bool {
		return readings[i].Time.Before(readings[j].Time)
	})

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for _, obs := range normalize.DailyMeans(readings) {
		builder.Add(obs.Time, obs.Value)
	}

	return builder.Build(period)
}

// checkGauge rejects ids missing from the cached site list. Without a
// readable list every id is passed on to DWS.
func (f *Fetcher) checkGauge(gaugeID string) error {
	err := table.CheckGauge(f.sitesPath, ProviderName, gaugeID)
	if err == nil || errors.Is(err, gauge.ErrUnknownGauge) {
		return err
	}
	f.logger.Debug("Cannot check gauge against DWS site list", "path", f.sitesPath, "error", err)
	return nil
}

func preformatted(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("%w: failed to parse DWS page: %v", gauge.ErrMalformedResponse, err)
	}

	return doc.Find("pre").First().Text(), nil
}

// parseBlock reads the whitespace separated table following the DATE header
// line and returns the readings of the given column stamped with their day.
func parseBlock(block string, valueColumn int) []gauge.Observation {
	var readings []gauge.Observation
	headerFound := false

	scanner := bufio.NewScanner(strings.NewReader(block))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "DATE") {
			headerFound = true
			continue
		}
		if !headerFound || !dataLinePattern.MatchString(line) {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) <= valueColumn {
			continue
		}

		day, err := normalize.ParseTime(fields[0], dateLayout)
		if err != nil {
			continue
		}

		value, ok := normalize.ParseFloat(fields[valueColumn])
		if !ok {
			continue
		}
		readings = append(readings, gauge.Observation{Time: day, Value: value})
	}

	return readings
}
