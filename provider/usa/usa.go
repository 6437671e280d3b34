// Package usa retrieves daily values from the USGS National Water
// Information System.
package usa

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "usa"
	DefaultBaseURL = "https://waterservices.usgs.gov/nwis"

	statisticMean = "00003"
)

// DefaultStates are the state codes queried for the site catalogue.
var DefaultStates = []string{
	"al", "ak", "az", "ar", "ca", "co", "ct", "de", "dc", "fl", "ga", "hi", "id", "il", "in", "ia",
	"ks", "ky", "la", "me", "md", "ma", "mi", "mn", "ms", "mo", "mt", "ne", "nv", "nh", "nj", "nm",
	"ny", "nc", "nd", "oh", "ok", "or", "pa", "ri", "sc", "sd", "tn", "tx", "ut", "vt", "va", "wa",
	"wv", "wi", "wy", "pr",
}

var siteNumberPattern = regexp.MustCompile(`^\d{8,15}$`)

type parameter struct {
	code       string
	conversion normalize.Conversion
}

var parameters = map[gauge.Variable]parameter{
	gauge.DischargeDailyMean: {code: "00060", conversion: normalize.CubicFeetToCubicMeters},
	gauge.StageDailyMean:     {code: "00065", conversion: normalize.FeetToMeters},
}

type Fetcher struct {
	baseURL string
	states  []string
	client  *transport.Client
	logger  *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		states:  DefaultStates,
		client:  client,
		logger:  logger,
	}
}

// WithStates limits the catalogue to the given two-letter state codes.
func (f *Fetcher) WithStates(states ...string) *Fetcher {
	f.states = states
	return f
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

// GetGaugeIDs lists stream sites with daily values, state by state.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, state := range f.states {
		query := url.Values{
			"format":        {"rdb"},
			"stateCd":       {state},
			"siteType":      {"ST"},
			"siteStatus":    {"all"},
			"hasDataTypeCd": {"dv"},
			"siteOutput":    {"expanded"},
			"parameterCd":   {"00060,00065"},
		}

		content, err := f.client.Get(ctx, f.baseURL+"/site/", query, nil)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Warn("No sites listed for state", "state", state)
				continue
			}
			return nil, fmt.Errorf("failed to list sites of state %s: %w", state, err)
		}

		sites, err := parseRDB(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sites of state %s: %w", state, err)
		}

		for _, site := range sites {
			g, ok := mapSite(site)
			if !ok {
				f.logger.Debug("Skipping site without location", "site", site["site_no"])
				continue
			}
			collection.Add(g)
		}
	}

	f.logger.Info("Fetched USGS sites", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	if !siteNumberPattern.MatchString(gaugeID) {
		return nil, fmt.Errorf("%w: %q is not a USGS site number", gauge.ErrUnknownGauge, gaugeID)
	}

	param := parameters[variable]
	query := url.Values{
		"format":      {"json"},
		"sites":       {gaugeID},
		"startDT":     {period.Start.Format(gauge.DateLayout)},
		"endDT":       {period.End.Format(gauge.DateLayout)},
		"parameterCd": {param.code},
		"statCd":      {statisticMean},
		"siteStatus":  {"all"},
	}

	var response dailyValuesResponse
	if err := f.client.GetJSON(ctx, f.baseURL+"/dv/", query, nil, &response); err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: site %s has no %s values", gauge.ErrNoData, gaugeID, variable)
		case transport.StatusCode(err) == http.StatusBadRequest:
			return nil, fmt.Errorf("%w: %s (%v)", gauge.ErrUnknownGauge, gaugeID, err)
		}
		return nil, fmt.Errorf("failed to fetch daily values of %s: %w", gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, param.conversion)
	for _, ts := range response.Value.TimeSeries {
		if !ts.matches(param.code) {
			continue
		}

		for _, block := range ts.Values {
			for _, v := range block.Value {
				t, err := normalize.ParseTime(v.DateTime)
				if err != nil {
					return nil, fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
				}

				value, ok := normalize.ParseFloat(v.Value)
				if !ok || (ts.Variable.NoDataValue != nil && value == *ts.Variable.NoDataValue) {
					continue
				}
				builder.Add(normalize.Day(t), value)
			}
		}
	}

	return builder.Build(period)
}

type dailyValuesResponse struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	Name     string `json:"name"`
	Variable struct {
		VariableCode []struct {
			Value string `json:"value"`
		} `json:"variableCode"`
		NoDataValue *float64 `json:"noDataValue"`
	} `json:"variable"`
	Values []struct {
		Value []struct {
			Value    string `json:"value"`
			DateTime string `json:"dateTime"`
		} `json:"value"`
	} `json:"values"`
}

func (ts timeSeries) matches(code string) bool {
	for _, vc := range ts.Variable.VariableCode {
		if vc.Value == code {
			return true
		}
	}

	return strings.Contains(ts.Name, ":"+code+":")
}

// parseRDB reads the tab-separated USGS RDB format: comment lines start
// with '#', the header is followed by a column format line.
func parseRDB(content []byte) ([]map[string]string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		header     []string
		formatSeen bool
		rows       []map[string]string
	)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if header == nil {
			header = fields
			continue
		}
		if !formatSeen {
			formatSeen = true
			continue
		}

		row := make(map[string]string, len(header))
		for i, name := range header {
			if i < len(fields) {
				row[name] = strings.TrimSpace(fields[i])
			}
		}
		rows = append(rows, row)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if header == nil {
		return nil, fmt.Errorf("%w: RDB content has no header", gauge.ErrMalformedResponse)
	}

	return rows, nil
}

func mapSite(site map[string]string) (gauge.Gauge, bool) {
	lat, latOK := normalize.ParseFloat(site["dec_lat_va"])
	lon, lonOK := normalize.ParseFloat(site["dec_long_va"])
	if site["site_no"] == "" || !latOK || !lonOK || !gauge.ValidLocation(lat, lon) {
		return gauge.Gauge{}, false
	}

	g := gauge.Gauge{
		ID:        site["site_no"],
		Name:      site["station_nm"],
		Latitude:  lat,
		Longitude: lon,
		Provider:  ProviderName,
		Country:   "US",
	}

	if alt, ok := normalize.ParseFloat(site["alt_va"]); ok {
		altMeters := normalize.FeetToMeters(alt)
		g.Altitude = &altMeters
	}
	if area, ok := normalize.ParseFloat(site["drain_area_va"]); ok {
		// square miles
		areaKm2 := area * 2.58999
		g.Area = &areaKm2
	}

	return g, true
}
