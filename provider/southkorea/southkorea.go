// Package southkorea reads water level and discharge stations from WAMIS,
// the Water Resources Management Information System of Korea.
package southkorea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "south_korea"
	DefaultBaseURL = "http://www.wamis.go.kr:8080/wamis/openapi/wkw"

	resultSuccess = "success"
	dayLayout     = "20060102"
	hourLayout    = "2006010215"
	// WAMIS marks missing values with -777, -888 or -999
	missingBelow = -777.0
)

// hourly readings are stamped in Korea Standard Time
var kst = time.FixedZone("KST", 9*60*60)

type endpoint struct {
	path       string
	valueField string
	hourly     bool
	// whole calendar years are requested instead of a date span
	byYear bool
}

var endpoints = map[gauge.Variable]endpoint{
	gauge.DischargeDailyMean: {path: "/flw_dtdata", valueField: "fw", byYear: true},
	gauge.StageDailyMean:     {path: "/wl_dtdata", valueField: "wl"},
	gauge.StageInstant:       {path: "/wl_hrdata", valueField: "wl", hourly: true},
}

type stationList struct {
	List []struct {
		Code normalize.FlexString `json:"obscd"`
	} `json:"list"`
}

type stationInfo struct {
	Result struct {
		Code string `json:"code"`
	} `json:"result"`
	List []struct {
		Code        normalize.FlexString `json:"wlobscd"`
		Name        normalize.FlexString `json:"obsnm"`
		EnglishName normalize.FlexString `json:"obsnmeng"`
		River       normalize.FlexString `json:"rivnm"`
		Lat         string               `json:"lat"`
		Lon         string               `json:"lon"`
		Altitude    normalize.FlexFloat  `json:"gdt"`
		Area        normalize.FlexFloat  `json:"bsnara"`
	} `json:"list"`
}

type readings struct {
	List []map[string]normalize.FlexString `json:"list"`
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
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean, gauge.StageInstant}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// GetGaugeIDs lists the water level stations and looks up the details of
// each one. Stations whose details cannot be read are left out.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations stationList
	query := url.Values{"output": {"json"}}
	if err := f.client.GetJSON(ctx, f.baseURL+"/wl_dubwlobs", query, nil, &stations); err != nil {
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty WAMIS station list", gauge.ErrNoCatalogue)
		}
		return nil, fmt.Errorf("failed to fetch WAMIS stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	skipped := 0
	for _, s := range stations.List {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		g, err := f.fetchStation(ctx, s.Code.String())
		if err != nil {
			f.logger.Debug("Skipping WAMIS station", "code", s.Code.String(), "error", err)
			skipped++
			continue
		}
		collection.Add(g)
	}

	f.logger.Info("Fetched WAMIS stations", "count", collection.Len(), "skipped", skipped)
	return collection, nil
}

func (f *Fetcher) fetchStation(ctx context.Context, code string) (gauge.Gauge, error) {
	if code == "" {
		return gauge.Gauge{}, fmt.Errorf("%w: station without code", gauge.ErrMalformedResponse)
	}

	var info stationInfo
	query := url.Values{"obscd": {code}, "output": {"json"}}
	if err := f.client.GetJSON(ctx, f.baseURL+"/wl_obsinfo", query, nil, &info); err != nil {
		return gauge.Gauge{}, err
	}
	if info.Result.Code != resultSuccess || len(info.List) == 0 {
		return gauge.Gauge{}, fmt.Errorf("%w: station info result %q", gauge.ErrMalformedResponse, info.Result.Code)
	}

	detail := info.List[0]
	lat, latOK := dmsToDecimal(detail.Lat)
	lon, lonOK := dmsToDecimal(detail.Lon)
	if !latOK || !lonOK || !gauge.ValidLocation(lat, lon) {
		return gauge.Gauge{}, fmt.Errorf("%w: station location %q %q", gauge.ErrMalformedResponse, detail.Lat, detail.Lon)
	}

	name := detail.EnglishName.String()
	if name == "" {
		name = detail.Name.String()
	}
	id := detail.Code.String()
	if id == "" {
		id = code
	}

	return gauge.Gauge{
		ID:        id,
		Name:      name,
		River:     detail.River.String(),
		Latitude:  lat,
		Longitude: lon,
		Altitude:  detail.Altitude.Ptr(),
		Area:      detail.Area.Ptr(),
		Country:   "KR",
	}, nil
}

// dmsToDecimal reads coordinates written as "126-59-43".
func dmsToDecimal(dms string) (float64, bool) {
	parts := strings.Split(strings.TrimSpace(dms), "-")
	if len(parts) != 3 {
		return 0, false
	}

	var values [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, false
		}
		values[i] = v
	}

	return values[0] + values[1]/60 + values[2]/3600, true
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	ep := endpoints[variable]
	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for year := period.Start.Year(); year <= period.End.Year(); year++ {
		query := url.Values{"obscd": {gaugeID}, "output": {"json"}}
		if ep.byYear {
			query.Set("year", strconv.Itoa(year))
		} else {
			start, end := yearSpan(year, period)
			query.Set("startdt", start.Format(dayLayout))
			query.Set("enddt", end.Format(dayLayout))
		}

		var page readings
		if err := f.client.GetJSON(ctx, f.baseURL+ep.path, query, nil, &page); err != nil {
			if errors.Is(err, transport.ErrNoContent) {
				f.logger.Debug("Empty WAMIS response", "gauge", gaugeID, "year", year)
				continue
			}
			return nil, fmt.Errorf("failed to fetch WAMIS %s of %s for %d: %w", ep.path, gaugeID, year, err)
		}

		for _, item := range page.List {
			t, err := ep.parseTime(item)
			if err != nil {
				continue
			}

			value, ok := normalize.ParseFloat(item[ep.valueField].String())
			if !ok || value <= missingBelow {
				continue
			}
			builder.Add(t, value)
		}
	}

	return builder.Build(period)
}

func (ep endpoint) parseTime(item map[string]normalize.FlexString) (time.Time, error) {
	if ep.hourly {
		t, err := time.ParseInLocation(hourLayout, item["ymdh"].String(), kst)
		return t.UTC(), err
	}
	return normalize.ParseTime(item["ymd"].String(), dayLayout)
}

// yearSpan clips the calendar year to the requested period.
func yearSpan(year int, period gauge.DateRange) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC)
	if period.Start.After(start) {
		start = period.Start
	}
	if period.End.Before(end) {
		end = period.End
	}
	return start, end
}
