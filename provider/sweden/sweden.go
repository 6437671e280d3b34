// Package sweden reads the corrected archive of the SMHI HydroObs open data
// service.
package sweden

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "sweden"
	DefaultBaseURL = "https://opendata-download-hydroobs.smhi.se/api/version/latest"
)

type parameter struct {
	id         int
	conversion normalize.Conversion
}

// HydroObs parameter ids
var parameters = map[gauge.Variable]parameter{
	gauge.DischargeDailyMean:      {id: 1, conversion: normalize.Identity},
	gauge.DischargeInstant:        {id: 2, conversion: normalize.Identity},
	gauge.StageInstant:            {id: 3, conversion: normalize.CentimetersToMeters},
	gauge.WaterTemperatureInstant: {id: 4, conversion: normalize.Identity},
	gauge.DischargeMonthlyMean:    {id: 10, conversion: normalize.Identity},
}

var (
	dataLine  = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
	dateField = regexp.MustCompile(`^\d{4}-\d{2}`)
)

type station struct {
	ID            normalize.FlexString `json:"id"`
	Name          string               `json:"name"`
	CatchmentName string               `json:"catchmentName"`
	CatchmentSize normalize.FlexFloat  `json:"catchmentSize"`
	Latitude      normalize.FlexFloat  `json:"latitude"`
	Longitude     normalize.FlexFloat  `json:"longitude"`
}

type parameterDocument struct {
	Station []station `json:"station"`
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
		gauge.DischargeInstant,
		gauge.StageInstant,
		gauge.WaterTemperatureInstant,
		gauge.DischargeMonthlyMean,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// GetGaugeIDs merges the station lists of every supported parameter, the
// first occurrence of a station winning.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, variable := range f.Variables() {
		pid := parameters[variable].id

		var doc parameterDocument
		path := fmt.Sprintf("%s/parameter/%d.json", f.baseURL, pid)
		if err := f.client.GetJSON(ctx, path, nil, nil, &doc); err != nil {
			return nil, fmt.Errorf("failed to fetch SMHI stations of parameter %d: %w", pid, err)
		}

		for _, st := range doc.Station {
			if !st.Latitude.Valid || !st.Longitude.Valid || !gauge.ValidLocation(st.Latitude.Value, st.Longitude.Value) {
				continue
			}

			collection.Add(gauge.Gauge{
				ID:        st.ID.String(),
				Name:      strings.TrimSpace(st.Name),
				River:     strings.TrimSpace(st.CatchmentName),
				Latitude:  st.Latitude.Value,
				Longitude: st.Longitude.Value,
				Area:      st.CatchmentSize.Ptr(),
				Country:   "SE",
			})
		}
	}

	f.logger.Info("Fetched SMHI stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	param := parameters[variable]
	path := fmt.Sprintf("%s/parameter/%d/station/%s/period/corrected-archive/data.csv", f.baseURL, param.id, gaugeID)

	content, err := f.client.Get(ctx, path, nil, nil)
	if err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: SMHI has no parameter %d archive for %s", gauge.ErrUnknownGauge, param.id, gaugeID)
		case errors.Is(err, transport.ErrNoContent):
			return nil, fmt.Errorf("%w: empty SMHI archive for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch SMHI archive of %s: %w", gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, param.conversion)
	parseArchive(content, variable, builder)

	return builder.Build(period)
}

// parseArchive reads the data lines of a corrected-archive export. The export
// starts with station metadata blocks; data lines begin with an ISO date and
// carry the value after any further period columns.
func parseArchive(content []byte, variable gauge.Variable, builder *normalize.Builder) {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !dataLine.MatchString(line) {
			continue
		}

		fields := strings.Split(line, ";")
		t, err := normalize.ParseTime(fields[0])
		if err != nil {
			continue
		}

		switch {
		case variable == gauge.DischargeMonthlyMean:
			t = normalize.Day(t.AddDate(0, 0, 1-t.Day()))
		case !variable.IsInstant():
			t = normalize.Day(t)
		}

		for _, field := range fields[1:] {
			field = strings.TrimSpace(field)
			if field == "" || dateField.MatchString(field) {
				continue
			}
			builder.AddString(t, field)
			break
		}
	}
}
