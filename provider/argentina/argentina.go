// Package argentina reads the hydrological stations of the INA Alerta
// portal (DSIyAH, Cuenca del Plata).
package argentina

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
	ProviderName   = "argentina"
	DefaultBaseURL = "https://alerta.ina.gob.ar/pub/datos"
)

// INA reports in Argentina time, which has no daylight saving.
var localTime = time.FixedZone("ART", -3*60*60)

// hydrological (H) and automatic (A) station networks
var stationTypes = []string{"H", "A"}

type series struct {
	varID int
	// native daily series are stamped at local midnight
	daily bool
}

var seriesByVariable = map[gauge.Variable]series{
	gauge.DischargeInstant:          {varID: 4},
	gauge.DischargeDailyMean:        {varID: 40, daily: true},
	gauge.StageInstant:              {varID: 2},
	gauge.StageDailyMean:            {varID: 39, daily: true},
	gauge.WaterTemperatureInstant:   {varID: 73},
	gauge.WaterTemperatureDailyMean: {varID: 73},
}

type stationList struct {
	Data []struct {
		SiteCode normalize.FlexString `json:"sitecode"`
		Name     normalize.FlexString `json:"nombre"`
		River    normalize.FlexString `json:"rio"`
		Lat      normalize.FlexFloat  `json:"lat"`
		Lon      normalize.FlexFloat  `json:"lon"`
	} `json:"data"`
}

type dataList struct {
	Data []struct {
		TimeStart string              `json:"timestart"`
		Value     normalize.FlexFloat `json:"valor"`
	} `json:"data"`
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
		gauge.DischargeInstant,
		gauge.DischargeDailyMean,
		gauge.StageInstant,
		gauge.StageDailyMean,
		gauge.WaterTemperatureInstant,
		gauge.WaterTemperatureDailyMean,
	}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// GetGaugeIDs merges the station lists of both networks, the first
// occurrence of a site code wins.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, stationType := range stationTypes {
		// the portal expects its parameters inside the path
		resourceURL := fmt.Sprintf("%s/estaciones&&type=%s&format=json", f.baseURL, stationType)

		var stations stationList
		if err := f.client.GetJSON(ctx, resourceURL, nil, nil, &stations); err != nil {
			if errors.Is(err, transport.ErrNoContent) {
				f.logger.Warn("Empty INA station list", "type", stationType)
				continue
			}
			return nil, fmt.Errorf("failed to fetch INA stations of type %s: %w", stationType, err)
		}

		for _, s := range stations.Data {
			id := s.SiteCode.String()
			if id == "" || !s.Lat.Valid || !s.Lon.Valid || !gauge.ValidLocation(s.Lat.Value, s.Lon.Value) {
				continue
			}

			collection.Add(gauge.Gauge{
				ID:        id,
				Name:      s.Name.String(),
				River:     s.River.String(),
				Latitude:  s.Lat.Value,
				Longitude: s.Lon.Value,
				Country:   "AR",
				Provider:  ProviderName,
			})
		}
	}

	f.logger.Info("Fetched INA stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	s := seriesByVariable[variable]
	resourceURL := f.baseURL + "/datos" +
		"&timeStart=" + url.QueryEscape(period.Start.Format(gauge.DateLayout)) +
		"&timeEnd=" + url.QueryEscape(period.Until().Format(gauge.DateLayout)) +
		"&siteCode=" + url.QueryEscape(gaugeID) +
		"&varId=" + strconv.Itoa(s.varID) +
		"&format=json"

	var data dataList
	if err := f.client.GetJSON(ctx, resourceURL, nil, nil, &data); err != nil {
		switch {
		case errors.Is(err, transport.ErrResourceNotFound):
			return nil, fmt.Errorf("%w: INA does not know site %s", gauge.ErrUnknownGauge, gaugeID)
		case errors.Is(err, transport.ErrNoContent):
			return nil, fmt.Errorf("%w: empty INA response for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch INA variable %d of %s: %w", s.varID, gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for _, d := range data.Data {
		if !d.Value.Valid {
			continue
		}

		t, err := normalize.ParseTime(d.TimeStart)
		if err != nil {
			f.logger.Debug("Skipping INA reading", "time", d.TimeStart, "error", err)
			continue
		}
		if s.daily {
			t = normalize.Day(t.In(localTime))
		}
		builder.Add(t, d.Value.Value)
	}

	if variable.IsInstant() || s.daily {
		return builder.Build(period)
	}
	return builder.BuildDailyMeans(period)
}
