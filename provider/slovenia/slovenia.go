// Package slovenia reads the hydrological archive of the Slovenian
// Environment Agency (ARSO).
package slovenia

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName        = "slovenia"
	DefaultBaseURL      = "https://vode.arso.gov.si/hidarhiv"
	DefaultCatalogueURL = "https://www.arso.gov.si/xml/vode/hidro_podatki_zadnje.xml"

	archiveDateLayout = "02.01.2006"
	exportButton      = "Izvoz dnevnih vrednosti v CSV"
)

type column struct {
	name       string
	conversion normalize.Conversion
}

var columns = map[gauge.Variable]column{
	gauge.DischargeDailyMean:        {name: "pretok (m3/s)", conversion: normalize.Identity},
	gauge.StageDailyMean:            {name: "vodostaj (cm)", conversion: normalize.CentimetersToMeters},
	gauge.WaterTemperatureDailyMean: {name: "temp. vode (°C)", conversion: normalize.Identity},
}

type station struct {
	ID        string `xml:"sifra,attr"`
	Longitude string `xml:"ge_dolzina,attr"`
	Latitude  string `xml:"ge_sirina,attr"`
	River     string `xml:"reka"`
	Place     string `xml:"merilno_mesto"`
}

type latestReadings struct {
	Stations []station `xml:"postaja"`
}

type Fetcher struct {
	baseURL      string
	catalogueURL string
	client       *transport.Client
	logger       *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL:      strings.TrimRight(baseURL, "/"),
		catalogueURL: DefaultCatalogueURL,
		client:       client,
		logger:       logger,
	}
}

// WithCatalogueURL overrides the location of the latest readings document
// used as station list.
func (f *Fetcher) WithCatalogueURL(catalogueURL string) *Fetcher {
	if catalogueURL != "" {
		f.catalogueURL = catalogueURL
	}
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean, gauge.WaterTemperatureDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	content, err := f.client.Get(ctx, f.catalogueURL, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ARSO station list: %w", err)
	}

	var readings latestReadings
	if err := xml.Unmarshal(content, &readings); err != nil {
		return nil, fmt.Errorf("%w: failed to decode ARSO station list: %v", gauge.ErrMalformedResponse, err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, s := range readings.Stations {
		lat, okLat := normalize.ParseFloat(s.Latitude)
		lon, okLon := normalize.ParseFloat(s.Longitude)
		if s.ID == "" || !okLat || !okLon || !gauge.ValidLocation(lat, lon) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        strings.TrimSpace(s.ID),
			Name:      strings.TrimSpace(s.Place),
			River:     strings.TrimSpace(s.River),
			Latitude:  lat,
			Longitude: lon,
			Country:   "SI",
		})
	}

	f.logger.Info("Fetched ARSO stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	query := url.Values{
		"p_postaja":  {gaugeID},
		"p_od_leto":  {strconv.Itoa(period.Start.Year())},
		"p_do_leto":  {strconv.Itoa(period.End.Year())},
		"b_oddo_CSV": {exportButton},
	}

	content, err := f.client.Get(ctx, f.baseURL+"/pov_arhiv_tab.php", query, nil)
	if err != nil {
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty archive for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch ARSO archive of %s: %w", gaugeID, err)
	}

	col := columns[variable]
	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, col.conversion)
	if err := parseArchive(bytes.NewReader(content), col.name, builder); err != nil {
		return nil, fmt.Errorf("station %s: %w", gaugeID, err)
	}

	return builder.Build(period)
}

func parseArchive(r io.Reader, valueColumn string, builder *normalize.Builder) error {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: failed to read archive header: %v", gauge.ErrMalformedResponse, err)
	}

	dateIdx, valueIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "Datum":
			dateIdx = i
		case valueColumn:
			valueIdx = i
		}
	}

	if dateIdx < 0 {
		// unknown stations get the HTML search form back
		return fmt.Errorf("%w: no archive table returned", gauge.ErrUnknownGauge)
	}
	if valueIdx < 0 {
		return fmt.Errorf("%w: station does not record %q", gauge.ErrNoData, valueColumn)
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read archive row: %v", gauge.ErrMalformedResponse, err)
		}
		if len(record) <= dateIdx || len(record) <= valueIdx {
			continue
		}

		day, err := normalize.ParseTime(record[dateIdx], archiveDateLayout)
		if err != nil {
			continue
		}
		builder.AddString(day, record[valueIdx])
	}
}
