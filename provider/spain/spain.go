// Package spain retrieves gauging station data of the Spanish official
// gauging network (ROAN) published by MITECO.
package spain

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName        = "spain"
	DefaultBaseURL      = "https://sig.mapama.gob.es/WebServices/clientews/redes-seguimiento"
	DefaultCatalogueURL = "https://www.miteco.gob.es/content/dam/miteco/es/agua/temas/evaluacion-de-los-recursos-hidricos/sistema-informacion-anuario-aforos/listado-estaciones-aforo.zip"

	dailyDischargeService = "ROAN_RIOS_DIARIO_CAUDAL"
	serviceOrigin         = "1008"
)

var hydroMonths = map[string]time.Month{
	"Oct": time.October,
	"Nov": time.November,
	"Dic": time.December,
	"Ene": time.January,
	"Feb": time.February,
	"Mar": time.March,
	"Abr": time.April,
	"May": time.May,
	"Jun": time.June,
	"Jul": time.July,
	"Ago": time.August,
	"Sep": time.September,
}

// the yearbook stores discharge in hundredths of m3/s
func hundredths(v float64) float64 {
	return v / 100
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
	return []gauge.Variable{gauge.DischargeDailyMean}
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

	query := url.Values{
		"nombre":  {dailyDischargeService},
		"claves":  {"INDROEA|ANO_INI|ANO_FIN"},
		"valores": {fmt.Sprintf("%s|%d|%d", gaugeID, period.Start.Year(), period.End.Year())},
		"origen":  {serviceOrigin},
	}

	content, err := f.client.Get(ctx, f.baseURL+"/default.aspx", query, nil)
	if err != nil {
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty answer for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch ROAN data of %s: %w", gaugeID, err)
	}

	reader, err := normalize.HTMLReader(bytes.NewReader(content), "")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse ROAN page: %v", gauge.ErrMalformedResponse, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, hundredths)
	if err := parseYearbook(doc.Find("table").First(), builder); err != nil {
		return nil, fmt.Errorf("station %s: %w", gaugeID, err)
	}

	return builder.Build(period)
}

func cellTexts(row *goquery.Selection) []string {
	var cells []string
	row.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}

// parseYearbook reads the hydrological year table: one row per station,
// hydrological year ("2019-2020") and day, one column per month from
// October to September.
func parseYearbook(table *goquery.Selection, builder *normalize.Builder) error {
	if table.Length() == 0 {
		return fmt.Errorf("%w: no data table", gauge.ErrNoData)
	}

	rows := table.Find("tr")
	if rows.Length() < 2 {
		return fmt.Errorf("%w: empty data table", gauge.ErrNoData)
	}

	header := cellTexts(rows.First())
	yearIdx, dayIdx := -1, -1
	months := make(map[int]time.Month)
	for i, name := range header {
		switch {
		case name == "Año":
			yearIdx = i
		case name == "Día":
			dayIdx = i
		default:
			if m, ok := hydroMonths[name]; ok {
				months[i] = m
			}
		}
	}

	if yearIdx < 0 || dayIdx < 0 || len(months) == 0 {
		return fmt.Errorf("%w: unexpected table header %v", gauge.ErrMalformedResponse, header)
	}

	rows.Slice(1, rows.Length()).Each(func(_ int, row *goquery.Selection) {
		cells := cellTexts(row)
		if len(cells) <= yearIdx || len(cells) <= dayIdx {
			return
		}

		startYear, endYear, ok := splitHydroYear(cells[yearIdx])
		day, err := strconv.Atoi(cells[dayIdx])
		if !ok || err != nil {
			return
		}

		for idx, month := range months {
			if idx >= len(cells) {
				continue
			}

			year := endYear
			if month >= time.October {
				year = startYear
			}

			date, ok := normalize.DayOfMonth(year, month, day)
			if !ok {
				continue
			}
			builder.AddString(date, cells[idx])
		}
	})

	return nil
}

func splitHydroYear(s string) (int, int, bool) {
	first, second, found := strings.Cut(s, "-")
	if !found {
		return 0, 0, false
	}

	start, errStart := strconv.Atoi(strings.TrimSpace(first))
	end, errEnd := strconv.Atoi(strings.TrimSpace(second))
	if errStart != nil || errEnd != nil {
		return 0, 0, false
	}

	return start, end, true
}

// GetGaugeIDs reads the station list shipped inside the yearbook archive.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var buf bytes.Buffer
	if _, err := f.client.Download(ctx, f.catalogueURL, &buf); err != nil {
		return nil, fmt.Errorf("failed to download ROAN station list: %w", err)
	}

	archive, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return nil, fmt.Errorf("%w: station list is not a zip archive: %v", gauge.ErrMalformedResponse, err)
	}

	for _, file := range archive.File {
		if !strings.Contains(file.Name, "Situac") || !strings.Contains(file.Name, "Rio") {
			continue
		}

		f.logger.Debug("Reading ROAN station list", "file", file.Name)
		collection, err := readStations(file)
		if err != nil {
			return nil, err
		}

		f.logger.Info("Fetched ROAN stations", "count", collection.Len())
		return collection, nil
	}

	return nil, fmt.Errorf("%w: river station list missing from archive", gauge.ErrMalformedResponse)
}
