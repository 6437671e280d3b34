// Package poland reads the public hydrological archive of the Polish
// Institute of Meteorology and Water Management (IMGW-PIB).
//
// Daily values are published per hydrological year as zipped cp1250 CSV
// files, one archive per month. The hydrological year N starts on the first
// of November of year N-1.
package poland

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "poland"
	DefaultBaseURL = "https://danepubliczne.imgw.pl"

	archivePath   = "/data/dane_pomiarowo_obserwacyjne/dane_hydrologiczne/dobowe"
	cataloguePath = "/api/data/hydro2"
	fileEncoding  = "windows-1250"
)

var (
	archivePattern = regexp.MustCompile(`^codz_\d{4}_\d{2}\.zip$`)

	// placeholders for missing measurements
	sentinels = []float64{9999, 99999.999, 99.9, 999}
)

// layout holds the column positions of one generation of the daily files.
type layout struct {
	code, hydroYear, day, month int
	values                      map[gauge.Variable]int
}

var layouts = map[int]layout{
	10: {code: 0, hydroYear: 3, day: 5, month: 9, values: map[gauge.Variable]int{
		gauge.StageDailyMean:            6,
		gauge.DischargeDailyMean:        7,
		gauge.WaterTemperatureDailyMean: 8,
	}},
	// recent files lack the discharge column
	9: {code: 0, hydroYear: 3, day: 5, month: 8, values: map[gauge.Variable]int{
		gauge.StageDailyMean:            6,
		gauge.WaterTemperatureDailyMean: 7,
	}},
}

var conversions = map[gauge.Variable]normalize.Conversion{
	gauge.DischargeDailyMean:        normalize.Identity,
	gauge.StageDailyMean:            normalize.CentimetersToMeters,
	gauge.WaterTemperatureDailyMean: normalize.Identity,
}

type station struct {
	ID        normalize.FlexString `json:"kod_stacji"`
	Name      string               `json:"nazwa_stacji"`
	River     string               `json:"rzeka"`
	Latitude  normalize.FlexFloat  `json:"lat"`
	Longitude normalize.FlexFloat  `json:"lon"`
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
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean, gauge.WaterTemperatureDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	var stations []station
	if err := f.client.GetJSON(ctx, f.baseURL+cataloguePath, nil, nil, &stations); err != nil {
		return nil, fmt.Errorf("failed to fetch IMGW stations: %w", err)
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, s := range stations {
		if s.ID.String() == "" || !s.Latitude.Valid || !s.Longitude.Valid {
			continue
		}
		if !gauge.ValidLocation(s.Latitude.Value, s.Longitude.Value) {
			continue
		}

		collection.Add(gauge.Gauge{
			ID:        s.ID.String(),
			Name:      s.Name,
			River:     s.River,
			Latitude:  s.Latitude.Value,
			Longitude: s.Longitude.Value,
			Country:   "PL",
		})
	}

	f.logger.Info("Fetched IMGW stations", "count", collection.Len())
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

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, conversions[variable])
	// November and December belong to the next hydrological year
	for year := period.Start.Year(); year <= period.End.Year()+1; year++ {
		archives, err := f.listArchives(ctx, year)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Debug("No IMGW archive for hydrological year", "year", year)
				continue
			}
			return nil, err
		}

		for _, name := range archives {
			if err := f.readArchive(ctx, year, name, gaugeID, variable, builder); err != nil {
				return nil, err
			}
		}
	}

	return builder.Build(period)
}

func (f *Fetcher) yearURL(year int) string {
	return fmt.Sprintf("%s%s/%d/", f.baseURL, archivePath, year)
}

func (f *Fetcher) listArchives(ctx context.Context, year int) ([]string, error) {
	content, err := f.client.Get(ctx, f.yearURL(year), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list IMGW archives of %d: %w", year, err)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse IMGW listing: %v", gauge.ErrMalformedResponse, err)
	}

	var archives []string
	doc.Find("a[href]").Each(func(_ int, link *goquery.Selection) {
		href, _ := link.Attr("href")
		if archivePattern.MatchString(href) {
			archives = append(archives, href)
		}
	})

	return archives, nil
}

func (f *Fetcher) readArchive(ctx context.Context, year int, name, gaugeID string, variable gauge.Variable, builder *normalize.Builder) error {
	var buf bytes.Buffer
	if _, err := f.client.Download(ctx, f.yearURL(year)+name, &buf); err != nil {
		return fmt.Errorf("failed to download %s: %w", name, err)
	}

	archive, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		return fmt.Errorf("%w: %s is not a zip archive: %v", gauge.ErrMalformedResponse, name, err)
	}

	for _, file := range archive.File {
		if err := f.readFile(file, gaugeID, variable, builder); err != nil {
			return fmt.Errorf("failed to read %s/%s: %w", name, file.Name, err)
		}
	}

	return nil
}

func (f *Fetcher) readFile(file *zip.File, gaugeID string, variable gauge.Variable, builder *normalize.Builder) error {
	src, err := file.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	decoded, err := normalize.DecodeCharset(src, fileEncoding)
	if err != nil {
		return err
	}

	content, err := io.ReadAll(decoded)
	if err != nil {
		return fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
	}

	return parseDaily(content, gaugeID, variable, builder)
}

func separator(content []byte) rune {
	firstLine, _, _ := bytes.Cut(content, []byte("\n"))
	if bytes.Count(firstLine, []byte(";")) > bytes.Count(firstLine, []byte(",")) {
		return ';'
	}

	return ','
}

func sameStation(a, b string) bool {
	return strings.TrimLeft(strings.TrimSpace(a), "0") == strings.TrimLeft(strings.TrimSpace(b), "0")
}

func parseDaily(content []byte, gaugeID string, variable gauge.Variable, builder *normalize.Builder) error {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.Comma = separator(content)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
		}

		cols, ok := layouts[len(record)]
		if !ok || !sameStation(record[cols.code], gaugeID) {
			continue
		}

		valueIdx, ok := cols.values[variable]
		if !ok {
			continue
		}

		hydroYear, errY := strconv.Atoi(strings.TrimSpace(record[cols.hydroYear]))
		month, errM := strconv.Atoi(strings.TrimSpace(record[cols.month]))
		day, errD := strconv.Atoi(strings.TrimSpace(record[cols.day]))
		if errY != nil || errM != nil || errD != nil {
			continue
		}

		year := hydroYear
		if month >= 11 {
			year--
		}

		date, ok := normalize.DayOfMonth(year, time.Month(month), day)
		if !ok {
			continue
		}

		value, ok := normalize.ParseFloat(record[valueIdx])
		if !ok || normalize.IsSentinel(value, sentinels...) {
			continue
		}
		builder.Add(date, value)
	}
}
