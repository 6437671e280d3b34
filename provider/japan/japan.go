// Package japan scrapes the MLIT Water Information System (river.go.jp).
// Pages are Shift_JIS encoded HTML, one request per month.
package japan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "japan"
	DefaultBaseURL = "http://www1.river.go.jp/cgi-bin/DspWaterData.exe"

	pageEncoding = "shift_jis"
	dateLayout   = "2006/01/02"
	compactDate  = "20060102"
	// data rows hold the date followed by 24 hourly readings
	hoursPerRow = 24
	headerRows  = 2
)

var kinds = map[gauge.Variable]int{
	gauge.StageDailyMean:     2,
	gauge.DischargeDailyMean: 6,
}

type Fetcher struct {
	baseURL   string
	sitesPath string
	client    *transport.Client
	logger    *slog.Logger
}

// NewFetcher creates a fetcher; sitesPath points to the cached site list
// since the portal has no machine readable catalogue.
func NewFetcher(baseURL, sitesPath string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL:   strings.TrimRight(baseURL, "/"),
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

	collection, err := table.ReadGaugesFile(f.sitesPath, ProviderName)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Loaded cached MLIT site list", "path", f.sitesPath, "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	if err := f.checkGauge(gaugeID); err != nil {
		return nil, err
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for _, month := range period.Months() {
		// requests always start on the first of the month
		end := period.ClipMonth(month).End

		query := url.Values{
			"KIND":    {strconv.Itoa(kinds[variable])},
			"ID":      {gaugeID},
			"BGNDATE": {month.Format(compactDate)},
			"ENDDATE": {end.Format(compactDate)},
		}

		content, err := f.client.Get(ctx, f.baseURL, query, nil)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Warn("No MLIT page for month", "gauge", gaugeID, "month", month.Format("2006-01"))
				continue
			}
			return nil, fmt.Errorf("failed to fetch MLIT data of %s for %s: %w", gaugeID, month.Format("2006-01"), err)
		}

		if err := f.parsePage(content, builder); err != nil {
			return nil, fmt.Errorf("failed to parse MLIT page of %s for %s: %w", gaugeID, month.Format("2006-01"), err)
		}
	}

	return builder.Build(period)
}

func (f *Fetcher) parsePage(content []byte, builder *normalize.Builder) error {
	reader, err := normalize.DecodeCharset(bytes.NewReader(content), pageEncoding)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
	}

	tables := doc.Find("table")
	if tables.Length() < 2 {
		f.logger.Warn("MLIT page has no data table")
		return nil
	}

	tables.Eq(1).Find("tr").Each(func(i int, row *goquery.Selection) {
		if i < headerRows {
			return
		}

		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}

		t, err := normalize.ParseTime(cleanCell(cells.Eq(0).Text()), dateLayout)
		if err != nil {
			return
		}

		if mean, ok := hourlyMean(cells); ok {
			builder.Add(t, mean)
		}
	})

	return nil
}

// hourlyMean averages the readable hourly cells of a row, closed or missing
// hours are left out.
func hourlyMean(cells *goquery.Selection) (float64, bool) {
	var (
		sum   float64
		count int
	)
	for i := 1; i <= hoursPerRow && i < cells.Length(); i++ {
		v, ok := normalize.ParseFloat(cleanCell(cells.Eq(i).Text()))
		if !ok {
			continue
		}
		sum += v
		count++
	}

	if count == 0 {
		return 0, false
	}
	return sum / float64(count), true
}

// checkGauge rejects ids missing from the cached site list. Without a
// usable site list every id is tried against the portal.
func (f *Fetcher) checkGauge(gaugeID string) error {
	err := table.CheckGauge(f.sitesPath, ProviderName, gaugeID)
	if err == nil || errors.Is(err, gauge.ErrUnknownGauge) {
		return err
	}

	f.logger.Debug("Cannot check gauge against MLIT site list", "path", f.sitesPath, "error", err)
	return nil
}
