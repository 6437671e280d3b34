// Package chile exports daily discharge from the CR2 climate explorer. The
// explorer answers an export request with a link to a temporary CSV file.
package chile

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "chile"
	DefaultBaseURL = "https://explorador.cr2.cl"
)

var (
	ErrExportLinkMissing = errors.New("export link missing from CR2 answer")

	exportLinkPattern = regexp.MustCompile(`(?:https?://[^"'\s<>]+)?/tmp/[^"'\s<>]+\.csv`)
)

type exportVariable struct {
	ID       string `json:"id"`
	Var      string `json:"var"`
	Interval string `json:"intv"`
	Season   string `json:"season"`
	Stat     string `json:"stat"`
	MinFrac  int    `json:"minFrac"`
}

type exportTime struct {
	Start  int64  `json:"start"`
	End    int64  `json:"end"`
	Months string `json:"months"`
}

type exportSeries struct {
	Sites []string `json:"sites"`
	Start *int64   `json:"start"`
	End   *int64   `json:"end"`
}

type exportOptions struct {
	Variable exportVariable    `json:"variable"`
	Time     exportTime        `json:"time"`
	Series   exportSeries      `json:"series"`
	Export   map[string]string `json:"export"`
	Action   []string          `json:"action"`
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
	return []gauge.Variable{gauge.DischargeDailyMean}
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

	options, err := json.Marshal(exportOptions{
		Variable: exportVariable{ID: "qflxDaily", Var: "caudal", Interval: "daily", Season: "year", Stat: "mean", MinFrac: 80},
		Time:     exportTime{Start: period.Start.Unix(), End: period.Until().Unix(), Months: "Año completo"},
		Series:   exportSeries{Sites: []string{gaugeID}},
		Export:   map[string]string{"series": "CSV"},
		Action:   []string{"export_series"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode CR2 export options: %w", err)
	}

	answer, err := f.client.Get(ctx, f.baseURL+"/request.php", url.Values{"options": {string(options)}}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to request CR2 export of %s: %w", gaugeID, err)
	}

	link, err := f.exportLink(answer)
	if err != nil {
		return nil, fmt.Errorf("%w: station %s: %v", gauge.ErrUnknownGauge, gaugeID, err)
	}

	f.logger.Debug("Found CR2 export", "gauge", gaugeID, "url", link)
	content, err := f.client.Get(ctx, link, nil, nil)
	if err != nil {
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty export for %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to download CR2 export of %s: %w", gaugeID, err)
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	if err := parseExport(bytes.NewReader(content), builder); err != nil {
		return nil, err
	}

	return builder.Build(period)
}

func (f *Fetcher) exportLink(answer []byte) (string, error) {
	match := exportLinkPattern.Find(answer)
	if match == nil {
		return "", ErrExportLinkMissing
	}

	link := string(match)
	if strings.HasPrefix(link, "/") {
		link = f.baseURL + link
	}

	return link, nil
}

func parseExport(r io.Reader, builder *normalize.Builder) error {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("%w: failed to read CR2 header: %v", gauge.ErrMalformedResponse, err)
	}

	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.TrimSpace(name)] = i
	}

	for _, required := range []string{"agno", "mes", "dia", "valor"} {
		if _, ok := columns[required]; !ok {
			return fmt.Errorf("%w: CR2 export lacks column %q", gauge.ErrMalformedResponse, required)
		}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: failed to read CR2 row: %v", gauge.ErrMalformedResponse, err)
		}
		if len(record) <= columns["valor"] {
			continue
		}

		year, errY := strconv.Atoi(strings.TrimSpace(record[columns["agno"]]))
		month, errM := strconv.Atoi(strings.TrimSpace(record[columns["mes"]]))
		day, errD := strconv.Atoi(strings.TrimSpace(record[columns["dia"]]))
		if errY != nil || errM != nil || errD != nil || month < 1 || month > 12 {
			continue
		}

		date, ok := normalize.DayOfMonth(year, time.Month(month), day)
		if !ok {
			continue
		}
		builder.AddString(date, record[columns["valor"]])
	}
}
