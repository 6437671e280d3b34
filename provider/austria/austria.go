// Package austria downloads daily series from eHYD, the hydrographic
// archive of Austria. Each station offers numbered CSV exports; the
// Content-Disposition header tells which series an export holds.
package austria

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "austria"
	DefaultBaseURL = "https://ehyd.gv.at/eHYD/MessstellenExtraData/owf"

	fileEncoding = "iso-8859-1"
	dateLayout   = "02.01.2006"
)

var fieldSeparator = regexp.MustCompile(`[;\t\s]+`)

type export struct {
	// candidate file numbers, tried in order
	files     []int
	signature string
}

var exports = map[gauge.Variable]export{
	gauge.DischargeDailyMean: {files: []int{4, 5}, signature: "Q-Tagesmittel"},
	gauge.StageDailyMean:     {files: []int{1, 2}, signature: "W-Tagesmittel"},
}

type Fetcher struct {
	baseURL   string
	sitesPath string
	client    *transport.Client
	logger    *slog.Logger
}

// NewFetcher creates a fetcher reading its catalogue from the cached site
// list at sitesPath; eHYD only publishes station metadata inside its bulk
// archive.
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

	f.logger.Info("Loaded cached eHYD site list", "path", f.sitesPath, "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	if err := table.CheckGauge(f.sitesPath, ProviderName, gaugeID); err != nil {
		if errors.Is(err, gauge.ErrUnknownGauge) {
			return nil, err
		}
		f.logger.Debug("Cannot check gauge against eHYD site list", "path", f.sitesPath, "error", err)
	}

	ex := exports[variable]
	content, err := f.findExport(ctx, gaugeID, ex)
	if err != nil {
		return nil, err
	}

	builder, err := f.parseExport(content, gaugeID, variable)
	if err != nil {
		return nil, fmt.Errorf("failed to parse eHYD %s of %s: %w", ex.signature, gaugeID, err)
	}

	return builder.Build(period)
}

func (f *Fetcher) findExport(ctx context.Context, gaugeID string, ex export) ([]byte, error) {
	for _, file := range ex.files {
		query := url.Values{"id": {gaugeID}, "file": {strconv.Itoa(file)}}

		content, header, err := f.client.GetWithHeader(ctx, f.baseURL, query, nil)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				continue
			}
			return nil, fmt.Errorf("failed to fetch eHYD export %d of %s: %w", file, gaugeID, err)
		}

		if strings.Contains(header.Get("Content-Disposition"), ex.signature) {
			return content, nil
		}
		f.logger.Debug("eHYD export holds another series", "gauge", gaugeID, "file", file, "disposition", header.Get("Content-Disposition"))
	}

	return nil, fmt.Errorf("%w: eHYD has no %s export for %s", gauge.ErrNoData, ex.signature, gaugeID)
}

// parseExport reads the "Einheit:" header and the rows after "Werte:".
// Stage is published in cm unless the header says otherwise.
func (f *Fetcher) parseExport(content []byte, gaugeID string, variable gauge.Variable) (*normalize.Builder, error) {
	reader, err := normalize.DecodeCharset(bytes.NewReader(content), fileEncoding)
	if err != nil {
		return nil, err
	}

	var (
		lines    []string
		inValues bool
		unit     string
	)
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !inValues {
			if strings.HasPrefix(line, "Einheit:") {
				unit = strings.Trim(strings.TrimPrefix(line, "Einheit:"), "; \t")
			}
			inValues = strings.HasPrefix(line, "Werte")
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if !inValues {
		return nil, fmt.Errorf("%w: export has no Werte section", gauge.ErrMalformedResponse)
	}

	conversion := normalize.Identity
	if variable.Kind() == gauge.KindStage && unit != "m" {
		conversion = normalize.CentimetersToMeters
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, conversion)
	for _, line := range lines {
		parts := fieldSeparator.Split(line, 3)
		if len(parts) < 2 {
			continue
		}

		t, err := normalize.ParseTime(parts[0], dateLayout)
		if err != nil {
			continue
		}
		builder.AddString(t, parts[len(parts)-1])
	}

	return builder, nil
}
