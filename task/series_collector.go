package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gosimple/slug"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/table"
)

const DefaultPeriod = "P30D" // ISO 8601 duration for the last 30 days

type Status string

const (
	StatusSuccess     Status = "success"
	StatusSkipped     Status = "skipped"
	StatusUnsupported Status = "unsupported"
	StatusNoData      Status = "no_data"
	StatusFailed      Status = "failed"
)

type SeriesCollectorOptions struct {
	Variable  gauge.Variable
	Period    gauge.DateRange
	OutputDir string
	// GaugeIDs restricts the run; the provider catalogue is used when empty.
	GaugeIDs []string
	// Limit caps the number of gauges, 0 means all.
	Limit int
}

type GaugeResult struct {
	GaugeID      string `json:"gauge_id"`
	Status       Status `json:"status"`
	Path         string `json:"path,omitempty"`
	Observations int    `json:"observations,omitempty"`
	Error        string `json:"error,omitempty"`
}

type Report struct {
	Provider string         `json:"provider"`
	Variable gauge.Variable `json:"variable"`
	Results  []GaugeResult  `json:"results"`
}

func (r *Report) Count(status Status) int {
	count := 0
	for _, result := range r.Results {
		if result.Status == status {
			count++
		}
	}
	return count
}

// SeriesCollector downloads one variable for many gauges of a provider into
// one CSV file per gauge. Gauges are processed one after another.
type SeriesCollector struct {
	fetcher gauge.Fetcher
	logger  *slog.Logger
}

func NewSeriesCollector(fetcher gauge.Fetcher, logger *slog.Logger) *SeriesCollector {
	return &SeriesCollector{fetcher: fetcher, logger: logger}
}

// SeriesFileName is the slugged CSV file name of a gauge series.
func SeriesFileName(provider, gaugeID string, variable gauge.Variable) string {
	return slug.Make(fmt.Sprintf("%s %s %s", provider, gaugeID, variable)) + ".csv"
}

func (c *SeriesCollector) Run(ctx context.Context, opts SeriesCollectorOptions) (*Report, error) {
	if c.fetcher == nil || !c.fetcher.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}
	if err := opts.Period.Validate(); err != nil {
		return nil, err
	}
	if !gauge.Supports(c.fetcher.Variables(), opts.Variable) {
		return nil, fmt.Errorf("%w: %s does not provide %q", gauge.ErrUnsupportedVariable, c.fetcher.Name(), opts.Variable)
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", opts.OutputDir, err)
	}

	gaugeIDs, err := c.gaugeIDs(ctx, opts)
	if err != nil {
		return nil, err
	}

	report := &Report{Provider: c.fetcher.Name(), Variable: opts.Variable}
	c.logger.Info("Collecting series", "provider", report.Provider, "variable", opts.Variable, "gauges", len(gaugeIDs), "period", opts.Period.String())

	for _, gaugeID := range gaugeIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		result := c.collect(ctx, gaugeID, opts)
		report.Results = append(report.Results, result)
	}

	c.logger.Info("Finished collecting series",
		"provider", report.Provider,
		"success", report.Count(StatusSuccess),
		"skipped", report.Count(StatusSkipped),
		"no_data", report.Count(StatusNoData),
		"failed", report.Count(StatusFailed),
	)
	return report, nil
}

func (c *SeriesCollector) gaugeIDs(ctx context.Context, opts SeriesCollectorOptions) ([]string, error) {
	ids := opts.GaugeIDs
	if len(ids) == 0 {
		collection, err := c.fetcher.GetGaugeIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s catalogue: %w", c.fetcher.Name(), err)
		}
		ids = collection.IDs()
	}

	if opts.Limit > 0 && len(ids) > opts.Limit {
		ids = ids[:opts.Limit]
	}
	return ids, nil
}

func (c *SeriesCollector) collect(ctx context.Context, gaugeID string, opts SeriesCollectorOptions) GaugeResult {
	path := filepath.Join(opts.OutputDir, SeriesFileName(c.fetcher.Name(), gaugeID, opts.Variable))
	result := GaugeResult{GaugeID: gaugeID, Path: path}

	if _, err := os.Stat(path); err == nil {
		c.logger.Debug("Series already downloaded", "gaugeID", gaugeID, "path", path)
		result.Status = StatusSkipped
		return result
	}

	series, err := c.fetcher.GetData(ctx, gaugeID, opts.Variable, opts.Period)
	if err != nil {
		result.Path = ""
		result.Error = err.Error()

		switch {
		case errors.Is(err, gauge.ErrUnsupportedVariable):
			result.Status = StatusUnsupported
		case errors.Is(err, gauge.ErrNoData):
			c.logger.Warn("No data for gauge", "gaugeID", gaugeID, "variable", opts.Variable)
			result.Status = StatusNoData
		default:
			c.logger.Error("Failed to fetch series", "gaugeID", gaugeID, "variable", opts.Variable, "error", err)
			result.Status = StatusFailed
		}
		return result
	}

	if err := writeSeriesFile(path, series); err != nil {
		c.logger.Error("Failed to write series", "gaugeID", gaugeID, "path", path, "error", err)
		result.Path = ""
		result.Error = err.Error()
		result.Status = StatusFailed
		return result
	}

	c.logger.Info("Saved series", "gaugeID", gaugeID, "observations", series.Len(), "path", path)
	result.Status = StatusSuccess
	result.Observations = series.Len()
	return result
}

// writeSeriesFile replaces path atomically, a partial CSV never shows up
// under the final name.
func writeSeriesFile(path string, series *gauge.Series) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".series-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := table.WriteSeries(tmp, series); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmp.Name(), path)
}
