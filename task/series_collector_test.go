package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/log"
)

type fakeFetcher struct {
	gauges []string
	data   map[string]error
	calls  []string
}

func (f *fakeFetcher) Name() string { return "fake" }

func (f *fakeFetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean}
}

func (f *fakeFetcher) IsReady() bool { return true }

func (f *fakeFetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	collection := gauge.NewGaugeCollection("fake")
	for _, id := range f.gauges {
		collection.Add(gauge.Gauge{ID: id, Latitude: 1, Longitude: 1})
	}
	return collection, nil
}

func (f *fakeFetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	f.calls = append(f.calls, gaugeID)
	if err := f.data[gaugeID]; err != nil {
		return nil, err
	}

	return &gauge.Series{
		Provider: "fake",
		GaugeID:  gaugeID,
		Variable: variable,
		Unit:     variable.Unit(),
		Observations: []gauge.Observation{
			{Time: period.Start, Value: 1.5},
			{Time: period.Start.AddDate(0, 0, 1), Value: 2.5},
		},
	}, nil
}

func testPeriod(t *testing.T) gauge.DateRange {
	t.Helper()

	period, err := gauge.NewDateRange("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	return period
}

func TestSeriesCollectorRun(t *testing.T) {
	dir := t.TempDir()
	fetcher := &fakeFetcher{
		gauges: []string{"A-1", "B 2", "C3", "D4"},
		data: map[string]error{
			"C3": fmt.Errorf("%w: nothing there", gauge.ErrNoData),
			"D4": fmt.Errorf("portal down: %w", gauge.ErrNetwork),
		},
	}

	existing := filepath.Join(dir, SeriesFileName("fake", "B 2", gauge.DischargeDailyMean))
	require.NoError(t, os.WriteFile(existing, []byte("time,value\n"), 0o644))

	collector := NewSeriesCollector(fetcher, log.Discard())
	report, err := collector.Run(context.Background(), SeriesCollectorOptions{
		Variable:  gauge.DischargeDailyMean,
		Period:    testPeriod(t),
		OutputDir: dir,
	})
	require.NoError(t, err)

	statuses := make(map[string]Status)
	for _, result := range report.Results {
		statuses[result.GaugeID] = result.Status
	}

	assert.Equal(t, map[string]Status{
		"A-1": StatusSuccess,
		"B 2": StatusSkipped,
		"C3":  StatusNoData,
		"D4":  StatusFailed,
	}, statuses)
	assert.Equal(t, []string{"A-1", "C3", "D4"}, fetcher.calls)
	assert.Equal(t, 1, report.Count(StatusSuccess))

	content, err := os.ReadFile(filepath.Join(dir, "fake-a-1-discharge_daily_mean.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "2024-01-01,1.5,discharge_daily_mean")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestSeriesCollectorLimitAndGaugeIDs(t *testing.T) {
	testCases := []struct {
		name     string
		opts     SeriesCollectorOptions
		expected []string
	}{
		{name: "limit", opts: SeriesCollectorOptions{Limit: 2}, expected: []string{"1", "2"}},
		{name: "explicit gauges", opts: SeriesCollectorOptions{GaugeIDs: []string{"9"}}, expected: []string{"9"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := &fakeFetcher{gauges: []string{"1", "2", "3"}}

			tc.opts.Variable = gauge.DischargeDailyMean
			tc.opts.Period = testPeriod(t)
			tc.opts.OutputDir = t.TempDir()

			_, err := NewSeriesCollector(fetcher, log.Discard()).Run(context.Background(), tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, fetcher.calls)
		})
	}
}

func TestSeriesCollectorRejectsUnsupportedVariable(t *testing.T) {
	fetcher := &fakeFetcher{gauges: []string{"1"}}

	_, err := NewSeriesCollector(fetcher, log.Discard()).Run(context.Background(), SeriesCollectorOptions{
		Variable:  gauge.StageInstant,
		Period:    testPeriod(t),
		OutputDir: t.TempDir(),
	})
	assert.ErrorIs(t, err, gauge.ErrUnsupportedVariable)
	assert.Empty(t, fetcher.calls)
}

func TestSeriesCollectorStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	fetcher := &fakeFetcher{gauges: []string{"1", "2"}}
	report, err := NewSeriesCollector(fetcher, log.Discard()).Run(ctx, SeriesCollectorOptions{
		Variable:  gauge.DischargeDailyMean,
		Period:    testPeriod(t),
		OutputDir: t.TempDir(),
	})
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
}
