package normalize

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
)

// Builder collects raw observations for one gauge and variable and turns them
// into a normalized series.
type Builder struct {
	provider   string
	gaugeID    string
	variable   gauge.Variable
	conversion Conversion

	observations []gauge.Observation
	skipped      int
}

func NewBuilder(provider, gaugeID string, variable gauge.Variable, conversion Conversion) *Builder {
	if conversion == nil {
		conversion = Identity
	}

	return &Builder{
		provider:   provider,
		gaugeID:    gaugeID,
		variable:   variable,
		conversion: conversion,
	}
}

// Add records a value in source units. Non-finite values are dropped.
func (b *Builder) Add(t time.Time, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) || t.IsZero() {
		b.skipped++
		return
	}

	b.observations = append(b.observations, gauge.Observation{
		Time:  t.UTC(),
		Value: b.conversion(value),
	})
}

// AddString parses value with ParseFloat and records it when present.
func (b *Builder) AddString(t time.Time, value string) {
	v, ok := ParseFloat(value)
	if !ok {
		b.skipped++
		return
	}

	b.Add(t, v)
}

func (b *Builder) Len() int {
	return len(b.observations)
}

func (b *Builder) Skipped() int {
	return b.skipped
}

// Build sorts, clips to the period and collapses duplicate timestamps, the
// last recorded value winning. An empty result is reported as gauge.ErrNoData.
func (b *Builder) Build(period gauge.DateRange) (*gauge.Series, error) {
	return b.build(period, false)
}

// BuildDailyMeans is Build for sub-daily source data that has to be
// aggregated to daily means first.
func (b *Builder) BuildDailyMeans(period gauge.DateRange) (*gauge.Series, error) {
	return b.build(period, true)
}

func (b *Builder) build(period gauge.DateRange, dailyMeans bool) (*gauge.Series, error) {
	observations := make([]gauge.Observation, 0, len(b.observations))
	for _, o := range b.observations {
		if period.Contains(o.Time) {
			observations = append(observations, o)
		}
	}

	sort.SliceStable(observations, func(i, j int) bool {
		return observations[i].Time.Before(observations[j].Time)
	})
	observations = dedupe(observations)

	if dailyMeans {
		observations = DailyMeans(observations)
	}

	if len(observations) == 0 {
		return nil, fmt.Errorf("%w: %s gauge %s %s in %s", gauge.ErrNoData, b.provider, b.gaugeID, b.variable, period)
	}

	return &gauge.Series{
		Provider:     b.provider,
		GaugeID:      b.gaugeID,
		Variable:     b.variable,
		Unit:         b.variable.Unit(),
		Observations: observations,
	}, nil
}

func dedupe(sorted []gauge.Observation) []gauge.Observation {
	if len(sorted) < 2 {
		return sorted
	}

	out := sorted[:1]
	for _, o := range sorted[1:] {
		last := &out[len(out)-1]
		if o.Time.Equal(last.Time) {
			last.Value = o.Value
			continue
		}
		out = append(out, o)
	}

	return out
}

// DailyMeans averages time-sorted observations per UTC calendar day.
func DailyMeans(sorted []gauge.Observation) []gauge.Observation {
	var (
		means []gauge.Observation
		sum   float64
		count int
		day   time.Time
	)

	flush := func() {
		if count > 0 {
			means = append(means, gauge.Observation{Time: day, Value: sum / float64(count)})
		}
	}

	for _, o := range sorted {
		d := Day(o.Time)
		if !d.Equal(day) {
			flush()
			day, sum, count = d, 0, 0
		}
		sum += o.Value
		count++
	}
	flush()

	return means
}
