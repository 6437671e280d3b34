package gauge

import (
	"fmt"
	"math"
	"time"
)

type Observation struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Series is a normalized observation series of one variable at one gauge.
type Series struct {
	Provider     string        `json:"provider"`
	GaugeID      string        `json:"gauge_id"`
	Variable     Variable      `json:"variable"`
	Unit         Unit          `json:"unit"`
	Observations []Observation `json:"observations"`
}

// Row is one line of the flat observation table.
type Row struct {
	Time     time.Time `json:"time"`
	Value    float64   `json:"value"`
	Variable Variable  `json:"variable"`
	Unit     Unit      `json:"unit"`
	GaugeID  string    `json:"gauge_id"`
}

func (s *Series) Len() int {
	return len(s.Observations)
}

func (s *Series) Rows() []Row {
	rows := make([]Row, len(s.Observations))
	for i, o := range s.Observations {
		rows[i] = Row{
			Time:     o.Time,
			Value:    o.Value,
			Variable: s.Variable,
			Unit:     s.Unit,
			GaugeID:  s.GaugeID,
		}
	}

	return rows
}

// Validate checks ordering, range membership and units of the series.
func (s *Series) Validate(period DateRange) error {
	if !s.Variable.IsKnown() {
		return fmt.Errorf("%w: %q", ErrUnsupportedVariable, s.Variable)
	}

	if s.Unit != s.Variable.Unit() {
		return fmt.Errorf("unit mismatch: variable %s uses %s, got %s", s.Variable, s.Variable.Unit(), s.Unit)
	}

	for i, o := range s.Observations {
		if math.IsNaN(o.Value) || math.IsInf(o.Value, 0) {
			return fmt.Errorf("observation %d at %s is not finite", i, o.Time.Format(time.RFC3339))
		}

		if !period.Contains(o.Time) {
			return fmt.Errorf("observation %d at %s is outside %s", i, o.Time.Format(time.RFC3339), period)
		}

		if i > 0 && o.Time.Before(s.Observations[i-1].Time) {
			return fmt.Errorf("observation %d at %s is out of order", i, o.Time.Format(time.RFC3339))
		}
	}

	return nil
}
