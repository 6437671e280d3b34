package gauge

import (
	"fmt"
	"strings"
	"time"

	"github.com/sosodev/duration"
)

const (
	DateLayout       = "2006-01-02"
	DefaultStartDate = "1900-01-01"
)

// DateRange is an inclusive range of calendar days in UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// NewDateRange parses YYYY-MM-DD bounds. An empty start defaults to
// 1900-01-01, an empty end to today.
func NewDateRange(start, end string) (DateRange, error) {
	return newDateRangeAt(start, end, time.Now())
}

func newDateRangeAt(start, end string, now time.Time) (DateRange, error) {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)

	if start == "" {
		start = DefaultStartDate
	}

	startDate, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: start date %q is not in YYYY-MM-DD format", ErrInvalidDateRange, start)
	}

	endDate := Today(now)
	if end != "" {
		endDate, err = time.Parse(DateLayout, end)
		if err != nil {
			return DateRange{}, fmt.Errorf("%w: end date %q is not in YYYY-MM-DD format", ErrInvalidDateRange, end)
		}
	}

	r := DateRange{Start: startDate, End: endDate}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}

	return r, nil
}

// NewDateRangeFromISO8601Duration builds a range that ends on the day of
// until and reaches back by the given ISO 8601 duration, e.g. P30D.
func NewDateRangeFromISO8601Duration(period string, until time.Time) (DateRange, error) {
	d, err := duration.Parse(period)
	if err != nil {
		return DateRange{}, fmt.Errorf("%w: %v", ErrInvalidDateRange, err)
	}

	end := Today(until)
	start := Today(until.Add(-d.ToTimeDuration()))

	return DateRange{Start: start, End: end}, nil
}

// Today truncates t to midnight UTC of its calendar day.
func Today(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("%w: start and end must be set", ErrInvalidDateRange)
	}

	if r.Start.After(r.End) {
		return fmt.Errorf("%w: start %s is after end %s", ErrInvalidDateRange,
			r.Start.Format(DateLayout), r.End.Format(DateLayout))
	}

	return nil
}

// Until returns the exclusive upper bound, midnight after the last day.
func (r DateRange) Until() time.Time {
	return r.End.AddDate(0, 0, 1)
}

func (r DateRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.Until())
}

func (r DateRange) Years() []int {
	years := make([]int, 0, r.End.Year()-r.Start.Year()+1)
	for y := r.Start.Year(); y <= r.End.Year(); y++ {
		years = append(years, y)
	}

	return years
}

// Months returns the first day of every month touched by the range.
func (r DateRange) Months() []time.Time {
	var months []time.Time
	current := time.Date(r.Start.Year(), r.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for !current.After(r.End) {
		months = append(months, current)
		current = current.AddDate(0, 1, 0)
	}

	return months
}

// Chunks splits the range into consecutive sub-ranges of at most the given
// number of years.
func (r DateRange) Chunks(years int) []DateRange {
	if years <= 0 {
		return []DateRange{r}
	}

	var chunks []DateRange
	current := r.Start
	for !current.After(r.End) {
		chunkEnd := current.AddDate(years, 0, -1)
		if chunkEnd.After(r.End) {
			chunkEnd = r.End
		}

		chunks = append(chunks, DateRange{Start: current, End: chunkEnd})
		current = chunkEnd.AddDate(0, 0, 1)
	}

	return chunks
}

// ClipMonth returns the part of the range falling into the month starting at
// monthStart.
func (r DateRange) ClipMonth(monthStart time.Time) DateRange {
	start := monthStart
	end := monthStart.AddDate(0, 1, -1)
	if r.Start.After(start) {
		start = r.Start
	}
	if r.End.Before(end) {
		end = r.End
	}

	return DateRange{Start: start, End: end}
}

func (r DateRange) String() string {
	return r.Start.Format(DateLayout) + "/" + r.End.Format(DateLayout)
}

// ISO8601 reports the length of the range as an ISO 8601 duration.
func (r DateRange) ISO8601() string {
	return duration.FromTimeDuration(r.Until().Sub(r.Start)).String()
}
