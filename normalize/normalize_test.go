package normalize

import (
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/timgluz/rivretrieve/gauge"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestParseFloat(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected float64
		ok       bool
	}{
		{name: "plain", input: "12.5", expected: 12.5, ok: true},
		{name: "negative", input: "-0.25", expected: -0.25, ok: true},
		{name: "decimal comma", input: " 3,75 ", expected: 3.75, ok: true},
		{name: "quality flag suffix", input: "2.09$", expected: 2.09, ok: true},
		{name: "empty", input: "", ok: false},
		{name: "dash", input: "-", ok: false},
		{name: "nan", input: "NaN", ok: false},
		{name: "japanese missing marker", input: "閉局", ok: false},
		{name: "text", input: "n/a", ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			v, ok := ParseFloat(tc.input)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.InDelta(t, tc.expected, v, 1e-9)
			}
		})
	}
}

func TestConversions(t *testing.T) {
	assert.InDelta(t, 2.83168466, CubicFeetToCubicMeters(100), 1e-9)
	assert.InDelta(t, 3.048, FeetToMeters(10), 1e-9)
	assert.InDelta(t, 1.23, CentimetersToMeters(123), 1e-9)
	assert.InDelta(t, 0.5, LitersToCubicMeters(500), 1e-9)
	assert.InDelta(t, 0.005, MillimetersToMeters(5), 1e-9)
	assert.Equal(t, 7.0, Identity(7))
	assert.True(t, IsSentinel(99999.999, 9999, 99999.999))
	assert.False(t, IsSentinel(12, 9999))
}

func TestParseTime(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		layouts  []string
		expected time.Time
	}{
		{name: "date", input: "2024-01-02", expected: day(2024, 1, 2)},
		{name: "rfc3339 offset", input: "2024-01-02T09:00:00+10:00", expected: time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC)},
		{name: "brazil", input: "2024-01-01 00:00:00.0", expected: day(2024, 1, 1)},
		{name: "german", input: "05.03.2021", expected: day(2021, 3, 5)},
		{name: "compact", input: "20190113", expected: day(2019, 1, 13)},
		{name: "explicit layout", input: "13/01/2019", layouts: []string{"02/01/2006"}, expected: day(2019, 1, 13)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTime(tc.input, tc.layouts...)
			require.NoError(t, err)
			assert.True(t, tc.expected.Equal(got), "got %s", got)
		})
	}

	_, err := ParseTime("yesterday")
	assert.Error(t, err)
}

func TestDayOfMonth(t *testing.T) {
	d, ok := DayOfMonth(2024, time.February, 29)
	assert.True(t, ok)
	assert.Equal(t, day(2024, 2, 29), d)

	_, ok = DayOfMonth(2023, time.February, 29)
	assert.False(t, ok)
}

func TestBuilder(t *testing.T) {
	period := gauge.DateRange{Start: day(2024, 1, 2), End: day(2024, 1, 4)}

	b := NewBuilder("test", "g1", gauge.StageDailyMean, CentimetersToMeters)
	b.Add(day(2024, 1, 4), 130)
	b.Add(day(2024, 1, 2), 110)
	b.Add(day(2024, 1, 1), 100)
	b.AddString(day(2024, 1, 3), "120")
	b.AddString(day(2024, 1, 3), "125")
	b.AddString(day(2024, 1, 5), "-")

	series, err := b.Build(period)
	require.NoError(t, err)
	require.NoError(t, series.Validate(period))

	assert.Equal(t, gauge.UnitMeters, series.Unit)
	assert.Equal(t, "g1", series.GaugeID)
	assert.Equal(t, []gauge.Observation{
		{Time: day(2024, 1, 2), Value: 1.1},
		{Time: day(2024, 1, 3), Value: 1.25},
		{Time: day(2024, 1, 4), Value: 1.3},
	}, series.Observations)
	assert.Equal(t, 1, b.Skipped())
}

func TestBuilderEmptyRange(t *testing.T) {
	period := gauge.DateRange{Start: day(2024, 1, 2), End: day(2024, 1, 4)}

	b := NewBuilder("test", "g1", gauge.DischargeDailyMean, nil)
	b.Add(day(2023, 1, 1), 5)

	_, err := b.Build(period)
	assert.ErrorIs(t, err, gauge.ErrNoData)
}

func TestBuildDailyMeans(t *testing.T) {
	period := gauge.DateRange{Start: day(2024, 1, 1), End: day(2024, 1, 2)}

	b := NewBuilder("test", "g1", gauge.StageDailyMean, nil)
	b.Add(day(2024, 1, 1).Add(6*time.Hour), 1)
	b.Add(day(2024, 1, 1).Add(18*time.Hour), 3)
	b.Add(day(2024, 1, 2).Add(12*time.Hour), 5)

	series, err := b.BuildDailyMeans(period)
	require.NoError(t, err)
	assert.Equal(t, []gauge.Observation{
		{Time: day(2024, 1, 1), Value: 2},
		{Time: day(2024, 1, 2), Value: 5},
	}, series.Observations)
}

func TestDecodeCharset(t *testing.T) {
	encoded, err := charmap.Windows1250.NewEncoder().String("Wisła;Łódź")
	require.NoError(t, err)

	r, err := DecodeCharset(strings.NewReader(encoded), "windows-1250")
	require.NoError(t, err)

	decoded, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "Wisła;Łódź", string(decoded))

	_, err = DecodeCharset(strings.NewReader(""), "klingon")
	assert.Error(t, err)
}

func TestUTMToWGS84(t *testing.T) {
	testCases := []struct {
		name     string
		zone     int
		easting  float64
		northing float64
		lat      float64
		lon      float64
	}{
		// Berlin, Brandenburger Tor
		{name: "zone 33", zone: 33, easting: 389918, northing: 5819702, lat: 52.5163, lon: 13.3777},
		// Copenhagen city hall
		{name: "zone 32", zone: 32, easting: 724398, northing: 6175762, lat: 55.6757, lon: 12.5690},
		{name: "central meridian", zone: 31, easting: 500000, northing: 0, lat: 0, lon: 3},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon := UTMToWGS84(tc.zone, true, tc.easting, tc.northing)
			assert.InDelta(t, tc.lat, lat, 0.01)
			assert.InDelta(t, tc.lon, lon, 0.01)
		})
	}
}

func TestEstonianLambertToGeographic(t *testing.T) {
	testCases := []struct {
		name string
		x    float64
		y    float64
		lat  float64
		lon  float64
	}{
		{name: "projection origin", x: 500000, y: 6375000, lat: 57.517554, lon: 24},
		{name: "Tallinn", x: 542763.37, y: 6589036.28, lat: 59.4370, lon: 24.7536},
		{name: "Tartu", x: 659616.70, y: 6474082.99, lat: 58.3780, lon: 26.7290},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			lat, lon := EstonianLambert.ToGeographic(tc.x, tc.y)
			assert.InDelta(t, tc.lat, lat, 1e-5)
			assert.InDelta(t, tc.lon, lon, 1e-5)
		})
	}
}

func TestFlexTypes(t *testing.T) {
	var payload struct {
		Label  FlexString `json:"label"`
		Code   FlexString `json:"code"`
		Lat    FlexFloat  `json:"lat"`
		Lon    FlexFloat  `json:"lon"`
		Area   FlexFloat  `json:"area"`
		Height FlexFloat  `json:"height"`
	}

	data := `{"label": ["Kingston", "Kingston upon Thames"], "code": 39001, "lat": "51,41", "lon": [-0.308], "area": null, "height": 12.5}`
	require.NoError(t, json.Unmarshal([]byte(data), &payload))

	assert.Equal(t, "Kingston", payload.Label.String())
	assert.Equal(t, "39001", payload.Code.String())
	assert.True(t, payload.Lat.Valid)
	assert.InDelta(t, 51.41, payload.Lat.Value, 1e-9)
	assert.InDelta(t, -0.308, payload.Lon.Value, 1e-9)
	assert.False(t, payload.Area.Valid)
	assert.Nil(t, payload.Area.Ptr())
	require.NotNil(t, payload.Height.Ptr())
	assert.Equal(t, 12.5, *payload.Height.Ptr())
}
