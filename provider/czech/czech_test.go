package czech

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/log"
	"github.com/timgluz/rivretrieve/transport"
)

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.NewClient(server.Client(), log.Discard(), transport.WithRetries(0, time.Millisecond))
	return NewFetcher(server.URL, client, log.Discard())
}

func TestGetGaugeIDs(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/metadata/meta1.json", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": {"data": {
			"header": "objID,STATION_NAME,STREAM_NAME,GEOGR1,GEOGR2,PLO_STA",
			"values": [
				["0-203-1-001000", "Špindlerův Mlýn", "Labe", 50.7262, 15.6094, 50.97],
				["0-203-1-999999", "Bez souřadnic", "Labe", null, null, null]
			]
		}}}`))
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	require.Equal(t, []string{"0-203-1-001000"}, collection.IDs())
	assert.Equal(t, "Labe", collection.Gauges[0].River)
	require.NotNil(t, collection.Gauges[0].Area)
	assert.Equal(t, 50.97, *collection.Gauges[0].Area)
}

const dailyYear = `{"objID": "0-203-1-001000", "tsList": [
	{"tsConID": "QD", "tsData": {"data": {"header": "DT,VAL,FLAG", "values": [
		["2020-01-01T00:00:00Z", 1.25, ""],
		["2020-01-02T00:00:00Z", null, ""],
		["2020-01-03T00:00:00Z", "1.5", ""]
	]}}},
	{"tsConID": "HD", "tsData": {"data": {"header": "DT,VAL,FLAG", "values": [
		["2020-01-01T00:00:00Z", 52, ""]
	]}}}
]}`

const hourlyYear = `{"tsList": [
	{"tsConID": "HH", "tsData": {"data": {"header": "DT,VAL", "values": [
		["2020-01-01T06:00:00Z", 50],
		["2020-01-01T07:00:00Z", 51]
	]}}}
]}`

func TestGetData(t *testing.T) {
	testCases := []struct {
		name     string
		variable gauge.Variable
		expected []gauge.Observation
	}{
		{
			name:     "daily discharge",
			variable: gauge.DischargeDailyMean,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1.25},
				{Time: time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC), Value: 1.5},
			},
		},
		{
			name:     "daily stage in meters",
			variable: gauge.StageDailyMean,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Value: 0.52},
			},
		},
		{
			name:     "hourly stage keeps timestamps",
			variable: gauge.StageInstant,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 6, 0, 0, 0, time.UTC), Value: 0.5},
				{Time: time.Date(2020, 1, 1, 7, 0, 0, 0, time.UTC), Value: 0.51},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				switch r.URL.Path {
				case "/data/daily/H_0-203-1-001000_DQ_2020.json":
					_, _ = w.Write([]byte(dailyYear))
				case "/data/hourly/H_0-203-1-001000_HQ_2020.json":
					_, _ = w.Write([]byte(hourlyYear))
				default:
					http.NotFound(w, r)
				}
			})

			period, err := gauge.NewDateRange("2019-12-01", "2020-01-31")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "0-203-1-001000", tc.variable, period)
			require.NoError(t, err)

			require.Len(t, series.Observations, len(tc.expected))
			for i, obs := range tc.expected {
				assert.Equal(t, obs.Time, series.Observations[i].Time)
				assert.InDelta(t, obs.Value, series.Observations[i].Value, 1e-9)
			}
		})
	}
}

func TestGetDataMissingSeries(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(hourlyYear))
	})

	period, err := gauge.NewDateRange("2020-01-01", "2020-01-31")
	require.NoError(t, err)

	_, err = fetcher.GetData(context.Background(), "0-203-1-001000", gauge.WaterTemperatureDailyMean, period)
	assert.ErrorIs(t, err, gauge.ErrNoData)
}

func TestGetDataUnknownGauge(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metadata/meta1.json" {
			_, _ = w.Write([]byte(`{"data": {"data": {
			"header": "objID,STATION_NAME,STREAM_NAME,GEOGR1,GEOGR2,PLO_STA",
			"values": [["0-203-1-001000", "Špindlerův Mlýn", "Labe", 50.7262, 15.6094, 50.97]]
		}}}`))
			return
		}
		http.NotFound(w, r)
	})

	period, err := gauge.NewDateRange("2020-01-01", "2020-01-31")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		gaugeID string
		unknown bool
	}{
		{name: "listed gauge without data", gaugeID: "0-203-1-001000", unknown: false},
		{name: "unlisted gauge", gaugeID: "UN0-203-1-001000", unknown: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetcher.GetData(context.Background(), tc.gaugeID, gauge.DischargeDailyMean, period)
			assert.ErrorIs(t, err, gauge.ErrNoData)
			if tc.unknown {
				assert.ErrorIs(t, err, gauge.ErrUnknownGauge)
			} else {
				assert.NotErrorIs(t, err, gauge.ErrUnknownGauge)
			}
		})
	}
}
