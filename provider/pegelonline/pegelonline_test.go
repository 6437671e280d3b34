package pegelonline

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

const stationUUID = "b6c6d5c8-e2d5-4469-8dd8-fa972ef7eaea"

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.NewClient(server.Client(), log.Discard(), transport.WithRetries(0, time.Millisecond))
	return NewFetcher(server.URL, client, log.Discard())
}

func TestGetGaugeIDs(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/stations.json", r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"uuid":"` + stationUUID + `","number":"23700200","shortname":"MANNHEIM","longname":"MANNHEIM",
			 "km":424.7,"agency":"MANNHEIM","longitude":8.46,"latitude":49.49,
			 "water":{"shortname":"RHEIN","longname":"RHEIN"}},
			{"uuid":"c0ffee","number":"1","shortname":"BAD HONNEF","longname":"BAD HONNEF",
			 "water":{"shortname":"RHEIN","longname":"RHEIN"}}
		]`))
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	require.Equal(t, []string{stationUUID}, collection.IDs())
	assert.Equal(t, "Mannheim", collection.Gauges[0].Name)
	assert.Equal(t, "Rhein", collection.Gauges[0].River)
	assert.Equal(t, "DE", collection.Gauges[0].Country)
}

const measurementsJSON = `[
	{"timestamp":"2024-06-01T00:00:00+02:00","value":310.0},
	{"timestamp":"2024-06-01T12:00:00+02:00","value":330.0},
	{"timestamp":"2024-06-02T06:00:00+02:00","value":300.0}
]`

func TestGetData(t *testing.T) {
	testCases := []struct {
		name       string
		variable   gauge.Variable
		timeseries string
		expected   []gauge.Observation
	}{
		{
			name:       "instantaneous stage in meters",
			variable:   gauge.StageInstant,
			timeseries: "W",
			expected: []gauge.Observation{
				{Time: time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC), Value: 3.1},
				{Time: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC), Value: 3.3},
				{Time: time.Date(2024, 6, 2, 4, 0, 0, 0, time.UTC), Value: 3.0},
			},
		},
		{
			name:       "daily mean discharge",
			variable:   gauge.DischargeDailyMean,
			timeseries: "Q",
			expected: []gauge.Observation{
				{Time: time.Date(2024, 5, 31, 0, 0, 0, 0, time.UTC), Value: 310},
				{Time: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), Value: 330},
				{Time: time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), Value: 300},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/stations/"+stationUUID+"/"+tc.timeseries+"/measurements.json", r.URL.Path)
				assert.Equal(t, "2024-05-31T00:00:00Z", r.URL.Query().Get("start"))
				assert.Equal(t, "2024-06-03T00:00:00Z", r.URL.Query().Get("end"))
				_, _ = w.Write([]byte(measurementsJSON))
			})

			period, err := gauge.NewDateRange("2024-05-31", "2024-06-02")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), stationUUID, tc.variable, period)
			require.NoError(t, err)

			require.Len(t, series.Observations, len(tc.expected))
			for i, obs := range tc.expected {
				assert.Equal(t, obs.Time, series.Observations[i].Time)
				assert.InDelta(t, obs.Value, series.Observations[i].Value, 1e-9)
			}
		})
	}
}

func TestGetDataUnknownStation(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	period, err := gauge.NewDateRange("2024-05-31", "2024-06-02")
	require.NoError(t, err)

	_, err = fetcher.GetData(context.Background(), "missing", gauge.StageInstant, period)
	assert.ErrorIs(t, err, gauge.ErrUnknownGauge)
}
