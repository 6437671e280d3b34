package argentina

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
		switch r.URL.Path {
		case "/estaciones&&type=H&format=json":
			_, _ = w.Write([]byte(`{"data": [
				{"sitecode": 19, "nombre": "Puerto Rosario", "rio": "Paraná", "lat": -32.95, "lon": -60.63},
				{"sitecode": "34", "nombre": "Sin ubicación", "rio": "Paraná", "lat": null, "lon": null}
			]}`))
		case "/estaciones&&type=A&format=json":
			_, _ = w.Write([]byte(`{"data": [
				{"sitecode": "19", "nombre": "Rosario automática", "rio": "Paraná", "lat": "-32.95", "lon": "-60.63"},
				{"sitecode": "2912", "nombre": "Andresito", "rio": "Iguazú", "lat": -25.58, "lon": -53.99}
			]}`))
		default:
			http.NotFound(w, r)
		}
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	assert.Equal(t, []string{"19", "2912"}, collection.IDs())
	g, ok := collection.Find("19")
	require.True(t, ok)
	assert.Equal(t, "Puerto Rosario", g.Name)
	assert.Equal(t, "Paraná", g.River)
	assert.Equal(t, "AR", g.Country)
}

func TestGetData(t *testing.T) {
	testCases := []struct {
		name     string
		variable gauge.Variable
		varID    string
		body     string
		expected []gauge.Observation
	}{
		{
			name:     "daily mean dated on the local day",
			variable: gauge.StageDailyMean,
			varID:    "39",
			body: `{"data": [
				{"timestart": "2024-01-01T03:00:00.000Z", "valor": 3.21},
				{"timestart": "2024-01-02T03:00:00.000Z", "valor": "3.25"},
				{"timestart": "2024-01-03T03:00:00.000Z", "valor": null}
			]}`,
			expected: []gauge.Observation{
				{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 3.21},
				{Time: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Value: 3.25},
			},
		},
		{
			name:     "instant readings",
			variable: gauge.DischargeInstant,
			varID:    "4",
			body: `{"data": [
				{"timestart": "2024-01-02T12:00:00.000Z", "valor": 15000},
				{"timestart": "2024-01-01T12:00:00.000Z", "valor": 14800}
			]}`,
			expected: []gauge.Observation{
				{Time: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), Value: 14800},
				{Time: time.Date(2024, 1, 2, 12, 0, 0, 0, time.UTC), Value: 15000},
			},
		},
		{
			name:     "daily mean of instant temperatures",
			variable: gauge.WaterTemperatureDailyMean,
			varID:    "73",
			body: `{"data": [
				{"timestart": "2024-01-01T06:00:00.000Z", "valor": 24},
				{"timestart": "2024-01-01T18:00:00.000Z", "valor": 26}
			]}`,
			expected: []gauge.Observation{
				{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 25},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/datos&timeStart=2024-01-01&timeEnd=2024-01-03&siteCode=19&varId="+tc.varID+"&format=json", r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			})

			period, err := gauge.NewDateRange("2024-01-01", "2024-01-02")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "19", tc.variable, period)
			require.NoError(t, err)
			require.NoError(t, series.Validate(period))
			assert.Equal(t, tc.expected, series.Observations)
			assert.Equal(t, tc.variable.Unit(), series.Unit)
		})
	}
}

func TestGetDataErrors(t *testing.T) {
	period, err := gauge.NewDateRange("2024-01-01", "2024-01-02")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		variable gauge.Variable
		body     string
		expected error
	}{
		{name: "empty data", variable: gauge.StageInstant, body: `{"data": []}`, expected: gauge.ErrNoData},
		{name: "unsupported variable", variable: gauge.CatchmentPrecipitationDailySum, body: `{"data": []}`, expected: gauge.ErrUnsupportedVariable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := fetcher.GetData(context.Background(), "19", tc.variable, period)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
