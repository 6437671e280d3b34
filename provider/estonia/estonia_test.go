package estonia

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

const stationsJSON = `[
	{"code": "SJA3206000", "name": "Pirita jõgi: Lükati", "type": "HYDROLOGICAL"},
	{"code": 7500, "name": "Emajõgi: Tartu", "type": "HYDROLOGICAL"},
	{"code": "SJA0000001", "name": "Tallinn-Harku", "type": "METEOROLOGICAL"},
	{"code": "SJA9999999", "name": "Kuskil: Tundmatu", "type": "HYDROLOGICAL"}
]`

const featuresJSON = `{"type": "FeatureCollection", "features": [
	{"properties": {"name": "Lükati hüdromeetriajaam"}, "geometry": {"type": "Point", "coordinates": [542763.37, 6589036.28]}},
	{"properties": {"name": "Tartu"}, "geometry": {"type": "MultiPoint", "coordinates": [[659616.70, 6474082.99]]}},
	{"properties": {"name": "Kaugel"}, "geometry": {"type": "Point", "coordinates": []}}
]}`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.NewClient(server.Client(), log.Discard(), transport.WithRetries(0, time.Millisecond))
	return NewFetcher(server.URL, server.URL+"/wfs", client, log.Discard())
}

func TestGetGaugeIDs(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/stations":
			_, _ = w.Write([]byte(stationsJSON))
		case "/wfs":
			assert.Equal(t, "GetFeature", r.URL.Query().Get("request"))
			assert.Equal(t, wfsTypeName, r.URL.Query().Get("typeNames"))
			_, _ = w.Write([]byte(featuresJSON))
		default:
			http.NotFound(w, r)
		}
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())
	assert.Equal(t, []string{"SJA3206000", "7500"}, collection.IDs())

	testCases := []struct {
		id        string
		river     string
		latitude  float64
		longitude float64
	}{
		{id: "SJA3206000", river: "Pirita jõgi", latitude: 59.4370, longitude: 24.7536},
		{id: "7500", river: "Emajõgi", latitude: 58.3780, longitude: 26.7290},
	}

	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			g, ok := collection.Find(tc.id)
			require.True(t, ok)
			assert.Equal(t, tc.river, g.River)
			assert.Equal(t, "EE", g.Country)
			assert.InDelta(t, tc.latitude, g.Latitude, 1e-3)
			assert.InDelta(t, tc.longitude, g.Longitude, 1e-3)
		})
	}
}

func TestNormalizeName(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "diacritics", input: "Pärnu-Jaagupi", expected: "parnu jaagupi"},
		{name: "station words", input: "Lükati hüdromeetriajaam", expected: "lukati"},
		{name: "separators", input: "Narva: Vasknarva", expected: "narva vasknarva"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, normalizeName(tc.input))
		})
	}
}

func TestGetData(t *testing.T) {
	testCases := []struct {
		name      string
		variable  gauge.Variable
		parameter string
	}{
		{name: "discharge", variable: gauge.DischargeDailyMean, parameter: "Q"},
		{name: "stage", variable: gauge.StageDailyMean, parameter: "H"},
		{name: "water temperature", variable: gauge.WaterTemperatureDailyMean, parameter: "T"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/stations/SJA3206000/measurements", r.URL.Path)
				q := r.URL.Query()
				assert.Equal(t, tc.parameter, q.Get("parameter"))
				assert.Equal(t, "MEAN", q.Get("type"))
				assert.Equal(t, "2023", q.Get("start-year"))
				assert.Equal(t, "2024", q.Get("end-year"))

				_, _ = w.Write([]byte(`[
					{"startDate": "2023-12-31T00:00:00", "value": 1.1},
					{"startDate": "2024-01-01T00:00:00+02:00", "value": 1.5},
					{"startDate": "2024-01-02", "value": null},
					{"startDate": "2024-01-03", "value": "2.25"}
				]`))
			})

			period, err := gauge.NewDateRange("2023-12-31", "2024-01-03")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "SJA3206000", tc.variable, period)
			require.NoError(t, err)
			require.NoError(t, series.Validate(period))
			assert.Equal(t, []gauge.Observation{
				{Time: time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), Value: 1.1},
				{Time: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Value: 1.5},
				{Time: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), Value: 2.25},
			}, series.Observations)
		})
	}
}

func TestGetDataErrors(t *testing.T) {
	period, err := gauge.NewDateRange("2024-01-01", "2024-01-03")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		variable gauge.Variable
		status   int
		body     string
		expected error
	}{
		{name: "unknown station", variable: gauge.DischargeDailyMean, status: http.StatusNotFound, expected: gauge.ErrUnknownGauge},
		{name: "empty body", variable: gauge.DischargeDailyMean, status: http.StatusOK, expected: gauge.ErrNoData},
		{name: "no readings", variable: gauge.StageDailyMean, status: http.StatusOK, body: `[]`, expected: gauge.ErrNoData},
		{name: "unsupported variable", variable: gauge.StageInstant, status: http.StatusOK, body: `[]`, expected: gauge.ErrUnsupportedVariable},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})

			_, err := fetcher.GetData(context.Background(), "SJA3206000", tc.variable, period)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
