package germanyberlin

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

const stationTable = `<html><body>
<table>
  <tr><th>Messstellen- nummer</th><th>Messstellen- name</th><th>Gewässer</th><th>Rechts- wert</th><th>Hoch- wert</th></tr>
  <tr><td>5867000</td><td>Mühlendamm</td><td>Spree</td><td>392600</td><td>5819600</td></tr>
  <tr><td>5865900</td><td>Schleuse Charlottenburg</td><td>Spree</td><td>33385000</td><td>5822000</td></tr>
  <tr><td>5800000</td><td>ohne Lage</td><td>Havel</td><td></td><td></td></tr>
</table>
</body></html>`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.NewClient(server.Client(), log.Discard(), transport.WithRetries(0, time.Millisecond))
	return NewFetcher(server.URL, client, log.Discard())
}

func TestGetGaugeIDs(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/start.php", r.URL.Path)
		assert.Equal(t, "tabelle_ow", r.URL.Query().Get("anzeige"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(stationTable))
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	require.Equal(t, []string{"5867000", "5865900"}, collection.IDs())

	first := collection.Gauges[0]
	assert.Equal(t, "Mühlendamm", first.Name)
	assert.Equal(t, "Spree", first.River)
	assert.InDelta(t, 52.51, first.Latitude, 0.02)
	assert.InDelta(t, 13.41, first.Longitude, 0.02)

	assert.InDelta(t, 13.3, collection.Gauges[1].Longitude, 0.05)
}

func TestHeaderKey(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "split word", input: "Messstellen- nummer", expected: columnID},
		{name: "line break", input: "Rechts-\n wert", expected: columnEasting},
		{name: "umlaut", input: " Gewässer ", expected: columnRiver},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, headerKey(tc.input))
		})
	}
}

func TestGetData(t *testing.T) {
	testCases := []struct {
		name     string
		variable gauge.Variable
		topic    string
		series   string
		body     string
		expected []gauge.Observation
	}{
		{
			name:     "daily stage in meters",
			variable: gauge.StageDailyMean,
			topic:    "ows",
			series:   "tw",
			body:     "Datum;Tagesmittelwert\n01.03.2024;312\n02.03.2024;315,5\n03.03.2024;\n",
			expected: []gauge.Observation{
				{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 3.12},
				{Time: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Value: 3.155},
			},
		},
		{
			name:     "daily discharge",
			variable: gauge.DischargeDailyMean,
			topic:    "odf",
			series:   "tw",
			body:     "Datum;Tagesmittelwert\n01.03.2024;18,4\n02.03.2024;19,1\n",
			expected: []gauge.Observation{
				{Time: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Value: 18.4},
				{Time: time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC), Value: 19.1},
			},
		},
		{
			name:     "instantaneous discharge in CET",
			variable: gauge.DischargeInstant,
			topic:    "odf",
			series:   "ew",
			body:     "Datum / Uhrzeit;Einzelwert\n01.03.2024 00:15;18,4\n01.03.2024 00:30;18,6\n",
			expected: []gauge.Observation{
				{Time: time.Date(2024, 2, 29, 23, 15, 0, 0, time.UTC), Value: 18.4},
				{Time: time.Date(2024, 2, 29, 23, 30, 0, 0, time.UTC), Value: 18.6},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				q := r.URL.Query()
				assert.Equal(t, "/station.php", r.URL.Path)
				assert.Equal(t, "5867000", q.Get("station"))
				assert.Equal(t, tc.topic, q.Get("thema"))
				assert.Equal(t, tc.series, q.Get("sreihe"))
				assert.Equal(t, "c", q.Get("smode"))
				assert.Equal(t, "29.02.2024", q.Get("sdatum"))
				_, _ = w.Write([]byte(tc.body))
			})

			period, err := gauge.NewDateRange("2024-02-29", "2024-03-31")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "5867000", tc.variable, period)
			require.NoError(t, err)

			require.Len(t, series.Observations, len(tc.expected))
			for i, obs := range tc.expected {
				assert.Equal(t, obs.Time, series.Observations[i].Time)
				assert.InDelta(t, obs.Value, series.Observations[i].Value, 1e-9)
			}
		})
	}
}

func TestGetDataErrorPage(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>Fehler: keine Daten</body></html>"))
	})

	period, err := gauge.NewDateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)

	_, err = fetcher.GetData(context.Background(), "1", gauge.StageDailyMean, period)
	assert.ErrorIs(t, err, gauge.ErrNoData)
}

func TestGetDataUnsupportedVariable(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Fail(t, "no request expected")
	})

	period, err := gauge.NewDateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)

	_, err = fetcher.GetData(context.Background(), "5867000", gauge.WaterTemperatureInstant, period)
	assert.ErrorIs(t, err, gauge.ErrUnsupportedVariable)
}

func TestGetDataUnknownGauge(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/start.php":
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			_, _ = w.Write([]byte(stationTable))
		default:
			_, _ = w.Write([]byte("<html><body>Fehler: keine Daten</body></html>"))
		}
	})

	period, err := gauge.NewDateRange("2024-03-01", "2024-03-31")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		gaugeID string
		unknown bool
	}{
		{name: "listed gauge without data", gaugeID: "5867000", unknown: false},
		{name: "unlisted gauge", gaugeID: "UN5867000", unknown: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := fetcher.GetData(context.Background(), tc.gaugeID, gauge.StageDailyMean, period)
			assert.ErrorIs(t, err, gauge.ErrNoData)
			if tc.unknown {
				assert.ErrorIs(t, err, gauge.ErrUnknownGauge)
			} else {
				assert.NotErrorIs(t, err, gauge.ErrUnknownGauge)
			}
		})
	}
}
