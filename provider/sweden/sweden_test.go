package sweden

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
	var requested []string
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		switch r.URL.Path {
		case "/parameter/1.json":
			_, _ = w.Write([]byte(`{"station":[
				{"id":2357,"name":"Torneälven Kukkolankoski","catchmentName":"Torneälven","catchmentSize":33929.6,"latitude":65.98,"longitude":24.05},
				{"id":9999,"name":"Utan läge","latitude":null,"longitude":null}
			]}`))
		case "/parameter/3.json":
			_, _ = w.Write([]byte(`{"station":[
				{"id":2357,"name":"duplicate","latitude":65.98,"longitude":24.05},
				{"id":"1583","name":"Dalälven Norslund","catchmentName":"Dalälven","latitude":60.16,"longitude":16.53}
			]}`))
		default:
			_, _ = w.Write([]byte(`{"station":[]}`))
		}
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	assert.Equal(t, []string{"2357", "1583"}, collection.IDs())
	assert.Equal(t, "Torneälven Kukkolankoski", collection.Gauges[0].Name)
	require.NotNil(t, collection.Gauges[0].Area)
	assert.InDelta(t, 33929.6, *collection.Gauges[0].Area, 1e-9)
	assert.Equal(t, []string{"/parameter/1.json", "/parameter/2.json", "/parameter/3.json", "/parameter/4.json", "/parameter/10.json"}, requested)
}

func TestGetData(t *testing.T) {
	testCases := []struct {
		name     string
		variable gauge.Variable
		path     string
		body     string
		expected []gauge.Observation
	}{
		{
			name:     "daily discharge",
			variable: gauge.DischargeDailyMean,
			path:     "/parameter/1/station/2357/period/corrected-archive/data.csv",
			body: "Stationsnummer;Stationsnamn;Delområde\n2357;Kukkolankoski;1\n\n" +
				"Datum (svensk sommartid);Vattenföring (Dygn);Kvalitet\n" +
				"2020-01-01;310.5;G\n2020-01-02;;G\n2020-01-03;305;G\n",
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Value: 310.5},
				{Time: time.Date(2020, 1, 3, 0, 0, 0, 0, time.UTC), Value: 305},
			},
		},
		{
			name:     "instantaneous stage in meters",
			variable: gauge.StageInstant,
			path:     "/parameter/3/station/2357/period/corrected-archive/data.csv",
			body: "Datum Tid (UTC);Vattenstånd;Kvalitet\n" +
				"2020-01-01 06:00:00;245;G\n2020-01-01 07:00:00;247;G\n",
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 6, 0, 0, 0, time.UTC), Value: 2.45},
				{Time: time.Date(2020, 1, 1, 7, 0, 0, 0, time.UTC), Value: 2.47},
			},
		},
		{
			name:     "monthly discharge skips period columns",
			variable: gauge.DischargeMonthlyMean,
			path:     "/parameter/10/station/2357/period/corrected-archive/data.csv",
			body: "Från Datum Tid (UTC);Till Datum Tid (UTC);Representativ månad;Vattenföring (Månad);Kvalitet\n" +
				"2020-01-01 00:00:00;2020-02-01 00:00:00;2020-01;298.2;G\n" +
				"2020-02-01 00:00:00;2020-03-01 00:00:00;2020-02;280;G\n",
			expected: []gauge.Observation{
				{Time: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), Value: 298.2},
				{Time: time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC), Value: 280},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, tc.path, r.URL.Path)
				_, _ = w.Write([]byte(tc.body))
			})

			period, err := gauge.NewDateRange("2020-01-01", "2020-02-29")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "2357", tc.variable, period)
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

	period, err := gauge.NewDateRange("2020-01-01", "2020-01-31")
	require.NoError(t, err)

	_, err = fetcher.GetData(context.Background(), "0", gauge.DischargeDailyMean, period)
	assert.ErrorIs(t, err, gauge.ErrUnknownGauge)
}
