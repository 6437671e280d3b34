package usa

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

const siteRDB = "# US Geological Survey\n" +
	"# retrieved: 2024-01-01\n" +
	"agency_cd\tsite_no\tstation_nm\tsite_tp_cd\tdec_lat_va\tdec_long_va\talt_va\tdrain_area_va\n" +
	"5s\t15s\t50s\t7s\t16s\t16s\t8s\t8s\n" +
	"USGS\t01646500\tPOTOMAC RIVER NEAR WASH, DC LITTLE FALLS PUMP STA\tST\t38.94977778\t-77.12763889\t37.20\t11560\n" +
	"USGS\t01646502\tPOTOMAC RIVER (ADJUSTED) NEAR WASH, DC\tST\t\t\t\t\n"

const dailyValuesJSON = `{
  "value": {
    "timeSeries": [{
      "name": "USGS:01646500:00060:00003",
      "variable": {"variableCode": [{"value": "00060"}], "noDataValue": -999999.0},
      "values": [{"value": [
        {"value": "1000", "qualifiers": ["A"], "dateTime": "2024-01-02T00:00:00.000"},
        {"value": "2000", "qualifiers": ["A"], "dateTime": "2024-01-01T00:00:00.000"},
        {"value": "-999999", "qualifiers": ["A"], "dateTime": "2024-01-03T00:00:00.000"},
        {"value": "Ice", "qualifiers": ["P"], "dateTime": "2024-01-04T00:00:00.000"}
      ]}]
    }]
  }
}`

func newTestFetcher(t *testing.T, handler http.HandlerFunc) *Fetcher {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := transport.NewClient(server.Client(), log.Discard(), transport.WithRetries(0, time.Millisecond))
	return NewFetcher(server.URL, client, log.Discard())
}

func TestGetGaugeIDs(t *testing.T) {
	var states []string
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/site/", r.URL.Path)
		assert.Equal(t, "rdb", r.URL.Query().Get("format"))
		states = append(states, r.URL.Query().Get("stateCd"))
		if r.URL.Query().Get("stateCd") == "dc" {
			_, _ = w.Write([]byte(siteRDB))
			return
		}
		http.NotFound(w, r)
	}).WithStates("dc", "gu")

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	assert.Equal(t, []string{"dc", "gu"}, states)
	require.Equal(t, 1, collection.Len())

	g := collection.Gauges[0]
	assert.Equal(t, "01646500", g.ID)
	assert.Equal(t, ProviderName, g.Provider)
	assert.InDelta(t, 38.9497, g.Latitude, 1e-3)
	require.NotNil(t, g.Altitude)
	assert.InDelta(t, 11.338, *g.Altitude, 1e-2)
	require.NotNil(t, g.Area)
	assert.InDelta(t, 29940, *g.Area, 1)
}

func TestGetData(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/dv/", r.URL.Path)
		assert.Equal(t, "01646500", r.URL.Query().Get("sites"))
		assert.Equal(t, "00060", r.URL.Query().Get("parameterCd"))
		assert.Equal(t, "2024-01-01", r.URL.Query().Get("startDT"))
		_, _ = w.Write([]byte(dailyValuesJSON))
	})

	period, err := gauge.NewDateRange("2024-01-01", "2024-01-05")
	require.NoError(t, err)

	series, err := fetcher.GetData(context.Background(), "01646500", gauge.DischargeDailyMean, period)
	require.NoError(t, err)
	require.NoError(t, series.Validate(period))

	require.Len(t, series.Observations, 2)
	assert.Equal(t, gauge.UnitCubicMetersPerSecond, series.Unit)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), series.Observations[0].Time)
	assert.InDelta(t, 56.6336932, series.Observations[0].Value, 1e-6)
	assert.InDelta(t, 28.3168466, series.Observations[1].Value, 1e-6)
}

func TestGetDataErrors(t *testing.T) {
	period, err := gauge.NewDateRange("2024-01-01", "2024-01-05")
	require.NoError(t, err)

	testCases := []struct {
		name     string
		gaugeID  string
		variable gauge.Variable
		status   int
		expected error
	}{
		{name: "unsupported variable", gaugeID: "01646500", variable: gauge.WaterTemperatureDailyMean, status: http.StatusOK, expected: gauge.ErrUnsupportedVariable},
		{name: "malformed site number", gaugeID: "potomac", variable: gauge.DischargeDailyMean, status: http.StatusOK, expected: gauge.ErrUnknownGauge},
		{name: "no data", gaugeID: "01646500", variable: gauge.StageDailyMean, status: http.StatusNotFound, expected: gauge.ErrNoData},
		{name: "rejected site", gaugeID: "99999999", variable: gauge.StageDailyMean, status: http.StatusBadRequest, expected: gauge.ErrUnknownGauge},
		{name: "outage", gaugeID: "01646500", variable: gauge.StageDailyMean, status: http.StatusServiceUnavailable, expected: gauge.ErrNetwork},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"value": {"timeSeries": []}}`))
			})

			_, err := fetcher.GetData(context.Background(), tc.gaugeID, tc.variable, period)
			assert.ErrorIs(t, err, tc.expected)
		})
	}
}
