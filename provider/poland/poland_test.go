package poland

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

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

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()

	encoded, err := charmap.Windows1250.NewEncoder().String(content)
	require.NoError(t, err)

	var buf bytes.Buffer
	writer := zip.NewWriter(&buf)
	entry, err := writer.Create(name)
	require.NoError(t, err)
	_, err = entry.Write([]byte(encoded))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	return buf.Bytes()
}

func TestGetGaugeIDs(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, cataloguePath, r.URL.Path)
		_, _ = w.Write([]byte(`[
			{"kod_stacji": "150160180", "nazwa_stacji": "KRAKÓW-BIELANY", "rzeka": "Wisła", "lat": "50.0406", "lon": "19.8383"},
			{"kod_stacji": "150160190", "nazwa_stacji": "BEZ POZYCJI", "rzeka": "Wisła", "lat": null, "lon": null}
		]`))
	})

	collection, err := fetcher.GetGaugeIDs(context.Background())
	require.NoError(t, err)
	require.NoError(t, collection.Validate())

	require.Equal(t, []string{"150160180"}, collection.IDs())
	assert.Equal(t, "Wisła", collection.Gauges[0].River)
}

func TestGetData(t *testing.T) {
	// hydrological year 2021: November 2020 to October 2021
	november := strings.Join([]string{
		`150160180,"KRAKÓW-BIELANY","Wisła",2021,1,30,215,85.5,6.2,11`,
		`150160190,"SANDOMIERZ","Wisła",2021,1,30,300,200.0,6.0,11`,
	}, "\r\n")
	january := strings.Join([]string{
		`150160180,"KRAKÓW-BIELANY","Wisła",2021,3,1,220,99999.999,99.9,1`,
		`150160180,"KRAKÓW-BIELANY","Wisła",2021,3,2,9999,90.25,5.5,1`,
	}, "\r\n")
	recent := `150160180;"KRAKÓW-BIELANY";"Wisła";2021;3;3;230;5.1;1`

	archives := map[string][]byte{
		"codz_2021_01.zip": zipped(t, "codz_2021_01.csv", november),
		"codz_2021_03.zip": zipped(t, "codz_2021_03.csv", january+"\r\n"),
		"codz_2021_04.zip": zipped(t, "codz_2021_04.csv", recent),
	}

	var listed []string
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		prefix := archivePath + "/2021/"
		if r.URL.Path == prefix {
			listed = append(listed, r.URL.Path)
			_, _ = w.Write([]byte(`<html><body>
				<a href="codz_2021_01.zip">codz_2021_01.zip</a>
				<a href="codz_2021_03.zip">codz_2021_03.zip</a>
				<a href="codz_2021_04.zip">codz_2021_04.zip</a>
				<a href="zjaw_2021.zip">zjaw_2021.zip</a>
			</body></html>`))
			return
		}

		if content, ok := archives[strings.TrimPrefix(r.URL.Path, prefix)]; ok {
			_, _ = w.Write(content)
			return
		}
		http.NotFound(w, r)
	})

	testCases := []struct {
		name     string
		variable gauge.Variable
		expected []gauge.Observation
	}{
		{
			name:     "stage in meters without placeholders",
			variable: gauge.StageDailyMean,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 11, 30, 0, 0, 0, 0, time.UTC), Value: 2.15},
				{Time: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), Value: 2.2},
				{Time: time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC), Value: 2.3},
			},
		},
		{
			name:     "discharge",
			variable: gauge.DischargeDailyMean,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 11, 30, 0, 0, 0, 0, time.UTC), Value: 85.5},
				{Time: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC), Value: 90.25},
			},
		},
		{
			name:     "water temperature",
			variable: gauge.WaterTemperatureDailyMean,
			expected: []gauge.Observation{
				{Time: time.Date(2020, 11, 30, 0, 0, 0, 0, time.UTC), Value: 6.2},
				{Time: time.Date(2021, 1, 2, 0, 0, 0, 0, time.UTC), Value: 5.5},
				{Time: time.Date(2021, 1, 3, 0, 0, 0, 0, time.UTC), Value: 5.1},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			period, err := gauge.NewDateRange("2020-11-01", "2021-01-31")
			require.NoError(t, err)

			series, err := fetcher.GetData(context.Background(), "150160180", tc.variable, period)
			require.NoError(t, err)

			require.Len(t, series.Observations, len(tc.expected))
			for i, obs := range tc.expected {
				assert.Equal(t, obs.Time, series.Observations[i].Time)
				assert.InDelta(t, obs.Value, series.Observations[i].Value, 1e-9)
			}
		})
	}

	assert.NotEmpty(t, listed)
}

func TestGetDataUnknownGauge(t *testing.T) {
	fetcher := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == cataloguePath {
			_, _ = w.Write([]byte(`[{"kod_stacji": "150160180", "nazwa_stacji": "KRAKÓW-BIELANY", "rzeka": "Wisła", "lat": "50.0406", "lon": "19.8383"}]`))
			return
		}
		http.NotFound(w, r)
	})

	period, err := gauge.NewDateRange("2021-01-01", "2021-01-31")
	require.NoError(t, err)

	testCases := []struct {
		name    string
		gaugeID string
		unknown bool
	}{
		{name: "listed gauge without data", gaugeID: "150160180", unknown: false},
		{name: "unlisted gauge", gaugeID: "UN150160180", unknown: true},
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
