// Package canada queries the national HYDAT database published by the Water
// Survey of Canada. The SQLite release is downloaded once into the data
// directory and queried locally afterwards.
package canada

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "canada"
	DefaultBaseURL = "https://collaboration.cmc.ec.gc.ca/cmc/hydrometrics/www"
)

var ErrArchiveNotFound = fmt.Errorf("%w: HYDAT archive not found", gauge.ErrNoCatalogue)

type dailyTable struct {
	name   string
	prefix string
}

var tables = map[gauge.Variable]dailyTable{
	gauge.DischargeDailyMean: {name: "DLY_FLOWS", prefix: "FLOW"},
	gauge.StageDailyMean:     {name: "DLY_LEVELS", prefix: "LEVEL"},
}

type Fetcher struct {
	baseURL string
	dataDir string
	client  *transport.Client
	logger  *slog.Logger

	mu     sync.Mutex
	dbPath string
}

func NewFetcher(baseURL, dataDir string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		dataDir: dataDir,
		client:  client,
		logger:  logger,
	}
}

// WithDatabase pins the fetcher to an existing HYDAT file.
func (f *Fetcher) WithDatabase(path string) *Fetcher {
	f.dbPath = path
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

func (f *Fetcher) open(ctx context.Context) (*sql.DB, error) {
	path, err := f.databasePath(ctx)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open HYDAT database: %w", err)
	}

	return db, nil
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	db, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT STATION_NUMBER, STATION_NAME, LATITUDE, LONGITUDE, DRAINAGE_AREA_GROSS FROM STATIONS`)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query stations: %v", gauge.ErrMalformedResponse, err)
	}
	defer rows.Close()

	collection := gauge.NewGaugeCollection(ProviderName)
	for rows.Next() {
		var (
			id, name string
			lat, lon sql.NullFloat64
			area     sql.NullFloat64
		)
		if err := rows.Scan(&id, &name, &lat, &lon, &area); err != nil {
			return nil, fmt.Errorf("%w: failed to scan station: %v", gauge.ErrMalformedResponse, err)
		}

		if !lat.Valid || !lon.Valid || !gauge.ValidLocation(lat.Float64, lon.Float64) {
			continue
		}

		g := gauge.Gauge{
			ID:        id,
			Name:      name,
			Latitude:  lat.Float64,
			Longitude: lon.Float64,
			Country:   "CA",
		}
		if area.Valid {
			g.Area = &area.Float64
		}
		collection.Add(g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stations: %w", err)
	}

	f.logger.Info("Loaded HYDAT stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	db, err := f.open(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	var known int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM STATIONS WHERE STATION_NUMBER = ?`, gaugeID).Scan(&known); err != nil {
		return nil, fmt.Errorf("%w: failed to look up station: %v", gauge.ErrMalformedResponse, err)
	}
	if known == 0 {
		return nil, fmt.Errorf("%w: %s is not in HYDAT", gauge.ErrUnknownGauge, gaugeID)
	}

	table := tables[variable]
	columns := make([]string, 0, 31)
	for day := 1; day <= 31; day++ {
		columns = append(columns, fmt.Sprintf("%s%d", table.prefix, day))
	}

	query := fmt.Sprintf(`SELECT YEAR, MONTH, %s FROM %s WHERE STATION_NUMBER = ? AND YEAR BETWEEN ? AND ?`,
		strings.Join(columns, ", "), table.name)

	rows, err := db.QueryContext(ctx, query, gaugeID, period.Start.Year(), period.End.Year())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query %s: %v", gauge.ErrMalformedResponse, table.name, err)
	}
	defer rows.Close()

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.Identity)
	for rows.Next() {
		var year, month int
		values := make([]sql.NullFloat64, 31)
		dest := []any{&year, &month}
		for i := range values {
			dest = append(dest, &values[i])
		}

		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("%w: failed to scan %s: %v", gauge.ErrMalformedResponse, table.name, err)
		}

		for i, v := range values {
			day, ok := normalize.DayOfMonth(year, time.Month(month), i+1)
			if !ok || !v.Valid {
				continue
			}
			builder.Add(day, v.Float64)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", table.name, err)
	}

	return builder.Build(period)
}
