// Package france reads the Hub'Eau hydrometry API of the French water
// information system.
package france

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "france"
	DefaultBaseURL = "https://hubeau.eaufrance.fr/api/v2/hydrometrie"

	DefaultPageSize = 20000
	maxPages        = 1000
)

var elaborations = map[gauge.Variable]string{
	gauge.DischargeDailyMean:   "QmnJ",
	gauge.DischargeMonthlyMean: "QmM",
}

type page[T any] struct {
	Count int    `json:"count"`
	Next  string `json:"next"`
	Data  []T    `json:"data"`
}

type site struct {
	Code      string               `json:"code_site"`
	Name      string               `json:"libelle_site"`
	River     normalize.FlexString `json:"libelle_cours_eau"`
	Latitude  normalize.FlexFloat  `json:"latitude_site"`
	Longitude normalize.FlexFloat  `json:"longitude_site"`
	Area      normalize.FlexFloat  `json:"surface_bv"`
}

type observation struct {
	Date     string              `json:"date_obs_elab"`
	Result   normalize.FlexFloat `json:"resultat_obs_elab"`
	Quantity string              `json:"grandeur_hydro_elab"`
}

type Fetcher struct {
	baseURL  string
	pageSize int
	client   *transport.Client
	logger   *slog.Logger
}

func NewFetcher(baseURL string, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL:  strings.TrimRight(baseURL, "/"),
		pageSize: DefaultPageSize,
		client:   client,
		logger:   logger,
	}
}

func (f *Fetcher) WithPageSize(size int) *Fetcher {
	if size > 0 {
		f.pageSize = size
	}
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.DischargeMonthlyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.client.IsReady()
}

// fetchPages follows the "next" links of a paginated Hub'Eau answer and hands
// every page to collect.
func fetchPages[T any](ctx context.Context, f *Fetcher, resourceURL string, query url.Values, collect func([]T)) error {
	next := resourceURL
	for i := 0; next != "" && i < maxPages; i++ {
		var current page[T]
		if err := f.client.GetJSON(ctx, next, query, nil, &current); err != nil {
			return err
		}

		collect(current.Data)
		f.logger.Debug("Fetched Hub'Eau page", "url", next, "items", len(current.Data), "count", current.Count)

		next = current.Next
		// the next link carries the full query
		query = nil
	}

	return nil
}

func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	query := url.Values{
		"format": {"json"},
		"size":   {fmt.Sprint(f.pageSize)},
		"fields": {"code_site,libelle_site,libelle_cours_eau,latitude_site,longitude_site,surface_bv"},
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	err := fetchPages(ctx, f, f.baseURL+"/referentiel/sites", query, func(sites []site) {
		for _, s := range sites {
			if s.Code == "" || !s.Latitude.Valid || !s.Longitude.Valid {
				continue
			}

			g := gauge.Gauge{
				ID:        s.Code,
				Name:      s.Name,
				River:     s.River.String(),
				Latitude:  s.Latitude.Value,
				Longitude: s.Longitude.Value,
				Area:      s.Area.Ptr(),
				Country:   "FR",
			}
			if g.HasValidLocation() {
				collection.Add(g)
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch Hub'Eau sites: %w", err)
	}

	f.logger.Info("Fetched Hub'Eau sites", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	quantity := elaborations[variable]
	query := url.Values{
		"code_entite":         {gaugeID},
		"date_debut_obs_elab": {period.Start.Format(gauge.DateLayout)},
		"date_fin_obs_elab":   {period.End.Format(gauge.DateLayout)},
		"grandeur_hydro_elab": {quantity},
		"size":                {fmt.Sprint(f.pageSize)},
	}

	// results are published in l/s
	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, normalize.LitersToCubicMeters)
	err := fetchPages(ctx, f, f.baseURL+"/obs_elab", query, func(observations []observation) {
		for _, obs := range observations {
			if obs.Quantity != "" && obs.Quantity != quantity {
				continue
			}

			t, err := normalize.ParseTime(obs.Date)
			if err != nil || !obs.Result.Valid {
				continue
			}
			builder.Add(normalize.Day(t), obs.Result.Value)
		}
	})
	if err != nil {
		if transport.StatusCode(err) == http.StatusBadRequest {
			return nil, fmt.Errorf("%w: Hub'Eau rejected site %s: %v", gauge.ErrUnknownGauge, gaugeID, err)
		}
		if errors.Is(err, transport.ErrNoContent) {
			return nil, fmt.Errorf("%w: empty answer for site %s", gauge.ErrNoData, gaugeID)
		}
		return nil, fmt.Errorf("failed to fetch Hub'Eau observations of %s: %w", gaugeID, err)
	}

	return builder.Build(period)
}
