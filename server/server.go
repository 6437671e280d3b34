// Package server exposes the provider registry over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/middleware"
	"github.com/timgluz/rivretrieve/provider"
	"github.com/timgluz/rivretrieve/response"
	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/table"
)

const (
	FormatJSON = "json"
	FormatCSV  = "csv"

	// DefaultSeriesPeriod applies when a series request names no dates.
	DefaultSeriesPeriod = "P30D"
)

var ErrUnsupportedFormat = errors.New("unsupported format")

type ProviderInfo struct {
	Name      string           `json:"name"`
	Variables []gauge.Variable `json:"variables"`
	Ready     bool             `json:"ready"`
}

type Server struct {
	fetchers map[string]gauge.Fetcher
	apiKeys  secret.Store
	logger   *slog.Logger
	now      func() time.Time
}

// New serves the given fetchers. Bearer authentication is enforced when
// apiKeys is not nil.
func New(fetchers []gauge.Fetcher, apiKeys secret.Store, logger *slog.Logger) *Server {
	byName := make(map[string]gauge.Fetcher, len(fetchers))
	for _, f := range fetchers {
		byName[f.Name()] = f
	}

	return &Server{
		fetchers: byName,
		apiKeys:  apiKeys,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Server) IsReady() bool {
	return s.logger != nil && len(s.fetchers) > 0
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/healthz", middleware.RequestID(s.handleHealth, s.logger))
	router.GET("/providers", s.wrap(s.handleProviders))
	router.GET("/providers/:provider/gauges", s.wrap(s.handleGauges))
	router.GET("/providers/:provider/gauges/:id/series", s.wrap(s.handleSeries))

	router.NotFound = response.NewNotFoundHandler(s.logger)
	return router
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting API server", "addr", addr, "providers", len(s.fetchers))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) wrap(h httprouter.Handle) httprouter.Handle {
	if s.apiKeys != nil {
		h = middleware.BearerAuth(h, s.apiKeys)
	}
	return middleware.RequestID(h, s.logger)
}

func (s *Server) fetcher(name string) (gauge.Fetcher, error) {
	f, ok := s.fetchers[provider.Key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", provider.ErrUnknownProvider, name)
	}
	return f, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	if !s.IsReady() {
		response.RenderError(w, gauge.ErrProviderNotReady, http.StatusServiceUnavailable)
		return
	}
	response.RenderJSONResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	infos := make([]ProviderInfo, 0, len(s.fetchers))
	for name, f := range s.fetchers {
		infos = append(infos, ProviderInfo{Name: name, Variables: f.Variables(), Ready: f.IsReady()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	response.RenderJSONResponse(w, response.NewCollectionResponse(infos, nil))
}

func (s *Server) handleGauges(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, err := s.fetcher(ps.ByName("provider"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	collection, err := f.GetGaugeIDs(r.Context())
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	pagination := response.NewPaginationFromRequest(r)
	page := response.Page(collection.Gauges, &pagination)
	response.RenderJSONResponse(w, response.NewCollectionResponse(page, &pagination))
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	f, err := s.fetcher(ps.ByName("provider"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	query := r.URL.Query()
	format := query.Get("format")
	if format == "" {
		format = FormatJSON
	}
	if format != FormatJSON && format != FormatCSV {
		s.renderError(w, r, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format))
		return
	}

	variable, err := gauge.ParseVariable(query.Get("variable"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	period, err := s.period(query.Get("start"), query.Get("end"), query.Get("period"))
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	gaugeID := ps.ByName("id")
	series, err := f.GetData(r.Context(), gaugeID, variable, period)
	if err != nil {
		s.renderError(w, r, err)
		return
	}

	if format == FormatJSON {
		response.RenderJSONResponse(w, series)
		return
	}

	filename := fmt.Sprintf("%s_%s_%s.csv", f.Name(), gaugeID, variable)
	err = response.RenderCSV(w, filename, func(w http.ResponseWriter) error {
		return table.WriteSeries(w, series)
	})
	if err != nil {
		s.logger.Error("Failed to write CSV series", "provider", f.Name(), "gaugeID", gaugeID, "error", err)
	}
}

// period prefers explicit dates; an ISO 8601 duration counts back from end
// or today.
func (s *Server) period(start, end, duration string) (gauge.DateRange, error) {
	if start == "" && duration == "" {
		duration = DefaultSeriesPeriod
	}

	if start == "" {
		until := s.now()
		if end != "" {
			t, err := time.Parse(gauge.DateLayout, end)
			if err != nil {
				return gauge.DateRange{}, fmt.Errorf("%w: end date %q is not in YYYY-MM-DD format", gauge.ErrInvalidDateRange, end)
			}
			until = t
		}
		return gauge.NewDateRangeFromISO8601Duration(duration, until)
	}

	return gauge.NewDateRange(start, end)
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		s.logger.Warn("Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	response.RenderError(w, err, status)
}

// StatusCode maps failure kinds to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, gauge.ErrInvalidDateRange),
		errors.Is(err, gauge.ErrUnsupportedVariable),
		errors.Is(err, ErrUnsupportedFormat):
		return http.StatusBadRequest
	case errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, gauge.ErrUnknownGauge),
		errors.Is(err, gauge.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, gauge.ErrNoCatalogue):
		return http.StatusNotImplemented
	case errors.Is(err, gauge.ErrCredentials),
		errors.Is(err, gauge.ErrProviderNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, gauge.ErrNetwork),
		errors.Is(err, gauge.ErrMalformedResponse):
		return http.StatusBadGateway
	}

	return http.StatusInternalServerError
}
