// Package brazil retrieves conventional station series from the ANA
// HidroWebService. Every request needs an OAuth token obtained with the
// ANA_USERNAME and ANA_PASSWORD credentials.
package brazil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/normalize"
	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	ProviderName   = "brazil"
	DefaultBaseURL = "https://www.ana.gov.br/hidrowebservice/EstacoesTelemetricas"

	fluviometric = "fluviometrica"
)

// DefaultStates are the federative units queried for the inventory.
var DefaultStates = []string{
	"AC", "AL", "AP", "AM", "BA", "CE", "DF", "ES", "GO", "MA", "MT", "MS", "MG", "PA",
	"PB", "PR", "PE", "PI", "RJ", "RN", "RS", "RO", "RR", "SC", "SP", "SE", "TO",
}

type series struct {
	path       string
	prefix     string
	conversion normalize.Conversion
}

var seriesByVariable = map[gauge.Variable]series{
	gauge.DischargeDailyMean: {path: "/HidroSerieVazao/v1", prefix: "Vazao_", conversion: normalize.Identity},
	gauge.StageDailyMean:     {path: "/HidroSerieCotas/v1", prefix: "Cota_", conversion: normalize.CentimetersToMeters},
}

type Fetcher struct {
	baseURL string
	states  []string
	secrets secret.Store
	client  *transport.Client
	logger  *slog.Logger

	mu    sync.Mutex
	token string
}

func NewFetcher(baseURL string, secrets secret.Store, client *transport.Client, logger *slog.Logger) *Fetcher {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Fetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		states:  DefaultStates,
		secrets: secrets,
		client:  client,
		logger:  logger,
	}
}

func (f *Fetcher) WithStates(states ...string) *Fetcher {
	f.states = states
	return f
}

func (f *Fetcher) Name() string {
	return ProviderName
}

func (f *Fetcher) Variables() []gauge.Variable {
	return []gauge.Variable{gauge.DischargeDailyMean, gauge.StageDailyMean}
}

func (f *Fetcher) IsReady() bool {
	return f.logger != nil && f.secrets != nil && f.client.IsReady()
}

type tokenResponse struct {
	Items struct {
		Token string `json:"tokenautenticacao"`
	} `json:"items"`
}

// authenticate exchanges the configured credentials for a bearer token. The
// token is kept for the lifetime of the fetcher.
func (f *Fetcher) authenticate(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" {
		return f.token, nil
	}

	username, userErr := f.secrets.Get(secret.ANAUsername)
	password, passErr := f.secrets.Get(secret.ANAPassword)
	if userErr != nil || passErr != nil {
		return "", fmt.Errorf("%w: %s and %s are required for %s", gauge.ErrCredentials, secret.ANAUsername, secret.ANAPassword, ProviderName)
	}

	header := http.Header{
		"Identificador": {username},
		"Senha":         {password},
	}

	var resp tokenResponse
	if err := f.client.GetJSON(ctx, f.baseURL+"/OAUth/v1", nil, header, &resp); err != nil {
		return "", fmt.Errorf("failed to authenticate with ANA: %w", err)
	}

	if resp.Items.Token == "" {
		return "", fmt.Errorf("%w: ANA did not issue a token", gauge.ErrCredentials)
	}

	f.token = resp.Items.Token
	f.logger.Info("Authenticated with ANA HidroWebService")
	return f.token, nil
}

func (f *Fetcher) authorizedGet(ctx context.Context, path string, query url.Values) ([]json.RawMessage, error) {
	token, err := f.authenticate(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{
		"Authorization": {"Bearer " + token},
		"Accept":        {"application/json"},
	}

	content, err := f.client.Get(ctx, f.baseURL+path, query, header)
	if err != nil {
		return nil, err
	}

	return decodeItems(content)
}

// decodeItems accepts both the documented envelope {"items": [...]} and a
// bare array.
func decodeItems(content []byte) ([]json.RawMessage, error) {
	content = bytes.TrimSpace(content)

	var items []json.RawMessage
	if len(content) > 0 && content[0] == '[' {
		if err := json.Unmarshal(content, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
		}
		return items, nil
	}

	var envelope struct {
		Items   []json.RawMessage `json:"items"`
		Message string            `json:"message"`
	}
	if err := json.Unmarshal(content, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", gauge.ErrMalformedResponse, err)
	}

	return envelope.Items, nil
}

type inventoryItem struct {
	Code      normalize.FlexString `json:"codigoestacao"`
	Name      normalize.FlexString `json:"Estacao_Nome"`
	River     normalize.FlexString `json:"Rio_Nome"`
	Type      normalize.FlexString `json:"Tipo_Estacao"`
	Latitude  normalize.FlexFloat  `json:"Latitude"`
	Longitude normalize.FlexFloat  `json:"Longitude"`
	Altitude  normalize.FlexFloat  `json:"Altitude"`
	Area      normalize.FlexFloat  `json:"Area_Drenagem"`
}

// GetGaugeIDs lists the fluviometric stations of every configured state.
func (f *Fetcher) GetGaugeIDs(ctx context.Context) (*gauge.GaugeCollection, error) {
	if !f.IsReady() {
		return nil, gauge.ErrProviderNotReady
	}

	collection := gauge.NewGaugeCollection(ProviderName)
	for _, state := range f.states {
		items, err := f.authorizedGet(ctx, "/HidroInventarioEstacoes/v1", url.Values{"Unidade Federativa": {state}})
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Warn("No stations listed for state", "state", state)
				continue
			}
			return nil, fmt.Errorf("failed to fetch ANA inventory of %s: %w", state, err)
		}

		for _, raw := range items {
			var item inventoryItem
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("%w: inventory item: %v", gauge.ErrMalformedResponse, err)
			}

			if !strings.HasPrefix(strings.ToLower(item.Type.String()), fluviometric) {
				continue
			}
			if item.Code == "" || !item.Latitude.Valid || !item.Longitude.Valid || !gauge.ValidLocation(item.Latitude.Value, item.Longitude.Value) {
				continue
			}

			collection.Add(gauge.Gauge{
				ID:        item.Code.String(),
				Name:      item.Name.String(),
				River:     item.River.String(),
				Latitude:  item.Latitude.Value,
				Longitude: item.Longitude.Value,
				Altitude:  item.Altitude.Ptr(),
				Area:      item.Area.Ptr(),
				Country:   "BR",
				Provider:  ProviderName,
			})
		}
	}

	f.logger.Info("Fetched ANA stations", "count", collection.Len())
	return collection, nil
}

func (f *Fetcher) GetData(ctx context.Context, gaugeID string, variable gauge.Variable, period gauge.DateRange) (*gauge.Series, error) {
	if err := gauge.CheckRequest(f, gaugeID, variable, period); err != nil {
		return nil, err
	}

	s := seriesByVariable[variable]
	months := map[time.Time]monthRecord{}

	// the service accepts at most one year per request
	for _, chunk := range period.Chunks(1) {
		query := url.Values{
			"Código da Estação":         {gaugeID},
			"Tipo Filtro Data":          {"DATA_LEITURA"},
			"Data Inicial (yyyy-MM-dd)": {chunk.Start.Format(gauge.DateLayout)},
			"Data Final (yyyy-MM-dd)":   {chunk.End.Format(gauge.DateLayout)},
		}

		items, err := f.authorizedGet(ctx, s.path, query)
		if err != nil {
			if errors.Is(err, transport.ErrResourceNotFound) || errors.Is(err, transport.ErrNoContent) {
				f.logger.Warn("No ANA series for chunk", "gauge", gaugeID, "period", chunk.String())
				continue
			}
			if transport.StatusCode(err) == http.StatusBadRequest {
				return nil, fmt.Errorf("%w: %s (%v)", gauge.ErrUnknownGauge, gaugeID, err)
			}
			return nil, fmt.Errorf("failed to fetch ANA series of %s: %w", gaugeID, err)
		}

		for _, raw := range items {
			record, err := parseMonthRecord(raw, s.prefix)
			if err != nil {
				return nil, err
			}

			// consisted data (level 2) replaces raw readings of the same month
			if existing, ok := months[record.month]; ok && existing.consistency > record.consistency {
				continue
			}
			months[record.month] = record
		}
	}

	builder := normalize.NewBuilder(ProviderName, gaugeID, variable, s.conversion)
	for month, record := range months {
		for day := 1; day <= 31; day++ {
			t, ok := normalize.DayOfMonth(month.Year(), month.Month(), day)
			if !ok {
				break
			}
			if value, ok := record.values[day]; ok {
				builder.AddString(t, value)
			}
		}
	}

	return builder.Build(period)
}

type monthRecord struct {
	month       time.Time
	consistency int
	values      map[int]string
}

func parseMonthRecord(raw json.RawMessage, prefix string) (monthRecord, error) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return monthRecord{}, fmt.Errorf("%w: series item: %v", gauge.ErrMalformedResponse, err)
	}

	stamp, _ := fields["Data_Hora_Dado"].(string)
	t, err := normalize.ParseTime(stamp)
	if err != nil {
		return monthRecord{}, fmt.Errorf("%w: Data_Hora_Dado: %v", gauge.ErrMalformedResponse, err)
	}

	record := monthRecord{
		month:  time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC),
		values: make(map[int]string, 31),
	}

	if level, ok := fields["Nivel_Consistencia"]; ok {
		if v, ok := normalize.ParseFloat(fmt.Sprint(level)); ok {
			record.consistency = int(v)
		}
	}

	for day := 1; day <= 31; day++ {
		switch v := fields[fmt.Sprintf("%s%02d", prefix, day)].(type) {
		case string:
			record.values[day] = v
		case float64:
			record.values[day] = fmt.Sprint(v)
		}
	}

	return record, nil
}
