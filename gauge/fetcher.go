package gauge

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Fetcher is the capability every provider adapter implements.
type Fetcher interface {
	// Name is the registry key of the provider, e.g. "usa".
	Name() string
	// Variables lists the variables the provider can deliver.
	Variables() []Variable
	// GetGaugeIDs returns the provider's gauge catalogue.
	GetGaugeIDs(ctx context.Context) (*GaugeCollection, error)
	// GetData returns the normalized series for one gauge and variable.
	GetData(ctx context.Context, gaugeID string, variable Variable, period DateRange) (*Series, error)

	IsReady() bool
}

// CheckRequest rejects requests that no provider could serve before any
// network traffic happens.
func CheckRequest(f Fetcher, gaugeID string, variable Variable, period DateRange) error {
	if strings.TrimSpace(gaugeID) == "" {
		return fmt.Errorf("%w: empty gauge id", ErrUnknownGauge)
	}

	if !Supports(f.Variables(), variable) {
		return fmt.Errorf("%w: %s does not provide %q", ErrUnsupportedVariable, f.Name(), variable)
	}

	if err := period.Validate(); err != nil {
		return err
	}

	if !f.IsReady() {
		return fmt.Errorf("%w: %s", ErrProviderNotReady, f.Name())
	}

	return nil
}

// ExplainNoData checks the catalogue of f when err is ErrNoData and reports
// ErrUnknownGauge for ids the catalogue does not list. Portals that answer
// unknown ids with an empty result are told apart this way.
func ExplainNoData(ctx context.Context, f Fetcher, gaugeID string, err error) error {
	if !errors.Is(err, ErrNoData) {
		return err
	}

	collection, cerr := f.GetGaugeIDs(ctx)
	if cerr != nil || collection.Has(gaugeID) {
		return err
	}

	return fmt.Errorf("%w: %s does not list %s: %w", ErrUnknownGauge, f.Name(), gaugeID, err)
}
