package gauge

import "errors"

// Failure kinds shared by every fetcher. Adapters wrap them with provider
// context, callers match them with errors.Is.
var (
	ErrNetwork             = errors.New("network request failed")
	ErrCredentials         = errors.New("credentials missing or rejected")
	ErrUnknownGauge        = errors.New("unknown gauge")
	ErrUnsupportedVariable = errors.New("unsupported variable")
	ErrNoData              = errors.New("no data in requested range")
	ErrMalformedResponse   = errors.New("malformed response")
	ErrInvalidDateRange    = errors.New("invalid date range")
	ErrNoCatalogue         = errors.New("gauge catalogue not available")
	ErrProviderNotReady    = errors.New("provider is not ready")
)
