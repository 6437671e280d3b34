// Package provider wires the portal adapters behind a single lookup by name.
package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosimple/slug"

	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/provider/argentina"
	"github.com/timgluz/rivretrieve/provider/australia"
	"github.com/timgluz/rivretrieve/provider/austria"
	"github.com/timgluz/rivretrieve/provider/brazil"
	"github.com/timgluz/rivretrieve/provider/canada"
	"github.com/timgluz/rivretrieve/provider/chile"
	"github.com/timgluz/rivretrieve/provider/czech"
	"github.com/timgluz/rivretrieve/provider/denmark"
	"github.com/timgluz/rivretrieve/provider/estonia"
	"github.com/timgluz/rivretrieve/provider/france"
	"github.com/timgluz/rivretrieve/provider/germanyberlin"
	"github.com/timgluz/rivretrieve/provider/japan"
	"github.com/timgluz/rivretrieve/provider/lithuania"
	"github.com/timgluz/rivretrieve/provider/norway"
	"github.com/timgluz/rivretrieve/provider/pegelonline"
	"github.com/timgluz/rivretrieve/provider/poland"
	"github.com/timgluz/rivretrieve/provider/slovenia"
	"github.com/timgluz/rivretrieve/provider/southafrica"
	"github.com/timgluz/rivretrieve/provider/southkorea"
	"github.com/timgluz/rivretrieve/provider/spain"
	"github.com/timgluz/rivretrieve/provider/sweden"
	"github.com/timgluz/rivretrieve/provider/ukea"
	"github.com/timgluz/rivretrieve/provider/uknrfa"
	"github.com/timgluz/rivretrieve/provider/usa"
	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/transport"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrMissingClient   = errors.New("provider dependencies lack an HTTP client")
	ErrMissingLogger   = errors.New("provider dependencies lack a logger")
)

// Dependencies are the shared components handed to every adapter.
type Dependencies struct {
	Client  *transport.Client
	Secrets secret.Store
	Logger  *slog.Logger

	// SitesDir holds the <provider>_sites.csv catalogues of portals without
	// a live station list.
	SitesDir string
	// DataDir receives bulk downloads such as the HYDAT database.
	DataDir string
	// Endpoints overrides base URLs by provider name. Secondary services
	// are keyed by the provider name and a suffix, e.g. "estonia_wfs".
	Endpoints map[string]string
}

func (d Dependencies) validate() error {
	if d.Client == nil {
		return ErrMissingClient
	}
	if d.Logger == nil {
		return ErrMissingLogger
	}
	return nil
}

func (d Dependencies) endpoint(name string) string {
	return d.Endpoints[name]
}

func (d Dependencies) sitesPath(name string) string {
	if d.SitesDir == "" {
		return ""
	}
	return filepath.Join(d.SitesDir, table.SitesFileName(name))
}

func (d Dependencies) logger(name string) *slog.Logger {
	return d.Logger.With("provider", name)
}

type constructor func(name string, deps Dependencies) gauge.Fetcher

var constructors = map[string]constructor{
	usa.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return usa.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	ukea.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return ukea.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	uknrfa.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return uknrfa.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	brazil.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return brazil.NewFetcher(d.endpoint(name), d.Secrets, d.Client, d.logger(name))
	},
	canada.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return canada.NewFetcher(d.endpoint(name), d.DataDir, d.Client, d.logger(name))
	},
	japan.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return japan.NewFetcher(d.endpoint(name), d.sitesPath(name), d.Client, d.logger(name))
	},
	france.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return france.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	chile.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return chile.NewFetcher(d.endpoint(name), d.sitesPath(name), d.Client, d.logger(name))
	},
	australia.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return australia.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	slovenia.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return slovenia.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	poland.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return poland.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	spain.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return spain.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	czech.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return czech.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	lithuania.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return lithuania.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	norway.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return norway.NewFetcher(d.endpoint(name), d.Secrets, d.Client, d.logger(name))
	},
	southafrica.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return southafrica.NewFetcher(d.endpoint(name), d.sitesPath(name), d.Client, d.logger(name))
	},
	germanyberlin.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return germanyberlin.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	pegelonline.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return pegelonline.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	sweden.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return sweden.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	denmark.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return denmark.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	argentina.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return argentina.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
	austria.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return austria.NewFetcher(d.endpoint(name), d.sitesPath(name), d.Client, d.logger(name))
	},
	estonia.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return estonia.NewFetcher(d.endpoint(name), d.endpoint(name+"_wfs"), d.Client, d.logger(name))
	},
	southkorea.ProviderName: func(name string, d Dependencies) gauge.Fetcher {
		return southkorea.NewFetcher(d.endpoint(name), d.Client, d.logger(name))
	},
}

// Names lists the registered provider names in alphabetical order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

// Key folds user input such as "South Africa" or "uk-ea" into a provider name.
func Key(name string) string {
	return strings.ReplaceAll(slug.Make(name), "-", "_")
}

// New builds the adapter registered under name.
func New(name string, deps Dependencies) (gauge.Fetcher, error) {
	key := Key(name)
	build, ok := constructors[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}

	if err := deps.validate(); err != nil {
		return nil, err
	}
	if deps.Secrets == nil {
		deps.Secrets = secret.NewInMemoryStore()
	}

	return build(key, deps), nil
}
