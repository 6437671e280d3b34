// rivretrieve command lists gauges and downloads normalized river gauge
// series from the national portals.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/timgluz/rivretrieve/config"
	"github.com/timgluz/rivretrieve/gauge"
	"github.com/timgluz/rivretrieve/log"
	"github.com/timgluz/rivretrieve/provider"
	"github.com/timgluz/rivretrieve/table"
	"github.com/timgluz/rivretrieve/task"
	"github.com/timgluz/rivretrieve/transport"
)

const usage = `usage: rivretrieve [-config file] <command> [arguments]

commands:
  providers                               list providers and their variables
  gauges <provider>                       print the gauge catalogue as CSV
  data <provider> <gauge> <variable>      print one series
       [-start YYYY-MM-DD] [-end YYYY-MM-DD] [-period P30D] [-format csv|json]
  download <provider> <variable>          write one CSV per gauge
       [-out dir] [-start] [-end] [-period] [-limit n]
`

var ErrUsage = errors.New("invalid arguments")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, ErrUsage) {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger
	deps   provider.Dependencies
	stdout io.Writer
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("rivretrieve", flag.ContinueOnError)
	global.SetOutput(stderr)
	configPath := global.String("config", "", "YAML configuration file")
	if err := global.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	rest := global.Args()
	if len(rest) == 0 {
		return fmt.Errorf("%w: missing command", ErrUsage)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	a := newApp(cfg, stdout, stderr)

	command, rest := rest[0], rest[1:]
	switch command {
	case "providers":
		return a.providers()
	case "gauges":
		return a.gauges(ctx, rest)
	case "data":
		return a.data(ctx, rest)
	case "download":
		return a.download(ctx, rest)
	}

	return fmt.Errorf("%w: unknown command %q", ErrUsage, command)
}

func newApp(cfg *config.Config, stdout, stderr io.Writer) *app {
	logger := log.New(stderr, cfg.LogLevel, cfg.LogFormat)

	httpClient := &http.Client{Timeout: cfg.HTTP.RequestTimeout}
	client := transport.NewClient(httpClient, logger.With("component", "transport"),
		transport.WithUserAgent(cfg.HTTP.UserAgent),
		transport.WithRetries(cfg.HTTP.Retries, cfg.HTTP.Backoff),
	)

	return &app{
		cfg:    cfg,
		logger: logger,
		stdout: stdout,
		deps: provider.Dependencies{
			Client:    client,
			Secrets:   cfg.SecretStore(),
			Logger:    logger,
			SitesDir:  cfg.SitesDir,
			DataDir:   cfg.DataDir,
			Endpoints: cfg.Endpoints,
		},
	}
}

func (a *app) providers() error {
	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROVIDER\tVARIABLES")
	for _, name := range provider.Names() {
		f, err := provider.New(name, a.deps)
		if err != nil {
			return err
		}

		variables := make([]string, 0, len(f.Variables()))
		for _, v := range f.Variables() {
			variables = append(variables, v.String())
		}
		fmt.Fprintf(w, "%s\t%s\n", name, strings.Join(variables, ", "))
	}

	return w.Flush()
}

func (a *app) gauges(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: gauges expects a provider", ErrUsage)
	}

	f, err := provider.New(args[0], a.deps)
	if err != nil {
		return err
	}

	collection, err := f.GetGaugeIDs(ctx)
	if err != nil {
		return err
	}

	return table.WriteGauges(a.stdout, collection)
}

type periodFlags struct {
	start  *string
	end    *string
	period *string
}

func addPeriodFlags(fs *flag.FlagSet) periodFlags {
	return periodFlags{
		start:  fs.String("start", "", "first day, YYYY-MM-DD"),
		end:    fs.String("end", "", "last day, YYYY-MM-DD (default today)"),
		period: fs.String("period", "", "ISO 8601 duration counted back from -end, e.g. P30D"),
	}
}

func (p periodFlags) dateRange() (gauge.DateRange, error) {
	if *p.period == "" {
		return gauge.NewDateRange(*p.start, *p.end)
	}
	if *p.start != "" {
		return gauge.DateRange{}, fmt.Errorf("%w: -start and -period are exclusive", ErrUsage)
	}

	until := time.Now()
	if *p.end != "" {
		t, err := time.Parse(gauge.DateLayout, *p.end)
		if err != nil {
			return gauge.DateRange{}, fmt.Errorf("%w: end date %q is not in YYYY-MM-DD format", gauge.ErrInvalidDateRange, *p.end)
		}
		until = t
	}

	return gauge.NewDateRangeFromISO8601Duration(*p.period, until)
}

// parseInterspersed parses flags that may follow positional arguments.
func parseInterspersed(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUsage, err)
		}
		args = fs.Args()
		if len(args) == 0 {
			return positional, nil
		}
		positional = append(positional, args[0])
		args = args[1:]
	}
}

func (a *app) data(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("data", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	period := addPeriodFlags(fs)
	format := fs.String("format", "csv", "output format, csv or json")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 3 {
		return fmt.Errorf("%w: data expects a provider, a gauge and a variable", ErrUsage)
	}

	variable, err := gauge.ParseVariable(positional[2])
	if err != nil {
		return err
	}

	dateRange, err := period.dateRange()
	if err != nil {
		return err
	}

	f, err := provider.New(positional[0], a.deps)
	if err != nil {
		return err
	}

	series, err := f.GetData(ctx, positional[1], variable, dateRange)
	if err != nil {
		return err
	}

	switch *format {
	case "csv":
		return table.WriteSeries(a.stdout, series)
	case "json":
		encoder := json.NewEncoder(a.stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(series)
	}

	return fmt.Errorf("%w: unsupported format %q", ErrUsage, *format)
}

func (a *app) download(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	period := addPeriodFlags(fs)
	out := fs.String("out", "downloads", "output directory")
	limit := fs.Int("limit", 0, "maximum number of gauges, 0 for all")

	positional, err := parseInterspersed(fs, args)
	if err != nil {
		return err
	}
	if len(positional) != 2 {
		return fmt.Errorf("%w: download expects a provider and a variable", ErrUsage)
	}

	variable, err := gauge.ParseVariable(positional[1])
	if err != nil {
		return err
	}

	if *period.start == "" && *period.period == "" {
		*period.period = task.DefaultPeriod
	}
	dateRange, err := period.dateRange()
	if err != nil {
		return err
	}

	f, err := provider.New(positional[0], a.deps)
	if err != nil {
		return err
	}

	collector := task.NewSeriesCollector(f, a.logger.With("component", "download"))
	report, err := collector.Run(ctx, task.SeriesCollectorOptions{
		Variable:  variable,
		Period:    dateRange,
		OutputDir: *out,
		Limit:     *limit,
	})
	if report != nil {
		fmt.Fprintf(a.stdout, "%s %s: %d saved, %d skipped, %d without data, %d unsupported, %d failed\n",
			report.Provider, report.Variable,
			report.Count(task.StatusSuccess),
			report.Count(task.StatusSkipped),
			report.Count(task.StatusNoData),
			report.Count(task.StatusUnsupported),
			report.Count(task.StatusFailed),
		)
	}

	return err
}
