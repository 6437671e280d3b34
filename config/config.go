package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/timgluz/rivretrieve/secret"
	"github.com/timgluz/rivretrieve/transport"
)

const (
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultAddr       = ":8080"
	DefaultSitesDir   = "sites"
	DefaultDataDir    = "data"
	ConfigPathEnvName = "RIVRETRIEVE_CONFIG"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HTTP HTTPConfig `yaml:"http"`

	// SitesDir holds cached <provider>_sites.csv catalogues.
	SitesDir string `yaml:"sites_dir"`
	// DataDir receives downloaded bulk datasets such as HYDAT.
	DataDir string `yaml:"data_dir"`

	// Endpoints overrides provider base URLs by provider name.
	Endpoints map[string]string `yaml:"endpoints"`
	// Credentials are copied into the secret store, e.g. NVE_API_KEY.
	Credentials map[string]string `yaml:"credentials"`

	Server ServerConfig `yaml:"server"`
}

type HTTPConfig struct {
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Retries        int           `yaml:"retries"`
	Backoff        time.Duration `yaml:"backoff"`
}

type ServerConfig struct {
	Addr    string   `yaml:"addr"`
	APIKeys []string `yaml:"api_keys"`
}

func NewConfig() *Config {
	return &Config{
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		HTTP: HTTPConfig{
			UserAgent:      transport.DefaultUserAgent,
			RequestTimeout: transport.DefaultTimeout,
			Retries:        transport.DefaultRetries,
			Backoff:        transport.DefaultBackoff,
		},
		SitesDir:    DefaultSitesDir,
		DataDir:     DefaultDataDir,
		Endpoints:   map[string]string{},
		Credentials: map[string]string{},
		Server: ServerConfig{
			Addr: DefaultAddr,
		},
	}
}

// Load reads an optional .env file, then the YAML file at path (or the one
// named by RIVRETRIEVE_CONFIG), then applies environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := NewConfig()

	if path == "" {
		path = os.Getenv(ConfigPathEnvName)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := cfg.parseYAML(data); err != nil {
			return nil, err
		}
	}

	if err := cfg.loadEnvVars(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) parseYAML(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
	}

	if c.Endpoints == nil {
		c.Endpoints = map[string]string{}
	}
	if c.Credentials == nil {
		c.Credentials = map[string]string{}
	}

	return nil
}

func (c *Config) loadEnvVars() error {
	if level := os.Getenv("RIVRETRIEVE_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if format := os.Getenv("RIVRETRIEVE_LOG_FORMAT"); format != "" {
		c.LogFormat = format
	}
	if userAgent := os.Getenv("RIVRETRIEVE_USER_AGENT"); userAgent != "" {
		c.HTTP.UserAgent = userAgent
	}

	if timeoutStr := os.Getenv("RIVRETRIEVE_REQUEST_TIMEOUT"); timeoutStr != "" {
		timeout, err := time.ParseDuration(timeoutStr)
		if err != nil {
			return fmt.Errorf("%w: RIVRETRIEVE_REQUEST_TIMEOUT %q: %v", ErrInvalidConfig, timeoutStr, err)
		}
		c.HTTP.RequestTimeout = timeout
	}

	if retriesStr := os.Getenv("RIVRETRIEVE_RETRIES"); retriesStr != "" {
		retries, err := strconv.Atoi(retriesStr)
		if err != nil {
			return fmt.Errorf("%w: RIVRETRIEVE_RETRIES %q: %v", ErrInvalidConfig, retriesStr, err)
		}
		c.HTTP.Retries = retries
	}

	if sitesDir := os.Getenv("RIVRETRIEVE_SITES_DIR"); sitesDir != "" {
		c.SitesDir = sitesDir
	}
	if dataDir := os.Getenv("RIVRETRIEVE_DATA_DIR"); dataDir != "" {
		c.DataDir = dataDir
	}
	if addr := os.Getenv("RIVRETRIEVE_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if keys := os.Getenv("RIVRETRIEVE_API_KEYS"); keys != "" {
		c.Server.APIKeys = splitList(keys)
	}

	for _, key := range []string{secret.ANAUsername, secret.ANAPassword, secret.NVEAPIKey} {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			c.Credentials[key] = value
		}
	}

	return nil
}

func (c *Config) Validate() error {
	if c.HTTP.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request timeout must be positive", ErrInvalidConfig)
	}
	if c.HTTP.Retries < 0 {
		return fmt.Errorf("%w: retries cannot be negative", ErrInvalidConfig)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server address is empty", ErrInvalidConfig)
	}

	return nil
}

// SecretStore returns a store holding the configured credentials.
func (c *Config) SecretStore() *secret.InMemoryStore {
	store := secret.NewInMemoryStore()
	for key, value := range c.Credentials {
		_ = store.Set(key, value)
	}

	return store
}

// APIKeyStore returns a store whose keys are the accepted bearer tokens.
func (c *Config) APIKeyStore() *secret.InMemoryStore {
	store := secret.NewInMemoryStore()
	for _, key := range c.Server.APIKeys {
		_ = store.Set(key, "api")
	}

	return store
}

func splitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}
