package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alitho/shipview/internal/erp"
)

type Config struct {
	Server   ServerConfig
	ERP      ERPConfig
	Pipeline PipelineConfig
	Cache    CacheConfig
	Storage  StorageConfig
	Log      LogConfig
	Recheck  RecheckConfig
}

type ServerConfig struct {
	Port       int
	MCPEnabled bool
}

// ERPConfig locates the upstream ERP. Username and Password are secrets and
// may stay empty; the client reports missing credentials on first use.
type ERPConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  string
}

type PipelineConfig struct {
	BatchSize        int
	FindLimit        int
	DisplayTimezone  string
	ShippedPrefilter bool
}

type CacheConfig struct {
	TTL        string
	MaxEntries int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type RecheckConfig struct {
	Interval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       4100,
			MCPEnabled: true,
		},
		ERP: ERPConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: "0s",
		},
		Pipeline: PipelineConfig{
			BatchSize:        50,
			FindLimit:        5000,
			DisplayTimezone:  "America/Chicago",
			ShippedPrefilter: true,
		},
		Cache: CacheConfig{
			TTL:        "5m",
			MaxEntries: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Recheck: RecheckConfig{
			Interval: "1m",
		},
	}
}

// Load reads configuration from the platform-native backend, environment
// variables, and platform secret store.
//
// On macOS the backend is UserDefaults (domain: com.shipview.app) and
// secrets fall back to macOS Keychain.
// On Linux the backend is a JSON file at $XDG_CONFIG_HOME/shipview/config.json
// and secrets fall back to $XDG_DATA_HOME/shipview/secrets.json.
//
// Environment variables (SHIPVIEW_*) override backend values on all platforms.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), NewKeychain())
}

// keychain abstracts secret store reads for testing.
type keychain interface {
	Get(service, account string) (string, error)
}

// Keychain service and accounts for secrets.
const (
	keychainService    = appName
	accountERPUsername = "erp_username"
	accountERPPassword = "erp_password"
)

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.ERP.Username == "" {
		if v, err := kc.Get(keychainService, accountERPUsername); err == nil {
			cfg.ERP.Username = v
		}
	}
	if cfg.ERP.Password == "" {
		if v, err := kc.Get(keychainService, accountERPPassword); err == nil {
			cfg.ERP.Password = v
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and that every duration and the time zone parse.
// Missing ERP credentials are not an error here.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if strings.TrimSpace(c.ERP.BaseURL) == "" {
		errs = append(errs, errors.New("erp.base_url is required"))
	}
	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("pipeline.batch_size %d must be between 1 and 100", c.Pipeline.BatchSize))
	}
	if c.Pipeline.FindLimit < 1 {
		errs = append(errs, fmt.Errorf("pipeline.find_limit %d must be positive", c.Pipeline.FindLimit))
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, fmt.Errorf("cache.max_entries %d must be positive", c.Cache.MaxEntries))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	for key, raw := range map[string]string{
		"erp.timeout":      c.ERP.Timeout,
		"cache.ttl":        c.Cache.TTL,
		"recheck.interval": c.Recheck.Interval,
	} {
		if _, err := parseDuration(key, raw); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Location loads the display time zone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Pipeline.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("pipeline.display_timezone %q: %w", c.Pipeline.DisplayTimezone, err)
	}
	return loc, nil
}

// ERPTimeout is the per-request ERP timeout; zero means none.
func (c Config) ERPTimeout() time.Duration {
	d, _ := parseDuration("erp.timeout", c.ERP.Timeout)
	return d
}

func (c Config) CacheTTL() time.Duration {
	d, _ := parseDuration("cache.ttl", c.Cache.TTL)
	return d
}

func (c Config) RecheckInterval() time.Duration {
	d, _ := parseDuration("recheck.interval", c.Recheck.Interval)
	return d
}

func parseDuration(key, raw string) (time.Duration, error) {
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %s", key, raw)
	}
	return d, nil
}

// ERPCredentials returns a loader for the ERP client. It reports
// erp.ErrCredentialsMissing when either value is unset.
func (c Config) ERPCredentials() func(context.Context) (erp.Credentials, error) {
	user, pass := c.ERP.Username, c.ERP.Password
	return func(context.Context) (erp.Credentials, error) {
		if user == "" || pass == "" {
			return erp.Credentials{}, fmt.Errorf("%w: set SHIPVIEW_ERP_USERNAME and SHIPVIEW_ERP_PASSWORD%s", erp.ErrCredentialsMissing, secretHint())
		}
		return erp.Credentials{Username: user, Password: pass}, nil
	}
}
