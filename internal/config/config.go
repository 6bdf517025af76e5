// Package config loads the client configuration from a YAML file, applies
// defaults and environment overrides, and watches the file for changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hammamikhairi/avsclient/internal/domain"
)

// Environment variables read on top of the file.
const (
	EnvAccessToken = "AVS_ACCESS_TOKEN"
	EnvServiceURL  = "AVS_URL"
)

// Config is the full client configuration.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Locale    string          `yaml:"locale"`
	Transport TransportConfig `yaml:"transport"`
	WakeWord  WakeWordConfig  `yaml:"wake_word"`
	Activity  ActivityConfig  `yaml:"activity"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Log       LogConfig       `yaml:"log"`

	AccessToken string `yaml:"-"` // from AVS_ACCESS_TOKEN only
	Path        string `yaml:"-"`
}

// DeviceConfig identifies the device and its initial speaker state.
type DeviceConfig struct {
	ProductID string `yaml:"product_id"`
	Serial    string `yaml:"serial"`
	Volume    int64  `yaml:"volume"`

	// CacheDir holds fetched media streams. Empty keeps them in memory.
	CacheDir string `yaml:"cache_dir"`
}

// TransportConfig locates the service.
type TransportConfig struct {
	URL             string        `yaml:"url"`
	ConnectAttempts int           `yaml:"connect_attempts"`
	ConnectDelay    time.Duration `yaml:"connect_delay"`
}

// WakeWordConfig locates the wake-word engine and sets how long the
// client waits for it to release the microphone.
type WakeWordConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReleaseTries int           `yaml:"release_tries"`
	ReleaseDelay time.Duration `yaml:"release_delay"`
}

// Addr is host:port of the engine.
func (w WakeWordConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// ActivityConfig controls inactivity reporting.
type ActivityConfig struct {
	ReportPeriod time.Duration `yaml:"report_period"`
}

// AlertsConfig controls alert persistence. An empty file keeps alerts in
// memory only.
type AlertsConfig struct {
	File string `yaml:"file"`
}

// LogConfig controls logging.
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
	OTel  bool   `yaml:"otel"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ProductID: "avsclient",
			Serial:    "0001",
			Volume:    50,
			CacheDir:  ".avs/cache",
		},
		Locale: "en-US",
		Transport: TransportConfig{
			URL:             "ws://localhost:8443/v1/avs",
			ConnectAttempts: 5,
			ConnectDelay:    2 * time.Second,
		},
		WakeWord: WakeWordConfig{
			Host:         "localhost",
			Port:         5123,
			ReleaseTries: 5,
			ReleaseDelay: time.Second,
		},
		Activity: ActivityConfig{ReportPeriod: time.Hour},
		Alerts:   AlertsConfig{File: ".avs/alerts.yaml"},
		Log: LogConfig{
			Level: "normal",
			File:  ".avs/avsclient.log",
		},
	}
}

// Load reads path over the defaults. An empty path uses the defaults
// alone. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		cfg.Path = path
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills values a file explicitly zeroed.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Locale == "" {
		c.Locale = d.Locale
	}
	if c.Transport.URL == "" {
		c.Transport.URL = d.Transport.URL
	}
	if c.Transport.ConnectAttempts <= 0 {
		c.Transport.ConnectAttempts = 1
	}
	if c.WakeWord.Host == "" {
		c.WakeWord.Host = d.WakeWord.Host
	}
	if c.WakeWord.Port == 0 {
		c.WakeWord.Port = d.WakeWord.Port
	}
	if c.WakeWord.ReleaseTries <= 0 {
		c.WakeWord.ReleaseTries = d.WakeWord.ReleaseTries
	}
	if c.WakeWord.ReleaseDelay <= 0 {
		c.WakeWord.ReleaseDelay = d.WakeWord.ReleaseDelay
	}
	if c.Activity.ReportPeriod <= 0 {
		c.Activity.ReportPeriod = d.Activity.ReportPeriod
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvAccessToken); v != "" {
		c.AccessToken = v
	}
	if v := os.Getenv(EnvServiceURL); v != "" {
		c.Transport.URL = v
	}
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	var errs []error
	if !domain.IsSupportedLocale(c.Locale) {
		errs = append(errs, fmt.Errorf("locale %q: %w", c.Locale, domain.ErrUnsupportedLocale))
	}
	if c.Device.Volume < 0 || c.Device.Volume > 100 {
		errs = append(errs, fmt.Errorf("device volume %d out of range 0-100", c.Device.Volume))
	}
	if c.WakeWord.Port < 0 || c.WakeWord.Port > 65535 {
		errs = append(errs, fmt.Errorf("wake word port %d out of range", c.WakeWord.Port))
	}
	return errors.Join(errs...)
}
