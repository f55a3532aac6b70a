// config.go: Configuration for the New Relic writer
//
// Copyright (c) 2025 AGILira
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package newrelicwriter

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agilira/iris"
	"github.com/klauspost/compress/gzip"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultIngestionURL is the US region Logs API endpoint.
	DefaultIngestionURL = "https://log-api.newrelic.com/log/v1"

	// EUIngestionURL is the EU region Logs API endpoint.
	EUIngestionURL = "https://log-api.eu.newrelic.com/log/v1"

	DefaultBatchSize        = 512
	DefaultTimeout          = 40 * time.Second
	DefaultInterval         = 60 * time.Second
	DefaultCompressionLevel = gzip.DefaultCompression
)

var (
	// DefaultThreshold flushes immediately on errors and above.
	DefaultThreshold = iris.Error

	// DefaultExcludePrefixes are the property prefixes dropped when
	// ExcludeHostProperties is set.
	DefaultExcludePrefixes = []string{"iris"}
)

// Config holds the configuration for the New Relic writer.
//
// The writer stays inert, accepting and sending nothing, until IngestionURL,
// Application and at least one of LicenseKey or InsertKey are set. This is
// re-checked on every write and flush, so a config pushed with UpdateConfig
// can switch shipping on or off at runtime.
type Config struct {
	// IngestionURL is the Logs API endpoint (see DefaultIngestionURL)
	IngestionURL string

	// LicenseKey takes precedence over InsertKey when both are set
	LicenseKey string

	// InsertKey is the legacy Insights insert key
	InsertKey string

	// Application is reported as the "application" common attribute
	Application string

	// Hostname is reported as the "hostname" common attribute
	// (default: os.Hostname())
	Hostname string

	// LoggerName is the "logger" attribute for records written through
	// WriteRecord
	LoggerName string

	// ExcludeHostProperties drops properties whose key starts with one of
	// ExcludePrefixes (default: DefaultExcludePrefixes)
	ExcludeHostProperties bool
	ExcludePrefixes       []string

	// Threshold is the level at or above which the buffer flushes
	// immediately (nil: DefaultThreshold)
	Threshold *iris.Level

	// Interval flushes the buffer on the first event after it elapses.
	// nil uses DefaultInterval; zero disables time based flushing.
	Interval *time.Duration

	// BatchSize is the buffer capacity; a full buffer is always flushed
	BatchSize int

	// Timeout bounds a single delivery attempt
	Timeout time.Duration

	// HTTPClient overrides the outbound client
	HTTPClient *http.Client

	// MetadataProvider supplies linking metadata at append time
	MetadataProvider MetadataProvider

	// Diagnostics receives self-log output (default: slog to stderr)
	Diagnostics DiagnosticSink

	// OnError is an optional callback for handling errors
	OnError func(error)

	// Metrics is optional Prometheus instrumentation
	Metrics *Metrics

	// Clock overrides the time source (default: go-timecache)
	Clock func() time.Time
}

// Ptr returns a pointer to v, for the optional Config fields.
func Ptr[T any](v T) *T { return &v }

func (c Config) withDefaults() Config {
	if c.Hostname == "" {
		if h, err := os.Hostname(); err == nil {
			c.Hostname = h
		}
	}
	if c.ExcludePrefixes == nil {
		c.ExcludePrefixes = DefaultExcludePrefixes
	}
	if c.Threshold == nil {
		c.Threshold = Ptr(DefaultThreshold)
	}
	if c.Interval == nil {
		c.Interval = Ptr(DefaultInterval)
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

func (c Config) validate() error {
	if !validLevel(*c.Threshold) {
		return fmt.Errorf("%w: threshold %d: %w", ErrInvalidConfig, *c.Threshold, ErrInvalidLevel)
	}
	if *c.Interval < 0 {
		return fmt.Errorf("%w: negative interval %s", ErrInvalidConfig, *c.Interval)
	}
	if strings.TrimSpace(c.IngestionURL) != "" {
		u, err := url.Parse(c.IngestionURL)
		if err != nil {
			return fmt.Errorf("%w: ingestion url: %w", ErrInvalidConfig, err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("%w: ingestion url scheme %q", ErrInvalidConfig, u.Scheme)
		}
	}
	return nil
}

// Disabled reports whether the configuration is too incomplete to ship logs.
// This is the expected state during local development, not an error.
func (c Config) Disabled() bool {
	hasCredential := credentialSet(c.LicenseKey) || credentialSet(c.InsertKey)
	return !hasCredential ||
		strings.TrimSpace(c.IngestionURL) == "" ||
		strings.TrimSpace(c.Application) == ""
}

func (c Config) target() Target {
	return Target{URL: c.IngestionURL, LicenseKey: c.LicenseKey, InsertKey: c.InsertKey}
}

// credentialSet treats blank keys and unsubstituted "#{...}" deployment
// placeholders as unset.
func credentialSet(key string) bool {
	key = strings.TrimSpace(key)
	return key != "" && !strings.HasPrefix(key, "#{")
}

// fileConfig is the YAML shape accepted by ParseConfig.
type fileConfig struct {
	IngestionURL          string   `yaml:"ingestion_url"`
	LicenseKey            string   `yaml:"license_key"`
	InsertKey             string   `yaml:"insert_key"`
	Application           string   `yaml:"application"`
	Hostname              string   `yaml:"hostname"`
	LoggerName            string   `yaml:"logger_name"`
	ExcludeHostProperties bool     `yaml:"exclude_host_properties"`
	ExcludePrefixes       []string `yaml:"exclude_prefixes"`
	Threshold             string   `yaml:"threshold"`
	Interval              *int     `yaml:"interval"`
	BatchSize             int      `yaml:"batch_size"`
	Timeout               string   `yaml:"timeout"`
}

// ParseConfig decodes a YAML document into a Config. ${VAR} references are
// expanded from the environment first. The interval is given in seconds.
func ParseConfig(data []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &fc); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	cfg := Config{
		IngestionURL:          fc.IngestionURL,
		LicenseKey:            fc.LicenseKey,
		InsertKey:             fc.InsertKey,
		Application:           fc.Application,
		Hostname:              fc.Hostname,
		LoggerName:            fc.LoggerName,
		ExcludeHostProperties: fc.ExcludeHostProperties,
		ExcludePrefixes:       fc.ExcludePrefixes,
		BatchSize:             fc.BatchSize,
	}

	if fc.Threshold != "" {
		level, err := ParseLevel(fc.Threshold)
		if err != nil {
			return Config{}, fmt.Errorf("%w: threshold: %w", ErrInvalidConfig, err)
		}
		cfg.Threshold = &level
	}
	if fc.Interval != nil {
		if *fc.Interval < 0 {
			return Config{}, fmt.Errorf("%w: negative interval %d", ErrInvalidConfig, *fc.Interval)
		}
		cfg.Interval = Ptr(time.Duration(*fc.Interval) * time.Second)
	}
	if fc.Timeout != "" {
		d, err := time.ParseDuration(fc.Timeout)
		if err != nil {
			return Config{}, fmt.Errorf("%w: timeout: %w", ErrInvalidConfig, err)
		}
		cfg.Timeout = d
	}
	return cfg, nil
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	return ParseConfig(data)
}

// ParseLevel maps a level name such as "error" or "WARN" to an iris.Level.
func ParseLevel(name string) (iris.Level, error) {
	name = strings.TrimSpace(name)
	if strings.EqualFold(name, "warning") {
		return iris.Warn, nil
	}
	for l := iris.Debug; l <= iris.Fatal; l++ {
		if strings.EqualFold(l.String(), name) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidLevel, name)
}
