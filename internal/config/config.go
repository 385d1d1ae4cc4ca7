// Package config handles configuration loading for Ktulhu.
//
// Values come from built-in defaults, then the YAML file, then KTULHU_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/ktulhu-ai/ktulhu/internal/appdir"
)

// EnvPrefix prefixes every environment override, e.g. KTULHU_API_BASE_URL.
const EnvPrefix = "KTULHU"

// ConfigPathEnv overrides the configuration file location.
const ConfigPathEnv = "KTULHU_CONFIG"

// Defaults.
const (
	DefaultAPIBaseURL        = "https://example.com"
	DefaultWSURL             = "wss://example.com/ws"
	DefaultUploadURL         = "https://uploads.ktulhu.com"
	DefaultUploadFileBaseURL = "https://uploads.ktulhu.com"
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultReconnectFloor    = 500 * time.Millisecond
	DefaultReconnectCeiling  = 8 * time.Second
)

// ReconnectConfig bounds the reconnect backoff.
type ReconnectConfig struct {
	Floor   time.Duration `split_words:"true"`
	Ceiling time.Duration `split_words:"true"`
}

// StreamsConfig sets per-subscriber buffer sizes of the inbound streams.
type StreamsConfig struct {
	Tokens    int `split_words:"true"`
	Messages  int `split_words:"true"`
	Summaries int `split_words:"true"`
	System    int `split_words:"true"`
	Done      int `split_words:"true"`
}

// SummariesConfig throttles the per-chat thread re-fetches of the chat list.
type SummariesConfig struct {
	// Rate is re-fetches per second.
	Rate        float64 `split_words:"true"`
	Burst       int     `split_words:"true"`
	Concurrency int     `split_words:"true"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `split_words:"true"`
	// File enables the rotating log file at this path.
	File       string `split_words:"true"`
	JSON       bool   `split_words:"true"`
	Components string `split_words:"true"`
}

// Config represents the complete Ktulhu configuration.
type Config struct {
	APIBaseURL        string `split_words:"true"`
	// WebSocketURL is read from KTULHU_WEB_SOCKET_URL.
	WebSocketURL      string `split_words:"true"`
	UploadURL         string `split_words:"true"`
	UploadFileBaseURL string `split_words:"true"`
	// StorageUpload sends attachments to the API storage endpoint instead
	// of the multipart upload service.
	StorageUpload bool          `split_words:"true"`
	DeviceHash    string        `split_words:"true"`
	HTTPTimeout   time.Duration `split_words:"true"`

	Reconnect ReconnectConfig `split_words:"true"`
	Streams   StreamsConfig   `split_words:"true"`
	Summaries SummariesConfig `split_words:"true"`
	Log       LogConfig       `split_words:"true"`

	MetricsAddr string `split_words:"true"`
}

// rawConfig is used for YAML unmarshaling. Durations are strings so that
// errors can name the offending key.
type rawConfig struct {
	APIBaseURL        *string `yaml:"api_base_url"`
	WSURL             *string `yaml:"ws_url"`
	UploadURL         *string `yaml:"upload_url"`
	UploadFileBaseURL *string `yaml:"upload_file_base_url"`
	StorageUpload     *bool   `yaml:"storage_upload"`
	DeviceHash        *string `yaml:"device_hash"`
	HTTPTimeout       string  `yaml:"http_timeout"`
	Reconnect         struct {
		Floor   string `yaml:"floor"`
		Ceiling string `yaml:"ceiling"`
	} `yaml:"reconnect"`
	Streams struct {
		Tokens    *int `yaml:"tokens"`
		Messages  *int `yaml:"messages"`
		Summaries *int `yaml:"summaries"`
		System    *int `yaml:"system"`
		Done      *int `yaml:"done"`
	} `yaml:"streams"`
	Summaries struct {
		Rate        *float64 `yaml:"rate"`
		Burst       *int     `yaml:"burst"`
		Concurrency *int     `yaml:"concurrency"`
	} `yaml:"summaries"`
	Log struct {
		Level      *string `yaml:"level"`
		File       *string `yaml:"file"`
		JSON       *bool   `yaml:"json"`
		Components *string `yaml:"components"`
	} `yaml:"log"`
	MetricsAddr *string `yaml:"metrics_addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		APIBaseURL:        DefaultAPIBaseURL,
		WebSocketURL:      DefaultWSURL,
		UploadURL:         DefaultUploadURL,
		UploadFileBaseURL: DefaultUploadFileBaseURL,
		HTTPTimeout:       DefaultHTTPTimeout,
		Reconnect: ReconnectConfig{
			Floor:   DefaultReconnectFloor,
			Ceiling: DefaultReconnectCeiling,
		},
		Streams: StreamsConfig{
			Tokens:    128,
			Messages:  64,
			Summaries: 64,
			System:    16,
			Done:      16,
		},
		Summaries: SummariesConfig{
			Rate:        10,
			Burst:       5,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the configuration file path: $KTULHU_CONFIG, else
// config.yaml in the data directory.
func DefaultPath() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	p, err := appdir.ConfigPath()
	if err != nil {
		return appdir.ConfigFileName
	}
	return p
}

// Load reads the file at path, applies environment overrides and validates
// the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse parses YAML configuration data on top of the defaults.
func Parse(data []byte) (*Config, error) {
	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := Default()
	setString(&cfg.APIBaseURL, raw.APIBaseURL)
	setString(&cfg.WebSocketURL, raw.WSURL)
	setString(&cfg.UploadURL, raw.UploadURL)
	setString(&cfg.UploadFileBaseURL, raw.UploadFileBaseURL)
	setString(&cfg.DeviceHash, raw.DeviceHash)
	setString(&cfg.MetricsAddr, raw.MetricsAddr)
	if raw.StorageUpload != nil {
		cfg.StorageUpload = *raw.StorageUpload
	}

	durations := []struct {
		key string
		val string
		dst *time.Duration
	}{
		{"http_timeout", raw.HTTPTimeout, &cfg.HTTPTimeout},
		{"reconnect.floor", raw.Reconnect.Floor, &cfg.Reconnect.Floor},
		{"reconnect.ceiling", raw.Reconnect.Ceiling, &cfg.Reconnect.Ceiling},
	}
	for _, d := range durations {
		if d.val == "" {
			continue
		}
		v, err := time.ParseDuration(d.val)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.key, d.val, err)
		}
		*d.dst = v
	}

	setInt(&cfg.Streams.Tokens, raw.Streams.Tokens)
	setInt(&cfg.Streams.Messages, raw.Streams.Messages)
	setInt(&cfg.Streams.Summaries, raw.Streams.Summaries)
	setInt(&cfg.Streams.System, raw.Streams.System)
	setInt(&cfg.Streams.Done, raw.Streams.Done)

	if raw.Summaries.Rate != nil {
		cfg.Summaries.Rate = *raw.Summaries.Rate
	}
	setInt(&cfg.Summaries.Burst, raw.Summaries.Burst)
	setInt(&cfg.Summaries.Concurrency, raw.Summaries.Concurrency)

	setString(&cfg.Log.Level, raw.Log.Level)
	setString(&cfg.Log.File, raw.Log.File)
	setString(&cfg.Log.Components, raw.Log.Components)
	if raw.Log.JSON != nil {
		cfg.Log.JSON = *raw.Log.JSON
	}
	return cfg, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

// ApplyEnv overrides fields from KTULHU_* environment variables. Unset
// variables leave the current value.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to read environment: %w", err)
	}
	return nil
}

// Normalize replaces blank or "null" URLs with defaults and trims trailing
// slashes.
func (c *Config) Normalize() {
	c.APIBaseURL = normalizeURL(c.APIBaseURL, DefaultAPIBaseURL)
	c.WebSocketURL = normalizeURL(c.WebSocketURL, DefaultWSURL)
	c.UploadURL = normalizeURL(c.UploadURL, DefaultUploadURL)
	c.UploadFileBaseURL = normalizeURL(c.UploadFileBaseURL, DefaultUploadFileBaseURL)
	if isNullToken(c.DeviceHash) {
		c.DeviceHash = ""
	}
}

func normalizeURL(raw, fallback string) string {
	if isNullToken(raw) {
		return fallback
	}
	return strings.TrimRight(strings.TrimSpace(raw), "/")
}

func isNullToken(s string) bool {
	t := strings.TrimSpace(s)
	return t == "" || strings.EqualFold(t, "null")
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Reconnect.Floor <= 0 {
		errs = append(errs, fmt.Errorf("reconnect.floor must be positive, got %s", c.Reconnect.Floor))
	}
	if c.Reconnect.Ceiling < c.Reconnect.Floor {
		errs = append(errs, fmt.Errorf("reconnect.ceiling %s is below floor %s", c.Reconnect.Ceiling, c.Reconnect.Floor))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout))
	}
	sizes := map[string]int{
		"streams.tokens":    c.Streams.Tokens,
		"streams.messages":  c.Streams.Messages,
		"streams.summaries": c.Streams.Summaries,
		"streams.system":    c.Streams.System,
		"streams.done":      c.Streams.Done,
	}
	for _, key := range []string{"streams.tokens", "streams.messages", "streams.summaries", "streams.system", "streams.done"} {
		if sizes[key] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", key, sizes[key]))
		}
	}
	if c.Summaries.Rate <= 0 || c.Summaries.Burst <= 0 || c.Summaries.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("summaries rate, burst and concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// UsingPlaceholderAPI reports whether the API still points at the
// placeholder host, meaning no backend was configured.
func (c *Config) UsingPlaceholderAPI() bool {
	return strings.Contains(strings.ToLower(c.APIBaseURL), "example.com")
}
