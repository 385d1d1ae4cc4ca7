package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	embeddedconfig "github.com/ktulhu-ai/ktulhu/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		if k, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(k, EnvPrefix+"_") {
			t.Setenv(k, "")
			os.Unsetenv(k)
		}
	}
}

func TestParse(t *testing.T) {
	yaml := `
api_base_url: https://api.ktulhu.test/
ws_url: wss://api.ktulhu.test/ws
storage_upload: true
device_hash: abc
http_timeout: 5s
reconnect:
  floor: 250ms
  ceiling: 4s
streams:
  tokens: 256
summaries:
  rate: 2.5
  concurrency: 8
log:
  level: debug
  json: true
metrics_addr: 127.0.0.1:9100
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.APIBaseURL != "https://api.ktulhu.test/" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if !cfg.StorageUpload || cfg.DeviceHash != "abc" {
		t.Errorf("StorageUpload = %v, DeviceHash = %q", cfg.StorageUpload, cfg.DeviceHash)
	}
	if cfg.HTTPTimeout != 5*time.Second {
		t.Errorf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
	if cfg.Reconnect.Floor != 250*time.Millisecond || cfg.Reconnect.Ceiling != 4*time.Second {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if cfg.Streams.Tokens != 256 || cfg.Streams.Messages != 64 {
		t.Errorf("Streams = %+v (unset keys should keep defaults)", cfg.Streams)
	}
	if cfg.Summaries.Rate != 2.5 || cfg.Summaries.Burst != 5 || cfg.Summaries.Concurrency != 8 {
		t.Errorf("Summaries = %+v", cfg.Summaries)
	}
	if cfg.Log.Level != "debug" || !cfg.Log.JSON {
		t.Errorf("Log = %+v", cfg.Log)
	}
	if cfg.MetricsAddr != "127.0.0.1:9100" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"bad yaml":     "api_base_url: [",
		"bad duration": "reconnect:\n  floor: soon\n",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Error("Parse() should fail")
			}
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL || cfg.WebSocketURL != DefaultWSURL {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Reconnect.Floor != DefaultReconnectFloor || cfg.Reconnect.Ceiling != DefaultReconnectCeiling {
		t.Errorf("Reconnect = %+v", cfg.Reconnect)
	}
	if !cfg.UsingPlaceholderAPI() {
		t.Error("defaults should report the placeholder API")
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("api_base_url: https://file.test\nlog:\n  level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("KTULHU_API_BASE_URL", "https://env.test//")
	t.Setenv("KTULHU_RECONNECT_CEILING", "16s")
	t.Setenv("KTULHU_STREAMS_TOKENS", "512")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIBaseURL != "https://env.test" {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want file value", cfg.Log.Level)
	}
	if cfg.Reconnect.Ceiling != 16*time.Second {
		t.Errorf("Reconnect.Ceiling = %v", cfg.Reconnect.Ceiling)
	}
	if cfg.Streams.Tokens != 512 {
		t.Errorf("Streams.Tokens = %d", cfg.Streams.Tokens)
	}
}

func TestApplyEnv_IgnoresUnprefixedNames(t *testing.T) {
	clearEnv(t)
	t.Setenv("DEVICE_HASH", "leaked")
	t.Setenv("METRICS_ADDR", ":9999")
	t.Setenv("HTTP_TIMEOUT", "1ms")
	t.Setenv("API_BASE_URL", "https://leaked.test")
	t.Setenv("WS_URL", "wss://leaked.test/ws")
	t.Setenv("KTULHU_WEB_SOCKET_URL", "wss://env.test/ws")
	t.Setenv("KTULHU_UPLOAD_FILE_BASE_URL", "https://files.test/")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv() error = %v", err)
	}
	if cfg.DeviceHash != "" {
		t.Errorf("DeviceHash = %q, want unset", cfg.DeviceHash)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want unset", cfg.MetricsAddr)
	}
	if cfg.HTTPTimeout != DefaultHTTPTimeout {
		t.Errorf("HTTPTimeout = %v, want default", cfg.HTTPTimeout)
	}
	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q, want default", cfg.APIBaseURL)
	}
	if cfg.WebSocketURL != "wss://env.test/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if cfg.UploadFileBaseURL != "https://files.test/" {
		t.Errorf("UploadFileBaseURL = %q", cfg.UploadFileBaseURL)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "reconnect:\n  floor: 2s\n  ceiling: 1s\nstreams:\n  done: 0\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() should fail")
	}
	for _, want := range []string{"reconnect.ceiling", "streams.done"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestNormalize(t *testing.T) {
	cfg := Default()
	cfg.APIBaseURL = "null"
	cfg.WebSocketURL = "  wss://live.test/ws/  "
	cfg.UploadURL = ""
	cfg.DeviceHash = "NULL"

	cfg.Normalize()

	if cfg.APIBaseURL != DefaultAPIBaseURL {
		t.Errorf("APIBaseURL = %q", cfg.APIBaseURL)
	}
	if cfg.WebSocketURL != "wss://live.test/ws" {
		t.Errorf("WebSocketURL = %q", cfg.WebSocketURL)
	}
	if cfg.UploadURL != DefaultUploadURL {
		t.Errorf("UploadURL = %q", cfg.UploadURL)
	}
	if cfg.DeviceHash != "" {
		t.Errorf("DeviceHash = %q", cfg.DeviceHash)
	}
	if !cfg.UsingPlaceholderAPI() {
		t.Error("default API should be the placeholder")
	}
	cfg.APIBaseURL = "https://api.ktulhu.com"
	if cfg.UsingPlaceholderAPI() {
		t.Error("real host reported as placeholder")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(ConfigPathEnv, "/tmp/custom.yaml")
	if got := DefaultPath(); got != "/tmp/custom.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestParse_EmbeddedDefaults(t *testing.T) {
	cfg, err := Parse(embeddedconfig.DefaultConfigYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Errorf("embedded defaults differ from Default():\n got  %+v\n want %+v", cfg, Default())
	}
}
