// Package config loads sightcheck configuration from defaults, environment
// and file.
//
// Precedence (highest to lowest):
//  1. CLI flags (applied by the caller via Merge)
//  2. Config file
//  3. Environment variables (SIGHTCHECK_* and vendor API key variables)
//  4. Built-in defaults
//
// Config file search order:
//  1. --config path, when given
//  2. .sightcheck.yaml in current directory
//  3. ~/.config/sightcheck/config.yaml
//
// Provider entries are merged key-by-key and field-by-field, so a file that
// only sets providers.claude.model keeps an API key taken from the
// environment.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig holds credentials and endpoint overrides for one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	// ExtraHeaders are additional HTTP headers (e.g., "api-key" for Azure).
	ExtraHeaders map[string]string `yaml:"extra_headers"`
}

// EnsembleConfig is the default ensemble policy. An AdaptiveThreshold
// greater than zero selects adaptive escalation with MaxRuns; otherwise
// Runs judgments are made unconditionally. AdaptiveThreshold is a pointer
// so a later layer can set it back to 0.
type EnsembleConfig struct {
	Runs              int      `yaml:"runs"`
	AdaptiveThreshold *float64 `yaml:"adaptive_threshold"`
	MaxRuns           int      `yaml:"max_runs"`
}

// Threshold returns the adaptive threshold, 0 when unset.
func (e EnsembleConfig) Threshold() float64 {
	if e.AdaptiveThreshold == nil {
		return 0
	}
	return *e.AdaptiveThreshold
}

// Config holds all sightcheck configuration.
type Config struct {
	DefaultProvider string                    `yaml:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers"`

	Ensemble EnsembleConfig `yaml:"ensemble"`

	// Image handling
	AutoDownscale *bool `yaml:"auto_downscale"`
	MaxDimension  int   `yaml:"max_dimension"` // longest edge in pixels after downscaling

	// Inference
	MaxTokens   int64    `yaml:"max_tokens"`
	Temperature *float64 `yaml:"temperature"`
	Timeout     string   `yaml:"timeout"` // Go duration string per provider call, "0" disables

	// Suite runner
	Parallel int `yaml:"parallel"`

	// OTEL
	OTELEndpoint string `yaml:"otel_endpoint"`
	OTELHeaders  string `yaml:"otel_headers"` // Comma-separated key=value pairs, e.g. "Authorization=Basic abc123"

	// Parsed duration (not from YAML, set by Finalize)
	TimeoutDuration time.Duration `yaml:"-"`

	// ConfigFile is the path to the config file that was loaded (empty if none).
	ConfigFile string `yaml:"-"`
}

const defaultTimeout = 60 * time.Second

// Defaults returns a Config with all default values.
func Defaults() *Config {
	downscale := true
	temperature := 0.0
	return &Config{
		DefaultProvider: "claude",
		Providers: map[string]ProviderConfig{
			"local": {BaseURL: "http://localhost:11434"},
		},
		Ensemble:        EnsembleConfig{Runs: 1},
		AutoDownscale:   &downscale,
		MaxDimension:    1568,
		MaxTokens:       4096,
		Temperature:     &temperature,
		Timeout:         "60s",
		Parallel:        4,
		TimeoutDuration: defaultTimeout,
	}
}

// vendorKeys maps provider names to the vendor environment variables that
// supply their API key, in lookup order.
var vendorKeys = map[string][]string{
	"claude":     {"ANTHROPIC_API_KEY"},
	"openai":     {"OPENAI_API_KEY"},
	"gemini":     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	"qwen":       {"DASHSCOPE_API_KEY"},
	"mistral":    {"MISTRAL_API_KEY"},
	"openrouter": {"OPENROUTER_API_KEY"},
	"local":      nil,
}

// ProviderNames lists the providers that take configuration from the environment.
func ProviderNames() []string {
	return []string{"claude", "openai", "gemini", "qwen", "mistral", "openrouter", "local"}
}

// FromEnv builds a partial Config from environment variables looked up with
// getenv. Only variables that are set produce values.
func FromEnv(getenv func(string) string) (*Config, error) {
	cfg := &Config{Providers: map[string]ProviderConfig{}}

	cfg.DefaultProvider = getenv("SIGHTCHECK_PROVIDER")
	cfg.Timeout = getenv("SIGHTCHECK_TIMEOUT")
	cfg.OTELEndpoint = getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	cfg.OTELHeaders = getenv("OTEL_EXPORTER_OTLP_HEADERS")

	var err error
	if cfg.Ensemble.Runs, err = envInt(getenv, "SIGHTCHECK_ENSEMBLE"); err != nil {
		return nil, err
	}
	if cfg.Ensemble.MaxRuns, err = envInt(getenv, "SIGHTCHECK_MAX_RUNS"); err != nil {
		return nil, err
	}
	if v := getenv("SIGHTCHECK_ADAPTIVE_THRESHOLD"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGHTCHECK_ADAPTIVE_THRESHOLD %q: %w", v, err)
		}
		cfg.Ensemble.AdaptiveThreshold = &t
	}
	if cfg.MaxDimension, err = envInt(getenv, "SIGHTCHECK_MAX_DIMENSION"); err != nil {
		return nil, err
	}
	if v := getenv("SIGHTCHECK_MAX_TOKENS"); v != "" {
		if cfg.MaxTokens, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid SIGHTCHECK_MAX_TOKENS %q: %w", v, err)
		}
	}
	if v := getenv("SIGHTCHECK_AUTO_DOWNSCALE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGHTCHECK_AUTO_DOWNSCALE %q: %w", v, err)
		}
		cfg.AutoDownscale = &b
	}

	for _, name := range ProviderNames() {
		var pc ProviderConfig
		prefix := "SIGHTCHECK_" + strings.ToUpper(name) + "_"
		pc.APIKey = getenv(prefix + "API_KEY")
		pc.BaseURL = getenv(prefix + "BASE_URL")
		pc.Model = getenv(prefix + "MODEL")
		for _, key := range vendorKeys[name] {
			if pc.APIKey != "" {
				break
			}
			pc.APIKey = getenv(key)
		}
		if pc.APIKey != "" || pc.BaseURL != "" || pc.Model != "" {
			cfg.Providers[name] = pc
		}
	}

	if host := getenv("OLLAMA_HOST"); host != "" {
		pc := cfg.Providers["local"]
		if pc.BaseURL == "" {
			if !strings.Contains(host, "://") {
				host = "http://" + host
			}
			pc.BaseURL = host
			cfg.Providers["local"] = pc
		}
	}

	applyAzure(cfg, getenv)
	return cfg, nil
}

// applyAzure fills Claude and OpenAI endpoints from AZURE_RESOURCE_NAME
// and AZURE_OPENAI_API_KEY when no explicit value was given.
func applyAzure(cfg *Config, getenv func(string) string) {
	rn := getenv("AZURE_RESOURCE_NAME")
	if rn == "" {
		return
	}
	azureKey := getenv("AZURE_OPENAI_API_KEY")

	// The Anthropic SDK appends v1/messages to the base URL.
	claude := cfg.Providers["claude"]
	if claude.BaseURL == "" {
		claude.BaseURL = fmt.Sprintf("https://%s.services.ai.azure.com/anthropic/", rn)
	}
	if claude.APIKey == "" {
		claude.APIKey = azureKey
	}
	cfg.Providers["claude"] = claude

	openai := cfg.Providers["openai"]
	if openai.BaseURL == "" {
		openai.BaseURL = fmt.Sprintf("https://%s.openai.azure.com/openai/v1", rn)
	}
	if openai.APIKey == "" {
		openai.APIKey = azureKey
	}
	cfg.Providers["openai"] = openai
}

func envInt(getenv func(string) string, key string) (int, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}

// LoadFile reads a YAML config file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	cfg.ConfigFile = path
	return &cfg, nil
}

// Load builds the effective configuration: defaults, then environment,
// then the config file. An explicit path that cannot be read is an error;
// discovered files are optional.
func Load(explicitPath string) (*Config, error) {
	env, err := FromEnv(os.Getenv)
	if err != nil {
		return nil, err
	}
	cfg := Merge(Defaults(), env)

	path := explicitPath
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		fileCfg, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = Merge(cfg, fileCfg)
	}

	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	// 1. Current directory
	if _, err := os.Stat(".sightcheck.yaml"); err == nil {
		return ".sightcheck.yaml"
	}

	// 2. XDG config dir / ~/.config
	if home, err := os.UserHomeDir(); err == nil {
		path := filepath.Join(home, ".config", "sightcheck", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// Finalize validates cross-field values and parses durations.
func (c *Config) Finalize() error {
	var err error
	c.TimeoutDuration, err = parseDurationOrDisable(c.Timeout, defaultTimeout)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
	}
	if c.Ensemble.Runs < 0 || c.Ensemble.MaxRuns < 0 {
		return fmt.Errorf("ensemble runs must not be negative")
	}
	if t := c.Ensemble.Threshold(); t < 0 || t > 1 {
		return fmt.Errorf("adaptive threshold must be between 0 and 1, got %g", t)
	}
	if c.MaxDimension < 0 {
		return fmt.Errorf("max dimension must not be negative")
	}
	return nil
}

// Merge returns a new Config with the non-zero fields of overlay applied
// on top of base. Neither argument is modified.
func Merge(base, overlay *Config) *Config {
	out := base.Clone()
	if overlay == nil {
		return out
	}

	if overlay.DefaultProvider != "" {
		out.DefaultProvider = overlay.DefaultProvider
	}
	for name, pc := range overlay.Providers {
		if out.Providers == nil {
			out.Providers = map[string]ProviderConfig{}
		}
		out.Providers[name] = mergeProvider(out.Providers[name], pc)
	}
	if overlay.Ensemble.Runs > 0 {
		out.Ensemble.Runs = overlay.Ensemble.Runs
	}
	if overlay.Ensemble.AdaptiveThreshold != nil {
		v := *overlay.Ensemble.AdaptiveThreshold
		out.Ensemble.AdaptiveThreshold = &v
	}
	if overlay.Ensemble.MaxRuns > 0 {
		out.Ensemble.MaxRuns = overlay.Ensemble.MaxRuns
	}
	if overlay.AutoDownscale != nil {
		v := *overlay.AutoDownscale
		out.AutoDownscale = &v
	}
	if overlay.MaxDimension > 0 {
		out.MaxDimension = overlay.MaxDimension
	}
	if overlay.MaxTokens > 0 {
		out.MaxTokens = overlay.MaxTokens
	}
	if overlay.Temperature != nil {
		v := *overlay.Temperature
		out.Temperature = &v
	}
	if overlay.Timeout != "" {
		out.Timeout = overlay.Timeout
		out.TimeoutDuration = 0
	}
	if overlay.Parallel > 0 {
		out.Parallel = overlay.Parallel
	}
	if overlay.OTELEndpoint != "" {
		out.OTELEndpoint = overlay.OTELEndpoint
	}
	if overlay.OTELHeaders != "" {
		out.OTELHeaders = overlay.OTELHeaders
	}
	if overlay.ConfigFile != "" {
		out.ConfigFile = overlay.ConfigFile
	}
	return out
}

func mergeProvider(base, overlay ProviderConfig) ProviderConfig {
	if overlay.APIKey != "" {
		base.APIKey = overlay.APIKey
	}
	if overlay.BaseURL != "" {
		base.BaseURL = overlay.BaseURL
	}
	if overlay.Model != "" {
		base.Model = overlay.Model
	}
	if len(overlay.ExtraHeaders) > 0 {
		headers := maps.Clone(base.ExtraHeaders)
		if headers == nil {
			headers = map[string]string{}
		}
		maps.Copy(headers, overlay.ExtraHeaders)
		base.ExtraHeaders = headers
	}
	return base
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return &Config{}
	}
	out := *c
	if c.Providers != nil {
		out.Providers = make(map[string]ProviderConfig, len(c.Providers))
		for name, pc := range c.Providers {
			pc.ExtraHeaders = maps.Clone(pc.ExtraHeaders)
			out.Providers[name] = pc
		}
	}
	if c.AutoDownscale != nil {
		v := *c.AutoDownscale
		out.AutoDownscale = &v
	}
	if c.Temperature != nil {
		v := *c.Temperature
		out.Temperature = &v
	}
	if c.Ensemble.AdaptiveThreshold != nil {
		v := *c.Ensemble.AdaptiveThreshold
		out.Ensemble.AdaptiveThreshold = &v
	}
	return &out
}

// Provider returns the configuration for name (zero value when absent).
func (c *Config) Provider(name string) ProviderConfig {
	return c.Providers[name]
}

// DownscaleEnabled reports whether auto-downscaling is on by default.
func (c *Config) DownscaleEnabled() bool {
	return c.AutoDownscale == nil || *c.AutoDownscale
}

// parseDurationOrDisable parses a duration string. "0", "off", "disable" return 0.
// Empty string returns the fallback value.
func parseDurationOrDisable(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	if s == "0" || s == "off" || s == "disable" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// IsAzureEndpoint returns true if the URL is an Azure endpoint.
func IsAzureEndpoint(url string) bool {
	return strings.Contains(url, ".azure.com") || strings.Contains(url, ".azure.us")
}
