package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// envKeys are cleared before tests that call Load so the developer's
// environment cannot leak in.
var envKeys = []string{
	"SIGHTCHECK_PROVIDER", "SIGHTCHECK_TIMEOUT", "SIGHTCHECK_ENSEMBLE",
	"SIGHTCHECK_MAX_RUNS", "SIGHTCHECK_ADAPTIVE_THRESHOLD", "SIGHTCHECK_MAX_DIMENSION",
	"SIGHTCHECK_MAX_TOKENS", "SIGHTCHECK_AUTO_DOWNSCALE",
	"SIGHTCHECK_CLAUDE_API_KEY", "SIGHTCHECK_CLAUDE_MODEL", "SIGHTCHECK_CLAUDE_BASE_URL",
	"ANTHROPIC_API_KEY", "OPENAI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY",
	"DASHSCOPE_API_KEY", "MISTRAL_API_KEY", "OPENROUTER_API_KEY", "OLLAMA_HOST",
	"AZURE_RESOURCE_NAME", "AZURE_OPENAI_API_KEY",
	"OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_HEADERS",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
	t.Setenv("HOME", t.TempDir())
}

func ptr[T any](v T) *T { return &v }

func mapEnv(vals map[string]string) func(string) string {
	return func(key string) string { return vals[key] }
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.DefaultProvider != "claude" {
		t.Errorf("DefaultProvider: got %q, want %q", cfg.DefaultProvider, "claude")
	}
	if cfg.Ensemble.Runs != 1 {
		t.Errorf("Ensemble.Runs: got %d, want 1", cfg.Ensemble.Runs)
	}
	if !cfg.DownscaleEnabled() {
		t.Error("auto downscale should default to enabled")
	}
	if cfg.MaxTokens != 4096 {
		t.Errorf("MaxTokens: got %d, want %d", cfg.MaxTokens, 4096)
	}
	if cfg.Provider("local").BaseURL != "http://localhost:11434" {
		t.Errorf("local endpoint: got %q", cfg.Provider("local").BaseURL)
	}
	if cfg.TimeoutDuration != 60*time.Second {
		t.Errorf("TimeoutDuration: got %v", cfg.TimeoutDuration)
	}
}

func TestIsAzureEndpoint(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://myresource.openai.azure.com/openai/v1", true},
		{"https://myresource.services.ai.azure.com/anthropic/", true},
		{"https://myresource.openai.azure.us/openai/v1", true},
		{"https://api.openai.com/v1", false},
		{"https://api.anthropic.com", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := IsAzureEndpoint(tt.url); got != tt.want {
				t.Errorf("IsAzureEndpoint(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestParseDurationOrDisable(t *testing.T) {
	tests := []struct {
		input    string
		fallback time.Duration
		want     time.Duration
		wantErr  bool
	}{
		{"", 30 * time.Second, 30 * time.Second, false},
		{"0", 30 * time.Second, 0, false},
		{"off", 30 * time.Second, 0, false},
		{"disable", 30 * time.Second, 0, false},
		{"2m", 30 * time.Second, 2 * time.Minute, false},
		{"invalid", 30 * time.Second, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := parseDurationOrDisable(tt.input, tt.fallback)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"SIGHTCHECK_PROVIDER":           "gemini",
		"SIGHTCHECK_ENSEMBLE":           "3",
		"SIGHTCHECK_ADAPTIVE_THRESHOLD": "0.85",
		"SIGHTCHECK_MAX_RUNS":           "5",
		"SIGHTCHECK_AUTO_DOWNSCALE":     "false",
		"ANTHROPIC_API_KEY":             "sk-ant",
		"SIGHTCHECK_OPENAI_API_KEY":     "sc-openai",
		"OPENAI_API_KEY":                "vendor-openai",
		"GOOGLE_API_KEY":                "g-key",
		"SIGHTCHECK_QWEN_MODEL":         "qwen-vl-plus",
		"OLLAMA_HOST":                   "gpu-box:11434",
	}))
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}

	if cfg.DefaultProvider != "gemini" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Ensemble.Runs != 3 || cfg.Ensemble.Threshold() != 0.85 || cfg.Ensemble.MaxRuns != 5 {
		t.Errorf("Ensemble = %+v", cfg.Ensemble)
	}
	if cfg.AutoDownscale == nil || *cfg.AutoDownscale {
		t.Errorf("AutoDownscale = %v, want false", cfg.AutoDownscale)
	}
	if got := cfg.Providers["claude"].APIKey; got != "sk-ant" {
		t.Errorf("claude key = %q", got)
	}
	if got := cfg.Providers["openai"].APIKey; got != "sc-openai" {
		t.Errorf("SIGHTCHECK_OPENAI_API_KEY should win over OPENAI_API_KEY, got %q", got)
	}
	if got := cfg.Providers["gemini"].APIKey; got != "g-key" {
		t.Errorf("gemini key = %q", got)
	}
	if got := cfg.Providers["qwen"].Model; got != "qwen-vl-plus" {
		t.Errorf("qwen model = %q", got)
	}
	if got := cfg.Providers["local"].BaseURL; got != "http://gpu-box:11434" {
		t.Errorf("local base url = %q", got)
	}
	if _, ok := cfg.Providers["mistral"]; ok {
		t.Error("mistral should be absent when no variable is set")
	}
}

func TestFromEnvProviderFromBaseURLOnly(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"SIGHTCHECK_MISTRAL_BASE_URL": "https://proxy.internal/v1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	pc, ok := cfg.Providers["mistral"]
	if !ok || pc.BaseURL != "https://proxy.internal/v1" || pc.APIKey != "" {
		t.Errorf("mistral = %+v, present %v", pc, ok)
	}
	if len(cfg.Providers) != 1 {
		t.Errorf("providers = %v, want only mistral", cfg.Providers)
	}
}

func TestMergeAdaptiveThreshold(t *testing.T) {
	env := &Config{Ensemble: EnsembleConfig{AdaptiveThreshold: ptr(0.8)}}

	tests := []struct {
		name    string
		overlay *Config
		want    float64
	}{
		{name: "unset keeps lower layer", overlay: &Config{}, want: 0.8},
		{name: "explicit zero disables", overlay: &Config{Ensemble: EnsembleConfig{AdaptiveThreshold: ptr(0.0)}}, want: 0},
		{name: "higher value wins", overlay: &Config{Ensemble: EnsembleConfig{AdaptiveThreshold: ptr(0.95)}}, want: 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(Merge(Defaults(), env), tt.overlay)
			if got.Ensemble.Threshold() != tt.want {
				t.Errorf("Threshold() = %v, want %v", got.Ensemble.Threshold(), tt.want)
			}
		})
	}
	if *env.Ensemble.AdaptiveThreshold != 0.8 {
		t.Error("Merge modified overlay threshold")
	}
}

func TestLoadFileDisablesEnvAdaptiveThreshold(t *testing.T) {
	clearEnv(t)
	t.Setenv("SIGHTCHECK_ADAPTIVE_THRESHOLD", "0.9")
	dir := t.TempDir()
	path := filepath.Join(dir, "sightcheck.yaml")
	if err := os.WriteFile(path, []byte("ensemble:\n  adaptive_threshold: 0\n  runs: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ensemble.Threshold() != 0 || cfg.Ensemble.Runs != 1 {
		t.Errorf("Ensemble = %+v, want adaptive disabled", cfg.Ensemble)
	}
}

func TestFromEnvInvalidNumbers(t *testing.T) {
	for _, key := range []string{"SIGHTCHECK_ENSEMBLE", "SIGHTCHECK_ADAPTIVE_THRESHOLD", "SIGHTCHECK_MAX_TOKENS", "SIGHTCHECK_AUTO_DOWNSCALE"} {
		t.Run(key, func(t *testing.T) {
			if _, err := FromEnv(mapEnv(map[string]string{key: "lots"})); err == nil {
				t.Errorf("expected error for %s=lots", key)
			}
		})
	}
}

func TestFromEnvAzure(t *testing.T) {
	cfg, err := FromEnv(mapEnv(map[string]string{
		"AZURE_RESOURCE_NAME":  "myres",
		"AZURE_OPENAI_API_KEY": "az-key",
	}))
	if err != nil {
		t.Fatal(err)
	}
	claude := cfg.Providers["claude"]
	if claude.BaseURL != "https://myres.services.ai.azure.com/anthropic/" || claude.APIKey != "az-key" {
		t.Errorf("claude = %+v", claude)
	}
	openai := cfg.Providers["openai"]
	if openai.BaseURL != "https://myres.openai.azure.com/openai/v1" || openai.APIKey != "az-key" {
		t.Errorf("openai = %+v", openai)
	}
}

func TestMergeProvidersFieldByField(t *testing.T) {
	base := &Config{
		Providers: map[string]ProviderConfig{
			"claude": {APIKey: "env-key", ExtraHeaders: map[string]string{"a": "1"}},
			"local":  {BaseURL: "http://localhost:11434"},
		},
	}
	overlay := &Config{
		Providers: map[string]ProviderConfig{
			"claude": {Model: "claude-opus-4-1", ExtraHeaders: map[string]string{"b": "2"}},
			"openai": {APIKey: "file-key"},
		},
	}

	got := Merge(base, overlay)

	claude := got.Providers["claude"]
	if claude.APIKey != "env-key" {
		t.Errorf("claude key lost during merge: %+v", claude)
	}
	if claude.Model != "claude-opus-4-1" {
		t.Errorf("claude model not applied: %+v", claude)
	}
	if claude.ExtraHeaders["a"] != "1" || claude.ExtraHeaders["b"] != "2" {
		t.Errorf("headers not merged: %v", claude.ExtraHeaders)
	}
	if got.Providers["local"].BaseURL != "http://localhost:11434" {
		t.Error("provider absent from overlay was dropped")
	}
	if got.Providers["openai"].APIKey != "file-key" {
		t.Error("new provider from overlay missing")
	}

	// inputs untouched
	if _, ok := base.Providers["openai"]; ok {
		t.Error("Merge modified base")
	}
	if len(base.Providers["claude"].ExtraHeaders) != 1 {
		t.Error("Merge modified base headers")
	}
}

func TestMergeScalars(t *testing.T) {
	off := false
	temp := 0.3
	got := Merge(Defaults(), &Config{
		DefaultProvider: "openai",
		Ensemble:        EnsembleConfig{Runs: 5},
		AutoDownscale:   &off,
		Temperature:     &temp,
		Timeout:         "10s",
	})

	if got.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", got.DefaultProvider)
	}
	if got.Ensemble.Runs != 5 {
		t.Errorf("Ensemble.Runs = %d", got.Ensemble.Runs)
	}
	if got.DownscaleEnabled() {
		t.Error("explicit false auto_downscale should win")
	}
	if *got.Temperature != 0.3 {
		t.Errorf("Temperature = %v", *got.Temperature)
	}
	if got.MaxTokens != 4096 {
		t.Errorf("zero overlay MaxTokens should keep default, got %d", got.MaxTokens)
	}
	if err := got.Finalize(); err != nil {
		t.Fatal(err)
	}
	if got.TimeoutDuration != 10*time.Second {
		t.Errorf("TimeoutDuration = %v", got.TimeoutDuration)
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Defaults()
	orig.Providers["claude"] = ProviderConfig{ExtraHeaders: map[string]string{"k": "v"}}

	c := orig.Clone()
	c.Providers["claude"].ExtraHeaders["k"] = "changed"
	c.Providers["openai"] = ProviderConfig{APIKey: "x"}
	*c.AutoDownscale = false
	orig.Ensemble.AdaptiveThreshold = ptr(0.5)
	c2 := orig.Clone()
	*c2.Ensemble.AdaptiveThreshold = 0.1

	if orig.Providers["claude"].ExtraHeaders["k"] != "v" {
		t.Error("clone shares header map")
	}
	if _, ok := orig.Providers["openai"]; ok {
		t.Error("clone shares provider map")
	}
	if !*orig.AutoDownscale {
		t.Error("clone shares AutoDownscale pointer")
	}
	if orig.Ensemble.Threshold() != 0.5 {
		t.Error("clone shares AdaptiveThreshold pointer")
	}
}

func TestFinalizeValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  *Config
	}{
		{name: "bad timeout", cfg: &Config{Timeout: "soon"}},
		{name: "negative runs", cfg: &Config{Ensemble: EnsembleConfig{Runs: -1}}},
		{name: "threshold above one", cfg: &Config{Ensemble: EnsembleConfig{AdaptiveThreshold: ptr(1.5)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Finalize(); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	content := `default_provider: openai
providers:
  openai:
    model: gpt-4o-mini
ensemble:
  adaptive_threshold: 0.9
  max_runs: 3
auto_downscale: false
timeout: 30s
`
	if err := os.WriteFile(filepath.Join(dir, ".sightcheck.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ConfigFile != ".sightcheck.yaml" {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.DefaultProvider != "openai" {
		t.Errorf("DefaultProvider = %q", cfg.DefaultProvider)
	}
	if cfg.Provider("openai").Model != "gpt-4o-mini" {
		t.Errorf("openai model = %q", cfg.Provider("openai").Model)
	}
	if cfg.Ensemble.Threshold() != 0.9 || cfg.Ensemble.MaxRuns != 3 {
		t.Errorf("Ensemble = %+v", cfg.Ensemble)
	}
	if cfg.DownscaleEnabled() {
		t.Error("auto_downscale: false not applied")
	}
	if cfg.TimeoutDuration != 30*time.Second {
		t.Errorf("TimeoutDuration = %v", cfg.TimeoutDuration)
	}
	if cfg.Provider("local").BaseURL == "" {
		t.Error("default local endpoint lost")
	}
}

func TestFileOverridesEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	content := `default_provider: claude
providers:
  claude:
    model: claude-haiku-4-5
`
	if err := os.WriteFile(filepath.Join(dir, ".sightcheck.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SIGHTCHECK_PROVIDER", "openai")
	t.Setenv("SIGHTCHECK_CLAUDE_MODEL", "claude-opus-4-1")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.DefaultProvider != "claude" {
		t.Errorf("file should override env provider, got %q", cfg.DefaultProvider)
	}
	claude := cfg.Provider("claude")
	if claude.Model != "claude-haiku-4-5" {
		t.Errorf("file should override env model, got %q", claude.Model)
	}
	if claude.APIKey != "env-key" {
		t.Errorf("env API key should survive field-by-field merge, got %q", claude.APIKey)
	}
}

func TestLoadExplicitPath(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("explicit missing config path should fail")
	}

	path := filepath.Join(t.TempDir(), "custom.yaml")
	if err := os.WriteFile(path, []byte("max_tokens: 1024\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxTokens != 1024 || cfg.ConfigFile != path {
		t.Errorf("MaxTokens = %d, ConfigFile = %q", cfg.MaxTokens, cfg.ConfigFile)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".sightcheck.yaml"), []byte("providers: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(""); err == nil {
		t.Error("expected parse error")
	}
}
