package provider

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/timvw/sightcheck/internal/config"
)

// Spec is the fully resolved configuration of one provider.
// The only implementations are ClaudeSpec, OpenAICompatSpec and GeminiSpec.
type Spec interface {
	ProviderName() string
	isSpec()
}

// ClaudeSpec configures the Anthropic Messages API. Works with both the
// direct Anthropic API and Azure AI Foundry.
type ClaudeSpec struct {
	// BaseURL is the API endpoint (e.g., "https://resource.services.ai.azure.com/anthropic/").
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int64
	ExtraHeaders map[string]string
	Timeout      time.Duration
}

// OpenAICompatSpec configures any OpenAI-compatible Chat Completions API:
// OpenAI itself, Azure OpenAI, OpenRouter, DashScope (Qwen), Mistral and
// Ollama.
type OpenAICompatSpec struct {
	Name         string
	BaseURL      string
	APIKey       string
	Model        string
	MaxTokens    int64
	ExtraHeaders map[string]string
	Timeout      time.Duration

	// LegacyMaxTokens sends max_tokens instead of max_completion_tokens,
	// for endpoints that predate the newer field.
	LegacyMaxTokens bool
}

// GeminiSpec configures the Google Gen AI API.
type GeminiSpec struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

func (ClaudeSpec) isSpec()       {}
func (OpenAICompatSpec) isSpec() {}
func (GeminiSpec) isSpec()       {}

func (ClaudeSpec) ProviderName() string         { return "claude" }
func (s OpenAICompatSpec) ProviderName() string { return s.Name }
func (GeminiSpec) ProviderName() string         { return "gemini" }

// compatDefaults describes the OpenAI-compatible vendors.
type compatDefaults struct {
	baseURL     string
	model       string
	keyRequired bool
	keyEnv      []string
	legacy      bool
}

var compat = map[string]compatDefaults{
	"openai": {
		model:       "gpt-4o",
		keyRequired: true,
		keyEnv:      []string{"SIGHTCHECK_OPENAI_API_KEY", "OPENAI_API_KEY", "AZURE_OPENAI_API_KEY"},
	},
	"openrouter": {
		baseURL:     "https://openrouter.ai/api/v1",
		model:       "openrouter/auto",
		keyRequired: true,
		keyEnv:      []string{"SIGHTCHECK_OPENROUTER_API_KEY", "OPENROUTER_API_KEY"},
	},
	"qwen": {
		baseURL:     "https://dashscope.aliyuncs.com/compatible-mode/v1",
		model:       "qwen-vl-max-latest",
		keyRequired: true,
		keyEnv:      []string{"SIGHTCHECK_QWEN_API_KEY", "DASHSCOPE_API_KEY"},
		legacy:      true,
	},
	"mistral": {
		baseURL:     "https://api.mistral.ai/v1",
		model:       "pixtral-12b-2409",
		keyRequired: true,
		keyEnv:      []string{"SIGHTCHECK_MISTRAL_API_KEY", "MISTRAL_API_KEY"},
		legacy:      true,
	},
	"local": {
		baseURL: "http://localhost:11434",
		model:   "llava",
		legacy:  true,
	},
}

const (
	defaultClaudeModel = "claude-sonnet-4-5"
	defaultGeminiModel = "gemini-2.5-pro"
)

// Names lists every supported provider name.
func Names() []string {
	return []string{"claude", "openai", "gemini", "qwen", "mistral", "openrouter", "local"}
}

// SpecFor resolves the configuration of provider name from cfg, applying
// per-provider defaults. It fails without any network I/O when the name is
// unknown or a required API key is missing.
func SpecFor(name string, cfg *config.Config) (Spec, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = cfg.DefaultProvider
	}
	pc := cfg.Provider(name)
	timeout := cfg.TimeoutDuration

	switch name {
	case "claude":
		if pc.APIKey == "" {
			return nil, missingKey(name, "SIGHTCHECK_CLAUDE_API_KEY", "ANTHROPIC_API_KEY", "AZURE_OPENAI_API_KEY")
		}
		headers := maps.Clone(pc.ExtraHeaders)
		// Azure AI Foundry needs both "api-key" (Azure) and "x-api-key" (Anthropic SDK default) headers.
		if config.IsAzureEndpoint(pc.BaseURL) {
			if headers == nil {
				headers = map[string]string{}
			}
			if _, ok := headers["api-key"]; !ok {
				headers["api-key"] = pc.APIKey
			}
		}
		return ClaudeSpec{
			BaseURL:      pc.BaseURL,
			APIKey:       pc.APIKey,
			Model:        orDefault(pc.Model, defaultClaudeModel),
			MaxTokens:    cfg.MaxTokens,
			ExtraHeaders: headers,
			Timeout:      timeout,
		}, nil

	case "gemini":
		if pc.APIKey == "" {
			return nil, missingKey(name, "SIGHTCHECK_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")
		}
		return GeminiSpec{
			BaseURL:   pc.BaseURL,
			APIKey:    pc.APIKey,
			Model:     orDefault(pc.Model, defaultGeminiModel),
			MaxTokens: cfg.MaxTokens,
			Timeout:   timeout,
		}, nil
	}

	d, ok := compat[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (supported: %s)", ErrUnknownProvider, name, strings.Join(Names(), ", "))
	}
	if d.keyRequired && pc.APIKey == "" {
		return nil, missingKey(name, d.keyEnv...)
	}

	baseURL := orDefault(pc.BaseURL, d.baseURL)
	if name == "local" {
		// Ollama serves its OpenAI-compatible API under /v1.
		baseURL = strings.TrimRight(baseURL, "/")
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL += "/v1"
		}
	}
	headers := maps.Clone(pc.ExtraHeaders)
	if name == "openai" && config.IsAzureEndpoint(baseURL) {
		if headers == nil {
			headers = map[string]string{}
		}
		if _, ok := headers["api-key"]; !ok {
			headers["api-key"] = pc.APIKey
		}
	}

	return OpenAICompatSpec{
		Name:            name,
		BaseURL:         baseURL,
		APIKey:          pc.APIKey,
		Model:           orDefault(pc.Model, d.model),
		MaxTokens:       cfg.MaxTokens,
		ExtraHeaders:    headers,
		Timeout:         timeout,
		LegacyMaxTokens: d.legacy,
	}, nil
}

// New instantiates the provider described by spec.
func New(ctx context.Context, spec Spec) (Provider, error) {
	switch s := spec.(type) {
	case ClaudeSpec:
		return NewAnthropic(s), nil
	case OpenAICompatSpec:
		return NewOpenAICompat(s), nil
	case GeminiSpec:
		return NewGemini(ctx, s)
	case nil:
		return nil, fmt.Errorf("%w: no provider spec", ErrUnknownProvider)
	default:
		return nil, fmt.Errorf("%w: unsupported spec %T", ErrUnknownProvider, spec)
	}
}

// FromConfig resolves and instantiates provider name in one step.
func FromConfig(ctx context.Context, name string, cfg *config.Config) (Provider, error) {
	spec, err := SpecFor(name, cfg)
	if err != nil {
		return nil, err
	}
	return New(ctx, spec)
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
