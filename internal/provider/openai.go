package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/sightcheck/internal/model"
)

// OpenAICompat evaluates screenshots using an OpenAI-compatible Chat
// Completions API. Images are sent as PNG data URLs.
type OpenAICompat struct {
	client    openai.Client
	name      string
	model     string
	maxTokens int64
	timeout   time.Duration
	legacy    bool
}

// NewOpenAICompat creates an OpenAI-compatible provider.
func NewOpenAICompat(spec OpenAICompatSpec) *OpenAICompat {
	var opts []option.RequestOption

	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	apiKey := spec.APIKey
	if apiKey == "" {
		// Ollama ignores the key but the SDK always sends one.
		apiKey = "unused"
	}
	opts = append(opts, option.WithAPIKey(apiKey))
	for k, v := range spec.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &OpenAICompat{
		client:    openai.NewClient(opts...),
		name:      spec.Name,
		model:     spec.Model,
		maxTokens: spec.MaxTokens,
		timeout:   spec.Timeout,
		legacy:    spec.LegacyMaxTokens,
	}
}

// Name returns the vendor name (e.g., "openai", "qwen").
func (p *OpenAICompat) Name() string {
	return p.name
}

// Model returns the model name.
func (p *OpenAICompat) Model() string {
	return p.model
}

// Evaluate sends the images followed by the prompt as one user message.
func (p *OpenAICompat) Evaluate(ctx context.Context, images [][]byte, prompt string, opts Options) (*Result, error) {
	maxTok := maxTokens(opts, p.maxTokens)

	ctx, span := startSpan(ctx, "openai", p.name, p.model, maxTok, len(images))
	defer span.End()

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
			URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(img),
		}))
	}
	parts = append(parts, openai.TextContentPart(prompt))

	params := openai.ChatCompletionNewParams{
		Model: p.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(parts),
		},
		Temperature: openai.Float(temperature(opts)),
	}
	if p.legacy {
		params.MaxTokens = openai.Int(maxTok)
	} else {
		params.MaxCompletionTokens = openai.Int(maxTok)
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, params)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("%s API call failed: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("%s API returned empty response", p.name)
	}

	usage := &model.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}
	span.SetAttributes(
		attribute.String("gen_ai.response.model", resp.Model),
		attribute.String("gen_ai.response.id", resp.ID),
	)
	recordUsage(span, usage)
	if resp.Choices[0].FinishReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.Choices[0].FinishReason)}))
	}

	return &Result{Response: resp.Choices[0].Message.Content, LatencyMs: latency, Usage: usage}, nil
}
