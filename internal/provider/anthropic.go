package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/sightcheck/internal/model"
)

// Anthropic evaluates screenshots using the Anthropic Messages API.
type Anthropic struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewAnthropic creates a Claude provider.
func NewAnthropic(spec ClaudeSpec) *Anthropic {
	var opts []option.RequestOption

	if spec.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(spec.BaseURL))
	}
	if spec.APIKey != "" {
		opts = append(opts, option.WithAPIKey(spec.APIKey))
	}
	for k, v := range spec.ExtraHeaders {
		opts = append(opts, option.WithHeader(k, v))
	}

	return &Anthropic{
		client:    anthropic.NewClient(opts...),
		model:     spec.Model,
		maxTokens: spec.MaxTokens,
		timeout:   spec.Timeout,
	}
}

// Name returns "claude".
func (p *Anthropic) Name() string {
	return "claude"
}

// Model returns the model name.
func (p *Anthropic) Model() string {
	return p.model
}

// Evaluate sends the images as base64 PNG blocks followed by the prompt.
func (p *Anthropic) Evaluate(ctx context.Context, images [][]byte, prompt string, opts Options) (*Result, error) {
	maxTok := maxTokens(opts, p.maxTokens)

	ctx, span := startSpan(ctx, "anthropic", p.Name(), p.model, maxTok, len(images))
	defer span.End()

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(images)+1)
	for _, img := range images {
		blocks = append(blocks, anthropic.NewImageBlockBase64("image/png", base64.StdEncoding.EncodeToString(img)))
	}
	blocks = append(blocks, anthropic.NewTextBlock(prompt))

	start := time.Now()
	resp, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   maxTok,
		Temperature: anthropic.Float(temperature(opts)),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("anthropic API returned empty response")
	}

	usage := &model.TokenUsage{
		PromptTokens:     resp.Usage.InputTokens,
		CompletionTokens: resp.Usage.OutputTokens,
	}
	span.SetAttributes(attribute.String("gen_ai.response.model", string(resp.Model)))
	recordUsage(span, usage)
	if resp.StopReason != "" {
		span.SetAttributes(attribute.StringSlice("gen_ai.response.finish_reasons", []string{string(resp.StopReason)}))
	}

	return &Result{Response: text, LatencyMs: latency, Usage: usage}, nil
}
