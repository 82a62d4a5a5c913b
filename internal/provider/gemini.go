package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/genai"

	"github.com/timvw/sightcheck/internal/model"
)

// GenerativeModels is the subset of genai.Models used by Gemini.
type GenerativeModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini evaluates screenshots using the Google Gen AI API in JSON mode.
type Gemini struct {
	models    GenerativeModels
	model     string
	maxTokens int64
	timeout   time.Duration
}

// NewGemini creates a Gemini provider backed by the Gemini API.
func NewGemini(ctx context.Context, spec GeminiSpec) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  spec.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if spec.BaseURL != "" {
		cc.HTTPOptions.BaseURL = spec.BaseURL
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return NewGeminiWithModels(spec, client.Models), nil
}

// NewGeminiWithModels creates a Gemini provider on top of an existing client.
func NewGeminiWithModels(spec GeminiSpec, models GenerativeModels) *Gemini {
	return &Gemini{
		models:    models,
		model:     spec.Model,
		maxTokens: spec.MaxTokens,
		timeout:   spec.Timeout,
	}
}

// Name returns "gemini".
func (p *Gemini) Name() string {
	return "gemini"
}

// Model returns the model name.
func (p *Gemini) Model() string {
	return p.model
}

// Evaluate sends the images as inline PNG parts followed by the prompt.
func (p *Gemini) Evaluate(ctx context.Context, images [][]byte, prompt string, opts Options) (*Result, error) {
	maxTok := maxTokens(opts, p.maxTokens)

	ctx, span := startSpan(ctx, "gcp.gemini", p.Name(), p.model, maxTok, len(images))
	defer span.End()

	ctx, cancel := withTimeout(ctx, p.timeout)
	defer cancel()

	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, genai.NewPartFromBytes(img, "image/png"))
	}
	parts = append(parts, genai.NewPartFromText(prompt))

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(float32(temperature(opts))),
		MaxOutputTokens:  int32(maxTok),
		ResponseMIMEType: "application/json",
	}

	start := time.Now()
	resp, err := p.models.GenerateContent(ctx, p.model, []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		span.SetAttributes(attribute.String("error.type", "api_error"))
		return nil, wrapGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		span.SetAttributes(attribute.String("error.type", "empty_response"))
		return nil, fmt.Errorf("gemini API returned empty response")
	}

	var usage *model.TokenUsage
	if md := resp.UsageMetadata; md != nil {
		usage = &model.TokenUsage{
			PromptTokens:     int64(md.PromptTokenCount),
			CompletionTokens: int64(md.CandidatesTokenCount),
		}
	}
	if resp.ModelVersion != "" {
		span.SetAttributes(attribute.String("gen_ai.response.model", resp.ModelVersion))
	}
	recordUsage(span, usage)

	return &Result{Response: text, LatencyMs: latency, Usage: usage}, nil
}

func wrapGeminiError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("gemini API error (HTTP %d): %s", apiErr.Code, apiErr.Message)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return fmt.Errorf("gemini API error (HTTP %d): %s", apiErrPtr.Code, apiErrPtr.Message)
	}
	return fmt.Errorf("gemini API call failed: %w", err)
}
