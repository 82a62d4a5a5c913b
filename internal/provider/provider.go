// Package provider sends images and a prompt to a vision-language model
// and returns its raw text answer.
//
// Adapters do not interpret the answer. Parsing happens in the response
// package so that every provider fails in the same, predictable way.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sightcheck/internal/model"
)

// ErrMissingCredentials is returned when a provider that needs an API key has none.
var ErrMissingCredentials = errors.New("missing credentials")

// ErrUnknownProvider is returned for provider names outside the supported set.
var ErrUnknownProvider = errors.New("unknown provider")

// DefaultMaxTokens is used when neither the caller nor the config sets a limit.
const DefaultMaxTokens = 4096

// Options tune a single call.
type Options struct {
	Temperature *float64
	MaxTokens   int64
}

// Result is the raw answer of one call.
type Result struct {
	Response  string
	LatencyMs int64
	Usage     *model.TokenUsage
}

// Provider sends images (PNG, in order) and a prompt to a model.
type Provider interface {
	Evaluate(ctx context.Context, images [][]byte, prompt string, opts Options) (*Result, error)

	// Name returns the provider name (e.g., "claude", "qwen").
	Name() string

	// Model returns the model name used for evaluation.
	Model() string
}

var tracer = otel.Tracer("sightcheck/provider")

// startSpan opens a GenAI client span following the OTel GenAI semantic
// conventions. Span name is "{operation} {model}".
func startSpan(ctx context.Context, system, name, modelName string, maxTokens int64, images int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "chat "+modelName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "chat"),
			attribute.String("gen_ai.provider.name", system),
			attribute.String("gen_ai.request.model", modelName),
			attribute.Int64("gen_ai.request.max_tokens", maxTokens),
			attribute.String("sightcheck.provider", name),
			attribute.Int("sightcheck.images", images),

			// Langfuse-specific: ensure this shows as a "generation"
			attribute.String("langfuse.observation.type", "generation"),
		),
	)
}

func recordUsage(span trace.Span, usage *model.TokenUsage) {
	if usage == nil {
		return
	}
	span.SetAttributes(
		attribute.Int64("gen_ai.usage.input_tokens", usage.PromptTokens),
		attribute.Int64("gen_ai.usage.output_tokens", usage.CompletionTokens),
	)
}

// withTimeout bounds ctx by d when d is positive.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func maxTokens(opts Options, fallback int64) int64 {
	if opts.MaxTokens > 0 {
		return opts.MaxTokens
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultMaxTokens
}

func temperature(opts Options) float64 {
	if opts.Temperature != nil {
		return *opts.Temperature
	}
	return 0
}

func missingKey(name string, vars ...string) error {
	return fmt.Errorf("%w for provider %q: set providers.%s.api_key or one of %v", ErrMissingCredentials, name, name, vars)
}
