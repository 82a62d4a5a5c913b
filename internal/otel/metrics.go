package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "sightcheck"

// Metrics holds the metric instruments of an evaluation.
// All methods are safe on a nil *Metrics and for concurrent use.
type Metrics struct {
	// LLM token counters (partitioned by provider + model via attributes)
	InputTokens  metric.Int64Counter
	OutputTokens metric.Int64Counter

	// Evaluations by outcome: pass, fail, error.
	Evaluations metric.Int64Counter

	// Provider calls per evaluation and adaptive escalations.
	EnsembleRuns        metric.Int64Histogram
	EnsembleEscalations metric.Int64Counter

	Cost metric.Float64Counter
}

// NewMetrics creates all metric instruments on the global MeterProvider.
func NewMetrics() (*Metrics, error) {
	return newMetrics(otel.Meter(meterName))
}

func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.InputTokens, err = meter.Int64Counter("llm.tokens.input",
		metric.WithDescription("Total LLM input tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.OutputTokens, err = meter.Int64Counter("llm.tokens.output",
		metric.WithDescription("Total LLM output tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	m.Evaluations, err = meter.Int64Counter("evaluations.total",
		metric.WithDescription("Completed evaluations partitioned by outcome (pass, fail, error)"))
	if err != nil {
		return nil, err
	}

	m.EnsembleRuns, err = meter.Int64Histogram("ensemble.runs",
		metric.WithDescription("Provider calls made per evaluation"),
		metric.WithUnit("{call}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 5, 8))
	if err != nil {
		return nil, err
	}

	m.EnsembleEscalations, err = meter.Int64Counter("ensemble.escalations",
		metric.WithDescription("Adaptive evaluations whose first judgment fell below the confidence threshold"))
	if err != nil {
		return nil, err
	}

	m.Cost, err = meter.Float64Counter("evaluation.cost_usd",
		metric.WithDescription("Estimated provider spend"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func modelAttrs(provider, model string) metric.MeasurementOption {
	return metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
	)
}

// RecordTokens records LLM token usage of one provider call.
func (m *Metrics) RecordTokens(ctx context.Context, provider, model string, input, output int64) {
	if m == nil {
		return
	}
	attrs := modelAttrs(provider, model)
	m.InputTokens.Add(ctx, input, attrs)
	m.OutputTokens.Add(ctx, output, attrs)
}

// RecordCost records the estimated cost of one provider call.
func (m *Metrics) RecordCost(ctx context.Context, provider, model string, usd float64) {
	if m == nil || usd <= 0 {
		return
	}
	m.Cost.Add(ctx, usd, modelAttrs(provider, model))
}

// RecordEvaluation records a finished evaluation: its outcome, how many
// provider calls it took and whether it escalated.
func (m *Metrics) RecordEvaluation(ctx context.Context, outcome string, runs int, escalated bool) {
	if m == nil {
		return
	}
	m.Evaluations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("evaluation.outcome", outcome),
	))
	if runs > 0 {
		m.EnsembleRuns.Record(ctx, int64(runs))
	}
	if escalated {
		m.EnsembleEscalations.Add(ctx, 1)
	}
}
