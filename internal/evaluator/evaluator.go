// Package evaluator runs a visual check end to end: it resolves images,
// builds the prompt, asks the provider one or more times and resolves the
// answers into one verdict.
//
// Go code never judges the images. Every pass/fail decision comes from the
// model; this package only moves bytes and aggregates verdicts.
package evaluator

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sightcheck/internal/capture"
	"github.com/timvw/sightcheck/internal/config"
	"github.com/timvw/sightcheck/internal/ensemble"
	"github.com/timvw/sightcheck/internal/imaging"
	"github.com/timvw/sightcheck/internal/model"
	telem "github.com/timvw/sightcheck/internal/otel"
	"github.com/timvw/sightcheck/internal/pricing"
	"github.com/timvw/sightcheck/internal/prompt"
	"github.com/timvw/sightcheck/internal/provider"
	"github.com/timvw/sightcheck/internal/response"
)

var tracer = otel.Tracer("sightcheck/evaluator")

// Request describes one visual check.
type Request struct {
	Current  Input
	Baseline Input // nil when there is no reference image

	BaselineRole  model.BaselineRole
	Mode          model.Mode
	Expect        string
	IgnoreRegions []model.Rect

	// Ensemble overrides the configured policy when set.
	Ensemble ensemble.Policy

	// AutoDownscale overrides the configured downscale behavior when set.
	AutoDownscale *bool

	// Provider and Model override the configured provider and its model.
	Provider string
	Model    string

	// DisableDOM skips semantic tree extraction for a live current page.
	DisableDOM bool
}

// ProviderFactory builds the provider named name from cfg.
type ProviderFactory func(ctx context.Context, name string, cfg *config.Config) (provider.Provider, error)

// Evaluator holds the collaborators of an evaluation. The zero value of
// every optional field is replaced by a sensible default in New.
type Evaluator struct {
	Config      *config.Config
	NewProvider ProviderFactory
	Capturer    capture.Capturer
	Downscale   func(data []byte, maxDim int) ([]byte, error)
	Prices      *pricing.Table
	Metrics     *telem.Metrics

	// Observer, when set, is called after every completed provider run
	// with the number of runs completed so far. It may be called from
	// several goroutines.
	Observer func(completed int, v model.Verdict)

	// Warn receives non-fatal diagnostics.
	Warn io.Writer
}

// New returns an Evaluator for cfg with default collaborators.
func New(cfg *config.Config) *Evaluator {
	return &Evaluator{
		Config:      cfg,
		NewProvider: provider.FromConfig,
		Downscale:   imaging.Downscale,
		Prices:      pricing.Default(),
		Warn:        os.Stderr,
	}
}

// Evaluate runs req with the default collaborators for cfg.
func Evaluate(ctx context.Context, req Request, cfg *config.Config) (*model.Verdict, error) {
	return New(cfg).Evaluate(ctx, req)
}

// Evaluate runs one visual check. Configuration and input errors are
// returned before any inference; provider and output errors end up in the
// verdict.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*model.Verdict, error) {
	cfg := e.snapshot(req)
	providerName := cfg.DefaultProvider

	newProvider := e.NewProvider
	if newProvider == nil {
		newProvider = provider.FromConfig
	}
	prov, err := newProvider(ctx, providerName, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider %q: %w", providerName, err)
	}

	mode, err := model.ParseMode(string(req.Mode))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	policy := req.Ensemble
	if policy == nil {
		policy = defaultPolicy(cfg)
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	evalID := uuid.NewString()
	ctx, span := tracer.Start(ctx, "evaluate",
		trace.WithAttributes(
			attribute.String("evaluation.id", evalID),
			attribute.String("evaluation.mode", string(mode)),
			attribute.String("evaluation.policy", policy.String()),
			attribute.String("llm.provider", prov.Name()),
			attribute.String("llm.model", prov.Model()),
			attribute.Bool("evaluation.has_baseline", req.Baseline != nil),
			attribute.String("langfuse.trace.name", "sightcheck-evaluate"),
		),
	)
	defer span.End()

	current, err := e.resolve(ctx, "current", req.Current, !req.DisableDOM)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	var baseline *resolved
	if req.Baseline != nil {
		baseline, err = e.resolve(ctx, "baseline", req.Baseline, false)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	if e.shouldDownscale(req, mode, cfg) {
		current.data = e.downscale("current", current.data, cfg.MaxDimension)
		if baseline != nil {
			baseline.data = e.downscale("baseline", baseline.data, cfg.MaxDimension)
		}
	}

	text := prompt.Build(prompt.Context{
		HasBaseline:   baseline != nil,
		Expect:        req.Expect,
		DOMContext:    current.dom,
		Mode:          mode,
		BaselineRole:  req.BaselineRole,
		IgnoreRegions: req.IgnoreRegions,
	})

	images := [][]byte{current.data}
	captureMs := current.captureMs
	if baseline != nil {
		images = [][]byte{baseline.data, current.data}
		captureMs += baseline.captureMs
	}

	opts := provider.Options{Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}

	var completed atomic.Int32
	judge := func(ctx context.Context) model.Verdict {
		v := e.judge(ctx, prov, images, text, opts)
		v.LatencyBreakdown.Capture = captureMs
		v.LatencyBreakdown.DOMExtraction = current.domMs
		v.LatencyMs = captureMs + current.domMs + v.LatencyBreakdown.VLMInference
		v.DOMContext = current.dom
		if e.Observer != nil {
			e.Observer(int(completed.Add(1)), v)
		}
		return v
	}

	results, err := ensemble.Run(ctx, policy, judge)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("running ensemble: %w", err)
	}
	final, err := ensemble.Resolve(results)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if len(results) > 1 {
		reattach(&final, results, current.dom)
	}

	escalated := ensemble.Escalated(policy, len(results))
	span.SetAttributes(
		attribute.Int("evaluation.runs", len(results)),
		attribute.Bool("evaluation.escalated", escalated),
		attribute.Bool("evaluation.pass", final.Pass),
		attribute.Float64("evaluation.confidence", final.Confidence),
	)
	e.Metrics.RecordEvaluation(ctx, outcome(final), len(results), escalated)

	return &final, nil
}

// snapshot clones the config and applies the request's overrides.
func (e *Evaluator) snapshot(req Request) *config.Config {
	cfg := config.Defaults()
	if e.Config != nil {
		cfg = e.Config.Clone()
	}
	if req.Provider != "" {
		cfg.DefaultProvider = req.Provider
	}
	if req.Model != "" {
		if cfg.Providers == nil {
			cfg.Providers = map[string]config.ProviderConfig{}
		}
		pc := cfg.Providers[cfg.DefaultProvider]
		pc.Model = req.Model
		cfg.Providers[cfg.DefaultProvider] = pc
	}
	return cfg
}

// judge makes one provider call and normalizes its answer.
func (e *Evaluator) judge(ctx context.Context, prov provider.Provider, images [][]byte, text string, opts provider.Options) model.Verdict {
	start := time.Now()
	res, err := prov.Evaluate(ctx, images, text, opts)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		v := response.ProviderFailure(err)
		v.LatencyBreakdown = &model.LatencyBreakdown{VLMInference: elapsed}
		return v
	}

	v := response.Normalize(res.Response)
	vlm := res.LatencyMs
	if vlm <= 0 {
		vlm = elapsed
	}
	v.LatencyBreakdown = &model.LatencyBreakdown{VLMInference: vlm}

	if res.Usage != nil {
		e.Metrics.RecordTokens(ctx, prov.Name(), prov.Model(), res.Usage.PromptTokens, res.Usage.CompletionTokens)
		prices := e.Prices
		if prices == nil {
			prices = pricing.Default()
		}
		cost := prices.Estimate(prov.Model(), *res.Usage)
		v.EstimatedCostUSD = &cost
		e.Metrics.RecordCost(ctx, prov.Name(), prov.Model(), cost)
	}
	return v
}

func (e *Evaluator) shouldDownscale(req Request, mode model.Mode, cfg *config.Config) bool {
	if req.AutoDownscale != nil {
		return *req.AutoDownscale
	}
	return mode == model.ModeSemanticStructure && cfg.DownscaleEnabled()
}

// downscale shrinks data, keeping the original when that fails.
func (e *Evaluator) downscale(name string, data []byte, maxDim int) []byte {
	fn := e.Downscale
	if fn == nil {
		fn = imaging.Downscale
	}
	out, err := fn(data, maxDim)
	if err != nil {
		e.warnf("warning: downscaling %s image failed, sending original: %v\n", name, err)
		return data
	}
	return out
}

func (e *Evaluator) warnf(format string, args ...any) {
	w := e.Warn
	if w == nil {
		w = os.Stderr
	}
	fmt.Fprintf(w, format, args...)
}

// reattach restores the per-evaluation fields Resolve does not carry over.
func reattach(final *model.Verdict, results []model.Verdict, dom []model.SemanticNode) {
	final.DOMContext = dom

	var total float64
	var priced bool
	for _, r := range results {
		if r.EstimatedCostUSD != nil {
			total += *r.EstimatedCostUSD
			priced = true
		}
	}
	if priced {
		final.EstimatedCostUSD = &total
	}

	var b model.LatencyBreakdown
	for _, r := range results {
		if r.LatencyBreakdown == nil {
			continue
		}
		b.Capture = max(b.Capture, r.LatencyBreakdown.Capture)
		b.DOMExtraction = max(b.DOMExtraction, r.LatencyBreakdown.DOMExtraction)
		b.VLMInference = max(b.VLMInference, r.LatencyBreakdown.VLMInference)
	}
	final.LatencyBreakdown = &b
}

// defaultPolicy derives the ensemble policy from cfg.
func defaultPolicy(cfg *config.Config) ensemble.Policy {
	if t := cfg.Ensemble.Threshold(); t > 0 {
		maxRuns := cfg.Ensemble.MaxRuns
		if maxRuns <= 0 {
			maxRuns = 3
		}
		return ensemble.Adaptive{Threshold: t, MaxRuns: maxRuns}
	}
	return ensemble.Fixed{Count: max(1, cfg.Ensemble.Runs)}
}

func outcome(v model.Verdict) string {
	switch {
	case response.IsProviderFailure(v):
		return "error"
	case v.Pass:
		return "pass"
	default:
		return "fail"
	}
}
