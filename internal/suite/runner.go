package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/timvw/sightcheck/internal/evaluator"
	"github.com/timvw/sightcheck/internal/model"
	telem "github.com/timvw/sightcheck/internal/otel"
)

var tracer = otel.Tracer("sightcheck/suite")

// Evaluator runs a single request.
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.Request) (*model.Verdict, error)
}

// Runner evaluates the checks of a suite with bounded parallelism.
type Runner struct {
	Evaluator Evaluator
	Open      OpenFunc       // nil when no browser is available
	Parallel  int            // maximum checks in flight; values below 1 mean 1
	Metrics   *telem.Metrics // nil-safe

	// OnResult, when set, is called as each check finishes. It may be
	// called from several goroutines.
	OnResult func(Result)

	Warn io.Writer // defaults to os.Stderr
}

// Result is the outcome of one check. Verdict is nil when Error is set.
type Result struct {
	Name       string         `json:"name"`
	Verdict    *model.Verdict `json:"verdict,omitempty"`
	Error      string         `json:"error,omitempty"`
	DurationMs int64          `json:"durationMs"`
}

// Passed reports whether the check produced a passing verdict.
func (r Result) Passed() bool {
	return r.Error == "" && r.Verdict != nil && r.Verdict.Pass
}

// Report holds the results of a suite run in check order.
type Report struct {
	Name    string   `json:"name,omitempty"`
	Results []Result `json:"results"`
	Passed  int      `json:"passed"`
	Failed  int      `json:"failed"`
	Errored int      `json:"errored"`
}

// OK reports whether every check passed.
func (r *Report) OK() bool {
	return r.Failed == 0 && r.Errored == 0
}

// Run evaluates every check of s. Check failures never abort the run; they
// are recorded in the report.
func (r *Runner) Run(ctx context.Context, s *Suite) (*Report, error) {
	if r.Evaluator == nil {
		return nil, fmt.Errorf("suite runner has no evaluator")
	}

	ctx, span := tracer.Start(ctx, "suite",
		trace.WithAttributes(
			attribute.String("suite.name", s.Name),
			attribute.Int("suite.checks", len(s.Checks)),

			attribute.String("langfuse.trace.name", "sightcheck-suite"),
			attribute.StringSlice("langfuse.trace.tags", []string{"sightcheck", "suite"}),
		))
	defer span.End()

	results := make([]Result, len(s.Checks))
	parallel := r.Parallel
	if parallel < 1 {
		parallel = 1
	}
	if parallel > len(s.Checks) {
		parallel = len(s.Checks)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, parallel)

	for i, check := range s.Checks {
		wg.Add(1)
		go func(idx int, c Check) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res := r.runCheck(ctx, s.Dir, c)
			results[idx] = res
			if r.OnResult != nil {
				r.OnResult(res)
			}
		}(i, check)
	}

	wg.Wait()

	report := &Report{Name: s.Name, Results: results}
	for _, res := range results {
		switch {
		case res.Error != "":
			report.Errored++
		case res.Passed():
			report.Passed++
		default:
			report.Failed++
		}
	}

	span.SetAttributes(
		attribute.Int("suite.passed", report.Passed),
		attribute.Int("suite.failed", report.Failed),
		attribute.Int("suite.errored", report.Errored),
	)
	return report, nil
}

func (r *Runner) runCheck(ctx context.Context, dir string, c Check) Result {
	ctx, span := tracer.Start(ctx, "check",
		trace.WithAttributes(
			attribute.String("check.name", c.Name),
			attribute.String("langfuse.observation.metadata.check_name", c.Name),
		))
	defer span.End()

	start := time.Now()
	res := Result{Name: c.Name}

	v, err := r.evaluate(ctx, dir, c)
	res.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		w := r.Warn
		if w == nil {
			w = os.Stderr
		}
		fmt.Fprintf(w, "warning: check %s: %v\n", c.Name, err)
		r.Metrics.RecordEvaluation(ctx, "error", 0, false)
		span.RecordError(err)
		res.Error = err.Error()
		return res
	}

	span.SetAttributes(
		attribute.Bool("verdict.pass", v.Pass),
		attribute.Float64("verdict.confidence", v.Confidence),
	)
	res.Verdict = v
	return res
}

func (r *Runner) evaluate(ctx context.Context, dir string, c Check) (*model.Verdict, error) {
	req, release, err := c.Request(ctx, dir, r.Open)
	defer release()
	if err != nil {
		return nil, err
	}
	return r.Evaluator.Evaluate(ctx, req)
}
