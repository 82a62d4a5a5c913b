package ensemble

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/timvw/sightcheck/internal/model"
)

// Judge produces one verdict. Failures must be folded into the verdict;
// a Judge never aborts the batch.
type Judge func(ctx context.Context) model.Verdict

// Run dispatches judgments according to p and returns their verdicts in
// dispatch order. For Adaptive policies the first judgment is always at
// index 0.
func Run(ctx context.Context, p Policy, judge Judge) ([]model.Verdict, error) {
	if p == nil {
		return nil, fmt.Errorf("ensemble policy is required")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch p := p.(type) {
	case Fixed:
		return batch(ctx, p.Count, judge)

	case Adaptive:
		first := judge(ctx)
		if first.Confidence >= p.Threshold || p.MaxRuns == 1 {
			return []model.Verdict{first}, nil
		}
		rest, err := batch(ctx, p.MaxRuns-1, judge)
		if err != nil {
			return nil, err
		}
		return append([]model.Verdict{first}, rest...), nil

	default:
		return nil, fmt.Errorf("unsupported ensemble policy %T", p)
	}
}

// batch runs n judgments concurrently and waits for all of them.
func batch(ctx context.Context, n int, judge Judge) ([]model.Verdict, error) {
	results := make([]model.Verdict, n)

	g, gctx := errgroup.WithContext(ctx)
	for i := range n {
		g.Go(func() error {
			results[i] = judge(gctx)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
