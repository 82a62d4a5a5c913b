package ensemble

import (
	"errors"
	"fmt"
	"math"

	"github.com/timvw/sightcheck/internal/model"
)

// ErrNoResults is returned by Resolve when given an empty slice.
var ErrNoResults = errors.New("cannot resolve ensemble with 0 results")

// Resolve reduces the verdicts of one ensemble to a single verdict.
//
// A single verdict is returned unchanged. Otherwise the majority decides
// pass, with an even split resolving to pass. The highest-confidence
// member of the majority (first one wins on equal confidence) supplies
// confidence, feedback, issues and annotated screenshot. Issues from
// other members are not merged. LatencyMs is the rounded mean over all
// members, counting a missing latency as 0.
func Resolve(results []model.Verdict) (model.Verdict, error) {
	if len(results) == 0 {
		return model.Verdict{}, ErrNoResults
	}
	if len(results) == 1 {
		return results[0], nil
	}

	passCount := 0
	var totalLatency int64
	for _, r := range results {
		if r.Pass {
			passCount++
		}
		totalLatency += r.LatencyMs
	}
	failCount := len(results) - passCount
	finalPass := passCount >= failCount

	best := -1
	for i, r := range results {
		if r.Pass != finalPass {
			continue
		}
		if best < 0 || r.Confidence > results[best].Confidence {
			best = i
		}
	}
	rep := results[best]

	issues := rep.Issues
	if issues == nil {
		issues = []model.Issue{}
	}

	return model.Verdict{
		Pass:                finalPass,
		Confidence:          rep.Confidence,
		Feedback:            fmt.Sprintf("[Ensemble %d/%d Pass] %s", passCount, len(results), rep.Feedback),
		Issues:              issues,
		LatencyMs:           int64(math.Round(float64(totalLatency) / float64(len(results)))),
		AnnotatedScreenshot: rep.AnnotatedScreenshot,
	}, nil
}
