// Package ensemble runs several independent judgments of the same input
// and reduces them to a single verdict.
package ensemble

import (
	"fmt"
)

// Policy decides how many judgments an evaluation runs.
// The only implementations are Fixed and Adaptive.
type Policy interface {
	Validate() error
	String() string
	isPolicy()
}

// Fixed runs exactly Count judgments unconditionally.
type Fixed struct {
	Count int
}

// Adaptive runs one judgment and, only when its confidence is below
// Threshold, runs the remaining MaxRuns-1.
type Adaptive struct {
	Threshold float64
	MaxRuns   int
}

func (Fixed) isPolicy()    {}
func (Adaptive) isPolicy() {}

func (p Fixed) Validate() error {
	if p.Count < 1 {
		return fmt.Errorf("ensemble count must be at least 1, got %d", p.Count)
	}
	return nil
}

func (p Adaptive) Validate() error {
	if p.Threshold <= 0 || p.Threshold > 1 {
		return fmt.Errorf("adaptive threshold must be in (0, 1], got %g", p.Threshold)
	}
	if p.MaxRuns < 1 {
		return fmt.Errorf("adaptive max runs must be at least 1, got %d", p.MaxRuns)
	}
	return nil
}

func (p Fixed) String() string {
	return fmt.Sprintf("fixed(%d)", p.Count)
}

func (p Adaptive) String() string {
	return fmt.Sprintf("adaptive(threshold=%g, max=%d)", p.Threshold, p.MaxRuns)
}

// MaxCalls is the largest number of judgments p can issue.
func MaxCalls(p Policy) int {
	switch p := p.(type) {
	case Fixed:
		return p.Count
	case Adaptive:
		return p.MaxRuns
	default:
		return 0
	}
}

// Escalated reports whether an adaptive policy ran more than its first judgment.
func Escalated(p Policy, runs int) bool {
	_, ok := p.(Adaptive)
	return ok && runs > 1
}
