// Package model holds the types shared by every stage of an evaluation:
// the verdict returned to callers, the issues it itemizes, and the
// semantic layout nodes extracted from live pages.
package model

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// IssueType classifies a visual defect reported by the model.
type IssueType string

const (
	IssueStateBreak        IssueType = "state_break"
	IssueLayoutBreak       IssueType = "layout_break"
	IssueZIndex            IssueType = "z_index_issue"
	IssueMissingElement    IssueType = "missing_element"
	IssueTextOverflow      IssueType = "text_overflow"
	IssueRenderingArtifact IssueType = "rendering_artifact"
	IssueInputBleed        IssueType = "input_bleed"
	IssueFocusTrapEscape   IssueType = "focus_trap_escape"
)

// IssueTypes lists every issue type in the order they are presented to the model.
var IssueTypes = []IssueType{
	IssueStateBreak,
	IssueLayoutBreak,
	IssueZIndex,
	IssueMissingElement,
	IssueTextOverflow,
	IssueRenderingArtifact,
	IssueInputBleed,
	IssueFocusTrapEscape,
}

// Valid reports whether t is one of IssueTypes.
func (t IssueType) Valid() bool {
	return slices.Contains(IssueTypes, t)
}

// Severity is the impact level of an issue: "high", "medium" or "low".
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

func (s Severity) Valid() bool {
	return s == SeverityHigh || s == SeverityMedium || s == SeverityLow
}

// Region sources.
const (
	SourceDOM       = "dom"
	SourceEstimated = "estimated"
)

// Region locates an issue on the test image.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
	// Source is "dom" when the box comes from the semantic tree,
	// "estimated" when the model guessed it from pixels.
	Source string `json:"source,omitempty"`
}

// Issue is a single defect reported by the model.
type Issue struct {
	Type        IssueType `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Region      *Region   `json:"region,omitempty"`
}

// LatencyBreakdown splits the wall-clock time of a single judgment.
type LatencyBreakdown struct {
	Capture       int64 `json:"capture"`
	DOMExtraction int64 `json:"domExtraction"`
	VLMInference  int64 `json:"vlmInference"`
}

// TokenUsage tracks token consumption reported by a provider for one call.
type TokenUsage struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
}

// Verdict is the structured judgment returned for an evaluation.
//
// Confidence is always a number (0 when the model output could not be
// parsed) and Issues is never nil once a verdict leaves the normalizer.
type Verdict struct {
	Pass       bool    `json:"pass"`
	Confidence float64 `json:"confidence"`
	Feedback   string  `json:"feedback"`
	Issues     []Issue `json:"issues"`

	// Telemetry attached after normalization.
	LatencyMs           int64             `json:"latencyMs,omitempty"`
	LatencyBreakdown    *LatencyBreakdown `json:"latencyBreakdown,omitempty"`
	DOMContext          []SemanticNode    `json:"domContext,omitempty"`
	EstimatedCostUSD    *float64          `json:"estimatedCostUsd,omitempty"`
	AnnotatedScreenshot string            `json:"annotatedScreenshot,omitempty"`
}

// Rect is an axis-aligned rectangle in image pixels.
type Rect struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// String renders the rectangle as used in prompts: "x=10, y=20, width=30, height=40".
func (r Rect) String() string {
	return fmt.Sprintf("x=%d, y=%d, width=%d, height=%d", r.X, r.Y, r.Width, r.Height)
}

// SemanticNode is a meaningful visible element of a live page.
type SemanticNode struct {
	TagName   string         `json:"tagName"`
	Role      string         `json:"role,omitempty"`
	AriaLabel string         `json:"ariaLabel,omitempty"`
	Text      string         `json:"text,omitempty"`
	Bounds    Rect           `json:"bounds"`
	Children  []SemanticNode `json:"children,omitempty"`
}

// Mode selects how strictly the model compares images.
type Mode string

const (
	ModeSemanticStructure Mode = "semantic-structure"
	ModeStrictLayout      Mode = "strict-layout"
	ModeRegression        Mode = "regression"
)

// ParseMode validates a mode name. An empty name yields semantic-structure.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.TrimSpace(s)) {
	case "", ModeSemanticStructure:
		return ModeSemanticStructure, nil
	case ModeStrictLayout:
		return ModeStrictLayout, nil
	case ModeRegression:
		return ModeRegression, nil
	default:
		return "", fmt.Errorf("unknown mode %q (supported: %s, %s, %s)", s, ModeSemanticStructure, ModeStrictLayout, ModeRegression)
	}
}

// BaselineRole says what the baseline image represents.
type BaselineRole string

const (
	// BaselineAnchor is the desired state; the test image must match it.
	BaselineAnchor BaselineRole = "anchor"
	// BaselineKnownBad shows a documented defect; the test image must not reproduce it.
	BaselineKnownBad BaselineRole = "known-bad"
)

// ParseBaselineRole validates a baseline role name. An empty name yields anchor.
func ParseBaselineRole(s string) (BaselineRole, error) {
	switch BaselineRole(strings.TrimSpace(s)) {
	case "", BaselineAnchor:
		return BaselineAnchor, nil
	case BaselineKnownBad:
		return BaselineKnownBad, nil
	default:
		return "", fmt.Errorf("unknown baseline role %q (supported: %s, %s)", s, BaselineAnchor, BaselineKnownBad)
	}
}

// ParseRect parses "x,y,width,height" into a Rect.
func ParseRect(s string) (Rect, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Rect{}, fmt.Errorf("invalid region %q: want x,y,width,height", s)
	}
	var vals [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Rect{}, fmt.Errorf("invalid region %q: %w", s, err)
		}
		vals[i] = n
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return Rect{}, fmt.Errorf("invalid region %q: width and height must be positive", s)
	}
	return Rect{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
