// Package response turns raw model text into a verdict.
//
// Nothing here returns an error: malformed output and provider failures
// both degrade to a failing verdict with an explanatory feedback string,
// so a caller always receives a structured answer.
package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/timvw/sightcheck/internal/model"
)

const (
	invalidJSONPrefix     = "VLM failed to return valid JSON. Raw response: "
	providerFailurePrefix = "Adapter Evaluation Error: "
)

var (
	errTrailingData = errors.New("unexpected data after JSON value")
	errMissingPass  = errors.New(`missing required field "pass"`)
)

// wireVerdict mirrors the JSON schema the model is asked to return.
// Pass is a pointer so a missing field can be told apart from false.
type wireVerdict struct {
	Pass       *bool         `json:"pass"`
	Confidence float64       `json:"confidence"`
	Feedback   string        `json:"feedback"`
	Issues     []model.Issue `json:"issues"`
}

// Normalize parses a provider's raw text into a verdict.
func Normalize(raw string) model.Verdict {
	text := stripMarkdownFences(raw)

	v, err := decode(text)
	if err != nil {
		return model.Verdict{
			Pass:       false,
			Confidence: 0,
			Feedback:   invalidJSONPrefix + text,
			Issues:     []model.Issue{},
		}
	}
	return v
}

// ProviderFailure converts an inference error into a failing verdict.
func ProviderFailure(err error) model.Verdict {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return model.Verdict{
		Pass:       false,
		Confidence: 0,
		Feedback:   providerFailurePrefix + msg,
		Issues:     []model.Issue{},
	}
}

// IsProviderFailure reports whether v was produced by ProviderFailure.
func IsProviderFailure(v model.Verdict) bool {
	return !v.Pass && v.Confidence == 0 && strings.HasPrefix(v.Feedback, providerFailurePrefix)
}

// IsInvalidOutput reports whether v was produced from unparseable model output.
func IsInvalidOutput(v model.Verdict) bool {
	return !v.Pass && v.Confidence == 0 && strings.HasPrefix(v.Feedback, invalidJSONPrefix)
}

func decode(text string) (model.Verdict, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	var w wireVerdict
	if err := dec.Decode(&w); err != nil {
		return model.Verdict{}, err
	}
	// Reject anything after the JSON value other than whitespace.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return model.Verdict{}, errTrailingData
	}
	if w.Pass == nil {
		return model.Verdict{}, errMissingPass
	}

	if err := validateIssues(w.Issues); err != nil {
		return model.Verdict{}, err
	}

	issues := w.Issues
	if issues == nil {
		issues = []model.Issue{}
	}
	return model.Verdict{
		Pass:       *w.Pass,
		Confidence: clamp01(w.Confidence),
		Feedback:   w.Feedback,
		Issues:     issues,
	}, nil
}

// validateIssues rejects values outside the closed sets of the schema.
// A region without a source is accepted; the prompt marks it optional.
func validateIssues(issues []model.Issue) error {
	for i, is := range issues {
		if !is.Type.Valid() {
			return fmt.Errorf("issue %d: unknown type %q", i, is.Type)
		}
		if !is.Severity.Valid() {
			return fmt.Errorf("issue %d: unknown severity %q", i, is.Severity)
		}
		if r := is.Region; r != nil && r.Source != "" && r.Source != model.SourceDOM && r.Source != model.SourceEstimated {
			return fmt.Errorf("issue %d: unknown region source %q", i, r.Source)
		}
	}
	return nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// stripMarkdownFences removes a ```json (or bare ```) opening fence at the
// start of the text and a closing ``` at the end, then trims whitespace.
// Fences anywhere else are left alone.
func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
