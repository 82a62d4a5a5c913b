// Package prompt composes the instruction text sent alongside the images.
//
// Build is a pure function: the same Context always yields the same
// string, which keeps provider mocks and golden assertions simple.
package prompt

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/timvw/sightcheck/internal/model"
)

// SchemaInstruction is the fixed description of the JSON verdict the model
// must return. Loaded from prompts/schema.md at compile time.
//
//go:embed prompts/schema.md
var SchemaInstruction string

// MaxDOMNodes caps the number of semantic nodes embedded in a prompt.
const MaxDOMNodes = 100

// DefaultExpectation is used when there is neither a baseline nor an expectation.
const DefaultExpectation = "Ensure the UI looks complete and free of obvious rendering artifacts."

// Context carries everything the prompt depends on.
type Context struct {
	HasBaseline   bool
	Expect        string
	DOMContext    []model.SemanticNode
	Mode          model.Mode
	BaselineRole  model.BaselineRole
	IgnoreRegions []model.Rect
}

// Build returns the prompt for ctx.
func Build(ctx Context) string {
	sections := []string{
		strings.TrimSpace(SchemaInstruction),
		coreInstruction(ctx),
		contextInstruction(ctx.DOMContext),
	}

	var b strings.Builder
	for _, s := range sections {
		if s == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(s)
	}
	return strings.TrimSpace(b.String())
}

func modeInstruction(mode model.Mode) string {
	switch mode {
	case model.ModeStrictLayout:
		return "Focus on strict layout adherence. Even minor padding, alignment, or spacing differences should be flagged."
	case model.ModeRegression:
		return "Focus exclusively on the named defect. Ignore unrelated visual drift such as copy changes, color tweaks, or spacing shifts elsewhere on the page."
	default:
		return "Focus on semantic structure and state bugs (e.g., missing items, incorrect toggles, z-index overlaps). Ignore minor 1-2px padding shifts, sub-pixel offsets, or font smoothing differences."
	}
}

func coreInstruction(ctx Context) string {
	var b strings.Builder

	switch {
	case !ctx.HasBaseline:
		expect := strings.TrimSpace(ctx.Expect)
		if expect == "" {
			expect = DefaultExpectation
		}
		b.WriteString("I have provided ONE image (the Test Image).\n")
		b.WriteString("There is NO baseline image. You must evaluate the image purely based on the following specific expectation:\n")
		fmt.Fprintf(&b, "%q\n\n", expect)
		b.WriteString("1. Examine the image carefully.\n")
		fmt.Fprintf(&b, "2. %s", modeInstruction(ctx.Mode))

	case ctx.BaselineRole == model.BaselineKnownBad:
		b.WriteString("I have provided TWO images.\n")
		b.WriteString("Image 1 is a Known-Bad Reference: it shows a documented defect that must NOT appear.\n")
		b.WriteString("Image 2 is the Test Image (the current implementation output).\n\n")
		b.WriteString("1. Identify the defect visible in Image 1.\n")
		b.WriteString("2. Verify that this defect is ABSENT from Image 2. Set \"pass\" to true only if the defect is gone.\n")
		fmt.Fprintf(&b, "3. %s", modeInstruction(ctx.Mode))
		if expect := strings.TrimSpace(ctx.Expect); expect != "" {
			fmt.Fprintf(&b, "\n\nDescription of the documented defect: %q", expect)
		}

	default:
		b.WriteString("I have provided TWO images.\n")
		b.WriteString("Image 1 is the Anchor/Baseline (the \"known good\" mockup or expected state).\n")
		b.WriteString("Image 2 is the Test Image (the current implementation output).\n\n")
		b.WriteString("1. Memorize the semantic structure, specific elements, and state intent of Image 1. These must be preserved.\n")
		b.WriteString("2. Compare Image 2 against Image 1, treating Image 1 as ground truth.\n")
		fmt.Fprintf(&b, "3. %s", modeInstruction(ctx.Mode))
		if expect := strings.TrimSpace(ctx.Expect); expect != "" {
			fmt.Fprintf(&b, "\n\nAdditional specific expectation to verify: %q", expect)
		}
	}

	if len(ctx.IgnoreRegions) > 0 {
		b.WriteString("\n\nIgnore the following regions of the Test Image entirely; do not report issues inside them:\n")
		for i, r := range ctx.IgnoreRegions {
			fmt.Fprintf(&b, "- Region %d: %s\n", i+1, r)
		}
	}

	return strings.TrimSpace(b.String())
}

// domEntry is one flattened semantic node as it appears in the prompt.
type domEntry struct {
	Depth     int        `json:"depth"`
	TagName   string     `json:"tagName"`
	Role      string     `json:"role,omitempty"`
	AriaLabel string     `json:"ariaLabel,omitempty"`
	Text      string     `json:"text,omitempty"`
	Bounds    model.Rect `json:"bounds"`
}

// flatten walks the tree in pre-order.
func flatten(nodes []model.SemanticNode, depth int, out []domEntry) []domEntry {
	for _, n := range nodes {
		out = append(out, domEntry{
			Depth:     depth,
			TagName:   n.TagName,
			Role:      n.Role,
			AriaLabel: n.AriaLabel,
			Text:      n.Text,
			Bounds:    n.Bounds,
		})
		out = flatten(n.Children, depth+1, out)
	}
	return out
}

func contextInstruction(nodes []model.SemanticNode) string {
	if len(nodes) == 0 {
		return ""
	}

	entries := flatten(nodes, 0, nil)
	total := len(entries)
	if total > MaxDOMNodes {
		entries = entries[:MaxDOMNodes]
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		// domEntry only holds strings and ints.
		return ""
	}

	var b strings.Builder
	b.WriteString("Here is the visible DOM accessibility tree with bounding boxes (JSON) for the Test Image, flattened in document order (\"depth\" is the nesting level):\n")
	if total > MaxDOMNodes {
		fmt.Fprintf(&b, "(truncated: showing the first %d of %d nodes)\n", MaxDOMNodes, total)
	}
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n")
	b.WriteString("Use this DOM data to ground your spatial understanding and prevent hallucinations. ")
	b.WriteString("If an element exists in the DOM but is not visible in the image, it may be a rendering bug (e.g., a z-index overlap or an off-screen element).")
	return b.String()
}
