package prompt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/timvw/sightcheck/internal/model"
)

func nodes(n int) []model.SemanticNode {
	out := make([]model.SemanticNode, n)
	for i := range out {
		out[i] = model.SemanticNode{
			TagName: "button",
			Text:    fmt.Sprintf("node-%03d", i),
			Bounds:  model.Rect{X: i, Y: i, Width: 10, Height: 10},
		}
	}
	return out
}

func TestSchemaInstructionLoaded(t *testing.T) {
	if SchemaInstruction == "" {
		t.Fatal("SchemaInstruction is empty; embed directive may have failed")
	}
	for _, it := range model.IssueTypes {
		if !strings.Contains(SchemaInstruction, string(it)) {
			t.Errorf("schema does not mention issue type %q", it)
		}
	}
}

func TestBuild_NoBaselineNoExpectationUsesFallback(t *testing.T) {
	got := Build(Context{Mode: model.ModeSemanticStructure})

	if !strings.Contains(got, DefaultExpectation) {
		t.Errorf("prompt missing fallback expectation:\n%s", got)
	}
	if strings.Contains(got, `""`) {
		t.Errorf("prompt contains an empty expectation line:\n%s", got)
	}
	if !strings.Contains(got, "ONE image") {
		t.Errorf("prompt should describe a single image:\n%s", got)
	}
}

func TestBuild_WhitespaceExpectationUsesFallback(t *testing.T) {
	got := Build(Context{Expect: "   "})
	if !strings.Contains(got, DefaultExpectation) {
		t.Errorf("prompt missing fallback expectation:\n%s", got)
	}
}

func TestBuild_SectionOrder(t *testing.T) {
	got := Build(Context{
		Expect:     "The cart badge shows 3",
		DOMContext: nodes(2),
	})

	schema := strings.Index(got, "You must respond with ONLY valid JSON")
	core := strings.Index(got, "The cart badge shows 3")
	dom := strings.Index(got, "DOM accessibility tree")
	if schema < 0 || core < 0 || dom < 0 {
		t.Fatalf("missing section (schema=%d core=%d dom=%d):\n%s", schema, core, dom, got)
	}
	if !(schema < core && core < dom) {
		t.Errorf("sections out of order: schema=%d core=%d dom=%d", schema, core, dom)
	}
	if got != strings.TrimSpace(got) {
		t.Error("prompt has leading or trailing whitespace")
	}
	if !strings.Contains(got, "\n\nI have provided ONE image") {
		t.Error("sections should be separated by a blank line")
	}
}

func TestBuild_BaselineRoles(t *testing.T) {
	tests := []struct {
		name     string
		role     model.BaselineRole
		contains []string
		excludes []string
	}{
		{
			name: "anchor",
			role: model.BaselineAnchor,
			contains: []string{
				"TWO images",
				"Image 1 is the Anchor/Baseline",
				"ground truth",
				"Additional specific expectation to verify: \"Modal is centered\"",
			},
			excludes: []string{"Known-Bad", "ABSENT"},
		},
		{
			name: "empty role defaults to anchor",
			role: "",
			contains: []string{
				"Image 1 is the Anchor/Baseline",
			},
		},
		{
			name: "known-bad",
			role: model.BaselineKnownBad,
			contains: []string{
				"TWO images",
				"Known-Bad Reference",
				"ABSENT from Image 2",
				"Description of the documented defect: \"Modal is centered\"",
			},
			excludes: []string{"Anchor/Baseline"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Build(Context{
				HasBaseline:  true,
				Expect:       "Modal is centered",
				BaselineRole: tt.role,
			})
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("prompt missing %q", want)
				}
			}
			for _, bad := range tt.excludes {
				if strings.Contains(got, bad) {
					t.Errorf("prompt should not contain %q", bad)
				}
			}
		})
	}
}

func TestBuild_BaselineWithoutExpectationHasNoExpectationLine(t *testing.T) {
	got := Build(Context{HasBaseline: true})
	if strings.Contains(got, "Additional specific expectation") {
		t.Errorf("unexpected expectation line:\n%s", got)
	}
	if strings.Contains(got, DefaultExpectation) {
		t.Errorf("fallback expectation only applies without a baseline:\n%s", got)
	}
}

func TestBuild_ModeInstructions(t *testing.T) {
	tests := []struct {
		mode model.Mode
		want string
	}{
		{mode: model.ModeSemanticStructure, want: "Ignore minor 1-2px padding shifts"},
		{mode: "", want: "Ignore minor 1-2px padding shifts"},
		{mode: model.ModeStrictLayout, want: "Even minor padding"},
		{mode: model.ModeRegression, want: "Focus exclusively on the named defect"},
	}

	for _, tt := range tests {
		for _, hasBaseline := range []bool{false, true} {
			for _, role := range []model.BaselineRole{model.BaselineAnchor, model.BaselineKnownBad} {
				name := fmt.Sprintf("%s/baseline=%v/%s", tt.mode, hasBaseline, role)
				t.Run(name, func(t *testing.T) {
					got := Build(Context{HasBaseline: hasBaseline, BaselineRole: role, Mode: tt.mode})
					if !strings.Contains(got, tt.want) {
						t.Errorf("prompt missing mode instruction %q", tt.want)
					}
				})
			}
		}
	}
}

func TestBuild_IgnoreRegions(t *testing.T) {
	got := Build(Context{
		IgnoreRegions: []model.Rect{
			{X: 0, Y: 0, Width: 100, Height: 20},
			{X: 300, Y: 400, Width: 50, Height: 60},
		},
	})

	for _, want := range []string{
		"Ignore the following regions",
		"Region 1: x=0, y=0, width=100, height=20",
		"Region 2: x=300, y=400, width=50, height=60",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q:\n%s", want, got)
		}
	}

	if strings.Contains(Build(Context{}), "Ignore the following regions") {
		t.Error("ignore-region instruction emitted without regions")
	}
}

func TestBuild_NoDOMContextOmitsSection(t *testing.T) {
	got := Build(Context{})
	if strings.Contains(got, "DOM accessibility tree") {
		t.Errorf("unexpected DOM section:\n%s", got)
	}
}

func TestBuild_TruncatesDOMContextTo100Nodes(t *testing.T) {
	got := Build(Context{DOMContext: nodes(150)})

	if n := strings.Count(got, `"tagName"`); n != MaxDOMNodes {
		t.Errorf("prompt contains %d node entries, want %d", n, MaxDOMNodes)
	}
	if !strings.Contains(got, "node-099") {
		t.Error("100th node missing")
	}
	if strings.Contains(got, "node-100") {
		t.Error("101st node should have been truncated")
	}
	if !strings.Contains(got, "showing the first 100 of 150 nodes") {
		t.Errorf("prompt does not indicate truncation")
	}
}

func TestBuild_SmallDOMContextNotMarkedTruncated(t *testing.T) {
	got := Build(Context{DOMContext: nodes(3)})
	if n := strings.Count(got, `"tagName"`); n != 3 {
		t.Errorf("prompt contains %d node entries, want 3", n)
	}
	if strings.Contains(got, "truncated") {
		t.Error("prompt should not mention truncation")
	}
}

func TestBuild_NestedDOMContextIsFlattenedAndCounted(t *testing.T) {
	tree := []model.SemanticNode{{
		TagName: "li",
		Bounds:  model.Rect{Width: 100, Height: 20},
		Children: []model.SemanticNode{
			{TagName: "a", AriaLabel: "Target", Text: "Open", Bounds: model.Rect{Width: 40, Height: 20}},
		},
	}}
	tree = append(tree, nodes(120)...)

	got := Build(Context{DOMContext: tree})

	if n := strings.Count(got, `"tagName"`); n != MaxDOMNodes {
		t.Errorf("prompt contains %d node entries, want %d", n, MaxDOMNodes)
	}
	if !strings.Contains(got, `"depth": 1`) {
		t.Error("nested child should carry depth 1")
	}
	if !strings.Contains(got, "Target") {
		t.Error("aria label of nested child missing")
	}
	if !strings.Contains(got, "first 100 of 122 nodes") {
		t.Error("truncation note should count nested nodes")
	}
}

func TestBuild_Deterministic(t *testing.T) {
	ctx := Context{
		HasBaseline:   true,
		Expect:        "Tabs keep focus",
		DOMContext:    nodes(5),
		Mode:          model.ModeRegression,
		BaselineRole:  model.BaselineKnownBad,
		IgnoreRegions: []model.Rect{{X: 1, Y: 2, Width: 3, Height: 4}},
	}
	if Build(ctx) != Build(ctx) {
		t.Error("Build is not deterministic")
	}
}
