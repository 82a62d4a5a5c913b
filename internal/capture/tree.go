package capture

import (
	"math"
	"strings"

	"github.com/timvw/sightcheck/internal/model"
)

// RawElement is one element of a browser-side DOM snapshot, before filtering.
type RawElement struct {
	Tag        string       `json:"tag"`
	Role       *string      `json:"role"`
	AriaLabel  *string      `json:"ariaLabel"`
	Display    string       `json:"display"`
	Visibility string       `json:"visibility"`
	Opacity    string       `json:"opacity"`
	X          float64      `json:"x"`
	Y          float64      `json:"y"`
	Width      float64      `json:"width"`
	Height     float64      `json:"height"`
	Text       string       `json:"text"` // concatenated direct text nodes
	Children   []RawElement `json:"children"`
}

var semanticTags = map[string]bool{
	"A": true, "BUTTON": true, "INPUT": true, "SELECT": true, "TEXTAREA": true,
	"IMG": true, "SVG": true, "LI": true, "LABEL": true,
	"H1": true, "H2": true, "H3": true, "H4": true, "H5": true, "H6": true,
}

func (e *RawElement) visible() bool {
	if e.Display == "none" || e.Visibility == "hidden" || isZeroOpacity(e.Opacity) {
		return false
	}
	return e.Width != 0 && e.Height != 0
}

func isZeroOpacity(s string) bool {
	switch strings.TrimSpace(s) {
	case "0", "0.0", "0%":
		return true
	}
	return false
}

func (e *RawElement) meaningful() bool {
	if semanticTags[strings.ToUpper(e.Tag)] {
		return true
	}
	if e.Role != nil || e.AriaLabel != nil {
		return true
	}
	return strings.TrimSpace(e.Text) != ""
}

// Flatten converts the children of root into semantic nodes.
//
// Invisible and zero-area elements are skipped along with their subtrees.
// Meaningful elements (semantic tags, explicit role or aria-label, direct
// text) become nodes with rounded bounds and their meaningful descendants
// nested. Wrapper elements are dropped and their meaningful descendants
// take their place in the parent's list, keeping document order.
func Flatten(root RawElement) []model.SemanticNode {
	var out []model.SemanticNode
	for i := range root.Children {
		child := &root.Children[i]
		if !child.visible() {
			continue
		}

		nested := Flatten(*child)
		if !child.meaningful() {
			out = append(out, nested...)
			continue
		}

		node := model.SemanticNode{
			TagName: strings.ToLower(child.Tag),
			Text:    strings.TrimSpace(child.Text),
			Bounds: model.Rect{
				X:      round(child.X),
				Y:      round(child.Y),
				Width:  round(child.Width),
				Height: round(child.Height),
			},
			Children: nested,
		}
		if child.Role != nil {
			node.Role = *child.Role
		}
		if child.AriaLabel != nil {
			node.AriaLabel = *child.AriaLabel
		}
		out = append(out, node)
	}
	return out
}

// round matches the browser's Math.round: halves round up.
func round(f float64) int {
	return int(math.Floor(f + 0.5))
}

// CountNodes returns the number of nodes in a tree, including nested ones.
func CountNodes(nodes []model.SemanticNode) int {
	n := len(nodes)
	for _, node := range nodes {
		n += CountNodes(node.Children)
	}
	return n
}
