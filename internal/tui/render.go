package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/timvw/sightcheck/internal/model"
	"github.com/timvw/sightcheck/internal/suite"
)

// DefaultWidth is used when the terminal width is unknown.
const DefaultWidth = 100

// Renderer formats verdicts for a terminal.
type Renderer struct {
	s     styles
	width int
}

// NewRenderer returns a Renderer that wraps text at width columns.
func NewRenderer(theme Theme, width int) *Renderer {
	if width <= 0 {
		width = DefaultWidth
	}
	return &Renderer{s: newStyles(theme), width: width}
}

// Verdict renders v as a multi-line block.
func (r *Renderer) Verdict(v model.Verdict) string {
	var lines []string

	lines = append(lines, r.badge(v.Pass)+" "+r.s.dim.Render(fmt.Sprintf("confidence %.2f", v.Confidence)))

	for _, l := range wrapText(v.Feedback, r.width) {
		lines = append(lines, r.s.text.Render(l))
	}

	if len(v.Issues) > 0 {
		lines = append(lines, "", r.s.title.Render(fmt.Sprintf("Issues (%d)", len(v.Issues))))
		for _, is := range v.Issues {
			lines = append(lines, r.issue(is)...)
		}
	}

	if t := r.telemetry(v); t != "" {
		lines = append(lines, r.s.rule.Render(strings.Repeat("─", min(r.width, 40))), r.s.dim.Render(t))
	}
	return strings.Join(lines, "\n")
}

// Report renders a suite report as one line per check plus a summary.
func (r *Renderer) Report(rep *suite.Report) string {
	nameWidth := 4
	for _, res := range rep.Results {
		nameWidth = max(nameWidth, lipgloss.Width(res.Name))
	}
	nameWidth = min(nameWidth, r.width/3)

	var lines []string
	if rep.Name != "" {
		lines = append(lines, r.s.title.Render(rep.Name))
	}
	for _, res := range rep.Results {
		name := padRight(r.s.name.Render(truncate(res.Name, nameWidth)), nameWidth)
		detailWidth := max(10, r.width-nameWidth-8)

		var badge, detail string
		switch {
		case res.Error != "":
			badge = r.s.err.Render("ERR ")
			detail = r.s.err.Render(truncate(res.Error, detailWidth))
		case res.Verdict != nil:
			badge = r.badge(res.Verdict.Pass)
			detail = r.s.dim.Render(truncate(fmt.Sprintf("%.2f  %s", res.Verdict.Confidence, res.Verdict.Feedback), detailWidth))
		}
		lines = append(lines, fmt.Sprintf("%s  %s  %s", badge, name, detail))
	}

	summary := fmt.Sprintf("%d passed, %d failed, %d errored", rep.Passed, rep.Failed, rep.Errored)
	if rep.OK() {
		summary = r.s.pass.Render(summary)
	} else {
		summary = r.s.fail.Render(summary)
	}
	lines = append(lines, "", summary)
	return strings.Join(lines, "\n")
}

// Nodes renders a semantic tree as an indented outline.
func (r *Renderer) Nodes(nodes []model.SemanticNode) string {
	var b strings.Builder
	var walk func(ns []model.SemanticNode, depth int)
	walk = func(ns []model.SemanticNode, depth int) {
		for _, n := range ns {
			b.WriteString(strings.Repeat("  ", depth))
			b.WriteString(r.s.name.Render(strings.ToLower(n.TagName)))
			if n.Role != "" {
				b.WriteString(r.s.dim.Render(" role=" + n.Role))
			}
			if n.AriaLabel != "" {
				b.WriteString(r.s.dim.Render(fmt.Sprintf(" aria-label=%q", n.AriaLabel)))
			}
			if n.Text != "" {
				b.WriteString(" " + r.s.text.Render(fmt.Sprintf("%q", truncate(n.Text, 60))))
			}
			b.WriteString(r.s.dim.Render(" [" + n.Bounds.String() + "]"))
			b.WriteString("\n")
			walk(n.Children, depth+1)
		}
	}
	walk(nodes, 0)
	return strings.TrimRight(b.String(), "\n")
}

func (r *Renderer) badge(pass bool) string {
	if pass {
		return r.s.pass.Render("PASS")
	}
	return r.s.fail.Render("FAIL")
}

func (r *Renderer) issue(is model.Issue) []string {
	sev := r.severity(is.Severity)
	head := fmt.Sprintf("  %s %s", sev.Render(fmt.Sprintf("[%s]", is.Severity)), r.s.kind.Render(string(is.Type)))
	if is.Region != nil {
		loc := fmt.Sprintf(" @ %d,%d %dx%d", is.Region.X, is.Region.Y, is.Region.Width, is.Region.Height)
		if is.Region.Source != "" {
			loc += " (" + is.Region.Source + ")"
		}
		head += r.s.dim.Render(loc)
	}
	lines := []string{head}
	for _, l := range wrapText(is.Description, r.width-4) {
		lines = append(lines, "    "+r.s.text.Render(l))
	}
	return lines
}

func (r *Renderer) severity(s model.Severity) lipgloss.Style {
	switch s {
	case model.SeverityHigh:
		return r.s.high
	case model.SeverityMedium:
		return r.s.medium
	default:
		return r.s.low
	}
}

func (r *Renderer) telemetry(v model.Verdict) string {
	var parts []string
	if v.LatencyMs > 0 {
		parts = append(parts, "latency "+formatMillis(v.LatencyMs))
	}
	if b := v.LatencyBreakdown; b != nil {
		parts = append(parts, fmt.Sprintf("capture %s, dom %s, vlm %s",
			formatMillis(b.Capture), formatMillis(b.DOMExtraction), formatMillis(b.VLMInference)))
	}
	if v.EstimatedCostUSD != nil {
		parts = append(parts, fmt.Sprintf("cost $%.4f", *v.EstimatedCostUSD))
	}
	if n := len(v.DOMContext); n > 0 {
		parts = append(parts, fmt.Sprintf("%d dom nodes", n))
	}
	return strings.Join(parts, " · ")
}

// formatMillis formats a duration in milliseconds for display (e.g., "1.2s").
func formatMillis(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	if ms < 60000 {
		return fmt.Sprintf("%.1fs", float64(ms)/1000)
	}
	return fmt.Sprintf("%dm%02ds", ms/60000, (ms%60000)/1000)
}

// truncate cuts a string to at most maxLen runes.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

// wrapText wraps a string into lines of at most maxLen characters, breaking at spaces.
func wrapText(s string, maxLen int) []string {
	if s == "" {
		return nil
	}
	if maxLen <= 0 {
		return []string{s}
	}
	var lines []string
	for len(s) > 0 {
		if len(s) <= maxLen {
			lines = append(lines, s)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(s[:maxLen], " "); idx > 0 {
			cut = idx
		}
		lines = append(lines, s[:cut])
		s = strings.TrimLeft(s[cut:], " ")
	}
	return lines
}

// padRight pads a string with spaces to reach the desired visible width.
func padRight(s string, width int) string {
	visible := lipgloss.Width(s)
	if visible >= width {
		return s
	}
	return s + strings.Repeat(" ", width-visible)
}
