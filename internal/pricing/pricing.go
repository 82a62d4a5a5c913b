// Package pricing estimates the cost of a provider call from its token usage.
//
// Rates live in prices.yaml, embedded at compile time. Callers that need
// different rates (tests, negotiated pricing) build their own Table.
package pricing

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/timvw/sightcheck/internal/model"
)

//go:embed prices.yaml
var defaultData []byte

// Rate is a price in USD per one million tokens.
type Rate struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// Table maps model ids to rates. Fallback applies to unknown models.
type Table struct {
	Version  string          `yaml:"version"`
	Fallback Rate            `yaml:"fallback"`
	Models   map[string]Rate `yaml:"models"`
}

// Parse decodes a price table from YAML.
func Parse(data []byte) (*Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parsing price table: %w", err)
	}
	if t.Version == "" {
		return nil, fmt.Errorf("price table has no version")
	}
	for name, r := range t.Models {
		if r.Input < 0 || r.Output < 0 {
			return nil, fmt.Errorf("price table: negative rate for %q", name)
		}
	}
	return &t, nil
}

var defaultTable = sync.OnceValue(func() *Table {
	t, err := Parse(defaultData)
	if err != nil {
		panic(err)
	}
	return t
})

// Default returns the built-in price table.
func Default() *Table {
	return defaultTable()
}

// Lookup finds the rate for modelID. Provider prefixes such as
// "anthropic/" are ignored, then the longest table key that is equal to
// or a prefix of the id wins.
func (t *Table) Lookup(modelID string) (Rate, bool) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return t.Fallback, false
	}
	if r, ok := t.Models[id]; ok {
		return r, true
	}

	best := ""
	for key := range t.Models {
		if strings.HasPrefix(id, key) && len(key) > len(best) {
			best = key
		}
	}
	if best == "" {
		return t.Fallback, false
	}
	return t.Models[best], true
}

// Estimate returns the USD cost of usage for modelID.
func (t *Table) Estimate(modelID string, usage model.TokenUsage) float64 {
	r, _ := t.Lookup(modelID)
	return (float64(usage.PromptTokens)*r.Input + float64(usage.CompletionTokens)*r.Output) / 1_000_000
}
