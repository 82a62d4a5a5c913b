// Package suite loads YAML files describing batches of visual checks and
// runs them concurrently.
package suite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/timvw/sightcheck/internal/capture"
	"github.com/timvw/sightcheck/internal/ensemble"
	"github.com/timvw/sightcheck/internal/evaluator"
	"github.com/timvw/sightcheck/internal/model"
)

// Suite is a named list of checks.
type Suite struct {
	Name     string  `yaml:"name"`
	Defaults Check   `yaml:"defaults"`
	Checks   []Check `yaml:"checks"`

	// Dir resolves relative image paths. Set by Load.
	Dir string `yaml:"-"`
}

// Check is one visual check. Either Current or CurrentURL must be set;
// Baseline and BaselineURL are mutually exclusive.
type Check struct {
	Name string `yaml:"name"`

	Current     string `yaml:"current"`
	CurrentURL  string `yaml:"current_url"`
	Baseline    string `yaml:"baseline"`
	BaselineURL string `yaml:"baseline_url"`

	BaselineRole  string       `yaml:"baseline_role"`
	Mode          string       `yaml:"mode"`
	Expect        string       `yaml:"expect"`
	IgnoreRegions []model.Rect `yaml:"ignore_regions"`

	Ensemble          int     `yaml:"ensemble"`
	AdaptiveThreshold float64 `yaml:"adaptive_threshold"`
	MaxRuns           int     `yaml:"max_runs"`

	Downscale *bool  `yaml:"downscale"`
	NoDOM     bool   `yaml:"no_dom"`
	Provider  string `yaml:"provider"`
	Model     string `yaml:"model"`
}

// Target returns the page address or file path being checked.
func (c Check) Target() string {
	if c.CurrentURL != "" {
		return c.CurrentURL
	}
	return c.Current
}

// OpenFunc opens a live page for url. The returned func releases it.
type OpenFunc func(ctx context.Context, url string) (capture.Page, func(), error)

// Load reads and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Dir = filepath.Dir(path)
	return s, nil
}

// Parse decodes and validates a suite. Defaults are applied to every check.
func Parse(data []byte) (*Suite, error) {
	var s Suite
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing suite: %w", err)
	}
	if len(s.Checks) == 0 {
		return nil, errors.New("suite has no checks")
	}

	seen := map[string]bool{}
	for i := range s.Checks {
		c := withDefaults(s.Checks[i], s.Defaults)
		if c.Name == "" {
			c.Name = fmt.Sprintf("check-%d", i+1)
		}
		if seen[c.Name] {
			return nil, fmt.Errorf("duplicate check name %q", c.Name)
		}
		seen[c.Name] = true
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		s.Checks[i] = c
	}
	return &s, nil
}

// withDefaults fills the unset fields of c from d. Image sources are never
// inherited.
func withDefaults(c, d Check) Check {
	if c.BaselineRole == "" {
		c.BaselineRole = d.BaselineRole
	}
	if c.Mode == "" {
		c.Mode = d.Mode
	}
	if c.Expect == "" {
		c.Expect = d.Expect
	}
	if len(c.IgnoreRegions) == 0 {
		c.IgnoreRegions = d.IgnoreRegions
	}
	if c.Ensemble == 0 && c.AdaptiveThreshold == 0 {
		c.Ensemble = d.Ensemble
		c.AdaptiveThreshold = d.AdaptiveThreshold
		c.MaxRuns = d.MaxRuns
	}
	if c.Downscale == nil {
		c.Downscale = d.Downscale
	}
	if !c.NoDOM {
		c.NoDOM = d.NoDOM
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Model == "" {
		c.Model = d.Model
	}
	return c
}

// Validate checks c without touching the filesystem or network.
func (c Check) Validate() error {
	switch {
	case c.Current == "" && c.CurrentURL == "":
		return errors.New("current or current_url is required")
	case c.Current != "" && c.CurrentURL != "":
		return errors.New("current and current_url are mutually exclusive")
	case c.Baseline != "" && c.BaselineURL != "":
		return errors.New("baseline and baseline_url are mutually exclusive")
	}
	if _, err := model.ParseMode(c.Mode); err != nil {
		return err
	}
	if _, err := model.ParseBaselineRole(c.BaselineRole); err != nil {
		return err
	}
	if p, err := c.Policy(); err != nil {
		return err
	} else if p != nil {
		if err := p.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Policy returns the ensemble policy of c, or nil to use the configured one.
func (c Check) Policy() (ensemble.Policy, error) {
	if c.AdaptiveThreshold > 0 {
		if c.Ensemble > 1 {
			return nil, errors.New("ensemble and adaptive_threshold are mutually exclusive")
		}
		maxRuns := c.MaxRuns
		if maxRuns == 0 {
			maxRuns = 3
		}
		return ensemble.Adaptive{Threshold: c.AdaptiveThreshold, MaxRuns: maxRuns}, nil
	}
	if c.Ensemble != 0 {
		return ensemble.Fixed{Count: c.Ensemble}, nil
	}
	return nil, nil
}

// Request turns c into an evaluator request. Relative paths resolve
// against dir. Live pages are opened with open; the returned func closes
// them and must be called once the request has been evaluated.
func (c Check) Request(ctx context.Context, dir string, open OpenFunc) (evaluator.Request, func(), error) {
	var closers []func()
	release := func() {
		for _, fn := range closers {
			fn()
		}
	}

	source := func(path, url string) (evaluator.Input, error) {
		switch {
		case url != "":
			if open == nil {
				return nil, fmt.Errorf("%w: %s needs a browser", evaluator.ErrInvalidInput, url)
			}
			page, closePage, err := open(ctx, url)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", url, err)
			}
			if closePage != nil {
				closers = append(closers, closePage)
			}
			return evaluator.LivePage{Page: page}, nil
		case path != "":
			if dir != "" && !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
			return evaluator.ImageFile{Path: path}, nil
		default:
			return nil, nil
		}
	}

	policy, err := c.Policy()
	if err != nil {
		return evaluator.Request{}, release, err
	}
	mode, err := model.ParseMode(c.Mode)
	if err != nil {
		return evaluator.Request{}, release, err
	}
	role, err := model.ParseBaselineRole(c.BaselineRole)
	if err != nil {
		return evaluator.Request{}, release, err
	}

	req := evaluator.Request{
		BaselineRole:  role,
		Mode:          mode,
		Expect:        c.Expect,
		IgnoreRegions: c.IgnoreRegions,
		Ensemble:      policy,
		AutoDownscale: c.Downscale,
		Provider:      c.Provider,
		Model:         c.Model,
		DisableDOM:    c.NoDOM,
	}

	if req.Current, err = source(c.Current, c.CurrentURL); err != nil {
		return evaluator.Request{}, release, err
	}
	if req.Baseline, err = source(c.Baseline, c.BaselineURL); err != nil {
		return evaluator.Request{}, release, err
	}
	return req, release, nil
}

// NeedsBrowser reports whether any check of s uses a live page.
func (s *Suite) NeedsBrowser() bool {
	for _, c := range s.Checks {
		if c.CurrentURL != "" || c.BaselineURL != "" {
			return true
		}
	}
	return false
}
