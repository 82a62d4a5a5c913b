package suite

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/timvw/sightcheck/internal/capture"
	"github.com/timvw/sightcheck/internal/ensemble"
	"github.com/timvw/sightcheck/internal/evaluator"
	"github.com/timvw/sightcheck/internal/model"
)

const sampleSuite = `
name: storefront
defaults:
  mode: strict-layout
  ensemble: 3
  ignore_regions:
    - {x: 0, y: 0, width: 100, height: 20}
checks:
  - name: hero
    current: shots/hero.png
    baseline: baselines/hero.png
  - name: cart
    current_url: http://shop.test/cart
    expect: The cart shows one item.
    mode: semantic-structure
    adaptive_threshold: 0.9
    max_runs: 5
  - current: /abs/footer.png
    baseline: known-bad/footer.png
    baseline_role: known-bad
    no_dom: true
`

func TestParse(t *testing.T) {
	s, err := Parse([]byte(sampleSuite))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if s.Name != "storefront" || len(s.Checks) != 3 {
		t.Fatalf("suite = %+v", s)
	}

	hero := s.Checks[0]
	if hero.Mode != "strict-layout" || hero.Ensemble != 3 || len(hero.IgnoreRegions) != 1 {
		t.Errorf("hero did not inherit defaults: %+v", hero)
	}

	cart := s.Checks[1]
	if cart.Mode != "semantic-structure" {
		t.Errorf("cart mode = %q, want override", cart.Mode)
	}
	if cart.Ensemble != 0 || cart.AdaptiveThreshold != 0.9 || cart.MaxRuns != 5 {
		t.Errorf("adaptive check must not inherit the fixed default: %+v", cart)
	}

	if s.Checks[2].Name != "check-3" {
		t.Errorf("unnamed check got name %q", s.Checks[2].Name)
	}
	if !s.NeedsBrowser() {
		t.Error("suite with current_url needs a browser")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "no checks", yaml: "name: x\n", want: "no checks"},
		{name: "bad yaml", yaml: "checks: [", want: "parsing suite"},
		{name: "no current", yaml: "checks:\n  - name: a\n", want: "current or current_url"},
		{name: "both currents", yaml: "checks:\n  - {current: a.png, current_url: http://x}\n", want: "mutually exclusive"},
		{name: "both baselines", yaml: "checks:\n  - {current: a.png, baseline: b.png, baseline_url: http://x}\n", want: "mutually exclusive"},
		{name: "bad mode", yaml: "checks:\n  - {current: a.png, mode: fuzzy}\n", want: "unknown mode"},
		{name: "bad role", yaml: "checks:\n  - {current: a.png, baseline_role: golden}\n", want: "unknown baseline role"},
		{name: "ensemble and adaptive", yaml: "checks:\n  - {current: a.png, ensemble: 3, adaptive_threshold: 0.8}\n", want: "mutually exclusive"},
		{name: "threshold too high", yaml: "checks:\n  - {current: a.png, adaptive_threshold: 1.5}\n", want: "threshold"},
		{name: "negative ensemble", yaml: "checks:\n  - {current: a.png, ensemble: -1}\n", want: ""},
		{name: "duplicate names", yaml: "checks:\n  - {name: a, current: a.png}\n  - {name: a, current: b.png}\n", want: "duplicate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadSetsDir(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "suite.yaml")
	if err := os.WriteFile(path, []byte(sampleSuite), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if s.Dir != dir {
		t.Errorf("Dir = %q, want %q", s.Dir, dir)
	}

	if _, err := Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing suite file")
	}
}

func TestCheckPolicy(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  ensemble.Policy
	}{
		{name: "unset", check: Check{}, want: nil},
		{name: "fixed", check: Check{Ensemble: 4}, want: ensemble.Fixed{Count: 4}},
		{name: "adaptive", check: Check{AdaptiveThreshold: 0.7, MaxRuns: 6}, want: ensemble.Adaptive{Threshold: 0.7, MaxRuns: 6}},
		{name: "adaptive default runs", check: Check{AdaptiveThreshold: 0.7}, want: ensemble.Adaptive{Threshold: 0.7, MaxRuns: 3}},
		{name: "adaptive with ensemble 1", check: Check{Ensemble: 1, AdaptiveThreshold: 0.7}, want: ensemble.Adaptive{Threshold: 0.7, MaxRuns: 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.check.Policy()
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Policy = %v, want %v", got, tt.want)
			}
		})
	}
}

type fakePage string

func (p fakePage) Target() string { return string(p) }

func TestCheckRequest(t *testing.T) {
	var opened, closed []string
	open := func(ctx context.Context, url string) (capture.Page, func(), error) {
		opened = append(opened, url)
		return fakePage(url), func() { closed = append(closed, url) }, nil
	}

	c := Check{
		CurrentURL:    "http://x.test",
		Baseline:      "base.png",
		BaselineRole:  "known-bad",
		Mode:          "regression",
		Expect:        "no overlap",
		IgnoreRegions: []model.Rect{{X: 1, Y: 1, Width: 2, Height: 2}},
		Ensemble:      2,
		NoDOM:         true,
		Provider:      "gemini",
	}
	req, release, err := c.Request(context.Background(), "/suites", open)
	if err != nil {
		t.Fatal(err)
	}

	page, ok := req.Current.(evaluator.LivePage)
	if !ok || page.Page.Target() != "http://x.test" {
		t.Errorf("current = %#v", req.Current)
	}
	file, ok := req.Baseline.(evaluator.ImageFile)
	if !ok || file.Path != filepath.Join("/suites", "base.png") {
		t.Errorf("baseline = %#v", req.Baseline)
	}
	if req.BaselineRole != model.BaselineKnownBad || req.Mode != model.ModeRegression {
		t.Errorf("role/mode = %q/%q", req.BaselineRole, req.Mode)
	}
	if req.Ensemble != (ensemble.Fixed{Count: 2}) || !req.DisableDOM || req.Provider != "gemini" {
		t.Errorf("request = %+v", req)
	}

	if len(closed) != 0 {
		t.Fatal("pages closed before release")
	}
	release()
	if len(opened) != 1 || len(closed) != 1 {
		t.Errorf("opened %v, closed %v", opened, closed)
	}
}

func TestCheckRequestWithoutBrowser(t *testing.T) {
	c := Check{CurrentURL: "http://x.test"}
	_, release, err := c.Request(context.Background(), "", nil)
	release()
	if !errors.Is(err, evaluator.ErrInvalidInput) {
		t.Errorf("error = %v, want ErrInvalidInput", err)
	}
}

func TestCheckRequestAbsolutePath(t *testing.T) {
	c := Check{Current: "/abs/shot.png"}
	req, release, err := c.Request(context.Background(), "/suites", nil)
	defer release()
	if err != nil {
		t.Fatal(err)
	}
	if req.Current.(evaluator.ImageFile).Path != "/abs/shot.png" || req.Baseline != nil {
		t.Errorf("request = %+v", req)
	}
}

// mockEvaluator answers by the current image path.
type mockEvaluator struct {
	verdicts map[string]model.Verdict
	errs     map[string]error
	delay    time.Duration

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
}

func (m *mockEvaluator) Evaluate(ctx context.Context, req evaluator.Request) (*model.Verdict, error) {
	m.calls.Add(1)
	n := m.inflight.Add(1)
	defer m.inflight.Add(-1)
	for {
		p := m.peak.Load()
		if n <= p || m.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(m.delay)

	key := req.Current.(evaluator.ImageFile).Path
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	v, ok := m.verdicts[key]
	if !ok {
		v = model.Verdict{Pass: true, Confidence: 1, Issues: []model.Issue{}}
	}
	return &v, nil
}

func TestRunner(t *testing.T) {
	s := &Suite{
		Name: "demo",
		Checks: []Check{
			{Name: "a", Current: "a.png"},
			{Name: "b", Current: "b.png"},
			{Name: "c", Current: "c.png"},
			{Name: "d", Current: "d.png"},
		},
	}
	ev := &mockEvaluator{
		verdicts: map[string]model.Verdict{
			"b.png": {Pass: false, Confidence: 0.9, Feedback: "broken", Issues: []model.Issue{}},
		},
		errs: map[string]error{"c.png": errors.New("no such file")},
	}
	var warn bytes.Buffer
	var mu sync.Mutex
	var streamed []string
	r := &Runner{
		Evaluator: ev,
		Parallel:  2,
		Warn:      &warn,
		OnResult: func(res Result) {
			mu.Lock()
			streamed = append(streamed, res.Name)
			mu.Unlock()
		},
	}

	report, err := r.Run(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if report.Passed != 2 || report.Failed != 1 || report.Errored != 1 || report.OK() {
		t.Errorf("report = %+v", report)
	}
	for i, want := range []string{"a", "b", "c", "d"} {
		if report.Results[i].Name != want {
			t.Errorf("results[%d] = %q, want %q (check order)", i, report.Results[i].Name, want)
		}
	}
	if report.Results[2].Error == "" || report.Results[2].Verdict != nil {
		t.Errorf("errored result = %+v", report.Results[2])
	}
	if !strings.Contains(warn.String(), "warning: check c:") {
		t.Errorf("warn = %q", warn.String())
	}
	if len(streamed) != 4 {
		t.Errorf("OnResult called %d times", len(streamed))
	}
}

func TestRunnerBoundsParallelism(t *testing.T) {
	var checks []Check
	for i := range 8 {
		checks = append(checks, Check{Name: string(rune('a' + i)), Current: string(rune('a'+i)) + ".png"})
	}
	ev := &mockEvaluator{delay: 20 * time.Millisecond}
	r := &Runner{Evaluator: ev, Parallel: 3, Warn: &bytes.Buffer{}}

	report, err := r.Run(context.Background(), &Suite{Checks: checks})
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK() || ev.calls.Load() != 8 {
		t.Errorf("report = %+v, calls = %d", report, ev.calls.Load())
	}
	if peak := ev.peak.Load(); peak > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", peak)
	}
}

func TestRunnerResolvesPathsAgainstDir(t *testing.T) {
	ev := &mockEvaluator{verdicts: map[string]model.Verdict{
		filepath.Join("/suites", "x.png"): {Pass: false, Issues: []model.Issue{}},
	}}
	r := &Runner{Evaluator: ev}
	report, err := r.Run(context.Background(), &Suite{Dir: "/suites", Checks: []Check{{Name: "x", Current: "x.png"}}})
	if err != nil {
		t.Fatal(err)
	}
	if report.Failed != 1 {
		t.Errorf("path was not resolved against the suite dir: %+v", report)
	}
}

func TestRunnerWithoutEvaluator(t *testing.T) {
	if _, err := (&Runner{}).Run(context.Background(), &Suite{Checks: []Check{{Current: "a.png"}}}); err == nil {
		t.Error("expected error")
	}
}
