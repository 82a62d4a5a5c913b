package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sightcheck/internal/ensemble"
	"github.com/timvw/sightcheck/internal/evaluator"
	"github.com/timvw/sightcheck/internal/model"
	"github.com/timvw/sightcheck/internal/provider"
	"github.com/timvw/sightcheck/internal/suite"
	"github.com/timvw/sightcheck/internal/tui"
)

var (
	flagCurrent           string
	flagCurrentURL        string
	flagBaseline          string
	flagBaselineURL       string
	flagBaselineRole      string
	flagExpect            string
	flagMode              string
	flagEnsemble          int
	flagAdaptiveThreshold float64
	flagMaxRuns           int
	flagIgnoreRegions     []string
	flagDownscale         bool
	flagNoDownscale       bool
	flagNoDOM             bool
	flagJSON              bool
	flagProgress          bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Judge one screenshot or live page",
	Long: `Ask the configured vision-language model whether a screenshot looks right.

The current image comes from a PNG file (--current) or a live page
(--current-url). An optional baseline is compared against it: an anchor
baseline is the desired state, a known-bad baseline shows a defect that
must not reappear. Without a baseline the model judges the image against
--expect.

Exit status is 0 when the verdict passes and 1 when it fails or the
check could not run.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		err := runCheck(cmd.Context(), cmd.OutOrStdout())
		if err != nil && flagJSON && !errors.Is(err, errFailed) {
			writeJSON(cmd.OutOrStdout(), map[string]string{"error": err.Error()})
			return errFailed
		}
		return err
	},
}

func init() {
	f := checkCmd.Flags()
	f.StringVar(&flagCurrent, "current", "", "PNG file to judge")
	f.StringVar(&flagCurrentURL, "current-url", "", "live page to capture and judge")
	f.StringVar(&flagBaseline, "baseline", "", "reference PNG file")
	f.StringVar(&flagBaselineURL, "baseline-url", "", "live reference page")
	f.StringVar(&flagBaselineRole, "baseline-role", "anchor", "what the baseline shows: anchor, known-bad")
	f.StringVar(&flagExpect, "expect", "", "plain-language expectation")
	f.StringVar(&flagMode, "mode", "semantic-structure", "comparison mode: semantic-structure, strict-layout, regression")
	f.IntVar(&flagEnsemble, "ensemble", 0, "number of independent judgments (default from config)")
	f.Float64Var(&flagAdaptiveThreshold, "adaptive-threshold", 0, "escalate to more judgments when the first is below this confidence")
	f.IntVar(&flagMaxRuns, "max-runs", 0, "maximum judgments for adaptive escalation (default: 3)")
	f.StringArrayVar(&flagIgnoreRegions, "ignore-region", nil, "region to ignore as x,y,width,height (repeatable)")
	f.BoolVar(&flagDownscale, "downscale", false, "always downscale images before sending")
	f.BoolVar(&flagNoDownscale, "no-downscale", false, "never downscale images")
	f.BoolVar(&flagNoDOM, "no-dom", false, "do not extract the semantic tree of a live page")
	f.BoolVar(&flagJSON, "json", false, "print the verdict as JSON")
	f.BoolVar(&flagProgress, "progress", false, "show a spinner while the model is judging")

	checkCmd.MarkFlagsMutuallyExclusive("current", "current-url")
	checkCmd.MarkFlagsMutuallyExclusive("baseline", "baseline-url")
	checkCmd.MarkFlagsMutuallyExclusive("downscale", "no-downscale")
	checkCmd.MarkFlagsMutuallyExclusive("ensemble", "adaptive-threshold")
	checkCmd.MarkFlagsOneRequired("current", "current-url")
	rootCmd.AddCommand(checkCmd)
}

// checkFromFlags describes the command line as a suite check.
func checkFromFlags() (suite.Check, error) {
	c := suite.Check{
		Name:              "check",
		Current:           flagCurrent,
		CurrentURL:        flagCurrentURL,
		Baseline:          flagBaseline,
		BaselineURL:       flagBaselineURL,
		BaselineRole:      flagBaselineRole,
		Mode:              flagMode,
		Expect:            flagExpect,
		Ensemble:          flagEnsemble,
		AdaptiveThreshold: flagAdaptiveThreshold,
		MaxRuns:           flagMaxRuns,
		NoDOM:             flagNoDOM,
	}
	for _, s := range flagIgnoreRegions {
		r, err := model.ParseRect(s)
		if err != nil {
			return suite.Check{}, err
		}
		c.IgnoreRegions = append(c.IgnoreRegions, r)
	}
	switch {
	case flagDownscale:
		on := true
		c.Downscale = &on
	case flagNoDownscale:
		off := false
		c.Downscale = &off
	}
	if err := c.Validate(); err != nil {
		return suite.Check{}, err
	}
	return c, nil
}

func runCheck(ctx context.Context, out io.Writer) error {
	check, err := checkFromFlags()
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Fail on missing credentials before launching a browser.
	if _, err := provider.SpecFor(cfg.DefaultProvider, cfg); err != nil {
		return err
	}

	tel := initTelemetry(ctx, cfg)
	defer tel.Shutdown(context.WithoutCancel(ctx))

	ev := evaluator.New(cfg)
	ev.Metrics = metricsOf(tel)

	var open suite.OpenFunc
	if check.CurrentURL != "" || check.BaselineURL != "" {
		chrome, err := startBrowser(ctx)
		if err != nil {
			return err
		}
		defer chrome.Close()
		ev.Capturer = chrome
		open = pageOpener(chrome)
	}

	req, release, err := check.Request(ctx, "", open)
	defer release()
	if err != nil {
		return err
	}

	var verdict *model.Verdict
	if flagProgress {
		total := 0
		if req.Ensemble != nil {
			total = ensemble.MaxCalls(req.Ensemble)
		}
		verdict, err = tui.RunProgress(ctx, tui.ProgressOptions{
			Title:  "Judging " + check.Target(),
			Total:  total,
			Theme:  tui.ThemeByName(flagTheme),
			Output: os.Stderr,
		}, func(ctx context.Context, step func(string)) (*model.Verdict, error) {
			ev.Observer = func(completed int, v model.Verdict) {
				step(fmt.Sprintf("run %d: %s %.2f", completed, passLabel(v.Pass), v.Confidence))
			}
			return ev.Evaluate(ctx, req)
		})
	} else {
		verdict, err = ev.Evaluate(ctx, req)
	}
	if err != nil {
		return err
	}

	if flagJSON {
		writeJSON(out, verdict)
	} else {
		fmt.Fprintln(out, tui.NewRenderer(tui.ThemeByName(flagTheme), tui.DefaultWidth).Verdict(*verdict))
	}
	if !verdict.Pass {
		return errFailed
	}
	return nil
}

func passLabel(pass bool) string {
	if pass {
		return "pass"
	}
	return "fail"
}

func writeJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "warning: encoding JSON: %v\n", err)
	}
}
