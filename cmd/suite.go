package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/timvw/sightcheck/internal/evaluator"
	"github.com/timvw/sightcheck/internal/provider"
	"github.com/timvw/sightcheck/internal/suite"
	"github.com/timvw/sightcheck/internal/tui"
)

var (
	flagSuiteParallel int
	flagSuiteJSON     bool
	flagSuiteProgress bool
)

var suiteCmd = &cobra.Command{
	Use:   "suite <file>",
	Short: "Run a YAML suite of visual checks",
	Long: `Run every check of a YAML suite file and report the verdicts.

Checks run concurrently (--parallel, default from config). Relative image
paths resolve against the directory of the suite file. A check that cannot
run is reported as an error and does not stop the others.

Exit status is 0 when every check passes and 1 otherwise.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSuite(cmd.Context(), args[0], cmd.OutOrStdout())
	},
}

func init() {
	suiteCmd.Flags().IntVar(&flagSuiteParallel, "parallel", 0, "checks to run concurrently (default from config)")
	suiteCmd.Flags().BoolVar(&flagSuiteJSON, "json", false, "print the report as JSON")
	suiteCmd.Flags().BoolVar(&flagSuiteProgress, "progress", false, "show a spinner while checks run")
	rootCmd.AddCommand(suiteCmd)
}

func runSuite(ctx context.Context, path string, out io.Writer) error {
	s, err := suite.Load(path)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if _, err := provider.SpecFor(cfg.DefaultProvider, cfg); err != nil {
		return err
	}

	tel := initTelemetry(ctx, cfg)
	defer tel.Shutdown(context.WithoutCancel(ctx))

	ev := evaluator.New(cfg)
	ev.Metrics = metricsOf(tel)

	parallel := flagSuiteParallel
	if parallel <= 0 {
		parallel = cfg.Parallel
	}
	runner := &suite.Runner{
		Evaluator: ev,
		Parallel:  parallel,
		Metrics:   ev.Metrics,
	}

	if s.NeedsBrowser() {
		chrome, err := startBrowser(ctx)
		if err != nil {
			return err
		}
		defer chrome.Close()
		ev.Capturer = chrome
		runner.Open = pageOpener(chrome)
	}

	var report *suite.Report
	if flagSuiteProgress {
		report, err = tui.RunProgress(ctx, tui.ProgressOptions{
			Title:  "Running " + path,
			Total:  len(s.Checks),
			Theme:  tui.ThemeByName(flagTheme),
			Output: os.Stderr,
		}, func(ctx context.Context, step func(string)) (*suite.Report, error) {
			runner.OnResult = func(res suite.Result) {
				status := "error"
				if res.Verdict != nil {
					status = passLabel(res.Verdict.Pass)
				}
				step(fmt.Sprintf("%s: %s", res.Name, status))
			}
			return runner.Run(ctx, s)
		})
	} else {
		report, err = runner.Run(ctx, s)
	}
	if err != nil {
		return err
	}

	if flagSuiteJSON {
		writeJSON(out, report)
	} else {
		fmt.Fprintln(out, tui.NewRenderer(tui.ThemeByName(flagTheme), tui.DefaultWidth).Report(report))
	}
	if !report.OK() {
		return errFailed
	}
	return nil
}
