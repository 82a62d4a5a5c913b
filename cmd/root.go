package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/timvw/sightcheck/internal/capture"
	"github.com/timvw/sightcheck/internal/config"
	telem "github.com/timvw/sightcheck/internal/otel"
)

var (
	// Global flags.
	flagProvider   string
	flagModel      string
	flagBaseURL    string
	flagAPIKey     string
	flagMaxTokens  int64
	flagConfig     string
	flagTheme      string
	flagChromeURL  string
	flagChromePath string
	flagViewport   string
	flagSettle     time.Duration
)

// errFailed signals a failing verdict or suite. The result has already
// been reported, so Execute only sets the exit code.
var errFailed = errors.New("check failed")

var rootCmd = &cobra.Command{
	Use:   "sightcheck",
	Short: "Visual regression checks judged by a vision-language model",
	Long: `sightcheck asks a vision-language model whether a screenshot looks right.

It compares a screenshot against a baseline (or a plain-language expectation),
optionally with the semantic layout of a live page, and returns a structured
pass/fail verdict with typed issues.

All visual judgment is made by the model. Go code only captures pages,
builds the prompt and aggregates verdicts.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagProvider, "provider", "", "VLM provider: claude, openai, gemini, qwen, mistral, openrouter, local (default from config)")
	pf.StringVar(&flagModel, "model", "", "model name (default depends on the provider)")
	pf.StringVar(&flagBaseURL, "base-url", "", "override provider API base URL")
	pf.StringVar(&flagAPIKey, "api-key", "", "override provider API key")
	pf.Int64Var(&flagMaxTokens, "max-tokens", 0, "max completion tokens (default: 4096)")
	pf.StringVar(&flagConfig, "config", "", "config file (default: .sightcheck.yaml or ~/.config/sightcheck/config.yaml)")
	pf.StringVar(&flagTheme, "theme", "dark", "color theme: dark, light")
	pf.StringVar(&flagChromeURL, "chrome-url", os.Getenv("SIGHTCHECK_CHROME_URL"), "DevTools websocket of a running browser (default: launch headless Chrome)")
	pf.StringVar(&flagChromePath, "chrome-path", "", "Chrome binary to launch")
	pf.StringVar(&flagViewport, "viewport", "1280x800", "browser viewport as WIDTHxHEIGHT")
	pf.DurationVar(&flagSettle, "settle", 0, "extra wait after page load before capturing")
}

// loadConfig builds the effective configuration: defaults, environment,
// config file, then global flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
	}

	name := flagProvider
	if name == "" {
		name = cfg.DefaultProvider
	}
	overlay := &config.Config{
		DefaultProvider: name,
		MaxTokens:       flagMaxTokens,
		Providers: map[string]config.ProviderConfig{
			name: {APIKey: flagAPIKey, BaseURL: flagBaseURL, Model: flagModel},
		},
	}
	cfg = config.Merge(cfg, overlay)
	if err := cfg.Finalize(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// initTelemetry starts OTEL exporters. Failures only produce a warning.
func initTelemetry(ctx context.Context, cfg *config.Config) *telem.Telemetry {
	telem.Version = Version
	tel, err := telem.Init(ctx, telem.Config{
		Endpoint:        cfg.OTELEndpoint,
		Headers:         cfg.OTELHeaders,
		DefaultProvider: cfg.DefaultProvider,
		Model:           cfg.Provider(cfg.DefaultProvider).Model,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
		return nil
	}
	return tel
}

func metricsOf(tel *telem.Telemetry) *telem.Metrics {
	if tel == nil {
		return nil
	}
	return tel.Metrics
}

// startBrowser launches or connects to Chrome using the global flags.
func startBrowser(ctx context.Context) (*capture.Chrome, error) {
	w, h, err := parseViewport(flagViewport)
	if err != nil {
		return nil, err
	}
	chrome, err := capture.NewChrome(ctx, capture.ChromeOptions{
		RemoteURL: flagChromeURL,
		ExecPath:  flagChromePath,
		Width:     w,
		Height:    h,
		Settle:    flagSettle,
	})
	if err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}
	return chrome, nil
}

// pageOpener adapts a browser to the suite page opener signature.
func pageOpener(chrome *capture.Chrome) func(ctx context.Context, url string) (capture.Page, func(), error) {
	return func(ctx context.Context, url string) (capture.Page, func(), error) {
		page, err := chrome.Open(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		return page, page.Close, nil
	}
}

// parseViewport parses "1280x800".
func parseViewport(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid viewport %q: want WIDTHxHEIGHT", s)
	}
	w, err := strconv.Atoi(strings.TrimSpace(ws))
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport width in %q", s)
	}
	h, err := strconv.Atoi(strings.TrimSpace(hs))
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("invalid viewport height in %q", s)
	}
	return w, h, nil
}
