package capture

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/timvw/sightcheck/internal/model"
)

//go:embed snapshot.js
var snapshotScript string

// ChromeOptions configures the headless browser.
type ChromeOptions struct {
	// RemoteURL connects to an already running browser's DevTools
	// websocket instead of launching one (e.g. "ws://127.0.0.1:9222").
	RemoteURL string
	// ExecPath overrides the Chrome binary.
	ExecPath string
	// Width and Height set the viewport. Zero means 1280x800.
	Width  int
	Height int
	// Settle is an extra wait after the page is ready, for animations
	// and late layout.
	Settle time.Duration
}

// Chrome is a Capturer backed by a headless Chrome via the DevTools protocol.
type Chrome struct {
	opts          ChromeOptions
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
}

// NewChrome starts (or connects to) a browser. Call Close when done.
func NewChrome(ctx context.Context, opts ChromeOptions) (*Chrome, error) {
	if opts.Width <= 0 {
		opts.Width = 1280
	}
	if opts.Height <= 0 {
		opts.Height = 800
	}

	var allocCtx context.Context
	var allocCancel context.CancelFunc
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.WithoutCancel(ctx), opts.RemoteURL)
	} else {
		execOpts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(opts.Width, opts.Height),
		)
		if opts.ExecPath != "" {
			execOpts = append(execOpts, chromedp.ExecPath(opts.ExecPath))
		}
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.WithoutCancel(ctx), execOpts...)
	}

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	// The first Run on a fresh context starts the browser and ties its
	// lifetime to browserCtx, so it must not run on a derived context.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting browser: %w", err)
	}

	return &Chrome{
		opts:          opts,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
	}, nil
}

// Close shuts down the browser.
func (c *Chrome) Close() {
	c.browserCancel()
	c.allocCancel()
}

// ChromePage is an open browser tab.
type ChromePage struct {
	url    string
	ctx    context.Context
	cancel context.CancelFunc
}

// Target returns the page URL.
func (p *ChromePage) Target() string {
	return p.url
}

// Close closes the tab.
func (p *ChromePage) Close() {
	p.cancel()
}

// Open navigates a new tab to url and waits for the body to be ready.
func (c *Chrome) Open(ctx context.Context, url string) (*ChromePage, error) {
	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}

	actions := []chromedp.Action{
		chromedp.EmulateViewport(int64(c.opts.Width), int64(c.opts.Height)),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	}
	if c.opts.Settle > 0 {
		actions = append(actions, chromedp.Sleep(c.opts.Settle))
	}
	if err := runWithin(ctx, tabCtx, actions...); err != nil {
		cancel()
		return nil, fmt.Errorf("opening %s: %w", url, err)
	}
	return &ChromePage{url: url, ctx: tabCtx, cancel: cancel}, nil
}

// CaptureScreenshot takes a full-page PNG screenshot of an open tab.
func (c *Chrome) CaptureScreenshot(ctx context.Context, page Page) ([]byte, error) {
	p, err := chromePage(page)
	if err != nil {
		return nil, err
	}
	var buf []byte
	// Quality 100 produces PNG; anything lower is JPEG.
	if err := runWithin(ctx, p.ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("capturing screenshot of %s: %w", p.url, err)
	}
	return buf, nil
}

// ExtractSemanticTree snapshots the DOM of an open tab and reduces it to
// its meaningful visible elements.
func (c *Chrome) ExtractSemanticTree(ctx context.Context, page Page) ([]model.SemanticNode, error) {
	p, err := chromePage(page)
	if err != nil {
		return nil, err
	}
	var root RawElement
	if err := runWithin(ctx, p.ctx, chromedp.Evaluate(snapshotScript, &root)); err != nil {
		return nil, fmt.Errorf("extracting DOM of %s: %w", p.url, err)
	}
	return Flatten(root), nil
}

func chromePage(page Page) (*ChromePage, error) {
	p, ok := page.(*ChromePage)
	if !ok || p == nil {
		return nil, fmt.Errorf("chrome capturer cannot handle page of type %T", page)
	}
	return p, nil
}

// runWithin runs actions on the tab bound to tabCtx, stopping early when
// ctx is cancelled. Cancelling the derived context aborts the actions but
// keeps the tab open.
func runWithin(ctx context.Context, tabCtx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

var _ Capturer = (*Chrome)(nil)
