// Package capture takes screenshots of live web pages and extracts a
// compact semantic layout tree from them.
//
// This package is pure transport. It reports what the browser renders and
// where, without judging whether any of it is correct.
package capture

import (
	"context"

	"github.com/timvw/sightcheck/internal/model"
)

// Page is a live page handle owned by a Capturer implementation.
type Page interface {
	// Target returns the page address, for logs and error messages.
	Target() string
}

// Capturer abstracts browser operations on a live page.
type Capturer interface {
	// CaptureScreenshot returns a full-page PNG screenshot.
	CaptureScreenshot(ctx context.Context, page Page) ([]byte, error)

	// ExtractSemanticTree returns the meaningful visible elements of the page.
	ExtractSemanticTree(ctx context.Context, page Page) ([]model.SemanticNode, error)
}
