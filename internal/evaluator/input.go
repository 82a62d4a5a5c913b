package evaluator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/timvw/sightcheck/internal/capture"
	"github.com/timvw/sightcheck/internal/model"
)

// ErrInvalidInput is returned when a request's images cannot be resolved.
var ErrInvalidInput = errors.New("invalid input")

// Input is an image source. The only implementations are StaticImage,
// ImageFile and LivePage.
type Input interface {
	isInput()
}

// StaticImage is PNG data already in memory.
type StaticImage struct {
	Data []byte
}

// ImageFile is a PNG on disk.
type ImageFile struct {
	Path string
}

// LivePage is a browser page captured at evaluation time.
type LivePage struct {
	Page capture.Page
}

func (StaticImage) isInput() {}
func (ImageFile) isInput()   {}
func (LivePage) isInput()    {}

// resolved is an input turned into bytes, with the time it took.
type resolved struct {
	data      []byte
	dom       []model.SemanticNode
	captureMs int64
	domMs     int64
}

// resolve loads in. The semantic tree is only extracted when withDOM is
// set and in is a live page.
func (e *Evaluator) resolve(ctx context.Context, name string, in Input, withDOM bool) (*resolved, error) {
	switch in := in.(type) {
	case StaticImage:
		if len(in.Data) == 0 {
			return nil, fmt.Errorf("%w: %s image is empty", ErrInvalidInput, name)
		}
		return &resolved{data: in.Data}, nil

	case ImageFile:
		if in.Path == "" {
			return nil, fmt.Errorf("%w: %s image path is empty", ErrInvalidInput, name)
		}
		start := time.Now()
		data, err := os.ReadFile(in.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: unable to read %s image %s: %v", ErrInvalidInput, name, in.Path, err)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: %s image %s is empty", ErrInvalidInput, name, in.Path)
		}
		return &resolved{data: data, captureMs: time.Since(start).Milliseconds()}, nil

	case LivePage:
		if in.Page == nil {
			return nil, fmt.Errorf("%w: %s page is nil", ErrInvalidInput, name)
		}
		if e.Capturer == nil {
			return nil, fmt.Errorf("%w: %s is a live page but no page capturer is configured", ErrInvalidInput, name)
		}
		r := &resolved{}

		start := time.Now()
		data, err := e.Capturer.CaptureScreenshot(ctx, in.Page)
		if err != nil {
			return nil, fmt.Errorf("capturing %s page %s: %w", name, in.Page.Target(), err)
		}
		r.data = data
		r.captureMs = time.Since(start).Milliseconds()

		if withDOM {
			start = time.Now()
			nodes, err := e.Capturer.ExtractSemanticTree(ctx, in.Page)
			if err != nil {
				return nil, fmt.Errorf("extracting semantic tree of %s: %w", in.Page.Target(), err)
			}
			r.dom = nodes
			r.domMs = time.Since(start).Milliseconds()
		}
		return r, nil

	case nil:
		return nil, fmt.Errorf("%w: %s image is required", ErrInvalidInput, name)

	default:
		return nil, fmt.Errorf("%w: unsupported %s input %T", ErrInvalidInput, name, in)
	}
}
