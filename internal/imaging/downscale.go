// Package imaging shrinks screenshots before they are sent to a model.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"golang.org/x/image/draw"
)

// Downscale resizes a PNG so that its longest edge is at most maxDim,
// keeping the aspect ratio. Images that already fit, and a non-positive
// maxDim, return data unchanged.
func Downscale(data []byte, maxDim int) ([]byte, error) {
	if maxDim <= 0 {
		return data, nil
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("reading PNG header: %w", err)
	}
	w, h := cfg.Width, cfg.Height
	if w <= maxDim && h <= maxDim {
		return data, nil
	}

	src, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding PNG: %w", err)
	}

	nw, nh := fit(w, h, maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// fit scales w x h so the longest edge equals maxDim. Neither edge drops below 1.
func fit(w, h, maxDim int) (int, int) {
	if w >= h {
		nh := max(1, (h*maxDim+w/2)/w)
		return maxDim, nh
	}
	nw := max(1, (w*maxDim+h/2)/h)
	return nw, maxDim
}
