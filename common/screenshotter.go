package common

import (
	"context"
	"fmt"
	"math"

	cdppage "github.com/chromedp/cdproto/page"

	"github.com/torwell84/torwell-verify/common/js"
)

// Size is a width and height in CSS pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (s Size) enclosingIntSize() Size {
	return Size{
		Width:  math.Ceil(s.Width),
		Height: math.Ceil(s.Height),
	}
}

type screenshotter struct {
	page *Page
}

func newScreenshotter(p *Page) *screenshotter {
	return &screenshotter{page: p}
}

func (s *screenshotter) fullPageSize(ctx context.Context) (*Size, error) {
	res, err := s.page.Evaluate(ctx, js.FullPageSizeScript)
	if err != nil {
		return nil, fmt.Errorf("getting full page size: %w", err)
	}
	if !res.IsObject() {
		return nil, nil
	}

	size := Size{
		Width:  res.Get("width").Float(),
		Height: res.Get("height").Float(),
	}.enclosingIntSize()

	return &size, nil
}

// fullPage captures the whole document. A page without a document body is
// captured at viewport size.
func (s *screenshotter) fullPage(ctx context.Context) ([]byte, error) {
	size, err := s.fullPageSize(ctx)
	if err != nil {
		return nil, err
	}

	var clip *cdppage.Viewport
	if size != nil && size.Width > 0 && size.Height > 0 {
		clip = &cdppage.Viewport{
			X:      0,
			Y:      0,
			Width:  size.Width,
			Height: size.Height,
			Scale:  1,
		}
	}

	buf, err := s.page.client.Page.CaptureScreenshot(s.page.sessionCtx(ctx), clip)
	if err != nil {
		return nil, err
	}

	return buf, nil
}
