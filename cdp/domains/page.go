package domains

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpp "github.com/chromedp/cdproto/page"
)

// Page exposes the CDP Page domain actions.
type Page interface {
	Enable(context.Context) error
	Navigate(ctx context.Context, url, referrer, frameID string) (frame, loaderID string, err error)
	AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (id string, err error)
	RemoveScriptToEvaluateOnNewDocument(ctx context.Context, id string) error
	SetLifecycleEventsEnabled(ctx context.Context, enabled bool) error
	CaptureScreenshot(ctx context.Context, clip *cdpp.Viewport) ([]byte, error)
}

var _ Page = &page{}

type page struct {
	exec cdp.Executor
}

// NewPage returns a new CDP Page domain wrapper.
func NewPage(exec cdp.Executor) Page {
	return &page{exec}
}

func (p *page) Enable(ctx context.Context) error {
	action := cdpp.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page CDP domain: %w", err)
	}

	return nil
}

// Navigate loads url in frameID. A navigation the browser refuses (DNS
// failure, connection refused) is reported through errorText rather than a
// protocol error, so both are turned into an error here.
func (p *page) Navigate(ctx context.Context, url, referrer, frameID string) (string, string, error) {
	action := cdpp.Navigate(url).WithReferrer(referrer)
	if frameID != "" {
		action = action.WithFrameID(cdp.FrameID(frameID))
	}

	frame, loaderID, errorText, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	switch {
	case err != nil && errorText != "":
		return "", "", fmt.Errorf("%s at %q: %w", errorText, url, err)
	case err != nil:
		return "", "", fmt.Errorf("navigating to %q: %w", url, err)
	case errorText != "":
		return "", "", fmt.Errorf("navigating to %q: %w", url, errors.New(errorText))
	}

	return frame.String(), loaderID.String(), nil
}

func (p *page) AddScriptToEvaluateOnNewDocument(ctx context.Context, source string) (string, error) {
	action := cdpp.AddScriptToEvaluateOnNewDocument(source)
	id, err := action.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return "", fmt.Errorf("adding script to evaluate on new document: %w", err)
	}

	return string(id), nil
}

func (p *page) RemoveScriptToEvaluateOnNewDocument(ctx context.Context, id string) error {
	action := cdpp.RemoveScriptToEvaluateOnNewDocument(cdpp.ScriptIdentifier(id))
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("removing script %q: %w", id, err)
	}

	return nil
}

func (p *page) SetLifecycleEventsEnabled(ctx context.Context, enabled bool) error {
	action := cdpp.SetLifecycleEventsEnabled(enabled)
	if err := action.Do(cdp.WithExecutor(ctx, p.exec)); err != nil {
		return fmt.Errorf("enabling page lifecycle events: %w", err)
	}

	return nil
}

// CaptureScreenshot returns a PNG of clip, or of the viewport when clip is
// nil.
func (p *page) CaptureScreenshot(ctx context.Context, clip *cdpp.Viewport) ([]byte, error) {
	capture := cdpp.CaptureScreenshot().WithFormat(cdpp.CaptureScreenshotFormatPng)
	if clip != nil && clip.Width > 0 && clip.Height > 0 {
		capture = capture.WithClip(clip).WithCaptureBeyondViewport(true)
	}

	buf, err := capture.Do(cdp.WithExecutor(ctx, p.exec))
	if err != nil {
		return nil, fmt.Errorf("capturing screenshot: %w", err)
	}

	return buf, nil
}
