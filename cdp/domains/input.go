package domains

import (
	"context"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpinput "github.com/chromedp/cdproto/input"
)

// Input exposes the CDP Input domain actions.
type Input interface {
	Click(ctx context.Context, x, y float64) error
}

var _ Input = &input{}

type input struct {
	exec cdp.Executor
}

// NewInput returns a new CDP Input domain wrapper.
func NewInput(exec cdp.Executor) Input {
	return &input{exec}
}

// Click moves the mouse to x,y and presses and releases the left button.
func (i *input) Click(ctx context.Context, x, y float64) error {
	ctx = cdp.WithExecutor(ctx, i.exec)

	if err := cdpinput.DispatchMouseEvent(cdpinput.MouseMoved, x, y).Do(ctx); err != nil {
		return fmt.Errorf("moving mouse to (%.0f, %.0f): %w", x, y, err)
	}
	for _, typ := range []cdpinput.MouseType{cdpinput.MousePressed, cdpinput.MouseReleased} {
		action := cdpinput.DispatchMouseEvent(typ, x, y).
			WithButton(cdpinput.Left).
			WithClickCount(1)
		if err := action.Do(ctx); err != nil {
			return fmt.Errorf("dispatching %s at (%.0f, %.0f): %w", typ, x, y, err)
		}
	}

	return nil
}
