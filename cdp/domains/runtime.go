package domains

import (
	"context"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto/cdp"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/mailru/easyjson"
)

// Runtime exposes the CDP Runtime domain actions.
type Runtime interface {
	Enable(context.Context) error
	Evaluate(ctx context.Context, expression string) (easyjson.RawMessage, error)
}

var _ Runtime = &runtime{}

type runtime struct {
	exec cdp.Executor
}

// NewRuntime returns a new CDP Runtime domain wrapper.
func NewRuntime(exec cdp.Executor) Runtime {
	return &runtime{exec}
}

func (r *runtime) Enable(ctx context.Context) error {
	action := cdpruntime.Enable()
	if err := action.Do(cdp.WithExecutor(ctx, r.exec)); err != nil {
		return fmt.Errorf("enabling runtime CDP domain: %w", err)
	}

	return nil
}

// Evaluate runs expression in the main world, awaits it if it is a promise
// and returns the result serialized as JSON. An undefined result yields a nil
// message.
func (r *runtime) Evaluate(ctx context.Context, expression string) (easyjson.RawMessage, error) {
	action := cdpruntime.Evaluate(expression).
		WithReturnByValue(true).
		WithAwaitPromise(true).
		WithUserGesture(true)

	obj, exc, err := action.Do(cdp.WithExecutor(ctx, r.exec))
	if err != nil {
		return nil, fmt.Errorf("evaluating expression: %w", err)
	}
	if exc != nil {
		return nil, fmt.Errorf("evaluating expression: %w", exceptionError(exc))
	}
	if obj == nil {
		return nil, nil
	}

	return obj.Value, nil
}

func exceptionError(exc *cdpruntime.ExceptionDetails) error {
	if exc.Exception != nil && exc.Exception.Description != "" {
		return errors.New(exc.Exception.Description)
	}
	return errors.New(exc.Text)
}
