// Package api declares the browser capabilities the verification runner
// depends on.
package api

import (
	"context"
)

// Browser is the public interface of a CDP browser.
type Browser interface {
	// NewPage opens a page in a fresh, isolated browser context.
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error
	Version() string
}
