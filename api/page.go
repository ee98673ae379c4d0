package api

import "context"

// LifecycleEvent is a page load milestone a navigation can wait for.
type LifecycleEvent string

const (
	LifecycleEventDOMContentLoad LifecycleEvent = "domcontentloaded"
	LifecycleEventLoad           LifecycleEvent = "load"
	LifecycleEventNetworkIdle    LifecycleEvent = "networkidle"
)

// Valid reports whether e is a known lifecycle event.
func (e LifecycleEvent) Valid() bool {
	switch e {
	case LifecycleEventDOMContentLoad, LifecycleEventLoad, LifecycleEventNetworkIdle:
		return true
	}
	return false
}

// Page is a controllable browser page. Every blocking method waits until the
// condition holds or ctx is done, and returns ctx.Err() wrapped in the latter
// case.
type Page interface {
	// AddInitScript registers source to run in every new document before any
	// of the document's own scripts, and returns an identifier for removal.
	AddInitScript(ctx context.Context, source string) (string, error)
	RemoveInitScript(ctx context.Context, id string) error
	// Goto navigates to url and waits for waitUntil.
	Goto(ctx context.Context, url string, waitUntil LifecycleEvent) error
	// WaitForSelector waits until selector matches a visible element.
	WaitForSelector(ctx context.Context, selector string) error
	// WaitForNetworkIdle waits until the current document reached network
	// idle.
	WaitForNetworkIdle(ctx context.Context) error
	// IsVisible reports whether selector currently matches a visible element.
	IsVisible(ctx context.Context, selector string) (bool, error)
	// Click waits for selector to become visible and clicks its first
	// visible match.
	Click(ctx context.Context, selector string) error
	// Screenshot captures the full page as PNG.
	Screenshot(ctx context.Context) ([]byte, error)
}
