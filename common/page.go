package common

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/tidwall/gjson"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/cdp"
	"github.com/torwell84/torwell-verify/common/js"
	"github.com/torwell84/torwell-verify/log"
)

// Ensure Page implements the api.Page interface.
var _ api.Page = &Page{}

// pollInterval is how often selector conditions are re-evaluated.
const pollInterval = 100 * time.Millisecond

// ErrNotNavigated is returned by waits that need a document loaded by Goto.
var ErrNotNavigated = errors.New("page has not navigated yet")

// cdpLifecycleEvents maps the waits Goto supports to the CDP
// Page.lifecycleEvent names.
var cdpLifecycleEvents = map[api.LifecycleEvent]string{ //nolint:gochecknoglobals
	api.LifecycleEventDOMContentLoad: "DOMContentLoaded",
	api.LifecycleEventLoad:           "load",
	api.LifecycleEventNetworkIdle:    "networkIdle",
}

// Page is a browser tab attached over a flat CDP session.
type Page struct {
	client *cdp.Client
	logger *log.Logger

	targetID         string
	sessionID        string
	browserContextID string

	lifecycleMu sync.Mutex
	// fired holds the lifecycle events seen per loader ID.
	fired map[string]map[string]struct{}
	// changed is closed and replaced whenever fired changes.
	changed  chan struct{}
	loaderID string

	unsubscribe func()
	eventsDone  chan struct{}
	closeOnce   sync.Once
}

// NewPage wraps the target attached under sessionID and starts tracking its
// lifecycle events. The page's domains are enabled before it is returned.
func NewPage(
	ctx context.Context, client *cdp.Client, targetID, sessionID, browserContextID string,
	logger *log.Logger,
) (*Page, error) {
	p := &Page{
		client:           client,
		logger:           logger,
		targetID:         targetID,
		sessionID:        sessionID,
		browserContextID: browserContextID,
		fired:            make(map[string]map[string]struct{}),
		changed:          make(chan struct{}),
		eventsDone:       make(chan struct{}),
	}

	events, unsubscribe := client.Subscribe(p.sessionCtx(ctx), cdproto.EventPageLifecycleEvent)
	p.unsubscribe = unsubscribe
	go p.trackLifecycle(events)

	if err := p.init(ctx); err != nil {
		p.stopTracking()
		return nil, err
	}

	return p, nil
}

func (p *Page) init(ctx context.Context) error {
	sctx := p.sessionCtx(ctx)
	if err := p.client.Page.Enable(sctx); err != nil {
		return err
	}
	if err := p.client.Page.SetLifecycleEventsEnabled(sctx, true); err != nil {
		return err
	}
	if err := p.client.Runtime.Enable(sctx); err != nil {
		return err
	}
	return nil
}

func (p *Page) sessionCtx(ctx context.Context) context.Context {
	return cdp.WithSessionID(ctx, p.sessionID)
}

func (p *Page) trackLifecycle(events <-chan *cdp.Event) {
	defer close(p.eventsDone)

	for evt := range events {
		ev, ok := evt.Data.(*cdppage.EventLifecycleEvent)
		if !ok {
			continue
		}
		p.logger.Tracef("Page:lifecycle", "sid:%s fid:%s lid:%s event:%s",
			p.sessionID, ev.FrameID, ev.LoaderID, ev.Name)

		p.lifecycleMu.Lock()
		lid := ev.LoaderID.String()
		if p.fired[lid] == nil {
			p.fired[lid] = make(map[string]struct{})
		}
		p.fired[lid][ev.Name] = struct{}{}
		close(p.changed)
		p.changed = make(chan struct{})
		p.lifecycleMu.Unlock()
	}
}

func (p *Page) stopTracking() {
	p.unsubscribe()
	<-p.eventsDone
}

// waitLifecycle waits until loaderID fired the CDP lifecycle event name.
func (p *Page) waitLifecycle(ctx context.Context, loaderID, name string) error {
	for {
		p.lifecycleMu.Lock()
		_, ok := p.fired[loaderID][name]
		changed := p.changed
		p.lifecycleMu.Unlock()
		if ok {
			return nil
		}

		select {
		case <-changed:
		case <-p.eventsDone:
			return fmt.Errorf("waiting for %s: %w", name, cdp.ErrClosed)
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", name, ctx.Err())
		}
	}
}

// AddInitScript registers source to run before any script of every new
// document in this page.
func (p *Page) AddInitScript(ctx context.Context, source string) (string, error) {
	return p.client.Page.AddScriptToEvaluateOnNewDocument(p.sessionCtx(ctx), source)
}

// RemoveInitScript unregisters a script added with AddInitScript.
func (p *Page) RemoveInitScript(ctx context.Context, id string) error {
	return p.client.Page.RemoveScriptToEvaluateOnNewDocument(p.sessionCtx(ctx), id)
}

// Goto navigates the main frame to url and waits for waitUntil.
func (p *Page) Goto(ctx context.Context, url string, waitUntil api.LifecycleEvent) error {
	name, ok := cdpLifecycleEvents[waitUntil]
	if !ok {
		return fmt.Errorf("navigating to %q: unsupported wait %q", url, waitUntil)
	}

	// Events of earlier documents are no longer of interest.
	p.lifecycleMu.Lock()
	p.fired = make(map[string]map[string]struct{})
	p.lifecycleMu.Unlock()

	p.logger.Debugf("Page:Goto", "sid:%s url:%q waitUntil:%s", p.sessionID, url, waitUntil)
	_, loaderID, err := p.client.Page.Navigate(p.sessionCtx(ctx), url, "", "")
	if err != nil {
		return err
	}

	p.lifecycleMu.Lock()
	p.loaderID = loaderID
	p.lifecycleMu.Unlock()

	// A same-document navigation has no loader and nothing to wait for.
	if loaderID == "" {
		return nil
	}
	if err := p.waitLifecycle(ctx, loaderID, name); err != nil {
		return fmt.Errorf("navigating to %q: %w", url, err)
	}

	return nil
}

// WaitForNetworkIdle waits until the document loaded by the last Goto
// reached network idle.
func (p *Page) WaitForNetworkIdle(ctx context.Context) error {
	p.lifecycleMu.Lock()
	loaderID := p.loaderID
	p.lifecycleMu.Unlock()

	if loaderID == "" {
		return ErrNotNavigated
	}

	return p.waitLifecycle(ctx, loaderID, cdpLifecycleEvents[api.LifecycleEventNetworkIdle])
}

// IsVisible reports whether selector matches at least one visible element.
func (p *Page) IsVisible(ctx context.Context, selector string) (bool, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return false, err
	}
	res, err := p.query(ctx, sel, "visible")
	if err != nil {
		return false, err
	}
	return res.Bool(), nil
}

// WaitForSelector polls until selector matches a visible element.
func (p *Page) WaitForSelector(ctx context.Context, selector string) error {
	sel, err := ParseSelector(selector)
	if err != nil {
		return err
	}

	return poll(ctx, func() (bool, error) {
		res, err := p.query(ctx, sel, "visible")
		if err != nil {
			return false, err
		}
		return res.Bool(), nil
	})
}

// Click waits for selector to match a visible element, scrolls it into view
// and clicks its center.
func (p *Page) Click(ctx context.Context, selector string) error {
	sel, err := ParseSelector(selector)
	if err != nil {
		return err
	}

	var x, y float64
	err = poll(ctx, func() (bool, error) {
		res, err := p.query(ctx, sel, "center")
		if err != nil {
			return false, err
		}
		if !res.IsObject() {
			return false, nil
		}
		x, y = res.Get("x").Float(), res.Get("y").Float()
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("clicking %q: %w", selector, err)
	}

	p.logger.Debugf("Page:Click", "sid:%s selector:%q x:%.0f y:%.0f", p.sessionID, selector, x, y)
	return p.client.Input.Click(p.sessionCtx(ctx), x, y)
}

// Screenshot captures the whole scrollable page as PNG.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	return newScreenshotter(p).fullPage(ctx)
}

// SetViewport overrides the page's viewport size.
func (p *Page) SetViewport(ctx context.Context, width, height int64) error {
	return p.client.Emulation.SetViewport(p.sessionCtx(ctx), width, height)
}

// Evaluate runs expression in the page and returns its JSON result.
func (p *Page) Evaluate(ctx context.Context, expression string) (gjson.Result, error) {
	raw, err := p.client.Runtime.Evaluate(p.sessionCtx(ctx), expression)
	if err != nil {
		return gjson.Result{}, err
	}
	return gjson.ParseBytes(raw), nil
}

func (p *Page) query(ctx context.Context, sel Selector, action string) (gjson.Result, error) {
	expr := fmt.Sprintf("(%s)(%s, %q)", js.SelectorEngineScript, sel.JSON(), action)
	res, err := p.Evaluate(ctx, expr)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("querying %q: %w", sel, err)
	}
	return res, nil
}

// TargetID returns the CDP target ID of the page.
func (p *Page) TargetID() string {
	return p.targetID
}

// BrowserContextID returns the isolated browser context the page lives in.
func (p *Page) BrowserContextID() string {
	return p.browserContextID
}

// Close stops lifecycle tracking. The target itself goes away with its
// browser context.
func (p *Page) Close() {
	p.closeOnce.Do(p.stopTracking)
}

// isTransient reports whether err comes from the document being replaced
// while it was queried, which resolves itself once the new document loads.
func isTransient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Inspected target navigated or closed")
}

// poll calls cond every pollInterval until it returns true or an error, or
// ctx is done.
func poll(ctx context.Context, cond func() (bool, error)) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		ok, err := cond()
		switch {
		case err != nil && ctx.Err() != nil:
			return ctx.Err()
		case err != nil && !isTransient(err):
			return err
		case ok:
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
