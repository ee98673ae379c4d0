// Package common implements the browser and page on top of the CDP client.
package common

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/cdp"
	"github.com/torwell84/torwell-verify/log"
)

// Ensure Browser implements the api.Browser interface.
var _ api.Browser = &Browser{}

// PageOptions configures a new page.
type PageOptions struct {
	ViewportWidth  int64
	ViewportHeight int64
}

// Browser is a connected browser that hands out isolated pages.
type Browser struct {
	client *cdp.Client
	logger *log.Logger

	version     string
	pageOptions PageOptions

	pagesMu sync.Mutex
	pages   map[string]*Page
}

// NewBrowser wraps an already connected CDP client.
func NewBrowser(ctx context.Context, client *cdp.Client, opts PageOptions, logger *log.Logger) (*Browser, error) {
	v, err := client.Browser.Version(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting browser version: %w", err)
	}
	logger.Debugf("Browser:NewBrowser", "product:%q protocol:%q", v.Product, v.Protocol)

	return &Browser{
		client:      client,
		logger:      logger,
		version:     v.Product,
		pageOptions: opts,
		pages:       make(map[string]*Page),
	}, nil
}

// NewPage opens a page in a fresh, isolated browser context.
func (b *Browser) NewPage(ctx context.Context) (api.Page, error) {
	return b.OpenPage(ctx)
}

// OpenPage is NewPage returning the concrete page type.
func (b *Browser) OpenPage(ctx context.Context) (_ *Page, err error) {
	bctxID, err := b.client.Target.CreateBrowserContext(ctx, false)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if derr := b.client.Target.DisposeBrowserContext(ctx, bctxID); derr != nil {
			b.logger.Warnf("Browser:OpenPage", "disposing browser context %q: %v", bctxID, derr)
		}
	}()

	targetID, err := b.client.Target.CreateTarget(ctx, "about:blank", bctxID)
	if err != nil {
		return nil, err
	}
	sessionID, err := b.client.Target.AttachToTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}
	b.logger.Debugf("Browser:OpenPage", "bctxid:%s tid:%s sid:%s", bctxID, targetID, sessionID)

	p, err := NewPage(ctx, b.client, targetID, sessionID, bctxID, b.logger)
	if err != nil {
		return nil, fmt.Errorf("initializing page: %w", err)
	}
	if w, h := b.pageOptions.ViewportWidth, b.pageOptions.ViewportHeight; w > 0 && h > 0 {
		if err := p.SetViewport(ctx, w, h); err != nil {
			p.Close()
			return nil, err
		}
	}

	b.pagesMu.Lock()
	b.pages[bctxID] = p
	b.pagesMu.Unlock()

	return p, nil
}

// ClosePage stops tracking p and disposes its browser context, which closes
// the page's target.
func (b *Browser) ClosePage(ctx context.Context, p *Page) error {
	p.Close()

	b.pagesMu.Lock()
	delete(b.pages, p.BrowserContextID())
	b.pagesMu.Unlock()

	return b.client.Target.DisposeBrowserContext(ctx, p.BrowserContextID())
}

// Close closes every open page and then the browser itself.
func (b *Browser) Close(ctx context.Context) error {
	b.pagesMu.Lock()
	pages := make([]*Page, 0, len(b.pages))
	for _, p := range b.pages {
		pages = append(pages, p)
	}
	b.pagesMu.Unlock()

	for _, p := range pages {
		if err := b.ClosePage(ctx, p); err != nil {
			b.logger.Warnf("Browser:Close", "closing page %s: %v", p.TargetID(), err)
		}
	}

	// The browser may drop the connection before it replies.
	if err := b.client.Browser.Close(ctx); err != nil && !errors.Is(err, cdp.ErrClosed) {
		return fmt.Errorf("closing browser: %w", err)
	}
	return nil
}

// Version returns the browser product string, such as
// "HeadlessChrome/120.0.6099.109".
func (b *Browser) Version() string {
	return b.version
}
