package domains

import (
	"context"

	cdpb "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
)

// Version identifies the browser at the other end of the connection.
type Version struct {
	Protocol  string
	Product   string
	Revision  string
	UserAgent string
	JSVersion string
}

// Browser is the part of the CDP Browser domain a session needs.
type Browser interface {
	Close(ctx context.Context) error
	Version(ctx context.Context) (Version, error)
}

var _ Browser = &browser{}

type browser struct {
	exec cdp.Executor
}

// NewBrowser returns the Browser domain reached through exec.
func NewBrowser(exec cdp.Executor) Browser {
	return &browser{exec}
}

// Close asks the browser to exit. The reply may never arrive.
func (b *browser) Close(ctx context.Context) error {
	return cdpb.Close().Do(cdp.WithExecutor(ctx, b.exec))
}

func (b *browser) Version(ctx context.Context) (Version, error) {
	protocol, product, revision, ua, js, err := cdpb.GetVersion().Do(cdp.WithExecutor(ctx, b.exec))
	if err != nil {
		return Version{}, err
	}
	return Version{
		Protocol:  protocol,
		Product:   product,
		Revision:  revision,
		UserAgent: ua,
		JSVersion: js,
	}, nil
}
