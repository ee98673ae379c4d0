// Package session owns the lifetime of one browser process, its CDP
// connection and the single page scenarios drive.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/torwell84/torwell-verify/api"
	"github.com/torwell84/torwell-verify/cdp"
	"github.com/torwell84/torwell-verify/chromium"
	"github.com/torwell84/torwell-verify/common"
	"github.com/torwell84/torwell-verify/log"
)

// DefaultCloseTimeout bounds how long Release waits for the browser to exit.
const DefaultCloseTimeout = 5 * time.Second

// Options configures a session.
type Options struct {
	Launch         chromium.LaunchOptions
	ViewportWidth  int64
	ViewportHeight int64
	CloseTimeout   time.Duration
}

// NewOptions returns headless options with a 1280x800 viewport.
func NewOptions() Options {
	return Options{
		Launch:         chromium.NewLaunchOptions(),
		ViewportWidth:  1280,
		ViewportHeight: 800,
		CloseTimeout:   DefaultCloseTimeout,
	}
}

// Session is one isolated browser with one page.
type Session struct {
	proc    *chromium.BrowserProcess
	client  *cdp.Client
	browser *common.Browser
	page    *common.Page

	closeTimeout time.Duration
	logger       *log.Logger

	releaseOnce sync.Once
	// onRelease is called after teardown; tests observe releases through it.
	onRelease func()
}

// Acquire launches a browser, connects to it and opens a page in a fresh
// browser context. Anything created before a failure is torn down again.
func Acquire(ctx context.Context, opts Options, logger *log.Logger) (_ *Session, err error) {
	s := &Session{
		closeTimeout: opts.CloseTimeout,
		logger:       logger,
	}
	if s.closeTimeout <= 0 {
		s.closeTimeout = DefaultCloseTimeout
	}
	defer func() {
		if err != nil {
			s.Release()
		}
	}()

	launch := opts.Launch
	if launch.WindowWidth == 0 && launch.WindowHeight == 0 {
		launch.WindowWidth, launch.WindowHeight = opts.ViewportWidth, opts.ViewportHeight
	}
	if s.proc, err = chromium.Launch(ctx, launch, logger); err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	s.client = cdp.NewClient(logger)
	if err = s.client.Connect(ctx, s.proc.WsURL()); err != nil {
		return nil, fmt.Errorf("connecting to browser DevTools URL: %w", err)
	}

	pageOpts := common.PageOptions{
		ViewportWidth:  opts.ViewportWidth,
		ViewportHeight: opts.ViewportHeight,
	}
	if s.browser, err = common.NewBrowser(ctx, s.client, pageOpts, logger); err != nil {
		return nil, err
	}
	if s.page, err = s.browser.OpenPage(ctx); err != nil {
		return nil, fmt.Errorf("opening page: %w", err)
	}

	logger.Infof("session", "acquired %s pid:%d", s.browser.Version(), s.proc.Pid())

	return s, nil
}

// Page returns the session's page.
func (s *Session) Page() api.Page {
	return s.page
}

// Version returns the browser product string.
func (s *Session) Version() string {
	if s.browser == nil {
		return ""
	}
	return s.browser.Version()
}

// Release closes the page and the browser and terminates the process. It is
// safe to call more than once and on a partially acquired session.
func (s *Session) Release() {
	s.releaseOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.closeTimeout)
		defer cancel()

		if s.browser != nil {
			if err := s.browser.Close(ctx); err != nil {
				s.logger.Warnf("session", "closing browser: %v", err)
			}
		}
		if s.client != nil {
			s.client.Close()
		}
		if s.proc != nil && !s.proc.Terminate(s.closeTimeout) {
			s.logger.Errorf("session", "browser pid:%d did not exit", s.proc.Pid())
		}
		s.logger.Debugf("session", "released")

		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

// run calls fn with the session's page and releases the session afterwards,
// whether fn returns or panics.
func (s *Session) run(fn func(api.Page) error) error {
	defer s.Release()
	return fn(s.Page())
}

// With acquires a session, calls fn with its page and releases the session
// once fn returns or panics. A panic is re-raised after the release.
func With(ctx context.Context, opts Options, logger *log.Logger, fn func(api.Page) error) error {
	s, err := Acquire(ctx, opts, logger)
	if err != nil {
		return err
	}
	return s.run(fn)
}
