package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"

	"github.com/torwell84/torwell-verify/cdp/domains"
	"github.com/torwell84/torwell-verify/log"
)

var _ cdp.Executor = &Client{}

// ErrClosed is returned by Execute once the client has been closed.
var ErrClosed = errors.New("CDP connection closed")

// Client manages CDP communication with the browser.
type Client struct {
	logger *log.Logger

	Browser   domains.Browser
	Emulation domains.Emulation
	Input     domains.Input
	Page      domains.Page
	Runtime   domains.Runtime
	Target    domains.Target

	conn      *connection
	msgID     int64
	sendCh    chan *cdproto.Message
	msgSubsMu sync.Mutex
	msgSubs   map[int64]chan *cdproto.Message
	watcher   *eventWatcher

	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	loops     sync.WaitGroup

	wsURL string
}

// NewClient returns a new Client that is unusable until a CDP connection is
// established with Connect().
func NewClient(logger *log.Logger) *Client {
	c := &Client{
		logger:  logger,
		sendCh:  make(chan *cdproto.Message, 32), // Buffered to avoid blocking in Execute
		msgSubs: make(map[int64]chan *cdproto.Message),
		watcher: newEventWatcher(logger),
		done:    make(chan struct{}),
	}

	c.Browser = domains.NewBrowser(c)
	c.Emulation = domains.NewEmulation(c)
	c.Input = domains.NewInput(c)
	c.Page = domains.NewPage(c)
	c.Runtime = domains.NewRuntime(c)
	c.Target = domains.NewTarget(c)

	return c
}

// Connect to the browser that exposes a CDP API at wsURL.
func (c *Client) Connect(ctx context.Context, wsURL string) (err error) {
	if c.wsURL != "" {
		return fmt.Errorf("CDP connection already established to %q", c.wsURL)
	}

	if c.conn, err = newConnection(ctx, wsURL, c.logger); err != nil {
		return err
	}
	c.logger.Debugf("cdp", "established CDP connection to %q", wsURL)
	c.wsURL = wsURL

	c.loops.Add(2)
	go c.recvLoop()
	go c.sendLoop()

	return nil
}

// Close shuts the connection down and waits for the read and write loops to
// return. It is safe to call more than once.
func (c *Client) Close() {
	c.shutdown(nil)
	c.loops.Wait()
}

// Done is closed once the connection has been shut down, either by Close or
// because it was lost.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the error that made the connection shut down, if any.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Client) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = err
		c.errMu.Unlock()

		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.watcher.close()
	})
}

// Execute implements cdp.Executor and performs a synchronous send and
// receive.
func (c *Client) Execute(ctx context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	c.logger.Tracef("cdp:Execute", "wsURL:%q method:%q", c.wsURL, method)

	var buf []byte
	if params != nil {
		var err error
		if buf, err = easyjson.Marshal(params); err != nil {
			return fmt.Errorf("encoding %s params: %w", method, err)
		}
	}

	id := atomic.AddInt64(&c.msgID, 1)
	msg := &cdproto.Message{
		ID:     id,
		Method: cdproto.MethodType(method),
		Params: buf,
	}

	// We use different sessions to send messages to "targets"
	// (browser, page, frame etc.) in CDP.
	//
	// If we don't specify a session (a session ID in the JSON message),
	// it will be a message for the browser target.
	//
	// With a session ID set in the context (WithSessionID(ctx)),
	// it will properly route the CDP message to the correct target.
	if sid := GetSessionID(ctx); sid != "" {
		msg.SessionID = target.SessionID(sid)
	}

	// Register for the reply before sending so a fast reply is never missed.
	replyCh := make(chan *cdproto.Message, 1)
	c.msgSubsMu.Lock()
	c.msgSubs[id] = replyCh
	c.msgSubsMu.Unlock()
	defer func() {
		c.msgSubsMu.Lock()
		delete(c.msgSubs, id)
		c.msgSubsMu.Unlock()
	}()

	select {
	case c.sendCh <- msg:
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case reply := <-replyCh:
		switch {
		case reply.Error != nil:
			return reply.Error
		case res != nil:
			return easyjson.Unmarshal(reply.Result, res)
		}
		return nil
	case <-c.done:
		return c.closedErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) closedErr() error {
	if err := c.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return ErrClosed
}

// Subscribe returns a channel that will be notified when the provided CDP
// events are received for the session stored in ctx, and a cancellation
// function that will unsubscribe and close the channel.
func (c *Client) Subscribe(ctx context.Context, events ...cdproto.MethodType) (<-chan *Event, func()) {
	return c.watcher.subscribe(GetSessionID(ctx), events...)
}

func (c *Client) recvLoop() {
	defer c.loops.Done()

	for {
		msg, err := c.conn.readMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Errorf("cdp:recvLoop", "wsURL:%q err:%v", c.wsURL, err)
			}
			c.shutdown(err)
			return
		}

		switch {
		case msg.Method != "":
			evt, err := cdproto.UnmarshalMessage(msg)
			if err != nil {
				c.logger.Debugf("cdp:recvLoop", "unmarshalling CDP event %s: %v", msg.Method, err)
				continue
			}
			c.watcher.notify(&Event{
				Name:      msg.Method,
				Data:      evt,
				SessionID: msg.SessionID,
			})
		case msg.ID > 0:
			c.msgSubsMu.Lock()
			ch, ok := c.msgSubs[msg.ID]
			delete(c.msgSubs, msg.ID)
			c.msgSubsMu.Unlock()
			if !ok {
				c.logger.Debugf("cdp:recvLoop", "no caller waiting for reply to message %d", msg.ID)
				continue
			}
			ch <- msg
		default:
			c.logger.Errorf("cdp:recvLoop", "ignoring malformed incoming CDP message (missing id or method): %#v", msg)
		}
	}
}

func (c *Client) sendLoop() {
	defer c.loops.Done()

	for {
		select {
		case msg := <-c.sendCh:
			if err := c.conn.writeMessage(msg); err != nil {
				c.logger.Errorf("cdp:sendLoop", "wsURL:%q msg:%d err:%v", c.wsURL, msg.ID, err)
				c.shutdown(err)
				return
			}
		case <-c.done:
			return
		}
	}
}
