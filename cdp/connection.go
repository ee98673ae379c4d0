package cdp

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jwriter"

	"github.com/torwell84/torwell-verify/log"
)

const wsWriteTimeout = 10 * time.Second

// connection is a websocket connection speaking CDP. Reads happen on a single
// goroutine (the client's recvLoop) and writes on another (sendLoop).
type connection struct {
	ws     *websocket.Conn
	wsURL  string
	logger *log.Logger

	closeOnce sync.Once
	closeErr  error
}

func newConnection(ctx context.Context, wsURL string, logger *log.Logger) (*connection, error) {
	wd := &websocket.Dialer{
		HandshakeTimeout: time.Second * 10,
		ReadBufferSize:   1 << 20,
		WriteBufferSize:  1 << 20,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := wd.DialContext(ctx, wsURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("connecting to %q: %w", wsURL, err)
	}
	// Full page screenshots come back as a single base64 message.
	ws.SetReadLimit(-1)

	return &connection{
		ws:     ws,
		wsURL:  wsURL,
		logger: logger,
	}, nil
}

func (c *connection) readMessage() (*cdproto.Message, error) {
	_, buf, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}

	var msg cdproto.Message
	if err := easyjson.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("decoding CDP message: %w", err)
	}

	return &msg, nil
}

func (c *connection) writeMessage(msg *cdproto.Message) error {
	var encoder jwriter.Writer
	msg.MarshalEasyJSON(&encoder)
	if err := encoder.Error; err != nil {
		return fmt.Errorf("encoding CDP message: %w", err)
	}
	buf, err := encoder.BuildBytes()
	if err != nil {
		return fmt.Errorf("building CDP message: %w", err)
	}

	if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	w, err := c.ws.NextWriter(websocket.TextMessage)
	if err != nil {
		return fmt.Errorf("getting websocket writer: %w", err)
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing CDP message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("flushing CDP message: %w", err)
	}

	return nil
}

// Close sends a close frame and closes the underlying connection. It is safe
// to call more than once.
func (c *connection) Close() error {
	c.closeOnce.Do(func() {
		c.logger.Debugf("connection:Close", "wsURL:%q", c.wsURL)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
