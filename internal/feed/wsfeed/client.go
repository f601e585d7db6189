// Package wsfeed carries collaboration events over websockets: a client that
// subscribes per workspace and a relay that fans events out between clients.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/and161185/cafe-collab/internal/feed"
	"github.com/and161185/cafe-collab/internal/model"
)

// ErrNotSubscribed is returned by Publish when the workspace has no open stream.
var ErrNotSubscribed = errors.New("wsfeed: not subscribed")

const writeWait = 5 * time.Second

// Client streams events from a relay endpoint such as ws://host/feed.
type Client struct {
	endpoint string
	header   http.Header
	dialer   *websocket.Dialer
	log      *zap.Logger

	mu    sync.Mutex
	conns map[model.WorkspaceID]*conn
}

type conn struct {
	ws *websocket.Conn
	wm sync.Mutex // gorilla allows one concurrent writer
}

var (
	_ feed.Source    = (*Client)(nil)
	_ feed.Publisher = (*Client)(nil)
)

// NewClient builds a client for endpoint. header is sent on every handshake,
// typically carrying the bearer token.
func NewClient(endpoint string, header http.Header, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		endpoint: endpoint,
		header:   header,
		dialer:   &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:      log,
		conns:    map[model.WorkspaceID]*conn{},
	}
}

func (c *Client) url(ws model.WorkspaceID) (string, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("table", strconv.FormatUint(uint64(ws), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Subscribe implements feed.Source. The stream closes when ctx is done or the
// connection drops; callers resubscribe.
func (c *Client) Subscribe(ctx context.Context, ws model.WorkspaceID) (<-chan model.Event, error) {
	u, err := c.url(ws)
	if err != nil {
		return nil, fmt.Errorf("feed url: %w", err)
	}
	wsConn, resp, err := c.dialer.DialContext(ctx, u, c.header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial feed: %w", err)
	}
	cn := &conn{ws: wsConn}
	c.mu.Lock()
	if old, ok := c.conns[ws]; ok {
		_ = old.ws.Close()
	}
	c.conns[ws] = cn
	c.mu.Unlock()

	out := make(chan model.Event)
	stop := context.AfterFunc(ctx, func() { _ = wsConn.Close() })
	go func() {
		defer close(out)
		defer stop()
		defer c.drop(ws, cn)
		for {
			_, data, err := wsConn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					c.log.Debug("feed stream ended", zap.Uint64("table", uint64(ws)), zap.Error(err))
				}
				return
			}
			ev, err := feed.Decode(data)
			if err != nil {
				c.log.Debug("skip feed message", zap.Error(err))
				continue
			}
			if ev.WorkspaceID == 0 {
				ev.WorkspaceID = ws
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) drop(ws model.WorkspaceID, cn *conn) {
	c.mu.Lock()
	if c.conns[ws] == cn {
		delete(c.conns, ws)
	}
	c.mu.Unlock()
	_ = cn.ws.Close()
}

// Publish implements feed.Publisher over the workspace's open stream.
func (c *Client) Publish(ctx context.Context, ws model.WorkspaceID, ev model.Event) error {
	c.mu.Lock()
	cn, ok := c.conns[ws]
	c.mu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	ev.WorkspaceID = ws
	data, err := feed.Encode(ev)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	cn.wm.Lock()
	defer cn.wm.Unlock()
	_ = cn.ws.SetWriteDeadline(deadline)
	return cn.ws.WriteMessage(websocket.TextMessage, data)
}
