// Package ws provides a reconnecting websocket client for exchange
// gateways: one background read loop per open connection, an on-connect
// hook for authentication, and disconnect notification with a fixed
// cool-off before re-dialing.
package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/pkg/exception"
)

const (
	// DefaultCooloff is the wait between a transport loss and the re-dial.
	DefaultCooloff = 5500 * time.Millisecond

	defaultPingInterval = 20 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

// Option configures a Client.
type Option struct {
	// OnRead receives every inbound frame payload. Required.
	OnRead func(payload []byte)
	// OnConnect runs after each successful dial, before any reads; used for
	// signed login frames. Returning an error drops the connection.
	OnConnect func(ctx context.Context, c *Client) error
	// OnDisconnect runs after the transport is lost, before the cool-off.
	OnDisconnect func()
	// Cooloff is the wait before re-dialing. Optional; default 5.5s.
	Cooloff time.Duration
	// PingInterval is the keep-alive ping period. Optional; default 20s.
	PingInterval time.Duration
	// PingPayload, when set, is sent as a text frame instead of a ping
	// control frame. Some venues only honor application-level pings.
	PingPayload []byte
}

// Client dials one websocket endpoint and keeps it alive across
// disconnects. The connection identity (host) never changes.
type Client struct {
	host string
	opt  Option

	writeMu sync.Mutex
	conn    *websocket.Conn
	active  atomic.Bool
}

func New(host string, opt Option) *Client {
	if opt.Cooloff <= 0 {
		opt.Cooloff = DefaultCooloff
	}
	if opt.PingInterval <= 0 {
		opt.PingInterval = defaultPingInterval
	}
	return &Client{host: host, opt: opt}
}

// IsActive reports whether the transport is currently established. Safe to
// call from outside the owning goroutine.
func (c *Client) IsActive() bool {
	return c.active.Load()
}

// Send writes a text frame. It fails immediately when the transport is
// down; callers translate that into a local reject rather than blocking.
func (c *Client) Send(payload []byte) error {
	if !c.active.Load() {
		return exception.ErrTransportInactive
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return exception.ErrTransportInactive
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return errors.Wrap(err, "write frame")
	}
	return nil
}

// SendJSON marshals v and sends it as a text frame.
func (c *Client) SendJSON(v any) error {
	payload, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "marshal frame")
	}
	return c.Send(payload)
}

// Run dials and reads until the context is done, re-dialing after each
// transport loss. It is the single suspension point for this connection
// and must run in the owning gateway's goroutine context.
func (c *Client) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.host, nil)
		if err != nil {
			if !c.sleep(ctx, c.opt.Cooloff) {
				return
			}
			continue
		}

		c.writeMu.Lock()
		c.conn = conn
		c.writeMu.Unlock()
		c.active.Store(true)

		ok := true
		if c.opt.OnConnect != nil {
			if err := c.opt.OnConnect(ctx, c); err != nil {
				ok = false
			}
		}

		if ok {
			c.readLoop(ctx, conn)
		}

		c.active.Store(false)
		c.writeMu.Lock()
		c.conn = nil
		c.writeMu.Unlock()
		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}
		if c.opt.OnDisconnect != nil {
			c.opt.OnDisconnect()
		}
		if !c.sleep(ctx, c.opt.Cooloff) {
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go c.pingLoop(pingCtx, conn)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.opt.OnRead(payload)
	}
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kind, payload := websocket.PingMessage, []byte(nil)
			if len(c.opt.PingPayload) > 0 {
				kind, payload = websocket.TextMessage, c.opt.PingPayload
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
			err := conn.WriteMessage(kind, payload)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
