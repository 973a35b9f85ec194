// Package transport connects a session to the board server over a
// websocket. It reconnects on its own, paced by a rate limiter, and reports
// every connect and disconnect to the receiver.
package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"boardsync-backend/internal/protocol"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const writeWait = 10 * time.Second

var ErrNotConnected = errors.New("not connected")

// Receiver is the session side of the connection.
type Receiver interface {
	SetConnected(connected bool)
	Deliver(msg protocol.Message)
}

type Options struct {
	Header http.Header
	// Limiter paces dial attempts. Defaults to one attempt every two seconds.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

type Client struct {
	url     string
	header  http.Header
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	logger  *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewClient(url string, opts Options) *Client {
	limiter := opts.Limiter
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Every(2*time.Second), 1)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:     url,
		header:  opts.Header,
		dialer:  websocket.DefaultDialer,
		limiter: limiter,
		logger:  logger.With("url", url),
	}
}

// Send writes one message on the current connection.
func (c *Client) Send(msg protocol.Message) error {
	raw, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, raw)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

// Run keeps a connection open until ctx is done.
func (c *Client) Run(ctx context.Context, r Receiver) error {
	for {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("failed to dial", "error", err)
			continue
		}
		c.logger.Info("connected")
		c.setConn(conn)
		r.SetConnected(true)

		err = c.readLoop(ctx, conn, r)

		c.setConn(nil)
		conn.Close()
		r.SetConnected(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("connection lost", "error", err)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, r Receiver) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.Parse(raw)
		if err != nil {
			c.logger.Warn("failed to parse message", "error", err)
			continue
		}
		if _, ok := msg.(protocol.Ping); ok {
			if err := c.Send(protocol.Pong{}); err != nil {
				return err
			}
			continue
		}
		r.Deliver(msg)
	}
}
