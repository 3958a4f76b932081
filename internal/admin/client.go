// Package admin speaks the conductor's administrative protocol.
//
// Requests and responses are msgpack documents tagged by variant
// ({"type": ..., "data": ...}) carried inside a msgpack websocket envelope
// ({"type": "Request"|"Response"|"Signal", "id": n, "data": bytes}).
package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// DefaultRequestTimeout bounds one admin round-trip.
const DefaultRequestTimeout = 50 * time.Second

// ErrClosed is returned by Command after Close.
var ErrClosed = errors.New("admin client closed")

// Commander sends one admin request and waits for its response.
type Commander interface {
	Command(ctx context.Context, req Request) (Response, error)
}

// Client is a websocket connection to a conductor admin interface.
// It allows one request in flight at a time.
type Client struct {
	conn    *websocket.Conn
	url     string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	nextID uint64
	closed bool
}

var _ Commander = (*Client)(nil)

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout sets the per-request deadline. Zero disables it.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// Dial connects to the admin websocket at url (ws://host:port).
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("connect to admin interface %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	c := &Client{
		conn:    conn,
		url:     url,
		timeout: DefaultRequestTimeout,
		log:     slog.With("component", "admin-client", "url", url),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log.Debug("Connected to admin interface.")
	return c, nil
}

// Command sends req and blocks until the matching response arrives.
// Signal frames received meanwhile are dropped.
func (c *Client) Command(ctx context.Context, req Request) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Response{}, ErrClosed
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body, err := EncodeRequest(req)
	if err != nil {
		return Response{}, err
	}
	id := c.nextID
	c.nextID++
	frame, err := encodeWire(wireRequest, id, body)
	if err != nil {
		return Response{}, err
	}

	started := time.Now()
	if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		return Response{}, fmt.Errorf("send %s request: %w", req.Type, err)
	}

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return Response{}, fmt.Errorf("read %s response: %w", req.Type, err)
		}
		msg, err := decodeWire(raw)
		if err != nil {
			return Response{}, err
		}

		switch msg.Type {
		case wireSignal:
			c.log.Debug("Dropped signal while waiting for response.", "request", req.Type)
			continue
		case wireResponse:
		default:
			return Response{}, fmt.Errorf("read %s response: unexpected envelope %q", req.Type, msg.Type)
		}
		if msg.ID != id {
			c.log.Debug("Dropped stale response.", "id", msg.ID, "want", id)
			continue
		}

		resp, err := DecodeResponse(msg.Data)
		if err != nil {
			return Response{}, err
		}
		c.log.Debug("Admin round-trip.", "request", req.Type, "response", resp.Type, "elapsed", time.Since(started))
		return resp, nil
	}
}

// Close closes the websocket. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		c.log.Debug("Admin websocket close.", "err", err)
	}
	return nil
}
