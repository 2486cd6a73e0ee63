// Package wsbase is the small websocket-lifecycle client shared by every
// exchange connector's streaming half: dial, a read loop that hands raw
// frames to a per-exchange decoder, a ping loop, and a reconnect signal.
// Grounded on the teacher's internal/providers/kraken/websocket.go, with
// the Kraken-specific channel/subscription bookkeeping stripped out since
// each connector owns its own wire protocol.
package wsbase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Decoder handles one raw frame read off the socket and returns nothing, so
// decode failures never tear the connection down; read errors end the read
// loop, and so does a panic inside the decoder (it is recovered and logged).
type Decoder func(messageType int, data []byte)

// Client is a minimal reconnect-aware websocket client. One Client wraps
// exactly one live connection; callers construct a new Client per
// reconnect attempt rather than reusing a torn-down one.
type Client struct {
	url         string
	readTimeout time.Duration
	pingEvery   time.Duration
	log         zerolog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	open    bool
	closeCh chan struct{}
	// ReconnectCh fires once (non-blocking) whenever the read or ping loop
	// observes a dead connection; callers select on it to trigger redial.
	ReconnectCh chan struct{}
}

// New builds a Client for url. readTimeout bounds how long ReadMessage may
// block before the connection is considered stalled; pingEvery controls the
// ping-frame cadence. Zero values fall back to 60s/30s.
func New(url string, readTimeout, pingEvery time.Duration, log zerolog.Logger) *Client {
	if readTimeout <= 0 {
		readTimeout = 60 * time.Second
	}
	if pingEvery <= 0 {
		pingEvery = 30 * time.Second
	}
	return &Client{
		url:         url,
		readTimeout: readTimeout,
		pingEvery:   pingEvery,
		log:         log,
		closeCh:     make(chan struct{}),
		ReconnectCh: make(chan struct{}, 1),
	}
}

// Dial opens the connection and starts the read/ping goroutines, delivering
// decoded frames to decode until ctx is cancelled or Close is called.
func (c *Client) Dial(ctx context.Context, decode Decoder) error {
	c.mu.Lock()
	if c.open {
		c.mu.Unlock()
		return fmt.Errorf("wsbase: already dialed")
	}
	dialer := websocket.DefaultDialer
	dialer.HandshakeTimeout = 15 * time.Second
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("wsbase: dial %s: %w", c.url, err)
	}
	c.conn = conn
	c.open = true
	c.mu.Unlock()

	go c.readLoop(ctx, decode)
	go c.pingLoop(ctx)
	return nil
}

// Send writes a text frame.
func (c *Client) Send(v []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return fmt.Errorf("wsbase: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteMessage(websocket.TextMessage, v)
}

// Close idempotently tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return
	}
	c.open = false
	select {
	case <-c.closeCh:
	default:
		close(c.closeCh)
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *Client) readLoop(ctx context.Context, decode Decoder) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Interface("panic", r).Msg("wsbase read loop panic")
		}
		c.triggerReconnect()
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		default:
		}
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		mt, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Warn().Err(err).Str("url", c.url).Msg("wsbase read failed")
			return
		}
		decode(mt, data)
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closeCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			open, conn := c.open, c.conn
			c.mu.Unlock()
			if !open || conn == nil {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn().Err(err).Msg("wsbase ping failed")
				c.triggerReconnect()
				return
			}
		}
	}
}

func (c *Client) triggerReconnect() {
	select {
	case c.ReconnectCh <- struct{}{}:
	default:
	}
}
