// Package signal is the node-side client of the rendezvous service.
// It carries only WebRTC negotiation envelopes; no session state ever
// travels through it.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/huddle-live/huddle/internal/domain"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("signal connection closed")
)

const writeDeadline = 5 * time.Second

// Handler consumes inbound envelopes addressed to this peer.
type Handler func(env Envelope)

type Client struct {
	logger zerolog.Logger
	self   domain.PeerID
	conn   *websocket.Conn
	send   chan []byte

	mu      sync.RWMutex
	closed  bool
	handler Handler
}

// Dial connects to the rendezvous and registers under the local id.
func Dial(ctx context.Context, rawURL string, self domain.PeerID) (*Client, error) {
	url := fmt.Sprintf("%s?peer=%s", rawURL, string(self))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial rendezvous: %w", err)
	}
	return &Client{
		logger: log.With().Str("module", "signal.client").Str("self", string(self)).Logger(),
		self:   self,
		conn:   conn,
		send:   make(chan []byte, 32),
	}, nil
}

// OnEnvelope registers the inbound handler. Must be set before Start.
func (c *Client) OnEnvelope(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Client) Start(ctx context.Context) {
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Send queues an envelope; the src field is stamped here and
// re-stamped by the server anyway.
func (c *Client) Send(env Envelope) error {
	env.SRC = string(c.self)
	data, err := MarshalEnvelope(env)
	if err != nil {
		return err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.logger.Error().Err(err).Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Error().Err(err).Msg("writePump write error")
				return
			}
		}
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.Close()
	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				c.logger.Info().Err(err).Msg("readPump closing")
				return
			}
			env, err := UnmarshalEnvelope(data)
			if err != nil {
				c.logger.Warn().Err(err).Msg("bad signal envelope")
				continue
			}
			c.mu.RLock()
			h := c.handler
			c.mu.RUnlock()
			if h != nil {
				h(env)
			}
		}
	}
}
