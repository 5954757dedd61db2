package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mikenoired/synapse-sub000/internal/common"
	"github.com/mikenoired/synapse-sub000/internal/logging"
)

// InitTimeout bounds how long Init waits for the endpoint's acknowledgment.
// Initialization must fail, not hang, when no acknowledgment arrives.
const InitTimeout = 5 * time.Second

// Client is one tab's connection to the shared coordination endpoint.
// Send, SyncNow and Broadcast are asynchronous and never block the caller.
type Client struct {
	url    string
	logger logging.Logger

	conn   *websocket.Conn
	sendCh chan *Envelope
	done   chan struct{}

	mu       sync.Mutex
	leader   bool
	handlers map[string]func(payload json.RawMessage)
	closed   bool
}

func NewClient(url string, logger logging.Logger) *Client {
	return &Client{
		url:      url,
		logger:   logger.With("module", "worker"),
		sendCh:   make(chan *Envelope, 16),
		done:     make(chan struct{}),
		handlers: make(map[string]func(payload json.RawMessage)),
	}
}

// Init dials the endpoint, registers the tab and waits for INIT_SUCCESS.
// It returns common.ErrCoordinatorUnavailable when the endpoint cannot be
// reached or does not acknowledge within InitTimeout; the caller should then
// degrade to local-only auto-sync.
func (c *Client) Init(ctx context.Context, userID string) error {
	dialCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrCoordinatorUnavailable, err)
	}
	c.conn = conn

	acked := make(chan InitSuccessPayload, 1)
	c.On(TypeInitSuccess, func(payload json.RawMessage) {
		var p InitSuccessPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			c.logger.Warn(context.Background(), "bad INIT_SUCCESS payload", "error", err)
			return
		}
		select {
		case acked <- p:
		default:
		}
	})

	go c.writePump()
	go c.readPump()

	if err := c.Send(TypeInit, InitPayload{UserID: userID}); err != nil {
		return err
	}

	select {
	case <-acked:
		return nil
	case <-time.After(InitTimeout):
		c.Close()
		return fmt.Errorf("%w: init timeout", common.ErrCoordinatorUnavailable)
	case <-ctx.Done():
		c.Close()
		return ctx.Err()
	}
}

// Leader reports whether this tab is the elected sync driver. It flips to
// true when the endpoint promotes the tab after the previous driver left.
func (c *Client) Leader() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.leader
}

// On registers a handler for a message type. Handlers run on the read loop;
// they must not block.
func (c *Client) On(msgType string, handler func(payload json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[msgType] = handler
}

// Off removes a handler.
func (c *Client) Off(msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, msgType)
}

// Send queues a frame for delivery. It never blocks: when the queue is full
// the frame is dropped and an error returned.
func (c *Client) Send(msgType string, payload any) error {
	env, err := NewEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	select {
	case c.sendCh <- env:
		return nil
	case <-c.done:
		return common.ErrCoordinatorUnavailable
	default:
		return fmt.Errorf("coordinator send queue full, dropped %s", msgType)
	}
}

// SyncNow asks the elected driver to run a cycle immediately.
func (c *Client) SyncNow() {
	_ = c.Send(TypeSyncNow, nil)
}

// Broadcast relays an arbitrary payload to all other tabs of the same user.
func (c *Client) Broadcast(payload any) {
	_ = c.Send(TypeBroadcast, payload)
}

// Close announces departure and tears the connection down.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.conn != nil {
		_ = c.conn.WriteMessage(websocket.TextMessage, mustMarshal(&Envelope{Type: TypeStop}))
		_ = c.conn.Close()
	}
	close(c.done)
}

func (c *Client) writePump() {
	for {
		select {
		case env := <-c.sendCh:
			if err := c.conn.WriteJSON(env); err != nil {
				c.logger.Warn(context.Background(), "coordinator write failed", "error", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) readPump() {
	for {
		env := &Envelope{}
		if err := c.conn.ReadJSON(env); err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn(context.Background(), "coordinator connection lost", "error", err)
			}
			return
		}

		// Leader bookkeeping happens here so it survives handler
		// replacement via On.
		if env.Type == TypeInitSuccess {
			var p InitSuccessPayload
			if err := json.Unmarshal(env.Payload, &p); err == nil {
				c.mu.Lock()
				c.leader = p.Leader
				c.mu.Unlock()
			}
		}

		c.mu.Lock()
		handler := c.handlers[env.Type]
		c.mu.Unlock()

		if handler != nil {
			handler(env.Payload)
		}
	}
}

func mustMarshal(env *Envelope) []byte {
	data, _ := json.Marshal(env)
	return data
}
