package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/protocol"
)

// DefaultRequestTimeout bounds a request whose context carries no deadline.
const DefaultRequestTimeout = 10 * time.Second

// ErrDuplicateRequestID is returned when a request id is already in flight.
var ErrDuplicateRequestID = errors.New("request id already in flight")

// Client is the background side of a connection. Responses are matched to requests by
// request id only; arrival order carries no meaning.
type Client struct {
	conn    Conn
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	onEvent func(protocol.Message)

	doneOnce sync.Once
	done     chan struct{}
}

// NewClient returns a Client on conn. Call Run to start reading.
func NewClient(conn Conn, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		conn:    conn,
		logger:  logger,
		timeout: DefaultRequestTimeout,
		pending: make(map[string]chan protocol.Response),
		done:    make(chan struct{}),
	}
}

// SetTimeout overrides DefaultRequestTimeout.
func (c *Client) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// OnEvent registers the receiver of one-way events. fn runs on the read loop, so it
// must not wait on a Request itself.
func (c *Client) OnEvent(fn func(protocol.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onEvent = fn
}

// Request sends a new message of kind and waits for its response.
func (c *Client) Request(ctx context.Context, kind protocol.MessageKind, payload any) (protocol.Response, error) {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return protocol.Response{}, err
	}
	return c.Do(ctx, msg)
}

// Do sends msg as built by the caller and waits for the response carrying its request
// id. A response that arrives after ctx is done is discarded.
func (c *Client) Do(ctx context.Context, msg protocol.Message) (protocol.Response, error) {
	if msg.Type.IsEvent() {
		return protocol.Response{}, fmt.Errorf("%s is an event and has no response", msg.Type)
	}
	if msg.RequestID == "" {
		msg.RequestID = protocol.NewRequestID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = protocol.Now()
	}

	c.mu.Lock()
	timeout := c.timeout
	if _, dup := c.pending[msg.RequestID]; dup {
		c.mu.Unlock()
		return protocol.Response{}, fmt.Errorf("%w: %s", ErrDuplicateRequestID, msg.RequestID)
	}
	select {
	case <-c.done:
		c.mu.Unlock()
		return protocol.Response{}, ErrClosed
	default:
	}
	ch := make(chan protocol.Response, 1)
	c.pending[msg.RequestID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending[msg.RequestID] == ch {
			delete(c.pending, msg.RequestID)
		}
		c.mu.Unlock()
	}()

	if _, ok := ctx.Deadline(); !ok && timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := c.conn.Send(ctx, Envelope{Request: &msg}); err != nil {
		return protocol.Response{}, fmt.Errorf("failed to send %s: %w", msg.Type, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return protocol.Response{}, fmt.Errorf("%s request %s: %w", msg.Type, msg.RequestID, ctx.Err())
	case <-c.done:
		return protocol.Response{}, ErrClosed
	}
}

// Pending returns the number of requests awaiting a response.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Run reads frames until the connection closes or ctx is done. Requests still waiting
// when Run returns fail with ErrClosed.
func (c *Client) Run(ctx context.Context) error {
	defer c.doneOnce.Do(func() { close(c.done) })
	for {
		env, err := c.conn.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformedFrame):
				c.logger.Warn("skipping malformed frame", zap.Error(err))
				continue
			case errors.Is(err, ErrClosed), errors.Is(err, io.EOF):
				return nil
			default:
				return err
			}
		}

		switch {
		case env.Response != nil:
			c.deliver(*env.Response)
		case env.Event != nil:
			c.mu.Lock()
			fn := c.onEvent
			c.mu.Unlock()
			if fn != nil {
				fn(*env.Event)
			}
		case env.Request != nil:
			c.logger.Debug("dropping request sent to client", zap.String("type", string(env.Request.Type)))
		}
	}
}

func (c *Client) deliver(resp protocol.Response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("dropping response with no pending request", zap.String("requestId", resp.RequestID))
		return
	}
	ch <- resp
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
