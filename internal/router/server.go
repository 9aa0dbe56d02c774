package router

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/protocol"
)

// Handler answers one request. It must return a response for every message; the
// router overwrites RequestID with the request's own.
type Handler interface {
	Handle(ctx context.Context, msg protocol.Message) protocol.Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg protocol.Message) protocol.Response

func (f HandlerFunc) Handle(ctx context.Context, msg protocol.Message) protocol.Response {
	return f(ctx, msg)
}

// Server is the page side of a connection: it dispatches inbound requests to a
// Handler and sends one-way events outward.
type Server struct {
	conn   Conn
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewServer returns a Server on conn.
func NewServer(conn Conn, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{conn: conn, logger: logger}
}

// Serve reads requests until the connection closes or ctx is done. Each request is
// handled on its own goroutine and answered exactly once. Serve waits for in-flight
// handlers before returning.
func (s *Server) Serve(ctx context.Context, h Handler) error {
	defer s.wg.Wait()
	for {
		env, err := s.conn.Receive(ctx)
		if err != nil {
			switch {
			case errors.Is(err, ErrMalformedFrame):
				s.logger.Warn("skipping malformed frame", zap.Error(err))
				continue
			case errors.Is(err, ErrClosed), errors.Is(err, io.EOF):
				return nil
			default:
				return err
			}
		}

		switch {
		case env.Request != nil:
			msg := *env.Request
			if msg.Type.IsEvent() {
				s.logger.Debug("ignoring event sent as request", zap.String("type", string(msg.Type)))
				continue
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.dispatch(ctx, h, msg)
			}()
		case env.Event != nil:
			s.logger.Debug("ignoring inbound event", zap.String("type", string(env.Event.Type)))
		case env.Response != nil:
			s.logger.Debug("dropping unexpected response", zap.String("requestId", env.Response.RequestID))
		}
	}
}

func (s *Server) dispatch(ctx context.Context, h Handler, msg protocol.Message) {
	resp := s.call(ctx, h, msg)
	resp.RequestID = msg.RequestID
	if err := s.conn.Send(ctx, Envelope{Response: &resp}); err != nil {
		// The requester may be gone; it treats the request as lost after its own timeout.
		s.logger.Debug("failed to send response",
			zap.String("requestId", msg.RequestID),
			zap.String("type", string(msg.Type)),
			zap.Error(err))
	}
}

func (s *Server) call(ctx context.Context, h Handler, msg protocol.Message) (resp protocol.Response) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("handler panicked",
				zap.String("requestId", msg.RequestID),
				zap.String("type", string(msg.Type)),
				zap.Any("panic", r))
			resp = protocol.Fail(msg, protocol.CodeContentScriptError, fmt.Sprintf("handler panicked: %v", r))
		}
	}()
	return h.Handle(ctx, msg)
}

// Emit sends a one-way event. No response is expected.
func (s *Server) Emit(ctx context.Context, kind protocol.MessageKind, payload any) error {
	if !kind.IsEvent() {
		return fmt.Errorf("%s is not an event type", kind)
	}
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	if err := s.conn.Send(ctx, Envelope{Event: &msg}); err != nil {
		return fmt.Errorf("failed to emit %s: %w", kind, err)
	}
	return nil
}
