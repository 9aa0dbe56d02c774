// Package router carries protocol messages between the background context and page
// adapters and correlates responses with their requests.
package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/kernel/chatbridge/internal/protocol"
)

var (
	// ErrClosed is returned by operations on a closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrMalformedFrame is wrapped by Receive when a frame does not decode. The
	// connection stays usable.
	ErrMalformedFrame = errors.New("malformed frame")
)

// MaxFrameSize caps Content-Length framed bodies.
const MaxFrameSize = 8 << 20

// Envelope is one frame on the wire. Exactly one field is set.
type Envelope struct {
	Request  *protocol.Message  `json:"request,omitempty"`
	Response *protocol.Response `json:"response,omitempty"`
	Event    *protocol.Message  `json:"event,omitempty"`
}

// Conn is one side of a duplex channel between two contexts.
type Conn interface {
	Send(ctx context.Context, env Envelope) error
	Receive(ctx context.Context) (Envelope, error)
	Close() error
}

type pipeConn struct {
	in     <-chan Envelope
	out    chan<- Envelope
	closed chan struct{}
	once   *sync.Once
}

// Pipe returns the two ends of an in-memory connection. Closing either end closes both.
func Pipe() (Conn, Conn) {
	ab := make(chan Envelope, 16)
	ba := make(chan Envelope, 16)
	closed := make(chan struct{})
	once := &sync.Once{}
	return &pipeConn{in: ba, out: ab, closed: closed, once: once},
		&pipeConn{in: ab, out: ba, closed: closed, once: once}
}

func (p *pipeConn) Send(ctx context.Context, env Envelope) error {
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	select {
	case p.out <- env:
		return nil
	case <-p.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeConn) Receive(ctx context.Context) (Envelope, error) {
	select {
	case env := <-p.in:
		return env, nil
	case <-p.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (p *pipeConn) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

type frame struct {
	data []byte
	err  error
}

type streamConn struct {
	r  *bufio.Reader
	rc io.Closer
	w  io.Writer
	wc io.Closer

	writeMu sync.Mutex

	startOnce sync.Once
	frames    chan frame
	closeOnce sync.Once
	closed    chan struct{}
}

// NewStreamConn speaks newline-delimited JSON over r and w. Content-Length framed
// messages are also accepted on read. If r or w implement io.Closer, Close closes them.
func NewStreamConn(r io.Reader, w io.Writer) Conn {
	c := &streamConn{
		r:      bufio.NewReader(r),
		w:      w,
		frames: make(chan frame),
		closed: make(chan struct{}),
	}
	c.rc, _ = r.(io.Closer)
	c.wc, _ = w.(io.Closer)
	return c
}

func (c *streamConn) Send(ctx context.Context, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	data = append(data, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	if _, err := c.w.Write(data); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}
	return nil
}

func (c *streamConn) Receive(ctx context.Context) (Envelope, error) {
	c.startOnce.Do(func() { go c.readLoop() })

	select {
	case f, ok := <-c.frames:
		if !ok {
			return Envelope{}, io.EOF
		}
		if f.err != nil {
			select {
			case <-c.closed:
				return Envelope{}, ErrClosed
			default:
			}
			return Envelope{}, f.err
		}
		var env Envelope
		if err := json.Unmarshal(f.data, &env); err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return env, nil
	case <-c.closed:
		return Envelope{}, ErrClosed
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}

func (c *streamConn) readLoop() {
	defer close(c.frames)
	for {
		data, err := readFrame(c.r, MaxFrameSize)
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case c.frames <- frame{data: data, err: err}:
		case <-c.closed:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *streamConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.rc != nil {
			err = c.rc.Close()
		}
		if c.wc != nil {
			if werr := c.wc.Close(); err == nil {
				err = werr
			}
		}
	})
	return err
}

// readFrame reads one line-delimited or Content-Length framed message.
func readFrame(reader *bufio.Reader, maxBodySize int) ([]byte, error) {
	for {
		firstLineBytes, err := reader.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				trimmed := bytes.TrimSpace(firstLineBytes)
				if len(trimmed) == 0 {
					return nil, io.EOF
				}
				return trimmed, nil
			}
			return nil, err
		}

		firstLine := strings.TrimSpace(string(firstLineBytes))
		if firstLine == "" {
			continue
		}
		if !strings.HasPrefix(strings.ToLower(firstLine), "content-length:") {
			return []byte(firstLine), nil
		}

		_, value, _ := strings.Cut(firstLine, ":")
		length, convErr := strconv.Atoi(strings.TrimSpace(value))
		if convErr != nil || length < 0 || length > maxBodySize {
			return []byte(firstLine), nil
		}

		// Remaining headers end at a blank line.
		for {
			headerLine, headerErr := reader.ReadBytes('\n')
			if headerErr != nil {
				return nil, headerErr
			}
			if strings.TrimSpace(string(headerLine)) == "" {
				break
			}
		}

		payload := make([]byte, length)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return nil, err
		}
		return bytes.TrimSpace(payload), nil
	}
}
