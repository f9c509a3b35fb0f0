package transport

import (
	"bufio"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/NEOS-AI/neos/internal/neoserr"
)

// Connection is the client side of one peer link. At most one request may
// be in flight at a time; awaitingResponse tracks that window so the
// connection pool can decide whether it is safe to recycle.
type Connection[Req, Resp any] struct {
	conn     net.Conn
	r        *bufio.Reader
	reqCodec MessageCodec[Req]
	respCdc  MessageCodec[Resp]

	mu       sync.Mutex
	awaiting bool
	closed   bool
}

// Connect dials addr with the given retry schedule (nil means try once).
func Connect[Req, Resp any](addr string, reqCodec MessageCodec[Req], respCodec MessageCodec[Resp], retry *RetrySchedule) (*Connection[Req, Resp], error) {
	var lastErr error
	for {
		c, err := net.Dial("tcp", addr)
		if err == nil {
			return &Connection[Req, Resp]{conn: c, r: bufio.NewReader(c), reqCodec: reqCodec, respCdc: respCodec}, nil
		}
		lastErr = err
		if retry == nil {
			break
		}
		delay, ok := retry.Next()
		if !ok {
			break
		}
		time.Sleep(delay)
	}
	return nil, fmt.Errorf("%w: %v", neoserr.ErrUnreachable, lastErr)
}

// ConnectWithTimeout dials addr once, failing with ErrUnreachable if it
// does not connect within timeout.
func ConnectWithTimeout[Req, Resp any](addr string, reqCodec MessageCodec[Req], respCodec MessageCodec[Resp], timeout time.Duration) (*Connection[Req, Resp], error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", neoserr.ErrUnreachable, err)
	}
	return &Connection[Req, Resp]{conn: c, r: bufio.NewReader(c), reqCodec: reqCodec, respCdc: respCodec}, nil
}

// AwaitingResponse reports whether a request has been sent whose response
// has not yet arrived.
func (c *Connection[Req, Resp]) AwaitingResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.awaiting
}

// IsClosed reports whether the connection has been closed.
func (c *Connection[Req, Resp]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close closes the underlying socket.
func (c *Connection[Req, Resp]) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *Connection[Req, Resp]) roundTrip(frame Frame, timeout time.Duration) (Frame, error) {
	c.mu.Lock()
	c.awaiting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.awaiting = false
		c.mu.Unlock()
	}()

	if timeout > 0 {
		_ = c.conn.SetDeadline(time.Now().Add(timeout))
		defer c.conn.SetDeadline(time.Time{})
	}

	if err := writeFrame(c.conn, frame); err != nil {
		c.markClosed(err)
		return Frame{}, classifyIOErr(err)
	}

	resp, err := readFrame(c.r)
	if err != nil {
		c.markClosed(err)
		return Frame{}, classifyIOErr(err)
	}
	return resp, nil
}

func (c *Connection[Req, Resp]) markClosed(err error) {
	var netErr interface{ Timeout() bool }
	if ok := asNetError(err, &netErr); ok && netErr.Timeout() {
		return
	}
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// Send issues req and blocks for the response, with no timeout.
func (c *Connection[Req, Resp]) Send(req Req) (Resp, error) {
	return c.SendWithTimeout(req, 0)
}

// SendWithTimeout issues req, failing with ErrTimeout if no response
// arrives within timeout (0 means no timeout).
func (c *Connection[Req, Resp]) SendWithTimeout(req Req, timeout time.Duration) (Resp, error) {
	var zero Resp
	respFrame, err := c.roundTrip(One(c.reqCodec.Encode(req)), timeout)
	if err != nil {
		return zero, err
	}
	if len(respFrame.Bodies) != 1 {
		return zero, fmt.Errorf("%w: expected single response body", neoserr.ErrDecode)
	}
	return c.respCdc.Decode(respFrame.Bodies[0])
}

// BatchSend issues all reqs as a single Many-shaped frame and returns
// responses in the same order.
func (c *Connection[Req, Resp]) BatchSend(reqs []Req) ([]Resp, error) {
	bodies := make([][]byte, len(reqs))
	for i, req := range reqs {
		bodies[i] = c.reqCodec.Encode(req)
	}
	respFrame, err := c.roundTrip(Many(bodies), 0)
	if err != nil {
		return nil, err
	}
	out := make([]Resp, len(respFrame.Bodies))
	for i, body := range respFrame.Bodies {
		resp, err := c.respCdc.Decode(body)
		if err != nil {
			return nil, err
		}
		out[i] = resp
	}
	return out, nil
}
