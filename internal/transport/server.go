package transport

import (
	"bufio"
	"errors"
	"io"
	"net"

	"go.uber.org/zap"
)

// Server binds a Service to a TCP address and serves connections
// concurrently; requests on a single connection are handled serially,
// matching the "at most one in-flight request per connection" session rule.
type Server[Req, Resp any] struct {
	ln       net.Listener
	reqCodec MessageCodec[Req]
	respCdc  MessageCodec[Resp]
	handle   Handler[Req, Resp]
	log      *zap.SugaredLogger
}

// Bind listens on addr and returns a Server ready to Accept connections.
func Bind[Req, Resp any](addr string, reqCodec MessageCodec[Req], respCodec MessageCodec[Resp], handle Handler[Req, Resp], log *zap.SugaredLogger) (*Server[Req, Resp], error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Server[Req, Resp]{ln: ln, reqCodec: reqCodec, respCdc: respCodec, handle: handle, log: log}, nil
}

// Addr returns the address the server is listening on.
func (s *Server[Req, Resp]) Addr() net.Addr { return s.ln.Addr() }

// Close stops accepting new connections.
func (s *Server[Req, Resp]) Close() error { return s.ln.Close() }

// Serve accepts connections in a loop, handling each on its own goroutine,
// until the listener is closed.
func (s *Server[Req, Resp]) Serve() error {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		go s.serveConn(conn)
	}
}

func (s *Server[Req, Resp]) serveConn(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)

	for {
		frame, err := readFrame(r)
		if err != nil {
			if err != io.EOF {
				s.log.Debugw("connection read failed", "err", err)
			}
			return
		}

		respBodies := make([][]byte, 0, len(frame.Bodies))
		for _, body := range frame.Bodies {
			req, err := s.reqCodec.Decode(body)
			if err != nil {
				s.log.Warnw("failed to decode request", "err", err)
				return
			}
			resp := s.handle(req)
			respBodies = append(respBodies, s.respCdc.Encode(resp))
		}

		var out Frame
		if frame.IsMany() {
			out = Many(respBodies)
		} else {
			out = One(respBodies[0])
		}
		if err := writeFrame(conn, out); err != nil {
			s.log.Debugw("failed to respond", "err", err)
			return
		}
	}
}
