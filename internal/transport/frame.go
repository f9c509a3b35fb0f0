// Package transport implements the length-prefixed, typed point-to-point
// request/response RPC used by the DHT and AMPC layers. Framing is
// bit-for-bit stable:
// a 4-byte little-endian length prefix, then a one-byte shape tag, then the
// payload. One is a single body; Many batches several bodies and preserves
// their order in the response: a pure batching optimization, not a
// different protocol.
package transport

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/NEOS-AI/neos/internal/neoserr"
)

type shapeTag byte

const (
	shapeOne  shapeTag = 0
	shapeMany shapeTag = 1
)

// Frame is the raw, untyped unit of exchange: one or many opaque bodies.
type Frame struct {
	Bodies [][]byte
}

// One builds a single-body frame.
func One(body []byte) Frame { return Frame{Bodies: [][]byte{body}} }

// Many builds a batch frame; response order matches request order.
func Many(bodies [][]byte) Frame { return Frame{Bodies: bodies} }

// IsMany reports whether the frame carries more than one body.
func (f Frame) IsMany() bool { return len(f.Bodies) != 1 }

func writeFrame(w io.Writer, f Frame) error {
	tag := shapeOne
	if f.IsMany() {
		tag = shapeMany
	}

	var payload []byte
	payload = append(payload, byte(tag))

	if tag == shapeOne {
		payload = appendBody(payload, f.Bodies[0])
	} else {
		var countBuf [4]byte
		binary.LittleEndian.PutUint32(countBuf[:], uint32(len(f.Bodies)))
		payload = append(payload, countBuf[:]...)
		for _, b := range f.Bodies {
			payload = appendBody(payload, b)
		}
	}

	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func appendBody(dst []byte, body []byte) []byte {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, body...)
}

func readFrame(r *bufio.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Frame{}, io.EOF
		}
		return Frame{}, err
	}
	total := binary.LittleEndian.Uint32(lenBuf[:])

	payload := make([]byte, total)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", neoserr.ErrDecode, err)
	}

	if len(payload) < 1 {
		return Frame{}, fmt.Errorf("%w: empty frame payload", neoserr.ErrDecode)
	}
	tag := shapeTag(payload[0])
	rest := payload[1:]

	switch tag {
	case shapeOne:
		body, _, err := readBody(rest)
		if err != nil {
			return Frame{}, err
		}
		return One(body), nil
	case shapeMany:
		if len(rest) < 4 {
			return Frame{}, fmt.Errorf("%w: truncated batch count", neoserr.ErrDecode)
		}
		count := binary.LittleEndian.Uint32(rest[:4])
		rest = rest[4:]
		bodies := make([][]byte, 0, count)
		for i := uint32(0); i < count; i++ {
			body, n, err := readBody(rest)
			if err != nil {
				return Frame{}, err
			}
			bodies = append(bodies, body)
			rest = rest[n:]
		}
		return Many(bodies), nil
	default:
		return Frame{}, fmt.Errorf("%w: unknown frame shape %d", neoserr.ErrDecode, tag)
	}
}

func readBody(buf []byte) (body []byte, consumed int, err error) {
	if len(buf) < 4 {
		return nil, 0, fmt.Errorf("%w: truncated body length", neoserr.ErrDecode)
	}
	n := binary.LittleEndian.Uint32(buf[:4])
	if uint32(len(buf)-4) < n {
		return nil, 0, fmt.Errorf("%w: truncated body", neoserr.ErrDecode)
	}
	return buf[4 : 4+n], int(4 + n), nil
}
