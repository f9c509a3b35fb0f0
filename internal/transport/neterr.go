package transport

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/NEOS-AI/neos/internal/neoserr"
)

func asNetError(err error, target *interface{ Timeout() bool }) bool {
	var ne net.Error
	if errors.As(err, &ne) {
		*target = ne
		return true
	}
	return false
}

// classifyIOErr maps a raw socket error into the transport error taxonomy:
// Timeout for deadline exceeded, Closed for peer hangup, Decode otherwise.
func classifyIOErr(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", neoserr.ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", neoserr.ErrClosed, err)
	}
	return fmt.Errorf("%w: %v", neoserr.ErrDecode, err)
}
