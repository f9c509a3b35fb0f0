// Package neoserr holds the sentinel error kinds shared across neos'
// distributed core. Components wrap these with context via fmt.Errorf's
// %w verb; callers compare with errors.Is.
package neoserr

import "errors"

// Transport errors.
var (
	ErrUnreachable = errors.New("transport: peer unreachable after retries exhausted")
	ErrClosed      = errors.New("transport: connection closed by peer")
	ErrTimeout     = errors.New("transport: request timed out")
	ErrDecode      = errors.New("transport: invalid frame or unknown variant")
)

// DHT errors.
var (
	ErrNoShards       = errors.New("dht: routing against an empty shard map")
	ErrUnavailable    = errors.New("dht: no reachable replica for shard")
	ErrAlreadyMember  = errors.New("dht: join refused, already a cluster member")
	ErrConsensusFatal = errors.New("dht: non-recoverable consensus error")
)

// Indexer errors.
var (
	ErrDownloadFailed = errors.New("index: warc download retry schedule exhausted")
	ErrParseFailed    = errors.New("index: malformed html or record")
	ErrEmptyField     = errors.New("index: required indexed field missing")
)

// WarcParse wraps every violation of the on-disk WARC contract with the
// specific reason.
type WarcParse struct {
	Reason string
}

func (e *WarcParse) Error() string {
	return "warc: " + e.Reason
}

// NewWarcParse builds a WarcParse error for the given reason.
func NewWarcParse(reason string) error {
	return &WarcParse{Reason: reason}
}
