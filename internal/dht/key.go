// Package dht implements the sharded, replicated key-value store: typed
// Key/Value containers, per-node tables, a minimal consensus-replicated
// log, and the cluster-join lifecycle.
package dht

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/NEOS-AI/neos/internal/neoserr"
	"github.com/NEOS-AI/neos/internal/transport"
)

type Encoder = transport.Encoder
type Decoder = transport.Decoder

// KeyKind tags which variant of the canonical Key union a value holds.
type KeyKind byte

const (
	KeyString KeyKind = iota
	KeyNodeID
	KeyShardID
	KeyU64
	KeyUnit
)

// Key is the tagged variant over {UTF-8 string, node id, shard id, u64,
// unit}. Two keys of different Kind that share the same canonical bytes
// route identically; callers must not mix variants within one table.
type Key struct {
	Kind KeyKind
	Str  string
	Num  uint64
}

func NewStringKey(s string) Key  { return Key{Kind: KeyString, Str: s} }
func NewNodeIDKey(id uint64) Key { return Key{Kind: KeyNodeID, Num: id} }
func NewShardIDKey(id uint64) Key { return Key{Kind: KeyShardID, Num: id} }
func NewU64Key(v uint64) Key     { return Key{Kind: KeyU64, Num: v} }
func NewUnitKey() Key            { return Key{Kind: KeyUnit} }

// CanonicalBytes is the deterministic encoding used for routing and
// ordering: little-endian for numeric variants, raw UTF-8 for strings,
// empty for unit.
func (k Key) CanonicalBytes() []byte {
	switch k.Kind {
	case KeyString:
		return []byte(k.Str)
	case KeyNodeID, KeyShardID, KeyU64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], k.Num)
		return b[:]
	case KeyUnit:
		return nil
	default:
		return nil
	}
}

// Less orders keys by the lexicographic order of their canonical bytes,
// the ordering every table and range scan relies on.
func Less(a, b Key) bool {
	return bytes.Compare(a.CanonicalBytes(), b.CanonicalBytes()) < 0
}

func Compare(a, b Key) int {
	return bytes.Compare(a.CanonicalBytes(), b.CanonicalBytes())
}

// Equal compares canonical bytes only, so keys of different Kind that share
// the same bytes are the same table key, consistent with routing and ordering.
func (k Key) Equal(o Key) bool {
	return bytes.Equal(k.CanonicalBytes(), o.CanonicalBytes())
}

// EncodeKey writes a Key using the single-byte-discriminant wire format.
func EncodeKey(e *Encoder, k Key) {
	e.WriteByte(byte(k.Kind))
	switch k.Kind {
	case KeyString:
		e.WriteString(k.Str)
	case KeyNodeID, KeyShardID, KeyU64:
		e.WriteUint64(k.Num)
	case KeyUnit:
	}
}

// DecodeKey reads a Key written by EncodeKey.
func DecodeKey(d *Decoder) (Key, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return Key{}, err
	}
	kind := KeyKind(tag)
	switch kind {
	case KeyString:
		s, err := d.ReadString()
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: kind, Str: s}, nil
	case KeyNodeID, KeyShardID, KeyU64:
		n, err := d.ReadUint64()
		if err != nil {
			return Key{}, err
		}
		return Key{Kind: kind, Num: n}, nil
	case KeyUnit:
		return Key{Kind: kind}, nil
	default:
		return Key{}, fmt.Errorf("%w: unknown key kind %d", neoserr.ErrDecode, tag)
	}
}
