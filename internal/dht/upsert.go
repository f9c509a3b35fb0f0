package dht

import "fmt"

// UpsertAction reports what an upsert did to a key.
type UpsertAction byte

const (
	Inserted UpsertAction = iota
	Merged
	NoChange
)

func (a UpsertAction) String() string {
	switch a {
	case Inserted:
		return "Inserted"
	case Merged:
		return "Merged"
	case NoChange:
		return "NoChange"
	default:
		return "Unknown"
	}
}

// UpsertKind is the closed, wire-serializable menu of merge functions. A
// closed set (rather than an arbitrary function pointer) is what lets a
// replica re-apply the same upsert deterministically from the log.
type UpsertKind byte

const (
	U64Add UpsertKind = iota
	F32Add
	F64Add
	KahanSumAdd
	HLLMerge8
	HLLMerge16
	HLLMerge32
	HLLMerge64
	HLLMerge128
)

// Apply merges new into old according to fn, returning the merged value.
// Panics if old/new don't carry the payload type fn expects: that is a
// caller bug (mismatched table/upsert pairing), not a recoverable error.
func Apply(fn UpsertKind, old, new Value) Value {
	switch fn {
	case U64Add:
		return NewU64Value(old.U64 + new.U64)
	case F32Add:
		return NewF32Value(old.F32 + new.F32)
	case F64Add:
		return NewF64Value(old.F64 + new.F64)
	case KahanSumAdd:
		return NewKahanValue(old.Kahan.Add(new.Kahan.Sum))
	case HLLMerge8, HLLMerge16, HLLMerge32, HLLMerge64, HLLMerge128:
		merged := old.clone()
		merged.HLL.Merge(new.HLL)
		return merged
	default:
		panic(fmt.Sprintf("dht: unknown upsert kind %d", fn))
	}
}

// EncodeUpsertKind/DecodeUpsertKind serialize the menu selector alongside
// the request so a replica can re-apply it deterministically.
func EncodeUpsertKind(e *Encoder, k UpsertKind) { e.WriteByte(byte(k)) }

func DecodeUpsertKind(d *Decoder) (UpsertKind, error) {
	b, err := d.ReadByte()
	return UpsertKind(b), err
}
