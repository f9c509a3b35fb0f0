package dht

import (
	"fmt"

	"github.com/NEOS-AI/neos/internal/neoserr"
)

// ValueKind tags which domain payload a Value carries.
type ValueKind byte

const (
	ValueU64 ValueKind = iota
	ValueF32
	ValueF64
	ValueKahan
	ValueHLL8
	ValueHLL16
	ValueHLL32
	ValueHLL64
	ValueHLL128
)

func (k ValueKind) hllWidth() (int, bool) {
	switch k {
	case ValueHLL8:
		return 8, true
	case ValueHLL16:
		return 16, true
	case ValueHLL32:
		return 32, true
	case ValueHLL64:
		return 64, true
	case ValueHLL128:
		return 128, true
	default:
		return 0, false
	}
}

// KahanSum is a compensated running sum that tracks floating point error
// lost to catastrophic cancellation across many additions.
type KahanSum struct {
	Sum         float64
	Compensation float64
}

// Add folds x into the running sum using Kahan's correction.
func (k KahanSum) Add(x float64) KahanSum {
	y := x - k.Compensation
	t := k.Sum + y
	return KahanSum{Sum: t, Compensation: (t - k.Sum) - y}
}

// HyperLogLog is a fixed-width register sketch used for approximate
// distinct counting; width is the number of registers (one of
// 8/16/32/64/128 per the closed menu of supported widths).
type HyperLogLog struct {
	Width     int
	Registers []byte
}

func newHLL(width int) *HyperLogLog {
	return &HyperLogLog{Width: width, Registers: make([]byte, width)}
}

// Add records x's contribution: x is used as given (no hashing is applied
// here), routed to a register by x mod Width, and the register keeps the
// maximum leading-zero-run seen in x / Width.
func (h *HyperLogLog) Add(x uint64) {
	idx := x % uint64(h.Width)
	rest := x / uint64(h.Width)
	rank := leadingZeros64(rest) + 1
	if byte(rank) > h.Registers[idx] {
		h.Registers[idx] = byte(rank)
	}
}

func leadingZeros64(x uint64) int {
	n := 0
	for i := 63; i >= 0; i-- {
		if x&(1<<uint(i)) != 0 {
			break
		}
		n++
	}
	return n
}

// Merge combines another sketch of the same width into this one by taking
// the element-wise maximum of registers.
func (h *HyperLogLog) Merge(o *HyperLogLog) {
	for i := range h.Registers {
		if o.Registers[i] > h.Registers[i] {
			h.Registers[i] = o.Registers[i]
		}
	}
}

func (h *HyperLogLog) clone() *HyperLogLog {
	regs := make([]byte, len(h.Registers))
	copy(regs, h.Registers)
	return &HyperLogLog{Width: h.Width, Registers: regs}
}

// Value is the tagged variant over the fixed menu of domain payloads.
type Value struct {
	Kind  ValueKind
	U64   uint64
	F32   float32
	F64   float64
	Kahan KahanSum
	HLL   *HyperLogLog
}

func NewU64Value(v uint64) Value     { return Value{Kind: ValueU64, U64: v} }
func NewF32Value(v float32) Value    { return Value{Kind: ValueF32, F32: v} }
func NewF64Value(v float64) Value    { return Value{Kind: ValueF64, F64: v} }
func NewKahanValue(v KahanSum) Value { return Value{Kind: ValueKahan, Kahan: v} }

func NewHLLValue(width int) (Value, error) {
	switch width {
	case 8, 16, 32, 64, 128:
		return Value{Kind: hllKindForWidth(width), HLL: newHLL(width)}, nil
	default:
		return Value{}, fmt.Errorf("dht: unsupported hyperloglog width %d", width)
	}
}

func hllKindForWidth(w int) ValueKind {
	switch w {
	case 8:
		return ValueHLL8
	case 16:
		return ValueHLL16
	case 32:
		return ValueHLL32
	case 64:
		return ValueHLL64
	default:
		return ValueHLL128
	}
}

// Equal compares two values for exact equality, used to detect the
// NoChange upsert outcome.
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case ValueU64:
		return v.U64 == o.U64
	case ValueF32:
		return v.F32 == o.F32
	case ValueF64:
		return v.F64 == o.F64
	case ValueKahan:
		return v.Kahan == o.Kahan
	default:
		if v.HLL == nil || o.HLL == nil {
			return v.HLL == o.HLL
		}
		if v.HLL.Width != o.HLL.Width {
			return false
		}
		for i := range v.HLL.Registers {
			if v.HLL.Registers[i] != o.HLL.Registers[i] {
				return false
			}
		}
		return true
	}
}

func (v Value) clone() Value {
	out := v
	if v.HLL != nil {
		out.HLL = v.HLL.clone()
	}
	return out
}

// EncodeValue writes a Value using the single-byte-discriminant wire format.
func EncodeValue(e *Encoder, v Value) {
	e.WriteByte(byte(v.Kind))
	switch v.Kind {
	case ValueU64:
		e.WriteUint64(v.U64)
	case ValueF32:
		e.WriteFloat32(v.F32)
	case ValueF64:
		e.WriteFloat64(v.F64)
	case ValueKahan:
		e.WriteFloat64(v.Kahan.Sum)
		e.WriteFloat64(v.Kahan.Compensation)
	default:
		e.WriteBytes(v.HLL.Registers)
	}
}

// DecodeValue reads a Value written by EncodeValue.
func DecodeValue(d *Decoder) (Value, error) {
	tag, err := d.ReadByte()
	if err != nil {
		return Value{}, err
	}
	kind := ValueKind(tag)
	switch kind {
	case ValueU64:
		n, err := d.ReadUint64()
		return Value{Kind: kind, U64: n}, err
	case ValueF32:
		f, err := d.ReadFloat32()
		return Value{Kind: kind, F32: f}, err
	case ValueF64:
		f, err := d.ReadFloat64()
		return Value{Kind: kind, F64: f}, err
	case ValueKahan:
		sum, err := d.ReadFloat64()
		if err != nil {
			return Value{}, err
		}
		comp, err := d.ReadFloat64()
		return Value{Kind: kind, Kahan: KahanSum{Sum: sum, Compensation: comp}}, err
	default:
		width, ok := kind.hllWidth()
		if !ok {
			return Value{}, fmt.Errorf("%w: unknown value kind %d", neoserr.ErrDecode, tag)
		}
		regs, err := d.ReadBytes()
		if err != nil {
			return Value{}, err
		}
		h := newHLL(width)
		copy(h.Registers, regs)
		return Value{Kind: kind, HLL: h}, nil
	}
}
