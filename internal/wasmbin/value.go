package wasmbin

import (
	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
)

// readValueType reads and validates a single value-type byte. Only i32 and
// i64 are implemented; f32/f64 are recognized only to produce a precise
// Decode error (spec §1 Non-goals: floating point instructions).
func readValueType(r *leb128.Reader, cp *errs.CheckpointStack) (api.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	switch b {
	case api.ValueTypeI32, api.ValueTypeI64:
		return b, nil
	case api.ValueTypeF32, api.ValueTypeF64:
		return 0, cp.Fail(errs.Decode, "floating point value type %#x is not supported", b)
	default:
		return 0, cp.Fail(errs.Decode, "invalid value type %#x", b)
	}
}

// readBlockType reads a `block`/`loop` block type, which must always be
// 0x40 (void) per spec §4.3.
func readBlockType(r *leb128.Reader, cp *errs.CheckpointStack) error {
	b, err := r.ReadByte()
	if err != nil {
		return err
	}
	if b != 0x40 {
		return cp.Fail(errs.Decode, "block type %#x is not supported; only void blocks (0x40) are", b)
	}
	return nil
}

// skipLimits reads a WASM "limits" record (flags byte, min, optional max) and
// discards it: table and memory limits are accepted but never enforced by
// this engine (spec §4.2).
func skipLimits(r *leb128.Reader) error {
	flags, err := r.ReadByte()
	if err != nil {
		return err
	}
	if _, err := r.ReadU32(); err != nil { // min
		return err
	}
	if flags&0x1 != 0 {
		if _, err := r.ReadU32(); err != nil { // max
			return err
		}
	}
	return nil
}

// readI32Initializer reads a constant expression of the sole supported
// form, `i32.const <x> end`, and returns x. The value is discarded by every
// caller except the element-segment parser, which requires it to equal 1
// (spec §4.2, a historical encoding quirk preserved bit-exactly per §9).
func readI32Initializer(r *leb128.Reader, cp *errs.CheckpointStack) (int32, error) {
	const opI32Const = 0x41
	const opEnd = 0x0b
	op, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if op != opI32Const {
		return 0, cp.Fail(errs.Decode, "unsupported constant expression opcode %#x; only i32.const is allowed", op)
	}
	v, err := r.ReadI32()
	if err != nil {
		return 0, err
	}
	end, err := r.ReadByte()
	if err != nil {
		return 0, err
	}
	if end != opEnd {
		return 0, cp.Fail(errs.Decode, "constant expression must terminate with end (0x0b), got %#x", end)
	}
	return v, nil
}
