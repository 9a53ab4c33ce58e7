// Package leb128 implements endian-invariant little-endian parsing of the
// WASM primitive forms built on LEB128: unsigned/signed 32- and 64-bit
// integers, plus the length-prefixed vectors and names built on top of
// them (spec §4.1).
//
// Beyond plain decoding, this package models the historical padding bug in
// BVM's original reader: a signed LEB128 constant whose final byte sets the
// continuation-independent sign bit (0x40) at a position where no bits of
// the target width remain for it to sign-extend into. Mode selects how
// that case is handled; see Mode.
package leb128

import (
	"github.com/BeamMW/beam-sub003/internal/errs"
)

// Mode selects how a LEB Reader handles the "surplus sign bit" case: a
// signed LEB128 value whose final byte's 0x40 bit would need to sign-extend
// past the target type's bit width.
type Mode int

const (
	// AutoWorkAround strips the surplus sign bit, rewriting the input
	// byte in place so the module parses identically on a second pass.
	// This is the default mode during a fresh compile.
	AutoWorkAround Mode = iota
	// Standard ignores the surplus sign bit: the payload bits already
	// folded into the result are kept, but no further sign-extension is
	// applied.
	Standard
	// EmulateX86 reproduces the legacy x86 behavior of computing the
	// sign-extension shift amount modulo the destination width, i.e.
	// `ret |= ^0 << (shift % width)`.
	EmulateX86
	// Restrict fails with Conflict whenever the surplus sign bit is
	// observed.
	Restrict
)

// Reader decodes LEB128 primitives from an in-memory buffer, advancing a
// cursor and optionally rewriting bytes in place (AutoWorkAround).
type Reader struct {
	buf           []byte
	pos           int
	mode          Mode
	modeTriggered bool
	checkpoints   *errs.CheckpointStack
}

// NewReader wraps buf for sequential LEB128/raw-byte decoding. buf is held,
// not copied: AutoWorkAround rewrites bytes in it directly.
func NewReader(buf []byte, mode Mode, checkpoints *errs.CheckpointStack) *Reader {
	return &Reader{buf: buf, mode: mode, checkpoints: checkpoints}
}

// Pos returns the current cursor position in bytes from the start of buf.
func (r *Reader) Pos() int { return r.pos }

// Len returns the total buffer length.
func (r *Reader) Len() int { return len(r.buf) }

// Remaining returns the number of unconsumed bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// ModeTriggered reports whether a surplus sign-bit pattern was observed by
// any Read call so far.
func (r *Reader) ModeTriggered() bool { return r.modeTriggered }

func (r *Reader) fail(format string, args ...interface{}) error {
	return r.checkpoints.Fail(errs.Decode, format, args...)
}

// Consume advances the cursor by n bytes and returns a slice over them.
// It fails if fewer than n bytes remain.
func (r *Reader) Consume(n int) ([]byte, error) {
	if n < 0 || r.Remaining() < n {
		return nil, r.fail("unexpected EOF: need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByte consumes and returns a single raw byte.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.Consume(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 decodes an unsigned 32-bit LEB128 value.
func (r *Reader) ReadU32() (uint32, error) {
	v, n, err := decodeUnsigned(r.buf[r.pos:], 32)
	if err != nil {
		return 0, r.fail("%v", err)
	}
	r.pos += n
	return uint32(v), nil
}

// ReadU64 decodes an unsigned 64-bit LEB128 value.
func (r *Reader) ReadU64() (uint64, error) {
	v, n, err := decodeUnsigned(r.buf[r.pos:], 64)
	if err != nil {
		return 0, r.fail("%v", err)
	}
	r.pos += n
	return v, nil
}

// ReadI32 decodes a signed 32-bit LEB128 value, applying the Reader's Mode
// to the surplus-sign-bit case.
func (r *Reader) ReadI32() (int32, error) {
	v, n, triggered, err := decodeSigned(r.buf[r.pos:], 32, r.mode)
	if err != nil {
		if err == errConflict {
			return 0, r.checkpoints.Fail(errs.Conflict, "signed LEB128 surplus sign bit under Restrict mode at offset %d", r.pos)
		}
		return 0, r.fail("%v", err)
	}
	if triggered {
		r.modeTriggered = true
	}
	r.pos += n
	return int32(v), nil
}

// ReadI64 decodes a signed 64-bit LEB128 value, applying the Reader's Mode
// to the surplus-sign-bit case.
func (r *Reader) ReadI64() (int64, error) {
	v, n, triggered, err := decodeSigned(r.buf[r.pos:], 64, r.mode)
	if err != nil {
		if err == errConflict {
			return 0, r.checkpoints.Fail(errs.Conflict, "signed LEB128 surplus sign bit under Restrict mode at offset %d", r.pos)
		}
		return 0, r.fail("%v", err)
	}
	if triggered {
		r.modeTriggered = true
	}
	r.pos += n
	return v, nil
}

// ReadVectorLen reads a WASM "vec" length prefix: an unsigned 32-bit
// LEB128.
func (r *Reader) ReadVectorLen() (uint32, error) { return r.ReadU32() }

// ReadName reads a WASM name: a vector-length-prefixed UTF-8 byte string.
func (r *Reader) ReadName() (string, error) {
	n, err := r.ReadVectorLen()
	if err != nil {
		return "", err
	}
	b, err := r.Consume(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// --- plain encode/decode helpers, independent of Reader, for callers that
// just need to produce or round-trip a single value (e.g. the compiler
// writing label placeholders, or tests) ---

var (
	errTruncated = &leberr{"truncated LEB128 input"}
	errOverlong  = &leberr{"overlong LEB128 encoding"}
	errConflict  = &leberr{"surplus sign bit with no room to sign-extend"}
)

type leberr struct{ s string }

func (e *leberr) Error() string { return e.s }

func decodeUnsigned(data []byte, width uint) (value uint64, consumed int, err error) {
	var shift uint
	for i := 0; ; i++ {
		if i >= len(data) {
			return 0, 0, errTruncated
		}
		if shift >= width {
			return 0, 0, errOverlong
		}
		b := data[i]
		value |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return value, i + 1, nil
		}
	}
}

// decodeSigned decodes a signed LEB128 value of the given bit width,
// returning the sign-extended result as int64, the number of bytes
// consumed, whether the surplus-sign-bit case was observed, and an error.
// When mode == Restrict and the surplus case occurs, err is errConflict.
// For AutoWorkAround, data is mutated in place (the 0x40 bit of the final
// byte is cleared).
func decodeSigned(data []byte, width uint, mode Mode) (value int64, consumed int, triggered bool, err error) {
	var shift uint
	var b byte
	i := 0
	for {
		if i >= len(data) {
			return 0, 0, false, errTruncated
		}
		if shift >= width+7 {
			// Absolute safety valve: no legitimate width needs this many groups.
			return 0, 0, false, errOverlong
		}
		b = data[i]
		value |= int64(b&0x7f) << shift
		shift += 7
		i++
		if b&0x80 == 0 {
			break
		}
	}
	if b&0x40 == 0 {
		return value, i, false, nil
	}
	if shift < width {
		value |= int64(^uint64(0) << shift)
		return value, i, false, nil
	}
	// Surplus sign bit: no room left within width for sign-extension.
	triggered = true
	switch mode {
	case Restrict:
		return 0, 0, true, errConflict
	case Standard:
		// Leave the payload bit (already folded into value) as-is.
	case EmulateX86:
		value |= int64(^uint64(0) << (shift % width))
	case AutoWorkAround:
		data[i-1] = b &^ 0x40
		value &^= int64(1) << (shift - 1)
	}
	return value, i, true, nil
}

// EncodeUint32 encodes v as unsigned LEB128.
func EncodeUint32(v uint32) []byte { return encodeUnsigned(uint64(v)) }

// EncodeUint64 encodes v as unsigned LEB128.
func EncodeUint64(v uint64) []byte { return encodeUnsigned(v) }

func encodeUnsigned(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			return out
		}
	}
}

// EncodeInt32 encodes v as signed LEB128.
func EncodeInt32(v int32) []byte { return encodeSigned(int64(v)) }

// EncodeInt64 encodes v as signed LEB128.
func EncodeInt64(v int64) []byte { return encodeSigned(v) }

func encodeSigned(v int64) []byte {
	var out []byte
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			more = false
		} else {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// LoadInt32 decodes a signed 32-bit LEB128 value from the start of data
// using Standard mode, returning the value, bytes consumed, and error.
func LoadInt32(data []byte) (int32, int, error) {
	v, n, _, err := decodeSigned(data, 32, Standard)
	if err != nil {
		return 0, 0, err
	}
	return int32(v), n, nil
}

// LoadInt64 decodes a signed 64-bit LEB128 value from the start of data
// using Standard mode, returning the value, bytes consumed, and error.
func LoadInt64(data []byte) (int64, int, error) {
	v, n, _, err := decodeSigned(data, 64, Standard)
	if err != nil {
		return 0, 0, err
	}
	return v, n, nil
}

// LoadUint32 decodes an unsigned 32-bit LEB128 value from the start of
// data, returning the value, bytes consumed, and error.
func LoadUint32(data []byte) (uint32, int, error) {
	v, n, err := decodeUnsigned(data, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(v), n, nil
}

// LoadUint64 decodes an unsigned 64-bit LEB128 value from the start of
// data, returning the value, bytes consumed, and error.
func LoadUint64(data []byte) (uint64, int, error) {
	v, n, err := decodeUnsigned(data, 64)
	if err != nil {
		return 0, 0, err
	}
	return v, n, nil
}
