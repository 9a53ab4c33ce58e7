package leb128

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/internal/errs"
)

func newCheckpoints() *errs.CheckpointStack { return &errs.CheckpointStack{} }

func TestEncodeDecodeInt32(t *testing.T) {
	for _, c := range []struct {
		input    int32
		expected []byte
	}{
		{input: -165675008, expected: []byte{0x80, 0x80, 0x80, 0xb1, 0x7f}},
		{input: -624485, expected: []byte{0x9b, 0xf1, 0x59}},
		{input: -16256, expected: []byte{0x80, 0x81, 0x7f}},
		{input: -4, expected: []byte{0x7c}},
		{input: -1, expected: []byte{0x7f}},
		{input: 0, expected: []byte{0x00}},
		{input: 1, expected: []byte{0x01}},
		{input: 4, expected: []byte{0x04}},
		{input: 16256, expected: []byte{0x80, 0xff, 0x0}},
		{input: 624485, expected: []byte{0xe5, 0x8e, 0x26}},
		{input: 165675008, expected: []byte{0x80, 0x80, 0x80, 0xcf, 0x0}},
		{input: int32(math.MaxInt32), expected: []byte{0xff, 0xff, 0xff, 0xff, 0x7}},
	} {
		require.Equal(t, c.expected, EncodeInt32(c.input))
		decoded, _, err := LoadInt32(c.expected)
		require.NoError(t, err)
		require.Equal(t, c.input, decoded)
	}
}

func TestEncodeDecodeInt64(t *testing.T) {
	for _, c := range []struct {
		input    int64
		expected []byte
	}{
		{input: -math.MaxInt32, expected: []byte{0x81, 0x80, 0x80, 0x80, 0x78}},
		{input: -165675008, expected: []byte{0x80, 0x80, 0x80, 0xb1, 0x7f}},
		{input: -1, expected: []byte{0x7f}},
		{input: 0, expected: []byte{0x00}},
		{input: 1, expected: []byte{0x01}},
		{input: math.MaxInt32, expected: []byte{0xff, 0xff, 0xff, 0xff, 0x7}},
		{input: math.MaxInt64, expected: []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x0}},
	} {
		require.Equal(t, c.expected, EncodeInt64(c.input))
		decoded, _, err := LoadInt64(c.expected)
		require.NoError(t, err)
		require.Equal(t, c.input, decoded)
	}
}

func TestEncodeUint32(t *testing.T) {
	for _, c := range []struct {
		input    uint32
		expected []byte
	}{
		{input: 0, expected: []byte{0x00}},
		{input: 1, expected: []byte{0x01}},
		{input: 624485, expected: []byte{0xe5, 0x8e, 0x26}},
		{input: uint32(math.MaxUint32), expected: []byte{0xff, 0xff, 0xff, 0xff, 0xf}},
	} {
		require.Equal(t, c.expected, EncodeUint32(c.input))
		decoded, _, err := LoadUint32(c.expected)
		require.NoError(t, err)
		require.Equal(t, c.input, decoded)
	}
}

func TestReader_ReadU32_Vector(t *testing.T) {
	buf := append(EncodeUint32(3), []byte("xyz")...)
	r := NewReader(buf, Standard, nil)
	n, err := r.ReadVectorLen()
	require.NoError(t, err)
	require.Equal(t, uint32(3), n)
	name, err := r.Consume(3)
	require.NoError(t, err)
	require.Equal(t, []byte("xyz"), name)
}

func TestReader_ReadName(t *testing.T) {
	buf := append(EncodeUint32(3), []byte("env")...)
	r := NewReader(buf, Standard, nil)
	name, err := r.ReadName()
	require.NoError(t, err)
	require.Equal(t, "env", name)
}

// TestSurplusSignBit_Modes reproduces a signed i32 LEB128 whose final group
// sets the 0x40 bit at shift==28 (no bits remain within the 32-bit width),
// the scenario described in spec.md's "LEB workaround" concrete scenario.
func TestSurplusSignBit_Modes(t *testing.T) {
	// 5 continuation bytes, final byte 0x4f == 0b0100_1111: continuation
	// clear, sign bit (0x40) set, at shift 28.
	mkBuf := func() []byte {
		return []byte{0x80, 0x80, 0x80, 0x80, 0x4f}
	}

	t.Run("Restrict fails with Conflict", func(t *testing.T) {
		r := NewReader(mkBuf(), Restrict, newCheckpoints())
		_, err := r.ReadI32()
		require.Error(t, err)
		var e *errs.Err
		require.ErrorAs(t, err, &e)
		require.Equal(t, errs.Conflict, e.Kind)
	})

	t.Run("AutoWorkAround rewrites source and is idempotent", func(t *testing.T) {
		buf := mkBuf()
		r := NewReader(buf, AutoWorkAround, newCheckpoints())
		v1, err := r.ReadI32()
		require.NoError(t, err)
		require.True(t, r.ModeTriggered())

		// Re-parsing the rewritten buffer must be idempotent (spec §8).
		r2 := NewReader(buf, AutoWorkAround, newCheckpoints())
		v2, err := r2.ReadI32()
		require.NoError(t, err)
		require.Equal(t, v1, v2)
		require.False(t, r2.ModeTriggered())
	})

	t.Run("Standard does not error", func(t *testing.T) {
		r := NewReader(mkBuf(), Standard, newCheckpoints())
		_, err := r.ReadI32()
		require.NoError(t, err)
		require.True(t, r.ModeTriggered())
	})

	t.Run("EmulateX86 reproduces x86 shift-mask behavior", func(t *testing.T) {
		r := NewReader(mkBuf(), EmulateX86, newCheckpoints())
		v, err := r.ReadI32()
		require.NoError(t, err)
		require.True(t, r.ModeTriggered())
		_ = v // exact legacy value is a function of shift%32; just must not error.
	})
}
