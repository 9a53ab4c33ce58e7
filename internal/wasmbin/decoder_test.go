package wasmbin

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
)

// section builds a WASM section: id, LEB128 length, body.
func section(id byte, body []byte) []byte {
	out := []byte{id}
	out = append(out, leb128.EncodeUint32(uint32(len(body)))...)
	out = append(out, body...)
	return out
}

func vec(items ...[]byte) []byte {
	out := leb128.EncodeUint32(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func name(s string) []byte {
	return append(leb128.EncodeUint32(uint32(len(s))), []byte(s)...)
}

func i32Const(v int32) []byte {
	return append(append([]byte{0x41}, leb128.EncodeInt32(v)...), 0x0b)
}

// buildModule assembles a minimal WASM binary exercising the type, import,
// function, export, code and data sections: one imported function (get_Height),
// one local function exported as Method_2, and one data segment.
func buildModule() []byte {
	out := append([]byte{}, magic...)
	out = append(out, version...)

	// Type section: type0 = () -> i64 ; type1 = () -> ()
	typeEntry := func(params, results []byte) []byte {
		e := []byte{funcTypeHeader}
		e = append(e, vec(paramSlice(params)...)...)
		e = append(e, vec(paramSlice(results)...)...)
		return e
	}
	t0 := typeEntry(nil, []byte{api.ValueTypeI64})
	t1 := typeEntry(nil, nil)
	out = append(out, section(SectionType, vec(t0, t1))...)

	// Import section: env.get_Height, type 0
	imp := append(name("env"), name("get_Height")...)
	imp = append(imp, ImportKindFunc)
	imp = append(imp, leb128.EncodeUint32(0)...)
	out = append(out, section(SectionImport, vec(imp))...)

	// Function section: one local function of type 1
	out = append(out, section(SectionFunction, vec(leb128.EncodeUint32(1)))...)

	// Export section: "Method_2" -> function index 1 (0=import, 1=local)
	exp := append(name("Method_2"), ExportKindFunc)
	exp = append(exp, leb128.EncodeUint32(1)...)
	out = append(out, section(SectionExport, vec(exp))...)

	// Code section: body with zero locals, just `end`.
	codeBody := append(vec(), 0x0b) // 0 local groups, then `end`
	codeEntry := append(leb128.EncodeUint32(uint32(len(codeBody))), codeBody...)
	out = append(out, section(SectionCode, vec(codeEntry))...)

	// Data section: base 0x100, bytes 0x00..0x0F
	payload := make([]byte, 16)
	for i := range payload {
		payload[i] = byte(i)
	}
	dataEntry := leb128.EncodeUint32(0) // memidx
	dataEntry = append(dataEntry, i32Const(0x100)...)
	dataEntry = append(dataEntry, leb128.EncodeUint32(uint32(len(payload)))...)
	dataEntry = append(dataEntry, payload...)
	out = append(out, section(SectionData, vec(dataEntry))...)

	return out
}

func paramSlice(b []byte) [][]byte {
	out := make([][]byte, len(b))
	for i, v := range b {
		out[i] = []byte{v}
	}
	return out
}

func TestParse_MinimalModule(t *testing.T) {
	cp := &errs.CheckpointStack{}
	m, err := Parse(buildModule(), leb128.Standard, cp)
	require.NoError(t, err)

	require.Len(t, m.Types, 2)
	require.Equal(t, []api.ValueType{api.ValueTypeI64}, m.Types[0].Results)
	require.Empty(t, m.Types[1].Results)

	require.Len(t, m.ImportFuncs, 1)
	require.Equal(t, "get_Height", m.ImportFuncs[0].Name)

	require.Len(t, m.Funcs, 1)
	require.Equal(t, uint32(1), m.Funcs[0].TypeIndex)
	require.Equal(t, []byte{0x0b}, m.Funcs[0].Body)

	require.Len(t, m.Exports, 1)
	require.Equal(t, "Method_2", m.Exports[0].Name)
	require.Equal(t, uint32(1), m.Exports[0].Index)

	require.Equal(t, uint32(0x100), m.DataBase)
	for i := 0; i < 16; i++ {
		require.Equal(t, byte(i), m.Data[i])
	}
}

func TestParse_RejectsNonEnvImport(t *testing.T) {
	out := append([]byte{}, magic...)
	out = append(out, version...)
	t0 := []byte{funcTypeHeader}
	t0 = append(t0, vec()...)
	t0 = append(t0, vec()...)
	out = append(out, section(SectionType, vec(t0))...)
	imp := append(name("wasi_snapshot_preview1"), name("fd_write")...)
	imp = append(imp, ImportKindFunc)
	imp = append(imp, leb128.EncodeUint32(0)...)
	out = append(out, section(SectionImport, vec(imp))...)

	cp := &errs.CheckpointStack{}
	_, err := Parse(out, leb128.Standard, cp)
	require.Error(t, err)
	var e *errs.Err
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.Link, e.Kind)
}

func TestParse_RejectsFloatType(t *testing.T) {
	out := append([]byte{}, magic...)
	out = append(out, version...)
	t0 := []byte{funcTypeHeader}
	t0 = append(t0, vec([]byte{api.ValueTypeF32})...)
	t0 = append(t0, vec()...)
	out = append(out, section(SectionType, vec(t0))...)

	cp := &errs.CheckpointStack{}
	_, err := Parse(out, leb128.Standard, cp)
	require.Error(t, err)
}

func TestParse_ElementSegmentOffsetMustEqualOne(t *testing.T) {
	out := append([]byte{}, magic...)
	out = append(out, version...)
	elem := leb128.EncodeUint32(0) // table index
	elem = append(elem, i32Const(2)...)
	elem = append(elem, vec()...)
	out = append(out, section(SectionElement, vec(elem))...)

	cp := &errs.CheckpointStack{}
	_, err := Parse(out, leb128.Standard, cp)
	require.Error(t, err)
}
