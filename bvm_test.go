package bvm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/store"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// The following encode a minimal-but-complete WASM binary by hand, the same
// way internal/wasmbin's own decoder tests do, so this package's test can
// exercise Compile end to end without importing wasmbin's unexported test
// helpers.
var wasmMagic = []byte{0x00, 'a', 's', 'm'}
var wasmVersion = []byte{0x01, 0x00, 0x00, 0x00}

const funcTypeHeader = 0x60

func section(id byte, body []byte) []byte {
	return append([]byte{id}, append(leb128.EncodeUint32(uint32(len(body))), body...)...)
}

func vec(items ...[]byte) []byte {
	out := leb128.EncodeUint32(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func wasmName(s string) []byte {
	return append(leb128.EncodeUint32(uint32(len(s))), []byte(s)...)
}

func funcType(params, results []byte) []byte {
	paramVec := make([][]byte, len(params))
	for i, p := range params {
		paramVec[i] = []byte{p}
	}
	resultVec := make([][]byte, len(results))
	for i, r := range results {
		resultVec[i] = []byte{r}
	}
	e := []byte{funcTypeHeader}
	e = append(e, vec(paramVec...)...)
	e = append(e, vec(resultVec...)...)
	return e
}

// buildReturnArgModule assembles a module exporting a single method,
// "Method_0", that echoes its sole argument word back as its i32 result —
// just enough to exercise Compile, Deploy and Invoke's plumbing without
// needing the host ABI at all.
func buildReturnArgModule() []byte {
	out := append([]byte{}, wasmMagic...)
	out = append(out, wasmVersion...)

	// type0: (i32) -> i32
	t0 := funcType([]byte{api.ValueTypeI32}, []byte{api.ValueTypeI32})
	out = append(out, section(wasmbin.SectionType, vec(t0))...)

	out = append(out, section(wasmbin.SectionFunction, vec(leb128.EncodeUint32(0)))...)

	exp := append(wasmName("Method_0"), byte(wasmbin.ExportKindFunc))
	exp = append(exp, leb128.EncodeUint32(0)...)
	out = append(out, section(wasmbin.SectionExport, vec(exp))...)

	// body: local.get 0 ; end
	body := []byte{0x20, 0x00, 0x0b}
	codeBody := append(vec(), body...)
	codeEntry := append(leb128.EncodeUint32(uint32(len(codeBody))), codeBody...)
	out = append(out, section(wasmbin.SectionCode, vec(codeEntry))...)

	return out
}

func TestCompile_InspectImage(t *testing.T) {
	compiled, err := Compile(buildReturnArgModule(), leb128.Standard)
	require.NoError(t, err)
	require.NotEmpty(t, compiled)

	info, err := InspectImage(compiled)
	require.NoError(t, err)
	require.Equal(t, 2, info.NumMethods)
	require.False(t, info.HasMemory)
}

func TestEngine_DeployInvokeRoundTrip(t *testing.T) {
	compiled, err := Compile(buildReturnArgModule(), leb128.Standard)
	require.NoError(t, err)

	var id ContractID
	id[0] = 0x42

	eng := NewEngine(store.NewMemoryStore())
	require.NoError(t, eng.Deploy(id, compiled))

	result, err := eng.Invoke(id, 0, api.Word(7))
	require.NoError(t, err)
	require.Equal(t, api.Word(7), result)
}

func TestEngine_InvokeUnknownContract(t *testing.T) {
	eng := NewEngine(store.NewMemoryStore())
	var id ContractID
	_, err := eng.Invoke(id, 0, 0)
	require.Error(t, err)
}
