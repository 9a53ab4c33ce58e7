package ir

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// addTwo builds: (a i32, b i32) -> i32 { local.get 0; local.get 1; i32.add; end }
func addTwo() *wasmbin.Module {
	locals := []wasmbin.LocalVar{
		{Type: api.ValueTypeI32, Words: 1, Position: 0},
		{Type: api.ValueTypeI32, Words: 1, Position: 1},
	}
	body := []byte{0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b} // local.get 0; local.get 1; i32.add; end
	fn := wasmbin.Func{TypeIndex: 0, Locals: locals, NumArgs: 2, Body: body, Name: "Method_2"}
	return &wasmbin.Module{
		Types: []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		Funcs: []wasmbin.Func{fn},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}
}

func TestCompile_SimpleAdd(t *testing.T) {
	m := addTwo()
	cp := &errs.CheckpointStack{}
	img, err := Compile(m, leb128.Standard, cp)
	require.NoError(t, err)

	require.Contains(t, img.Exports, "Method_2")
	entry := img.Exports["Method_2"]
	require.Equal(t, 0, entry)
	require.Equal(t, byte(OpProlog), img.Code[0])

	// local.get 0 should follow the prolog's opcode+immediate.
	require.Equal(t, byte(OpLocalGet), img.Code[2])

	// addTwo's arguments sit below the saved return address `call` leaves
	// on the stack, one word further from the top than their bare
	// position: offset = totalLocalWords(2) + retGap(1) + words(0) - 0 = 3.
	imm := binary.LittleEndian.Uint32(img.Code[3:7])
	require.Equal(t, uint32(3), imm>>2)
}

func TestCompile_UnreachableFunctionIsDropped(t *testing.T) {
	m := addTwo()
	// Add a second, unexported function that is never called: it must not
	// appear in the closure the compiler emits.
	deadBody := []byte{0x41, 0x07, 0x0b} // i32.const 7; end
	m.Types = append(m.Types, wasmbin.FuncType{Results: []api.ValueType{api.ValueTypeI32}})
	m.Funcs = append(m.Funcs, wasmbin.Func{TypeIndex: 1, Body: deadBody})

	cp := &errs.CheckpointStack{}
	img, err := Compile(m, leb128.Standard, cp)
	require.NoError(t, err)
	require.Equal(t, -1, img.FuncOffsets[1])
}

func TestCompile_CallBetweenFunctions(t *testing.T) {
	// Method_2 (local func 1) calls helper (local func 0, not exported).
	helperBody := []byte{0x41, 0x2a, 0x0b} // i32.const 42; end
	callerBody := []byte{0x10, 0x00, 0x0b} // call 0; end  (function index space: no imports, so 0 = local func 0)

	m := &wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
		},
		Funcs: []wasmbin.Func{
			{TypeIndex: 0, Body: helperBody},
			{TypeIndex: 0, Body: callerBody, Name: "Method_2"},
		},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 1}},
	}

	cp := &errs.CheckpointStack{}
	img, err := Compile(m, leb128.Standard, cp)
	require.NoError(t, err)
	require.NotEqual(t, -1, img.FuncOffsets[0])
	require.NotEqual(t, -1, img.FuncOffsets[1])
}

func TestCompile_RejectsIfElse(t *testing.T) {
	// (cond i32) -> void { local.get 0; if (void); end; end } — if/else are
	// absent from the original engine's Instruction enum, so this engine
	// rejects them as unsupported opcodes rather than lowering them.
	locals := []wasmbin.LocalVar{
		{Type: api.ValueTypeI32, Words: 1, Position: 0},
	}
	body := []byte{
		0x20, 0x00, // local.get 0
		0x04, 0x40, // if (void)
		0x0b, // end (if)
		0x0b, // end (func)
	}
	m := &wasmbin.Module{
		Types:   []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}}},
		Funcs:   []wasmbin.Func{{TypeIndex: 0, Locals: locals, NumArgs: 1, Body: body, Name: "Method_2"}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}

	cp := &errs.CheckpointStack{}
	_, err := Compile(m, leb128.Standard, cp)
	require.Error(t, err)
}

func TestCompile_RejectsStackImbalance(t *testing.T) {
	// local.get 0 left on the stack with no matching consumer before end.
	locals := []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}
	body := []byte{0x20, 0x00, 0x20, 0x00, 0x0b} // pushes two i32s, function returns one
	m := &wasmbin.Module{
		Types:   []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		Funcs:   []wasmbin.Func{{TypeIndex: 0, Locals: locals, NumArgs: 1, Body: body}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}
	cp := &errs.CheckpointStack{}
	_, err := Compile(m, leb128.Standard, cp)
	require.Error(t, err)
	var e *errs.Err
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.Validate, e.Kind)
}
