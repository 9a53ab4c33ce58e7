package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/ir"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// stubHost answers call_ext for tests without pulling in package hostabi.
type stubHost struct {
	height api.Word
}

func (h *stubHost) Invoke(p *Processor, bindingID uint32) error {
	switch bindingID {
	case api.BindGetHeight:
		p.PushWord(h.height)
		return nil
	default:
		return p.Checkpoints().Fail(errs.Link, "stubHost: unbound binding %#x", bindingID)
	}
}

func compileAndLoad(t *testing.T, m *wasmbin.Module) *ir.CompiledModule {
	t.Helper()
	cp := &errs.CheckpointStack{}
	img, err := ir.Compile(m, leb128.Standard, cp)
	require.NoError(t, err)
	cm, err := ir.DeserializeImage(img.Serialize(), cp)
	require.NoError(t, err)
	return cm
}

// incrementModule builds: Method_2(x i32) -> i32 { return x+1 }
func incrementModule() *wasmbin.Module {
	locals := []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}
	body := []byte{0x20, 0x00, 0x41, 0x01, 0x6a, 0x0b} // local.get 0; i32.const 1; i32.add; end
	return &wasmbin.Module{
		Types: []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		Funcs: []wasmbin.Func{{TypeIndex: 0, Locals: locals, NumArgs: 1, Body: body, Name: "Method_2"}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}
}

func TestProcessor_SimpleAdd(t *testing.T) {
	cm := compileAndLoad(t, incrementModule())
	p := NewProcessor(&stubHost{}, &errs.CheckpointStack{})
	require.NoError(t, p.Invoke(cm, 2, 41))
	r, err := p.ResultWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(42), r)
}

// callModule builds: helper(x i32) -> i32 { return x*2 }; Method_2(x i32) -> i32 { return helper(x) }
func callModule() *wasmbin.Module {
	helperLocals := []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}
	helperBody := []byte{0x20, 0x00, 0x41, 0x02, 0x6c, 0x0b} // local.get 0; i32.const 2; i32.mul; end
	callerLocals := []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}
	callerBody := []byte{0x20, 0x00, 0x10, 0x00, 0x0b} // local.get 0; call 0; end
	sig := wasmbin.FuncType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	return &wasmbin.Module{
		Types: []wasmbin.FuncType{sig},
		Funcs: []wasmbin.Func{
			{TypeIndex: 0, Locals: helperLocals, NumArgs: 1, Body: helperBody},
			{TypeIndex: 0, Locals: callerLocals, NumArgs: 1, Body: callerBody, Name: "Method_2"},
		},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 1}},
	}
}

func TestProcessor_CallInternal(t *testing.T) {
	cm := compileAndLoad(t, callModule())
	p := NewProcessor(&stubHost{}, &errs.CheckpointStack{})
	require.NoError(t, p.Invoke(cm, 2, 21))
	r, err := p.ResultWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(42), r)
}

// getHeightModule builds: Method_2(x i32) -> i32 { return get_Height() }, calling an
// imported host function bound to BindGetHeight.
func getHeightModule() *wasmbin.Module {
	body := []byte{0x10, 0x00, 0x0b} // call 0 (import); end
	return &wasmbin.Module{
		Types: []wasmbin.FuncType{
			{Results: []api.ValueType{api.ValueTypeI32}},
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
		},
		ImportFuncs: []wasmbin.ImportFunc{{Module: "env", Name: "get_Height", TypeIndex: 0, BindingID: api.BindGetHeight}},
		Funcs:       []wasmbin.Func{{TypeIndex: 1, NumArgs: 1, Locals: []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}, Body: body, Name: "Method_2"}},
		Exports:     []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 1}},
	}
}

func TestProcessor_CallExtGetHeight(t *testing.T) {
	cm := compileAndLoad(t, getHeightModule())
	p := NewProcessor(&stubHost{height: 777}, &errs.CheckpointStack{})
	require.NoError(t, p.Invoke(cm, 2, 0))
	r, err := p.ResultWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(777), r)
}

func TestProcessor_DivByZeroTraps(t *testing.T) {
	locals := []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}}
	body := []byte{0x20, 0x00, 0x41, 0x00, 0x6d, 0x0b} // local.get 0; i32.const 0; i32.div_s; end
	m := &wasmbin.Module{
		Types:   []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}},
		Funcs:   []wasmbin.Func{{TypeIndex: 0, Locals: locals, NumArgs: 1, Body: body, Name: "Method_2"}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}
	cm := compileAndLoad(t, m)
	p := NewProcessor(&stubHost{}, &errs.CheckpointStack{})
	err := p.Invoke(cm, 2, 10)
	require.Error(t, err)
	var e *errs.Err
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.Trap, e.Kind)
}
