// Package hostabi implements the Host ABI & Contract Frame (spec §4.5): the
// fixed table of host methods a contract module may import, the binding
// resolution pass that ties a module's imports to those methods before
// compilation, and the far-call protocol that lets one contract invoke
// another.
package hostabi

import (
	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// sig is a host method's declared signature: the VM-level argument types
// (every argument is a Word-granularity i32 or i64; ptr/u8/bool are all
// carried as i32) and its single optional result type (0 means no result).
type sig struct {
	params []api.ValueType
	result api.ValueType // 0 = void
}

// method pairs a binding id and symbol name with its signature. This is
// reimplemented here as a Go slice of structs rather than copied verbatim
// from the original's BVM_METHOD x-macro table (core/bvm2.h), but the ids
// and names are the same authoritative set as spec §4.5.
type method struct {
	id   uint32
	name string
	sig  sig
}

const (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// methodTable is the complete host ABI surface (spec §4.5). Numeric ids
// are part of the binary contract and must never change.
var methodTable = []method{
	{api.BindMemcpy, "memcpy", sig{[]api.ValueType{i32, i32, i32}, i32}},
	{api.BindMemset, "memset", sig{[]api.ValueType{i32, i32, i32}, i32}},
	{api.BindMemcmp, "memcmp", sig{[]api.ValueType{i32, i32, i32}, i32}},
	{api.BindMemIs0, "memis0", sig{[]api.ValueType{i32, i32}, i32}},
	{api.BindStackAlloc, "StackAlloc", sig{[]api.ValueType{i32}, i32}},
	{api.BindStackFree, "StackFree", sig{[]api.ValueType{i32}, 0}},
	{api.BindLoadVar, "LoadVar", sig{[]api.ValueType{i32, i32, i32, i32}, i32}},
	{api.BindSaveVar, "SaveVar", sig{[]api.ValueType{i32, i32, i32, i32}, 0}},
	{api.BindCallFar, "CallFar", sig{[]api.ValueType{i32, i32, i32}, 0}},
	{api.BindHalt, "Halt", sig{nil, 0}},
	{api.BindAddSig, "AddSig", sig{[]api.ValueType{i32}, 0}},
	{api.BindFundsLock, "FundsLock", sig{[]api.ValueType{i32, i64}, 0}},
	{api.BindFundsUnlock, "FundsUnlock", sig{[]api.ValueType{i32, i64}, 0}},
	{api.BindRefAdd, "RefAdd", sig{[]api.ValueType{i32}, i32}},
	{api.BindRefRelease, "RefRelease", sig{[]api.ValueType{i32}, i32}},
	{api.BindAssetCreate, "AssetCreate", sig{[]api.ValueType{i32, i32}, i32}},
	{api.BindAssetEmit, "AssetEmit", sig{[]api.ValueType{i32, i64, i32}, i32}},
	{api.BindAssetDestroy, "AssetDestroy", sig{[]api.ValueType{i32}, i32}},
	{api.BindGetHeight, "get_Height", sig{nil, i64}},
}

var methodsByName = func() map[string]method {
	m := make(map[string]method, len(methodTable))
	for _, e := range methodTable {
		m[e.name] = e
	}
	return m
}()

// ResolveBindings walks m's imports (module must be "env", already enforced
// by the parser) and matches each function import's symbol against
// methodTable, checking its declared signature exactly and filling in
// BindingID. Any import global named "__stack_pointer" is bound to the
// pseudo-id api.BindStackPointer; any other import global is rejected (spec
// §4.5 "Binding resolution").
func ResolveBindings(m *wasmbin.Module, cp *errs.CheckpointStack) error {
	cp.Push("hostabi/ResolveBindings")
	defer cp.Pop()

	for i := range m.ImportFuncs {
		imp := &m.ImportFuncs[i]
		e, ok := methodsByName[imp.Name]
		if !ok {
			return cp.Fail(errs.Link, "unresolved import env.%s", imp.Name)
		}
		want := m.Types[imp.TypeIndex]
		if err := checkSignature(cp, imp.Name, want, e.sig); err != nil {
			return err
		}
		imp.BindingID = e.id
	}

	for i := range m.ImportGlobals {
		g := &m.ImportGlobals[i]
		if g.Name != "__stack_pointer" {
			return cp.Fail(errs.Link, "unresolved import global env.%s", g.Name)
		}
		if g.Type != api.ValueTypeI32 || !g.Mutable {
			return cp.Fail(errs.Link, "__stack_pointer must be an i32 mutable global")
		}
		g.BindingID = api.BindStackPointer
	}

	return nil
}

func checkSignature(cp *errs.CheckpointStack, name string, got wasmbin.FuncType, want sig) error {
	if len(got.Params) != len(want.params) {
		return cp.Fail(errs.Link, "env.%s: expected %d parameters, got %d", name, len(want.params), len(got.Params))
	}
	for i, t := range want.params {
		if got.Params[i] != t {
			return cp.Fail(errs.Link, "env.%s: parameter %d: expected %s, got %s", name, i, api.ValueTypeName(t), api.ValueTypeName(got.Params[i]))
		}
	}
	switch want.result {
	case 0:
		if len(got.Results) != 0 {
			return cp.Fail(errs.Link, "env.%s: expected no result, got one", name)
		}
	default:
		if len(got.Results) != 1 || got.Results[0] != want.result {
			return cp.Fail(errs.Link, "env.%s: expected result %s", name, api.ValueTypeName(want.result))
		}
	}
	return nil
}
