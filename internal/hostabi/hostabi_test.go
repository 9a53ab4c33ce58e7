package hostabi

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/ir"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/store"
	"github.com/BeamMW/beam-sub003/internal/vm"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// memModule is the smallest module that imports linear memory: a single
// exported method that immediately returns, just enough to make Invoke
// allocate the Global segment before the test drives Host handlers
// directly against the processor.
func memModule(t *testing.T) *ir.CompiledModule {
	t.Helper()
	m := &wasmbin.Module{
		HasMemory: true,
		Types:     []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}}},
		Funcs: []wasmbin.Func{{
			TypeIndex: 0,
			NumArgs:   1,
			Locals:    []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}},
			Body:      []byte{0x0b},
			Name:      "Method_2",
		}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}
	cp := &errs.CheckpointStack{}
	img, err := ir.Compile(m, leb128.Standard, cp)
	require.NoError(t, err)
	cm, err := ir.DeserializeImage(img.Serialize(), cp)
	require.NoError(t, err)
	return cm
}

func newTestHost(t *testing.T, root ContractID) (*Host, *vm.Processor) {
	t.Helper()
	h := NewHost(store.NewMemoryStore(), nil, nil, nil, nil, nil)
	h.Begin(root)
	p := vm.NewProcessor(h, &errs.CheckpointStack{})
	require.NoError(t, p.Invoke(memModule(t), 2, 0))
	return h, p
}

func TestMemcpy_RoundTrip(t *testing.T) {
	h, p := newTestHost(t, ContractID{1})

	src := api.TaggedAddr(api.SegGlobal, 0)
	dst := api.TaggedAddr(api.SegGlobal, 256)

	buf, err := p.WriteBytes(src, 5)
	require.NoError(t, err)
	copy(buf, "hello")

	p.PushWord(dst)
	p.PushWord(src)
	p.PushWord(5)
	require.NoError(t, h.memcpy(p))

	got, err := p.ReadBytes(dst, 5)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	result, err := p.PopWord()
	require.NoError(t, err)
	require.Equal(t, dst, result)
}

func TestLoadVar_SaveVar_RoundTrip(t *testing.T) {
	h, p := newTestHost(t, ContractID{2})

	key := []byte{byte(api.VarOwnedAsset), 'f', 'o', 'o'}
	val := []byte("bar")

	kAddr := api.TaggedAddr(api.SegGlobal, 0)
	vAddr := api.TaggedAddr(api.SegGlobal, 64)
	buf, err := p.WriteBytes(kAddr, len(key))
	require.NoError(t, err)
	copy(buf, key)
	buf, err = p.WriteBytes(vAddr, len(val))
	require.NoError(t, err)
	copy(buf, val)

	p.PushWord(kAddr)
	p.PushWord(api.Word(len(key)))
	p.PushWord(vAddr)
	p.PushWord(api.Word(len(val)))
	require.NoError(t, h.saveVar(p))

	outAddr := api.TaggedAddr(api.SegGlobal, 128)
	p.PushWord(kAddr)
	p.PushWord(api.Word(len(key)))
	p.PushWord(outAddr)
	p.PushWord(16)
	require.NoError(t, h.loadVar(p))
	n, err := p.PopWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(len(val)), n)

	got, err := p.ReadBytes(outAddr, len(val))
	require.NoError(t, err)
	require.Equal(t, val, got)
}

func TestRefAdd_MissingCalleeFails(t *testing.T) {
	h, p := newTestHost(t, ContractID{3})

	callee := ContractID{9, 9, 9}
	cidAddr := api.TaggedAddr(api.SegGlobal, 0)
	buf, err := p.WriteBytes(cidAddr, api.ContractIDSize)
	require.NoError(t, err)
	copy(buf, callee[:])

	p.PushWord(cidAddr)
	require.NoError(t, h.refAdd(p))
	result, err := p.PopWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(0), result)

	pairKey := h.refPairKey(callee)
	_, ok, err := h.store.Get(pairKey)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRefAdd_RefRelease_ExistingCallee(t *testing.T) {
	h, p := newTestHost(t, ContractID{4})

	callee := ContractID{5, 5, 5}
	bodyKey := store.Key(callee[:], api.VarInternal, nil)
	require.NoError(t, h.store.Put(bodyKey, []byte{1}))

	cidAddr := api.TaggedAddr(api.SegGlobal, 0)
	buf, err := p.WriteBytes(cidAddr, api.ContractIDSize)
	require.NoError(t, err)
	copy(buf, callee[:])

	p.PushWord(cidAddr)
	require.NoError(t, h.refAdd(p))
	addResult, err := p.PopWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(1), addResult)

	global, err := h.refCounter(p, h.refGlobalKey(callee))
	require.NoError(t, err)
	require.Equal(t, uint32(1), global)

	p.PushWord(cidAddr)
	require.NoError(t, h.refRelease(p))
	relResult, err := p.PopWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(1), relResult) // 1 -> 0 transition

	global, err = h.refCounter(p, h.refGlobalKey(callee))
	require.NoError(t, err)
	require.Equal(t, uint32(0), global)
}

func TestFundsLock_Unlock(t *testing.T) {
	h, p := newTestHost(t, ContractID{6})

	p.PushWord(7) // asset id
	p.PushI64(100)
	require.NoError(t, h.fundsLock(p))

	cur, err := h.readFunds(p, h.fundsKey(7))
	require.NoError(t, err)
	require.Equal(t, int64(100), cur)

	p.PushWord(7)
	p.PushI64(40)
	require.NoError(t, h.fundsUnlock(p))

	cur, err = h.readFunds(p, h.fundsKey(7))
	require.NoError(t, err)
	require.Equal(t, int64(60), cur)

	p.PushWord(7)
	p.PushI64(1000)
	err = h.fundsUnlock(p)
	require.Error(t, err)
	var e *errs.Err
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.Host, e.Kind)
}

func TestCallFar_RejectsDataTaggedArgs(t *testing.T) {
	h, p := newTestHost(t, ContractID{8})
	h.modules = stubLoader{}

	cidAddr := api.TaggedAddr(api.SegGlobal, 0)
	callee := ContractID{1, 1, 1}
	buf, err := p.WriteBytes(cidAddr, api.ContractIDSize)
	require.NoError(t, err)
	copy(buf, callee[:])

	p.PushWord(cidAddr)
	p.PushWord(2)
	p.PushWord(api.TaggedAddr(api.SegData, 0)) // args in the read-only data section
	err = h.callFar(p)
	require.Error(t, err)
	var e *errs.Err
	require.ErrorAs(t, err, &e)
	require.Equal(t, errs.Validate, e.Kind)
}

type stubLoader struct{}

func (stubLoader) LoadModule(id ContractID) (*ir.CompiledModule, error) {
	return nil, errs.New(errs.Link, nil, "no such contract")
}

// mapLoader resolves a fixed set of contract ids to pre-compiled modules,
// for tests that drive an actual nested far call end to end.
type mapLoader map[ContractID]*ir.CompiledModule

func (l mapLoader) LoadModule(id ContractID) (*ir.CompiledModule, error) {
	cm, ok := l[id]
	if !ok {
		return nil, errs.New(errs.Link, nil, "no such contract %x", id)
	}
	return cm, nil
}

// uleb128/sleb128 encode the raw WASM-source immediates this test hand
// assembles function bodies from; ir.Compile re-encodes every constant it
// sees into its own canonical form before emitting, so any valid canonical
// encoding on the way in decodes identically regardless of LEB128 mode.
func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

func sleb128(v int32) []byte {
	var out []byte
	val := int64(v)
	for {
		b := byte(val & 0x7f)
		val >>= 7
		signBit := b&0x40 != 0
		done := (val == 0 && !signBit) || (val == -1 && signBit)
		if !done {
			b |= 0x80
		}
		out = append(out, b)
		if done {
			break
		}
	}
	return out
}

// TestCallFar_ReparseAfterRet builds a real compiled caller module A that
// far-calls into a callee module B and, after B returns, reads A's own
// data section again — the spec §8 "reparse after ret" scenario: a
// nested far call must leave the caller's data segment correctly
// reattached once the callee's frame has been popped, not the callee's.
func TestCallFar_ReparseAfterRet(t *testing.T) {
	var calleeID ContractID
	for i := range calleeID {
		calleeID[i] = 0x07
	}

	const marker = 0xAABBCCDD
	data := make([]byte, 36)
	binary.LittleEndian.PutUint32(data[0:4], marker)
	copy(data[4:36], calleeID[:])

	cidPtr := api.TaggedAddr(api.SegData, 4)
	args := api.TaggedAddr(api.SegGlobal, 0)

	var bodyA []byte
	bodyA = append(bodyA, 0x41)
	bodyA = append(bodyA, sleb128(int32(cidPtr))...)
	bodyA = append(bodyA, 0x41)
	bodyA = append(bodyA, sleb128(2)...) // callee method
	bodyA = append(bodyA, 0x41)
	bodyA = append(bodyA, sleb128(int32(args))...)
	bodyA = append(bodyA, 0x10) // call
	bodyA = append(bodyA, uleb128(0)...)
	bodyA = append(bodyA, 0x41) // i32.const 0 (marker address, SegData offset 0)
	bodyA = append(bodyA, sleb128(0)...)
	bodyA = append(bodyA, 0x28) // i32.load
	bodyA = append(bodyA, uleb128(2)...)
	bodyA = append(bodyA, uleb128(0)...)
	bodyA = append(bodyA, 0x0b) // end

	modA := &wasmbin.Module{
		HasMemory: true,
		Data:      data,
		Types: []wasmbin.FuncType{
			{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}},
			{Params: []api.ValueType{api.ValueTypeI32, api.ValueTypeI32, api.ValueTypeI32}},
		},
		ImportFuncs: []wasmbin.ImportFunc{{Name: "CallFar", TypeIndex: 1}},
		Funcs: []wasmbin.Func{{
			TypeIndex: 0,
			NumArgs:   1,
			Locals:    []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}},
			Body:      bodyA,
			Name:      "Method_2",
		}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}

	modB := &wasmbin.Module{
		Data:  []byte{0x01, 0x02, 0x03, 0x04},
		Types: []wasmbin.FuncType{{Params: []api.ValueType{api.ValueTypeI32}}},
		Funcs: []wasmbin.Func{{
			TypeIndex: 0,
			NumArgs:   1,
			Locals:    []wasmbin.LocalVar{{Type: api.ValueTypeI32, Words: 1, Position: 0}},
			Body:      []byte{0x0b},
			Name:      "Method_2",
		}},
		Exports: []wasmbin.Export{{Name: "Method_2", Kind: wasmbin.ExportKindFunc, Index: 0}},
	}

	cp := &errs.CheckpointStack{}
	require.NoError(t, ResolveBindings(modA, cp))

	imgA, err := ir.Compile(modA, leb128.Standard, cp)
	require.NoError(t, err)
	cmA, err := ir.DeserializeImage(imgA.Serialize(), cp)
	require.NoError(t, err)

	imgB, err := ir.Compile(modB, leb128.Standard, cp)
	require.NoError(t, err)
	cmB, err := ir.DeserializeImage(imgB.Serialize(), cp)
	require.NoError(t, err)

	var rootID ContractID
	rootID[0] = 0xAA
	h := NewHost(store.NewMemoryStore(), mapLoader{calleeID: cmB}, nil, nil, nil, nil)
	h.Begin(rootID)
	p := vm.NewProcessor(h, cp)

	require.NoError(t, p.Invoke(cmA, 2, 0))
	result, err := p.ResultWord()
	require.NoError(t, err)
	require.Equal(t, api.Word(marker), result)
}
