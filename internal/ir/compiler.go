package ir

import (
	"encoding/binary"
	"fmt"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// Compile lowers a parsed Module into a flat Image (spec §4.3). It runs the
// two passes the spec describes: a dry pass that validates every exported
// function's body and records caller->callee edges, then a real pass that
// re-emits only the functions reachable from an export (the dependency
// closure), producing the final byte stream and resolving every label.
//
// mode must be the same leb128.Mode the module was parsed with: function
// bodies still contain LEB128-encoded immediates (constants, memargs,
// branch depths) that are subject to the same surplus-sign-bit handling.
func Compile(m *wasmbin.Module, mode leb128.Mode, cp *errs.CheckpointStack) (*Image, error) {
	cp.Push("ir/compile")
	defer cp.Pop()

	var roots []int
	for _, e := range m.Exports {
		imp := len(m.ImportFuncs)
		if int(e.Index) < imp {
			return nil, cp.Fail(errs.Validate, "export %q: imported functions cannot be exported", e.Name)
		}
		roots = append(roots, int(e.Index)-imp)
	}

	// Pass 1: dry-run every reachable function to validate it and collect
	// its callee set, without emitting any bytes.
	visited := make([]bool, len(m.Funcs))
	queue := append([]int(nil), roots...)
	for len(queue) > 0 {
		idx := queue[0]
		queue = queue[1:]
		if idx < 0 || idx >= len(m.Funcs) {
			return nil, cp.Fail(errs.Validate, "function index %d out of range", idx)
		}
		if visited[idx] {
			continue
		}
		visited[idx] = true
		fn := &m.Funcs[idx]
		deps, usesIndirect, err := compileFunc(m, fn, idx, mode, nil, cp)
		if err != nil {
			return nil, err
		}
		fn.Deps = deps
		fn.Included = true
		if usesIndirect {
			for _, t := range m.TableFuncs {
				if !visited[int(t)] {
					queue = append(queue, int(t))
				}
			}
		}
		for callee := range deps {
			if !visited[callee] {
				queue = append(queue, callee)
			}
		}
	}

	// Pass 2: re-emit every included function for real.
	lb := newLabels()
	for range m.Funcs {
		lb.alloc()
	}
	var out []byte
	funcOffsets := make([]int, len(m.Funcs))
	funcTypeIdx := make([]uint32, len(m.Funcs))
	for i := range funcOffsets {
		funcOffsets[i] = -1
	}
	for idx := range m.Funcs {
		if !visited[idx] {
			continue
		}
		fn := &m.Funcs[idx]
		funcTypeIdx[idx] = fn.TypeIndex
		funcOffsets[idx] = len(out)
		lb.resolve(idx, len(out))
		if _, _, err := compileFunc(m, fn, idx, mode, &emitter{buf: &out, lb: lb}, cp); err != nil {
			return nil, err
		}
	}
	if err := lb.backpatch(out, cp); err != nil {
		return nil, err
	}

	tableOffsets := make([]int, len(m.TableFuncs))
	for i, t := range m.TableFuncs {
		tableOffsets[i] = funcOffsets[t]
	}

	exports := make(map[string]int, len(m.Exports))
	for _, e := range m.Exports {
		idx := int(e.Index) - len(m.ImportFuncs)
		exports[e.Name] = funcOffsets[idx]
	}

	methods, err := buildMethodTable(exports, cp)
	if err != nil {
		return nil, err
	}

	img := &Image{
		Code:          out,
		FuncOffsets:   funcOffsets,
		TableOffsets:  tableOffsets,
		Exports:       exports,
		Methods:       methods,
		FuncTypeIndex: funcTypeIdx,
		Data:          m.Data,
		DataBase:      m.DataBase,
		HasMemory:     m.HasMemory,
	}
	for _, g := range m.ImportGlobals {
		if g.Name == "__stack_pointer" {
			img.StackPointerBindingID = g.BindingID
			img.HasStackPointer = true
		}
	}
	return img, nil
}

// buildMethodTable re-indexes exports by method number (spec §4.5 module
// header / GLOSSARY "Method 0/1"): every export must be named "Method_N",
// since the on-chain module header stores method entry points as a plain
// array indexed by method number rather than by name. Methods 0 and 1 are
// the constructor/destructor by convention; a test or partial module that
// only implements one custom method (e.g. just "Method_2") is legal, so the
// table is sized to the highest N present (and never below the two
// reserved slots) and any unused slot is left at -1 ("no such method")
// rather than rejected as a gap.
func buildMethodTable(exports map[string]int, cp *errs.CheckpointStack) ([]int, error) {
	n := make(map[string]int, len(exports))
	max := -1
	for name := range exports {
		var num int
		if _, err := fmt.Sscanf(name, "Method_%d", &num); err != nil {
			return nil, cp.Fail(errs.Validate, "export %q: must be named Method_N", name)
		}
		if num < 0 {
			return nil, cp.Fail(errs.Validate, "export %q: negative method number", name)
		}
		n[name] = num
		if num > max {
			max = num
		}
	}
	size := max + 1
	if size < 2 {
		size = 2
	}
	methods := make([]int, size)
	for i := range methods {
		methods[i] = -1
	}
	for name, off := range exports {
		num := n[name]
		if methods[num] != -1 {
			return nil, cp.Fail(errs.Validate, "duplicate method number %d", num)
		}
		methods[num] = off
	}
	return methods, nil
}

// emitter is nil during the dry pass (pass 1): every emit call becomes a
// no-op, and compileFunc falls back to tracking nothing but validation
// state and dependency edges.
type emitter struct {
	buf *[]byte
	lb  *labels
}

func (e *emitter) byte(b byte) {
	if e == nil {
		return
	}
	*e.buf = append(*e.buf, b)
}

func (e *emitter) u32(v uint32) {
	if e == nil {
		return
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	*e.buf = append(*e.buf, b[:]...)
}

func (e *emitter) leb32u(v uint32) {
	if e == nil {
		return
	}
	*e.buf = append(*e.buf, leb128.EncodeUint32(v)...)
}

func (e *emitter) leb32s(v int32) {
	if e == nil {
		return
	}
	*e.buf = append(*e.buf, leb128.EncodeInt32(v)...)
}

func (e *emitter) leb64s(v int64) {
	if e == nil {
		return
	}
	*e.buf = append(*e.buf, leb128.EncodeInt64(v)...)
}

// label writes a 4-byte placeholder referring to label id, backpatched once
// every included function's offset is known. During the dry pass it is a
// no-op: pass 1 never writes bytes at all.
func (e *emitter) label(id int) {
	if e == nil {
		return
	}
	e.lb.ref(e.buf, id)
}

func (e *emitter) pos() int {
	if e == nil {
		return 0
	}
	return len(*e.buf)
}

// blockKind distinguishes the three constructs that open a labeled scope.
type blockKind int

const (
	blockPlain blockKind = iota
	blockLoop
	blockFunc
)

type blockCtx struct {
	kind           blockKind
	label          int // label id, resolved immediately for loops, at close otherwise
	entryHeight    int // len(stack) at open
	arity          int // 0 or 1
	resultType     api.ValueType
	enteredUnreach bool
}

// funcCtx holds one function body's compile-time state: the abstract
// operand-type stack (used both for validation and for computing
// local-access offsets), the block stack, and the dependency set collected
// for the closure pass.
type funcCtx struct {
	m            *wasmbin.Module
	fn           *wasmbin.Func
	localIdx     int
	sig          wasmbin.FuncType
	totalLocalWords int
	argWords     int

	stack        []api.ValueType
	words        int // sum of api.Words(t) for t in stack
	blocks       []*blockCtx
	unreachable  bool

	deps         map[int]bool
	usesIndirect bool
}

func (c *funcCtx) push(t api.ValueType) {
	c.stack = append(c.stack, t)
	c.words += api.Words(t)
}

func (c *funcCtx) pop(cp *errs.CheckpointStack, want api.ValueType) (api.ValueType, error) {
	if len(c.stack) == 0 {
		if c.unreachable {
			return want, nil
		}
		return 0, cp.Fail(errs.Validate, "operand stack underflow")
	}
	t := c.stack[len(c.stack)-1]
	if want != 0 && t != want && !c.unreachable {
		return 0, cp.Fail(errs.Validate, "expected %s on stack, got %s", api.ValueTypeName(want), api.ValueTypeName(t))
	}
	c.stack = c.stack[:len(c.stack)-1]
	c.words -= api.Words(t)
	return t, nil
}

// compileFunc validates and (if emit != nil) emits one function body. It
// returns the set of local-function indices it calls and whether it uses
// call_indirect. Called once per function per pass: emit == nil is pass 1
// (the dry validate+dependency-discovery run); emit != nil is pass 2 (the
// real emission run for functions in the closure).
func compileFunc(m *wasmbin.Module, fn *wasmbin.Func, localIdx int, mode leb128.Mode, emit *emitter, cp *errs.CheckpointStack) (map[int]bool, bool, error) {
	cp.Pushf("ir/func[%d]", localIdx)
	defer cp.Pop()

	sig := m.Types[fn.TypeIndex]
	c := &funcCtx{m: m, fn: fn, localIdx: localIdx, sig: sig, deps: map[int]bool{}}
	for _, l := range fn.Locals {
		c.totalLocalWords += l.Words
	}
	for _, l := range fn.Locals[:fn.NumArgs] {
		c.argWords += l.Words
	}

	lb := (*labels)(nil)
	if emit != nil {
		lb = emit.lb
	}
	alloc := func() int {
		if emit == nil {
			return 0
		}
		return lb.alloc()
	}

	fnBlock := &blockCtx{kind: blockFunc, label: alloc(), arity: len(sig.Results)}
	if fnBlock.arity == 1 {
		fnBlock.resultType = sig.Results[0]
	}
	c.blocks = []*blockCtx{fnBlock}

	if emit != nil {
		// prolog zero-initializes only the declared locals: the formal
		// arguments are already sitting on the stack, left there in place
		// by the caller's call instruction.
		emit.byte(OpProlog)
		emit.leb32u(uint32(c.totalLocalWords - c.argWords))
	}

	r := leb128.NewReader(fn.Body, mode, cp)
	for r.Remaining() > 0 {
		op, err := r.ReadByte()
		if err != nil {
			return nil, false, err
		}
		if err := c.step(op, r, emit, cp); err != nil {
			return nil, false, err
		}
		if len(c.blocks) == 0 {
			break // the function-level block was just closed by `end`
		}
	}
	if len(c.blocks) != 0 {
		return nil, false, cp.Fail(errs.Decode, "function body missing terminating end")
	}
	return c.deps, c.usesIndirect, nil
}

// step decodes and handles a single instruction, consuming its immediates
// from r and, if emit != nil, writing its lowered form.
func (c *funcCtx) step(op byte, r *leb128.Reader, emit *emitter, cp *errs.CheckpointStack) error {
	switch op {
	case wasmUnreachable:
		emit.byte(wasmUnreachable)
		c.unreachable = true
		return nil

	case wasmNop:
		emit.byte(wasmNop)
		return nil

	case wasmBlock, wasmLoop:
		if err := readBlockType(r, cp); err != nil {
			return err
		}
		kind := blockPlain
		if op == wasmLoop {
			kind = blockLoop
		}
		b := &blockCtx{kind: kind, entryHeight: len(c.stack), enteredUnreach: c.unreachable}
		if emit != nil {
			b.label = emit.lb.alloc()
		}
		if kind == blockLoop {
			// Backward branches target the loop's entry, already known.
			if emit != nil {
				emit.lb.resolve(b.label, emit.pos())
			}
		}
		c.blocks = append(c.blocks, b)
		return nil

	case wasmEnd:
		b := c.blocks[len(c.blocks)-1]
		c.blocks = c.blocks[:len(c.blocks)-1]
		if !c.unreachable {
			if err := c.checkArity(cp, b.entryHeight, b.arity, b.resultType); err != nil {
				return err
			}
		}
		switch b.kind {
		case blockFunc:
			retWords := 0
			if b.arity == 1 {
				retWords = api.Words(b.resultType)
			}
			if emit != nil {
				emit.lb.resolve(b.label, emit.pos())
			}
			emit.byte(OpRet)
			emit.leb32u(uint32(retWords))
			emit.leb32u(uint32(c.totalLocalWords))
			emit.leb32u(uint32(c.argWords))
		}
		if b.kind != blockFunc {
			if emit != nil {
				emit.lb.resolve(b.label, emit.pos())
			}
		}
		c.stack = c.stack[:b.entryHeight]
		c.words = wordsOf(c.stack)
		if b.arity == 1 {
			c.push(b.resultType)
		}
		c.unreachable = b.enteredUnreach
		return nil

	case wasmBr, wasmBrIf:
		depth, err := r.ReadU32()
		if err != nil {
			return err
		}
		if op == wasmBrIf {
			if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
				return err
			}
		}
		target, err := c.blockAt(cp, int(depth))
		if err != nil {
			return err
		}
		if !c.unreachable {
			if err := c.checkArity(cp, target.entryHeight, target.arity, target.resultType); err != nil {
				return err
			}
		}
		emit.byte(op)
		emit.label(target.label)
		if op == wasmBr {
			c.unreachable = true
		}
		return nil

	case wasmBrTable:
		n, err := r.ReadVectorLen()
		if err != nil {
			return err
		}
		depths := make([]uint32, n)
		for i := range depths {
			d, err := r.ReadU32()
			if err != nil {
				return err
			}
			depths[i] = d
		}
		def, err := r.ReadU32()
		if err != nil {
			return err
		}
		if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
			return err
		}
		emit.byte(wasmBrTable)
		emit.leb32u(uint32(n))
		for _, d := range depths {
			target, err := c.blockAt(cp, int(d))
			if err != nil {
				return err
			}
			emit.label(target.label)
		}
		target, err := c.blockAt(cp, int(def))
		if err != nil {
			return err
		}
		emit.label(target.label)
		c.unreachable = true
		return nil

	case wasmReturn:
		target := c.blocks[0]
		if !c.unreachable {
			if err := c.checkArity(cp, target.entryHeight, target.arity, target.resultType); err != nil {
				return err
			}
		}
		emit.byte(wasmBr)
		emit.label(target.label)
		c.unreachable = true
		return nil

	case wasmCall:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		return c.call(int(idx), emit, cp)

	case wasmCallIndirect:
		typeIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		tableIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if tableIdx != 0 {
			return cp.Fail(errs.Decode, "call_indirect: table index must be 0, got %d", tableIdx)
		}
		if int(typeIdx) >= len(c.m.Types) {
			return cp.Fail(errs.Decode, "call_indirect: type index %d out of range", typeIdx)
		}
		if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
			return err
		}
		sig := c.m.Types[typeIdx]
		for i := len(sig.Params) - 1; i >= 0; i-- {
			if _, err := c.pop(cp, sig.Params[i]); err != nil {
				return err
			}
		}
		for _, rt := range sig.Results {
			c.push(rt)
		}
		c.usesIndirect = true
		emit.byte(OpCallIndirect)
		return nil

	case wasmDrop:
		t, err := c.pop(cp, 0)
		if err != nil {
			return err
		}
		emit.byte(wasmDrop)
		emit.byte(byte(typeCode2(orDefault(t))))
		return nil

	case wasmSelect:
		if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
			return err
		}
		b, err := c.pop(cp, 0)
		if err != nil {
			return err
		}
		a, err := c.pop(cp, b)
		if err != nil {
			return err
		}
		c.push(a)
		emit.byte(wasmSelect)
		emit.byte(byte(typeCode2(orDefault(a))))
		return nil

	case wasmLocalGet, wasmLocalSet, wasmLocalTee:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if int(idx) >= len(c.fn.Locals) {
			return cp.Fail(errs.Decode, "local index %d out of range", idx)
		}
		l := c.fn.Locals[idx]
		var lop byte
		switch op {
		case wasmLocalGet:
			lop = OpLocalGet
		case wasmLocalSet:
			lop = OpLocalSet
		default:
			lop = OpLocalTee
		}
		// For set/tee the value being stored is still on top of the
		// abstract stack (and hence counted in c.words) at the moment the
		// offset is computed: the runtime copies before shrinking.
		//
		// A call's return address is physically pushed between the formal
		// arguments (left in place by the caller) and the declared locals
		// zero-filled by this function's prolog, so an argument slot sits
		// one word further from the top than its bare position would
		// suggest.
		retGap := 0
		if l.Position < c.argWords {
			retGap = 1
		}
		offsetWords := c.totalLocalWords + retGap + c.words - l.Position
		imm := (uint32(offsetWords) << 2) | typeCode2(l.Type)
		emit.byte(lop)
		emit.u32(imm)
		switch op {
		case wasmLocalGet:
			c.push(l.Type)
		case wasmLocalSet:
			if _, err := c.pop(cp, l.Type); err != nil {
				return err
			}
		case wasmLocalTee:
			if _, err2 := c.pop(cp, l.Type); err2 != nil {
				return err2
			}
			c.push(l.Type)
		}
		return nil

	case wasmGlobalGet, wasmGlobalSet:
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if int(idx) >= len(c.m.ImportGlobals) {
			return cp.Fail(errs.Decode, "global index %d out of range", idx)
		}
		g := c.m.ImportGlobals[idx]
		if op == wasmGlobalGet {
			emit.byte(OpGlobalGetImp)
			emit.u32(g.BindingID)
			c.push(g.Type)
		} else {
			if !g.Mutable {
				return cp.Fail(errs.Validate, "global %d (%s): not mutable", idx, g.Name)
			}
			if _, err := c.pop(cp, g.Type); err != nil {
				return err
			}
			emit.byte(OpGlobalSetImp)
			emit.u32(g.BindingID)
		}
		return nil

	case wasmI32Const, wasmI64Const:
		if op == wasmI32Const {
			v, err := r.ReadI32()
			if err != nil {
				return err
			}
			emit.byte(op)
			emit.leb32s(v)
			c.push(api.ValueTypeI32)
		} else {
			v, err := r.ReadI64()
			if err != nil {
				return err
			}
			emit.byte(op)
			emit.leb64s(v)
			c.push(api.ValueTypeI64)
		}
		return nil

	default:
		if t, isStore, ok := memOpType(op); ok {
			align, err := r.ReadU32()
			if err != nil {
				return err
			}
			if align > 4 {
				align = 4
			}
			offset, err := r.ReadU32()
			if err != nil {
				return err
			}
			if isStore {
				if _, err := c.pop(cp, t); err != nil {
					return err
				}
				if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
					return err
				}
			} else {
				if _, err := c.pop(cp, api.ValueTypeI32); err != nil {
					return err
				}
			}
			emit.byte(op)
			emit.leb32u(align)
			emit.leb32u(offset)
			if !isStore {
				c.push(t)
			}
			return nil
		}
		if info, ok := opTable[op]; ok {
			for i := len(info.pop) - 1; i >= 0; i-- {
				if _, err := c.pop(cp, info.pop[i]); err != nil {
					return err
				}
			}
			for _, t := range info.push {
				c.push(t)
			}
			emit.byte(op)
			return nil
		}
		return cp.Fail(errs.Decode, "unsupported opcode %#x", op)
	}
}

func (c *funcCtx) call(idx int, emit *emitter, cp *errs.CheckpointStack) error {
	nimp := len(c.m.ImportFuncs)
	var sig wasmbin.FuncType
	if idx < nimp {
		sig = c.m.Types[c.m.ImportFuncs[idx].TypeIndex]
	} else {
		local := idx - nimp
		if local >= len(c.m.Funcs) {
			return cp.Fail(errs.Decode, "call: function index %d out of range", idx)
		}
		sig = c.m.Types[c.m.Funcs[local].TypeIndex]
		c.deps[local] = true
	}
	for i := len(sig.Params) - 1; i >= 0; i-- {
		if _, err := c.pop(cp, sig.Params[i]); err != nil {
			return err
		}
	}
	for _, rt := range sig.Results {
		c.push(rt)
	}
	if idx < nimp {
		emit.byte(OpCallExt)
		emit.u32(c.m.ImportFuncs[idx].BindingID)
	} else {
		emit.byte(OpCallInternal)
		emit.label(idx - nimp)
	}
	return nil
}

// blockAt returns the block depth levels up from the innermost (0 = the
// innermost enclosing block/loop, or the function body).
func (c *funcCtx) blockAt(cp *errs.CheckpointStack, depth int) (*blockCtx, error) {
	i := len(c.blocks) - 1 - depth
	if i < 0 {
		return nil, cp.Fail(errs.Decode, "branch depth %d exceeds block nesting", depth)
	}
	return c.blocks[i], nil
}

func (c *funcCtx) checkArity(cp *errs.CheckpointStack, entryHeight, arity int, want api.ValueType) error {
	if len(c.stack) != entryHeight+arity {
		return cp.Fail(errs.Validate, "operand stack height %d does not match expected %d", len(c.stack), entryHeight+arity)
	}
	if arity == 1 && c.stack[len(c.stack)-1] != want {
		return cp.Fail(errs.Validate, "expected %s at block exit, got %s", api.ValueTypeName(want), api.ValueTypeName(c.stack[len(c.stack)-1]))
	}
	return nil
}

func wordsOf(stack []api.ValueType) int {
	n := 0
	for _, t := range stack {
		n += api.Words(t)
	}
	return n
}

func orDefault(t api.ValueType) api.ValueType {
	if t == 0 {
		return api.ValueTypeI32
	}
	return t
}

// wasmReturn is a WASM opcode not listed in opcode.go's main const block
// because it is handled structurally rather than via opTable. 0x04/0x05
// (if/else) are deliberately absent: the original engine's Instruction enum
// never defines them (wasm_interpreter.cpp's compile dispatch ends in
// Fail() for anything it doesn't recognize), so they fall through to this
// file's own "unsupported opcode" fault like any other opcode outside the
// closed world this engine accepts.
const (
	wasmReturn = 0x0f
)

