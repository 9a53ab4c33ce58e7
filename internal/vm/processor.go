// Package vm implements the Processor (spec §4.4): the single-step
// bytecode interpreter that executes an ir.Image's lowered instruction
// stream. It owns the operand-stack/alias-region buffer, the far-call
// frame stack, and dispatches call_ext/global_get_imp/global_set_imp to a
// Host supplied by package hostabi.
package vm

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/ir"
)

// farFrame is a suspended caller context, pushed by a CallFar host call and
// popped when the callee's outermost `ret` fires.
type farFrame struct {
	mod        *ir.CompiledModule
	ip         int
	localDepth int
	globalMem  []byte
}

// Processor is one VM instance. It is not safe for concurrent use: spec §5
// mandates single-threaded, synchronous execution.
type Processor struct {
	stack        []byte // api.StackSize bytes; operand stack grows up from 0, alias region grows down from the top
	pos          int    // word index: stack[0 : pos*api.WordSize) is the in-use operand region
	bytesCurrent uint32 // alias region's current low-water mark, in bytes

	cur        *ir.CompiledModule
	ip         int // byte offset into cur.Code
	localDepth int
	globalMem  []byte // the Global segment of the current module, if it imports memory

	frames []farFrame

	host Host
	cp   *errs.CheckpointStack

	done bool
}

// NewProcessor allocates a fresh Processor with a zero-initialized
// operand-stack/alias buffer (spec §5 "one contiguous 64 KiB buffer per
// processor, zero-initialized").
func NewProcessor(host Host, cp *errs.CheckpointStack) *Processor {
	return &Processor{
		stack:        make([]byte, api.StackSize),
		bytesCurrent: api.StackSize,
		host:         host,
		cp:           cp,
	}
}

// Invoke starts executing method on mod, passing args as the method's sole
// formal parameter (a pointer to a packed argument struct, per this
// engine's calling convention — every exported method has signature
// (ptr) -> void or (ptr) -> i32/i64). It runs to completion or to the
// first fault.
func (p *Processor) Invoke(mod *ir.CompiledModule, method int, args api.Word) error {
	p.cp.Push("vm/Invoke")
	defer p.cp.Pop()

	if method < 0 || method >= len(mod.Methods) || mod.Methods[method] < 0 {
		return p.cp.Fail(errs.Link, "method %d not implemented", method)
	}
	p.switchModule(mod)
	p.ip = mod.Methods[method]
	p.localDepth = 0
	p.pushWord(args)
	p.pushWord(0) // sentinel return address: never dereferenced, local_depth==0 pops the frame on ret
	return p.Run()
}

// switchModule installs mod as the currently executing module, (re)mapping
// its Global segment. Called both for the top-level Invoke and whenever a
// far call enters a new contract.
func (p *Processor) switchModule(mod *ir.CompiledModule) {
	p.cur = mod
	if mod.HasMemory {
		p.globalMem = make([]byte, api.GlobalMemorySize)
	} else {
		p.globalMem = nil
	}
}

// PushFarCall suspends the currently executing module in favor of mod,
// entering it at method's offset with local_depth reset to 0. It is called
// by the Host's CallFar implementation once it has resolved the callee and
// validated args, the pointer call_ext's caller leaves as the callee's sole
// formal parameter; the caller resumes at the instruction right after the
// call_ext that triggered this (the processor's current ip). Exactly like
// the top-level Invoke, the callee's own prolog/ret arithmetic expects args
// and a sentinel return address to already be sitting on the shared operand
// stack, so this pushes both before handing control to it.
func (p *Processor) PushFarCall(mod *ir.CompiledModule, method int, args api.Word) error {
	if len(p.frames) >= api.FarCallDepth {
		return p.cp.Fail(errs.Trap, "far-call depth exceeds %d", api.FarCallDepth)
	}
	if method < 0 || method >= len(mod.Methods) || mod.Methods[method] < 0 {
		return p.cp.Fail(errs.Link, "method %d not implemented", method)
	}
	p.frames = append(p.frames, farFrame{mod: p.cur, ip: p.ip, localDepth: p.localDepth, globalMem: p.globalMem})
	p.switchModule(mod)
	p.pushWord(args)
	p.pushWord(0) // sentinel return address: never dereferenced, local_depth==0 pops the frame on ret
	p.ip = mod.Methods[method]
	p.localDepth = 0
	return nil
}

// CurrentModule returns the module presently executing, for Host
// implementations that need it (e.g. to resolve the calling contract_id).
func (p *Processor) CurrentModule() *ir.CompiledModule { return p.cur }

// Run executes run_once repeatedly until the outermost far-call frame
// completes or a fault occurs.
func (p *Processor) Run() error {
	for !p.done {
		if err := p.RunOnce(); err != nil {
			return err
		}
	}
	return nil
}

// RunOnce executes exactly one internal opcode or traps (spec §5
// "run_once() executes exactly one internal opcode or traps").
func (p *Processor) RunOnce() error {
	p.cp.Pushf("vm/Run, Ip=%d", p.ip)
	defer p.cp.Pop()

	if p.ip < 0 || p.ip >= len(p.cur.Code) {
		return p.cp.Fail(errs.Bounds, "instruction pointer %d out of range", p.ip)
	}
	op := p.cur.Code[p.ip]
	p.ip++
	return p.step(op)
}

func (p *Processor) readU32() (uint32, error) {
	if p.ip+4 > len(p.cur.Code) {
		return 0, p.cp.Fail(errs.Decode, "truncated instruction immediate")
	}
	v := binary.LittleEndian.Uint32(p.cur.Code[p.ip:])
	p.ip += 4
	return v, nil
}

func (p *Processor) readI32() (int32, error) {
	v, err := p.readU32()
	return int32(v), err
}

func (p *Processor) readI64() (int64, error) {
	hi, err := p.readU32()
	if err != nil {
		return 0, err
	}
	lo, err := p.readU32()
	if err != nil {
		return 0, err
	}
	return int64(uint64(hi)) | int64(uint64(lo))<<32, nil
}

// --- operand stack primitives ---

func (p *Processor) pushWord(w api.Word) {
	binary.LittleEndian.PutUint32(p.stack[p.pos*api.WordSize:], w)
	p.pos++
}

func (p *Processor) popWord() (api.Word, error) {
	if p.pos <= 0 {
		return 0, p.cp.Fail(errs.Bounds, "operand stack underflow")
	}
	p.pos--
	return binary.LittleEndian.Uint32(p.stack[p.pos*api.WordSize:]), nil
}

func (p *Processor) pushI64(v int64) {
	p.pushWord(api.Word(uint64(v)))
	p.pushWord(api.Word(uint64(v) >> 32))
}

func (p *Processor) popI64() (int64, error) {
	hi, err := p.popWord()
	if err != nil {
		return 0, err
	}
	lo, err := p.popWord()
	if err != nil {
		return 0, err
	}
	return int64(uint64(lo)) | int64(uint64(hi))<<32, nil
}
