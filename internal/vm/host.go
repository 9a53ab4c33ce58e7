package vm

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
)

// Host is implemented by package hostabi. The processor calls Invoke for
// every call_ext it decodes; everything it needs to do its job (memory
// access, stack manipulation, far-call frame switching) is exposed as
// exported methods on *Processor below, the same way the engine's own
// opcodes use their unexported counterparts.
type Host interface {
	Invoke(p *Processor, bindingID uint32) error
}

// ReadBytes resolves a tagged address for a read of size bytes.
func (p *Processor) ReadBytes(addr api.Word, size int) ([]byte, error) {
	return p.getAddrEx(addr, size, false)
}

// WriteBytes resolves a tagged address for a write of size bytes.
func (p *Processor) WriteBytes(addr api.Word, size int) ([]byte, error) {
	return p.getAddrEx(addr, size, true)
}

// PopWord pops one word off the operand stack.
func (p *Processor) PopWord() (api.Word, error) { return p.popWord() }

// PushWord pushes one word onto the operand stack.
func (p *Processor) PushWord(w api.Word) { p.pushWord(w) }

// PopI64 pops a 64-bit value (two words, low word pushed first hence popped
// second) off the operand stack.
func (p *Processor) PopI64() (int64, error) { return p.popI64() }

// PushI64 pushes a 64-bit value as two words, low word first.
func (p *Processor) PushI64(v int64) { p.pushI64(v) }

// StackPointer returns the tagged address of the current alias-region
// boundary, as the __stack_pointer global reads (spec §4.4).
func (p *Processor) StackPointer() api.Word {
	return api.TaggedAddr(api.SegStack, p.bytesCurrent)
}

// StackAlloc carves n bytes (rounded up to 16) off the top of the alias
// region, moving bytesCurrent down, and returns the new region's tagged
// address (spec §4.5 binding 0x18).
func (p *Processor) StackAlloc(n uint32) (api.Word, error) {
	rounded := roundUp16(n)
	if rounded > p.bytesCurrent {
		return 0, p.cp.Fail(errs.Bounds, "stack alloc of %d bytes underflows the alias region", n)
	}
	newBase := p.bytesCurrent - rounded
	if newBase < uint32(p.pos*api.WordSize) {
		return 0, p.cp.Fail(errs.Bounds, "stack alloc of %d bytes collides with the operand stack", n)
	}
	p.bytesCurrent = newBase
	return api.TaggedAddr(api.SegStack, p.bytesCurrent), nil
}

// StackFree releases n bytes (rounded up to 16) previously carved off by
// StackAlloc, moving bytesCurrent back up (spec §4.5 binding 0x19).
func (p *Processor) StackFree(n uint32) error {
	rounded := roundUp16(n)
	newBase := p.bytesCurrent + rounded
	if newBase > api.StackSize {
		return p.cp.Fail(errs.Bounds, "stack free of %d bytes overflows the alias region", n)
	}
	p.bytesCurrent = newBase
	return nil
}

// SetStackPointer implements the __stack_pointer write side (spec §4.4
// "Alias (in-VM) stack pointer"): addr must be Stack-tagged and 16-byte
// aligned.
func (p *Processor) SetStackPointer(addr api.Word) error {
	if api.Tag(addr) != api.SegStack {
		return p.cp.Fail(errs.Validate, "__stack_pointer write: address is not Stack-tagged")
	}
	off := api.Offset(addr)
	if off%api.StackAlignment != 0 {
		return p.cp.Fail(errs.Bounds, "__stack_pointer write: offset %d is not 16-byte aligned", off)
	}
	if off < uint32(p.pos*api.WordSize) {
		return p.cp.Fail(errs.Bounds, "__stack_pointer write: offset %d collides with the operand stack", off)
	}
	p.bytesCurrent = off
	return nil
}

func roundUp16(n uint32) uint32 { return (n + api.StackAlignment - 1) &^ (api.StackAlignment - 1) }

// Checkpoints returns the processor's diagnostic stack, for Host
// implementations that want to push their own frames (e.g.
// "hostabi/LoadVar").
func (p *Processor) Checkpoints() *errs.CheckpointStack { return p.cp }

// FarCallDepth reports how many far-call frames are currently suspended.
func (p *Processor) FarCallDepth() int { return len(p.frames) }

// ResultWord returns the bottom word of whatever is left on the operand
// stack once Invoke/Run has completed — for a top-level invocation this is
// exactly the single i32 result a method returned, if any.
func (p *Processor) ResultWord() (api.Word, error) {
	if p.pos < 1 {
		return 0, p.cp.Fail(errs.Bounds, "no result word available")
	}
	return binary.LittleEndian.Uint32(p.stack[:api.WordSize]), nil
}

// ResultI64 returns the bottom two words as an i64 result.
func (p *Processor) ResultI64() (int64, error) {
	if p.pos < 2 {
		return 0, p.cp.Fail(errs.Bounds, "no i64 result available")
	}
	lo := binary.LittleEndian.Uint32(p.stack[0:])
	hi := binary.LittleEndian.Uint32(p.stack[api.WordSize:])
	return int64(uint64(lo)) | int64(uint64(hi))<<32, nil
}
