package vm

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
)

// readLEBu32/readLEBi64 decode the canonical (unpadded) LEB128 immediates
// ir.compiler.go re-encodes constants and prolog/ret word counts with.
// Runtime decoding never needs the parser's padding-quirk modes: the
// compiler only ever emits the canonical form.
func (p *Processor) readLEBu32() (uint32, error) {
	v, n, err := leb128.LoadUint32(p.cur.Code[p.ip:])
	if err != nil {
		return 0, p.cp.Fail(errs.Decode, "truncated LEB128 immediate: %v", err)
	}
	p.ip += n
	return v, nil
}

func (p *Processor) readLEBi32() (int32, error) {
	v, n, err := leb128.LoadInt32(p.cur.Code[p.ip:])
	if err != nil {
		return 0, p.cp.Fail(errs.Decode, "truncated LEB128 immediate: %v", err)
	}
	p.ip += n
	return v, nil
}

func (p *Processor) readLEBi64() (int64, error) {
	v, n, err := leb128.LoadInt64(p.cur.Code[p.ip:])
	if err != nil {
		return 0, p.cp.Fail(errs.Decode, "truncated LEB128 immediate: %v", err)
	}
	p.ip += n
	return v, nil
}

func (p *Processor) opProlog() error {
	n, err := p.readLEBu32()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		p.pushWord(0)
	}
	return nil
}

// opRet implements the `ret` triple (spec §4.4): it restores the caller's
// view of the operand stack and jumps to the saved return address, or (at
// the outermost level of the current far-call frame) pops the frame
// entirely.
func (p *Processor) opRet() error {
	retWords, err := p.readLEBu32()
	if err != nil {
		return err
	}
	localWords, err := p.readLEBu32()
	if err != nil {
		return err
	}
	argWords, err := p.readLEBu32()
	if err != nil {
		return err
	}

	base := p.pos - int(localWords) - 1 - int(retWords)
	if base < 0 {
		return p.cp.Fail(errs.Bounds, "ret: operand stack underflow")
	}
	retAddrSlot := base + int(argWords)
	retAddr := binary.LittleEndian.Uint32(p.stack[retAddrSlot*api.WordSize:])

	// Copy the top ret_words over the slots that held the arguments, then
	// shrink to (args_base + ret_words). Read the return address above
	// first: if ret_words > arg_words this copy can overwrite it.
	copy(p.stack[base*api.WordSize:], p.stack[(p.pos-int(retWords))*api.WordSize:p.pos*api.WordSize])
	p.pos = base + int(retWords)

	if p.localDepth == 0 {
		// Outermost ret of this far-call frame: there is no caller IP
		// within this frame to jump to.
		if len(p.frames) == 0 {
			p.done = true
			return nil
		}
		top := p.frames[len(p.frames)-1]
		p.frames = p.frames[:len(p.frames)-1]
		p.cur = top.mod
		p.globalMem = top.globalMem
		p.ip = top.ip
		p.localDepth = top.localDepth
		return nil
	}

	p.localDepth--
	p.ip = int(retAddr)
	return nil
}

func (p *Processor) opCall(label uint32) {
	p.pushWord(uint32(p.ip))
	p.ip = int(label)
	p.localDepth++
}

func (p *Processor) opCallIndirect() error {
	idx, err := p.popWord()
	if err != nil {
		return err
	}
	if idx == 0 || int(idx) > len(p.cur.TableOffsets) {
		return p.cp.Fail(errs.Trap, "call_indirect: index %d out of range", idx)
	}
	target := p.cur.TableOffsets[idx-1]
	p.opCall(uint32(target))
	return nil
}

func (p *Processor) opCallExt() error {
	bindingID, err := p.readU32()
	if err != nil {
		return err
	}
	return p.host.Invoke(p, bindingID)
}

func (p *Processor) opGlobalGetImp() error {
	bindingID, err := p.readU32()
	if err != nil {
		return err
	}
	if bindingID != api.BindStackPointer {
		return p.cp.Fail(errs.Link, "global_get_imp: unrecognized binding %#x", bindingID)
	}
	p.pushWord(p.StackPointer())
	return nil
}

func (p *Processor) opGlobalSetImp() error {
	bindingID, err := p.readU32()
	if err != nil {
		return err
	}
	if bindingID != api.BindStackPointer {
		return p.cp.Fail(errs.Link, "global_set_imp: unrecognized binding %#x", bindingID)
	}
	v, err := p.popWord()
	if err != nil {
		return err
	}
	return p.SetStackPointer(v)
}

func (p *Processor) opBr() error {
	target, err := p.readU32()
	if err != nil {
		return err
	}
	p.ip = int(target)
	return nil
}

func (p *Processor) opBrIf() error {
	target, err := p.readU32()
	if err != nil {
		return err
	}
	cond, err := p.popWord()
	if err != nil {
		return err
	}
	if cond != 0 {
		p.ip = int(target)
	}
	return nil
}

func (p *Processor) opBrTable() error {
	n, err := p.readLEBu32()
	if err != nil {
		return err
	}
	k, err := p.popWord()
	if err != nil {
		return err
	}
	if k >= n {
		k = n
	}
	// (n+1) inline 4-byte targets follow; select target k, skipping the rest.
	targetOff := p.ip + int(k)*4
	if targetOff+4 > len(p.cur.Code) {
		return p.cp.Fail(errs.Bounds, "br_table: target table truncated")
	}
	target := binary.LittleEndian.Uint32(p.cur.Code[targetOff:])
	p.ip = int(target)
	return nil
}
