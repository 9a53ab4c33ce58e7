package vm

import (
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/ir"
)

// step decodes and executes one opcode from p.cur.Code at p.ip (already
// advanced past the opcode byte by RunOnce). It mirrors ir.funcCtx.step's
// switch one-for-one: every branch here corresponds to what that compiler
// pass emitted for the same source construct.
func (p *Processor) step(op byte) error {
	switch op {
	case 0x00: // unreachable
		return p.cp.Fail(errs.Trap, "unreachable instruction executed")

	case 0x01: // nop
		return nil

	case 0x0c: // br
		return p.opBr()
	case 0x0d: // br_if
		return p.opBrIf()
	case 0x0e: // br_table
		return p.opBrTable()

	case ir.OpCallIndirect:
		return p.opCallIndirect()

	case 0x1a: // drop
		t, err := p.readByte()
		if err != nil {
			return err
		}
		n := wordsForTypeCode(t)
		if p.pos < n {
			return p.cp.Fail(errs.Bounds, "operand stack underflow")
		}
		p.pos -= n
		return nil

	case 0x1b: // select
		t, err := p.readByte()
		if err != nil {
			return err
		}
		n := wordsForTypeCode(t)
		cond, err := p.popWord()
		if err != nil {
			return err
		}
		if p.pos < 2*n {
			return p.cp.Fail(errs.Bounds, "operand stack underflow")
		}
		if cond == 0 {
			// Keep the second operand (b), drop the first (a): shift b
			// down over a's slots.
			copy(p.stack[(p.pos-2*n)*4:], p.stack[(p.pos-n)*4:p.pos*4])
		}
		p.pos -= n
		return nil

	case ir.OpLocalGet:
		imm, err := p.readU32()
		if err != nil {
			return err
		}
		return p.opLocalGet(imm)
	case ir.OpLocalSet:
		imm, err := p.readU32()
		if err != nil {
			return err
		}
		return p.opLocalSet(imm, false)
	case ir.OpLocalTee:
		imm, err := p.readU32()
		if err != nil {
			return err
		}
		return p.opLocalSet(imm, true)

	case ir.OpGlobalGetImp:
		return p.opGlobalGetImp()
	case ir.OpGlobalSetImp:
		return p.opGlobalSetImp()

	case 0x41: // i32.const
		v, err := p.readLEBi32()
		if err != nil {
			return err
		}
		p.pushWord(uint32(v))
		return nil
	case 0x42: // i64.const
		v, err := p.readLEBi64()
		if err != nil {
			return err
		}
		p.pushI64(v)
		return nil

	case ir.OpProlog:
		return p.opProlog()
	case ir.OpRet:
		return p.opRet()
	case ir.OpCallExt:
		return p.opCallExt()
	case ir.OpCallInternal:
		label, err := p.readU32()
		if err != nil {
			return err
		}
		p.opCall(label)
		return nil

	default:
		if isMemOp(op) {
			align, err := p.readLEBu32()
			if err != nil {
				return err
			}
			offset, err := p.readLEBu32()
			if err != nil {
				return err
			}
			if isStoreOp(op) {
				return p.opStore(op, align, offset)
			}
			return p.opLoad(op, align, offset)
		}
		return p.execArith(op)
	}
}

func (p *Processor) readByte() (byte, error) {
	if p.ip >= len(p.cur.Code) {
		return 0, p.cp.Fail(errs.Decode, "truncated instruction")
	}
	b := p.cur.Code[p.ip]
	p.ip++
	return b, nil
}

// wordsForTypeCode maps drop/select's 1-byte type-code immediate (the same
// 2-bit encoding as local-access immediates, per ir.typeCode2) to its word
// count.
func wordsForTypeCode(c byte) int {
	switch c & 3 {
	case 0, 2: // f64, i64
		return 2
	default: // f32, i32
		return 1
	}
}

func isMemOp(op byte) bool {
	switch op {
	case 0x28, 0x29, 0x2a, 0x2b, 0x2c, 0x2d, 0x2e, 0x2f,
		0x30, 0x31, 0x32, 0x33, 0x34, 0x35,
		0x36, 0x37, 0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e:
		return true
	}
	return false
}

func isStoreOp(op byte) bool {
	switch op {
	case 0x36, 0x37, 0x38, 0x39, 0x3a, 0x3b, 0x3c, 0x3d, 0x3e:
		return true
	}
	return false
}
