package vm

import (
	"math/bits"

	"github.com/BeamMW/beam-sub003/internal/errs"
)

// execArith executes one of the polymorphic arithmetic/comparison/bitwise/
// conversion opcodes ir.opcode.go's opTable registers (spec §4.4
// "Arithmetic"). These are passed through unchanged from the source WASM
// byte, so the opcode constants here mirror the WASM encoding exactly.
func (p *Processor) execArith(op byte) error {
	switch {
	case op == 0x45: // i32.eqz
		a, err := p.popWord()
		if err != nil {
			return err
		}
		p.pushBool(a == 0)
		return nil

	case op >= 0x46 && op <= 0x4f: // i32 relops
		b, err := p.popWord()
		if err != nil {
			return err
		}
		a, err := p.popWord()
		if err != nil {
			return err
		}
		return p.i32Rel(op, int32(a), int32(b))

	case op == 0x50: // i64.eqz
		a, err := p.popI64()
		if err != nil {
			return err
		}
		p.pushBool(a == 0)
		return nil

	case op >= 0x51 && op <= 0x5a: // i64 relops
		b, err := p.popI64()
		if err != nil {
			return err
		}
		a, err := p.popI64()
		if err != nil {
			return err
		}
		return p.i64Rel(op, a, b)

	case op >= 0x67 && op <= 0x69: // i32 clz/ctz/popcnt
		a, err := p.popWord()
		if err != nil {
			return err
		}
		switch op {
		case 0x67:
			p.pushWord(uint32(bits.LeadingZeros32(a)))
		case 0x68:
			p.pushWord(uint32(bits.TrailingZeros32(a)))
		case 0x69:
			p.pushWord(uint32(bits.OnesCount32(a)))
		}
		return nil

	case op >= 0x6a && op <= 0x78: // i32 binops
		b, err := p.popWord()
		if err != nil {
			return err
		}
		a, err := p.popWord()
		if err != nil {
			return err
		}
		if op >= 0x74 && op <= 0x76 && b >= 32 { // shl/shr_s/shr_u
			return p.cp.Fail(errs.Trap, "i32 shift amount %d out of range", b)
		}
		return p.i32Bin(op, a, b)

	case op >= 0x79 && op <= 0x7b: // i64 clz/ctz/popcnt
		a, err := p.popI64()
		if err != nil {
			return err
		}
		switch op {
		case 0x79:
			p.pushI64(int64(bits.LeadingZeros64(uint64(a))))
		case 0x7a:
			p.pushI64(int64(bits.TrailingZeros64(uint64(a))))
		case 0x7b:
			p.pushI64(int64(bits.OnesCount64(uint64(a))))
		}
		return nil

	case op >= 0x7c && op <= 0x8a: // i64 binops
		b, err := p.popI64()
		if err != nil {
			return err
		}
		a, err := p.popI64()
		if err != nil {
			return err
		}
		if op >= 0x86 && op <= 0x88 && uint64(b) >= 64 { // shl/shr_s/shr_u
			return p.cp.Fail(errs.Trap, "i64 shift amount %d out of range", uint64(b))
		}
		return p.i64Bin(op, a, b)

	case op == 0xa7: // i32.wrap_i64
		a, err := p.popI64()
		if err != nil {
			return err
		}
		p.pushWord(uint32(uint64(a)))
		return nil

	case op == 0xac: // i64.extend_i32_s
		a, err := p.popWord()
		if err != nil {
			return err
		}
		p.pushI64(int64(int32(a)))
		return nil

	case op == 0xad: // i64.extend_i32_u
		a, err := p.popWord()
		if err != nil {
			return err
		}
		p.pushI64(int64(uint64(a)))
		return nil

	default:
		return p.cp.Fail(errs.Decode, "unsupported opcode %#x", op)
	}
}

func (p *Processor) pushBool(b bool) {
	if b {
		p.pushWord(1)
	} else {
		p.pushWord(0)
	}
}

func (p *Processor) i32Rel(op byte, a, b int32) error {
	switch op {
	case 0x46:
		p.pushBool(a == b)
	case 0x47:
		p.pushBool(a != b)
	case 0x48:
		p.pushBool(a < b)
	case 0x49:
		p.pushBool(uint32(a) < uint32(b))
	case 0x4a:
		p.pushBool(a > b)
	case 0x4b:
		p.pushBool(uint32(a) > uint32(b))
	case 0x4c:
		p.pushBool(a <= b)
	case 0x4d:
		p.pushBool(uint32(a) <= uint32(b))
	case 0x4e:
		p.pushBool(a >= b)
	case 0x4f:
		p.pushBool(uint32(a) >= uint32(b))
	}
	return nil
}

func (p *Processor) i64Rel(op byte, a, b int64) error {
	switch op {
	case 0x51:
		p.pushBool(a == b)
	case 0x52:
		p.pushBool(a != b)
	case 0x53:
		p.pushBool(a < b)
	case 0x54:
		p.pushBool(uint64(a) < uint64(b))
	case 0x55:
		p.pushBool(a > b)
	case 0x56:
		p.pushBool(uint64(a) > uint64(b))
	case 0x57:
		p.pushBool(a <= b)
	case 0x58:
		p.pushBool(uint64(a) <= uint64(b))
	case 0x59:
		p.pushBool(a >= b)
	case 0x5a:
		p.pushBool(uint64(a) >= uint64(b))
	}
	return nil
}

func (p *Processor) i32Bin(op byte, a, b uint32) error {
	switch op {
	case 0x6a:
		p.pushWord(a + b)
	case 0x6b:
		p.pushWord(a - b)
	case 0x6c:
		p.pushWord(a * b)
	case 0x6d: // div_s
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return p.cp.Fail(errs.Trap, "i32.div_s by zero")
		}
		if sa == -(1<<31) && sb == -1 {
			return p.cp.Fail(errs.Trap, "i32.div_s overflow")
		}
		p.pushWord(uint32(sa / sb))
	case 0x6e: // div_u
		if b == 0 {
			return p.cp.Fail(errs.Trap, "i32.div_u by zero")
		}
		p.pushWord(a / b)
	case 0x6f: // rem_s
		sa, sb := int32(a), int32(b)
		if sb == 0 {
			return p.cp.Fail(errs.Trap, "i32.rem_s by zero")
		}
		if sa == -(1<<31) && sb == -1 {
			p.pushWord(0)
			return nil
		}
		p.pushWord(uint32(sa % sb))
	case 0x70: // rem_u
		if b == 0 {
			return p.cp.Fail(errs.Trap, "i32.rem_u by zero")
		}
		p.pushWord(a % b)
	case 0x71:
		p.pushWord(a & b)
	case 0x72:
		p.pushWord(a | b)
	case 0x73:
		p.pushWord(a ^ b)
	case 0x74:
		p.pushWord(a << (b % 32))
	case 0x75:
		p.pushWord(uint32(int32(a) >> (b % 32)))
	case 0x76:
		p.pushWord(a >> (b % 32))
	case 0x77:
		p.pushWord(bits.RotateLeft32(a, int(b%32)))
	case 0x78:
		p.pushWord(bits.RotateLeft32(a, -int(b%32)))
	}
	return nil
}

func (p *Processor) i64Bin(op byte, a, b int64) error {
	ua, ub := uint64(a), uint64(b)
	switch op {
	case 0x7c:
		p.pushI64(int64(ua + ub))
	case 0x7d:
		p.pushI64(int64(ua - ub))
	case 0x7e:
		p.pushI64(int64(ua * ub))
	case 0x7f: // div_s
		if b == 0 {
			return p.cp.Fail(errs.Trap, "i64.div_s by zero")
		}
		if a == -(1<<63) && b == -1 {
			return p.cp.Fail(errs.Trap, "i64.div_s overflow")
		}
		p.pushI64(a / b)
	case 0x80: // div_u
		if ub == 0 {
			return p.cp.Fail(errs.Trap, "i64.div_u by zero")
		}
		p.pushI64(int64(ua / ub))
	case 0x81: // rem_s
		if b == 0 {
			return p.cp.Fail(errs.Trap, "i64.rem_s by zero")
		}
		if a == -(1<<63) && b == -1 {
			p.pushI64(0)
			return nil
		}
		p.pushI64(a % b)
	case 0x82: // rem_u
		if ub == 0 {
			return p.cp.Fail(errs.Trap, "i64.rem_u by zero")
		}
		p.pushI64(int64(ua % ub))
	case 0x83:
		p.pushI64(int64(ua & ub))
	case 0x84:
		p.pushI64(int64(ua | ub))
	case 0x85:
		p.pushI64(int64(ua ^ ub))
	case 0x86:
		p.pushI64(int64(ua << (ub % 64)))
	case 0x87:
		p.pushI64(a >> (ub % 64))
	case 0x88:
		p.pushI64(int64(ua >> (ub % 64)))
	case 0x89:
		p.pushI64(int64(bits.RotateLeft64(ua, int(ub%64))))
	case 0x8a:
		p.pushI64(int64(bits.RotateLeft64(ua, -int(ub%64))))
	}
	return nil
}
