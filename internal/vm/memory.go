package vm

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
)

// getAddrEx is the single dereference point for every typed load/store and
// every host ABI memory primitive (spec §9 design notes): it resolves a
// tagged VM address to a byte slice of the requested size, enforcing the
// segment's access discipline.
func (p *Processor) getAddrEx(addr api.Word, size int, write bool) ([]byte, error) {
	tag := api.Tag(addr)
	off := api.Offset(addr)
	end := int(off) + size
	if size <= 0 {
		return nil, p.cp.Fail(errs.Bounds, "zero-size memory access")
	}

	switch tag {
	case api.SegData:
		if write {
			// No host ABI binding in this engine writes into the read-only
			// data section; the "where the host explicitly allows" escape
			// hatch in §3 has no caller, so writes are always rejected.
			return nil, p.cp.Fail(errs.Bounds, "data segment is read-only")
		}
		// The packed data image starts at DataBase (cmpl_data0), so a Data
		// address is rebased before indexing it.
		if off < p.cur.DataBase {
			return nil, p.cp.Fail(errs.Bounds, "data access at %d is below the data base %d", off, p.cur.DataBase)
		}
		rel := int(off - p.cur.DataBase)
		if rel+size > len(p.cur.Data) {
			return nil, p.cp.Fail(errs.Bounds, "data access [%d,%d) exceeds %d-byte segment at base %d", off, end, len(p.cur.Data), p.cur.DataBase)
		}
		return p.cur.Data[rel : rel+size], nil

	case api.SegGlobal:
		if !p.cur.HasMemory {
			return nil, p.cp.Fail(errs.Bounds, "module has no linear memory")
		}
		if end > len(p.globalMem) {
			return nil, p.cp.Fail(errs.Bounds, "global access [%d,%d) exceeds %d-byte segment", off, end, len(p.globalMem))
		}
		return p.globalMem[off:end], nil

	case api.SegStack:
		if int(off) < p.pos*api.WordSize {
			return nil, p.cp.Fail(errs.Bounds, "stack access at %d is below the operand stack (pos*4=%d)", off, p.pos*api.WordSize)
		}
		if end > len(p.stack) {
			return nil, p.cp.Fail(errs.Bounds, "stack access [%d,%d) exceeds %d-byte buffer", off, end, len(p.stack))
		}
		return p.stack[off:end], nil

	default:
		return nil, p.cp.Fail(errs.Bounds, "dereferencing reserved segment tag")
	}
}

// opLoad executes one of the i32/i64 load opcodes, sign- or zero-extending
// per the variant (spec §4.4 "Memory access").
func (p *Processor) opLoad(op byte, align, offset uint32) error {
	_ = align // alignment is a compiler-time hint only; the interpreter doesn't fault on misalignment
	base, err := p.popWord()
	if err != nil {
		return err
	}
	addr := base + offset

	switch op {
	case 0x28: // i32.load
		b, err := p.getAddrEx(addr, 4, false)
		if err != nil {
			return err
		}
		p.pushWord(binary.LittleEndian.Uint32(b))
	case 0x29: // i64.load
		b, err := p.getAddrEx(addr, 8, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(binary.LittleEndian.Uint64(b)))
	case 0x2c: // i32.load8_s
		b, err := p.getAddrEx(addr, 1, false)
		if err != nil {
			return err
		}
		p.pushWord(uint32(int32(int8(b[0]))))
	case 0x2d: // i32.load8_u
		b, err := p.getAddrEx(addr, 1, false)
		if err != nil {
			return err
		}
		p.pushWord(uint32(b[0]))
	case 0x2e: // i32.load16_s
		b, err := p.getAddrEx(addr, 2, false)
		if err != nil {
			return err
		}
		p.pushWord(uint32(int32(int16(binary.LittleEndian.Uint16(b)))))
	case 0x2f: // i32.load16_u
		b, err := p.getAddrEx(addr, 2, false)
		if err != nil {
			return err
		}
		p.pushWord(uint32(binary.LittleEndian.Uint16(b)))
	case 0x30: // i64.load8_s
		b, err := p.getAddrEx(addr, 1, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(int8(b[0])))
	case 0x31: // i64.load8_u
		b, err := p.getAddrEx(addr, 1, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(b[0]))
	case 0x32: // i64.load16_s
		b, err := p.getAddrEx(addr, 2, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(int16(binary.LittleEndian.Uint16(b))))
	case 0x33: // i64.load16_u
		b, err := p.getAddrEx(addr, 2, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(binary.LittleEndian.Uint16(b)))
	case 0x34: // i64.load32_s
		b, err := p.getAddrEx(addr, 4, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(int32(binary.LittleEndian.Uint32(b))))
	case 0x35: // i64.load32_u
		b, err := p.getAddrEx(addr, 4, false)
		if err != nil {
			return err
		}
		p.pushI64(int64(binary.LittleEndian.Uint32(b)))
	default:
		return p.cp.Fail(errs.Decode, "unsupported load opcode %#x", op)
	}
	return nil
}

// opStore executes one of the i32/i64 store opcodes, truncating per the
// variant.
func (p *Processor) opStore(op byte, align, offset uint32) error {
	_ = align
	switch op {
	case 0x36, 0x3a, 0x3b: // i32.store, store8, store16
		v, err := p.popWord()
		if err != nil {
			return err
		}
		base, err := p.popWord()
		if err != nil {
			return err
		}
		addr := base + offset
		n := map[byte]int{0x36: 4, 0x3a: 1, 0x3b: 2}[op]
		b, err := p.getAddrEx(addr, n, true)
		if err != nil {
			return err
		}
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], v)
		copy(b, tmp[:n])
		return nil
	case 0x37, 0x3c, 0x3d, 0x3e: // i64.store, store8, store16, store32
		v, err := p.popI64()
		if err != nil {
			return err
		}
		base, err := p.popWord()
		if err != nil {
			return err
		}
		addr := base + offset
		n := map[byte]int{0x37: 8, 0x3c: 1, 0x3d: 2, 0x3e: 4}[op]
		b, err := p.getAddrEx(addr, n, true)
		if err != nil {
			return err
		}
		var tmp [8]byte
		binary.LittleEndian.PutUint64(tmp[:], uint64(v))
		copy(b, tmp[:n])
		return nil
	default:
		return p.cp.Fail(errs.Decode, "unsupported store opcode %#x", op)
	}
}
