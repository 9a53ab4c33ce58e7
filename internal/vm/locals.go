package vm

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
)

// decodeLocalImm splits a local-access immediate into its word offset
// (measured back from the current operand-stack top) and value type, per
// the encoding ir.compiler.go bakes in: imm = (offsetWords<<2)|typeCode,
// typeCode = t - 0x7C (spec §4.4 "Local access").
func decodeLocalImm(imm uint32) (offset int, t api.ValueType) {
	return int(imm >> 2), api.ValueTypeF64 + api.ValueType(imm&3)
}

// localSlot returns the word index of the start of the local addressed by
// a decoded local-access immediate, and validates it against the in-use
// operand region (spec §4.4 "fault if the offset is not at least words(t)
// ... or goes outside the in-use operand region").
func (p *Processor) localSlot(offset int, t api.ValueType) (int, error) {
	n := api.Words(t)
	if offset < n {
		return 0, p.cp.Fail(errs.Bounds, "local access offset %d self-overlaps a %d-word value", offset, n)
	}
	slot := p.pos - offset
	if slot < 0 || slot+n > p.pos {
		return 0, p.cp.Fail(errs.Bounds, "local access outside the in-use operand region")
	}
	return slot, nil
}

func (p *Processor) readWords(slot, n int) []byte {
	return p.stack[slot*api.WordSize : (slot+n)*api.WordSize]
}

func (p *Processor) opLocalGet(imm uint32) error {
	offset, t := decodeLocalImm(imm)
	slot, err := p.localSlot(offset, t)
	if err != nil {
		return err
	}
	n := api.Words(t)
	src := p.readWords(slot, n)
	for i := 0; i < n; i++ {
		p.pushWord(binary.LittleEndian.Uint32(src[i*api.WordSize:]))
	}
	return nil
}

func (p *Processor) opLocalSet(imm uint32, keep bool) error {
	offset, t := decodeLocalImm(imm)
	slot, err := p.localSlot(offset, t)
	if err != nil {
		return err
	}
	n := api.Words(t)
	if p.pos < n {
		return p.cp.Fail(errs.Bounds, "operand stack underflow")
	}
	top := p.pos - n
	dst := p.readWords(slot, n)
	src := p.readWords(top, n)
	copy(dst, src)
	if !keep {
		p.pos = top
	}
	return nil
}
