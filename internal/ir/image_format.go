package ir

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
)

// moduleVersion is the only module header version this engine understands.
const moduleVersion = 1

// noMethod marks a method slot the deployed module does not implement.
const noMethod = ^uint32(0)

// Serialize renders img as the on-chain module binary (spec §4.5/§6 "module
// header" / "compiled contract binary"): a fixed header followed by the
// data section, the code section, and (if the module uses call_indirect)
// the indirect-call table.
//
// The two header layouts in the spec disagree with each other on section
// order and neither carries an explicit section length, which makes the
// format as literally described impossible to deserialize unambiguously
// (data0 is a tagged-address base, not a byte count, and nothing else
// bounds where the data section ends). This implementation follows §6's
// section order (data before code) and adds three header words — data_len,
// num_table_entries and a flags word (bit 0: the module maps linear
// memory) — recorded as an Open Question resolution in
// DESIGN.md/SPEC_FULL.md rather than guessing at a byte layout no consumer
// could actually parse back.
func (img *Image) Serialize() []byte {
	hdr := make([]byte, 24+4*len(img.Methods))
	binary.LittleEndian.PutUint32(hdr[0:], moduleVersion)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(img.Methods)))
	binary.LittleEndian.PutUint32(hdr[8:], img.DataBase)
	binary.LittleEndian.PutUint32(hdr[12:], uint32(len(img.Data)))
	binary.LittleEndian.PutUint32(hdr[16:], uint32(len(img.TableOffsets)))
	var flags uint32
	if img.HasMemory {
		flags |= 1
	}
	binary.LittleEndian.PutUint32(hdr[20:], flags)
	for i, off := range img.Methods {
		v := noMethod
		if off >= 0 {
			v = uint32(off)
		}
		binary.LittleEndian.PutUint32(hdr[24+4*i:], v)
	}

	out := make([]byte, 0, len(hdr)+len(img.Data)+len(img.Code)+4*len(img.TableOffsets))
	out = append(out, hdr...)
	out = append(out, img.Data...)
	out = append(out, img.Code...)
	for _, off := range img.TableOffsets {
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(off))
		out = append(out, b[:]...)
	}
	return out
}

// CompiledModule is a deserialized on-chain module: the form a far-call
// target or the top-level invoked contract takes once loaded from the
// store. Unlike Image it carries no compile-time bookkeeping (no
// FuncOffsets/dependency closure — those only matter while compiling),
// only what package vm needs to execute it.
type CompiledModule struct {
	Methods      []int // byte offset in Code, or -1 if unimplemented
	Code         []byte
	Data         []byte
	DataBase     uint32
	TableOffsets []int // indirect_table[i], byte offset in Code; 1-based at the call_indirect layer
	HasMemory    bool
}

// DeserializeImage parses the on-chain module binary produced by
// Image.Serialize back into an executable CompiledModule.
func DeserializeImage(raw []byte, cp *errs.CheckpointStack) (*CompiledModule, error) {
	cp.Push("ir/deserialize")
	defer cp.Pop()

	if len(raw) < 24 {
		return nil, cp.Fail(errs.Decode, "module header truncated")
	}
	version := binary.LittleEndian.Uint32(raw[0:])
	if version != moduleVersion {
		return nil, cp.Fail(errs.Decode, "unsupported module version %d", version)
	}
	numMethods := binary.LittleEndian.Uint32(raw[4:])
	if numMethods < 2 || numMethods > api.MaxMethods {
		return nil, cp.Fail(errs.Decode, "method count %d out of range [2, %d]", numMethods, api.MaxMethods)
	}
	dataBase := binary.LittleEndian.Uint32(raw[8:])
	dataLen := binary.LittleEndian.Uint32(raw[12:])
	numTable := binary.LittleEndian.Uint32(raw[16:])
	flags := binary.LittleEndian.Uint32(raw[20:])

	hdrLen := 24 + 4*int(numMethods)
	if len(raw) < hdrLen {
		return nil, cp.Fail(errs.Decode, "method offset table truncated")
	}
	methods := make([]int, numMethods)
	for i := range methods {
		v := binary.LittleEndian.Uint32(raw[24+4*i:])
		if v == noMethod {
			methods[i] = -1
		} else {
			methods[i] = int(v)
		}
	}

	tableBytes := 4 * int(numTable)
	if hdrLen+int(dataLen)+tableBytes > len(raw) {
		return nil, cp.Fail(errs.Decode, "data/indirect-table section extends past end of module")
	}
	data := raw[hdrLen : hdrLen+int(dataLen)]
	code := raw[hdrLen+int(dataLen) : len(raw)-tableBytes]
	table := make([]int, numTable)
	tableRaw := raw[len(raw)-tableBytes:]
	for i := range table {
		table[i] = int(binary.LittleEndian.Uint32(tableRaw[4*i:]))
	}

	return &CompiledModule{
		Methods:      methods,
		Code:         code,
		Data:         data,
		DataBase:     dataBase,
		TableOffsets: table,
		HasMemory:    flags&1 != 0,
	}, nil
}
