package wasmbin

import (
	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
)

const funcTypeHeader = 0x60
const tableElemType = 0x70 // anyfunc

func parseTypeSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		hdr, err := r.ReadByte()
		if err != nil {
			return err
		}
		if hdr != funcTypeHeader {
			return cp.Fail(errs.Decode, "type %d: expected func type header 0x60, got %#x", i, hdr)
		}
		params, err := readValueTypeVec(r, cp)
		if err != nil {
			return err
		}
		results, err := readValueTypeVec(r, cp)
		if err != nil {
			return err
		}
		if len(results) > 1 {
			return cp.Fail(errs.Decode, "type %d: at most one return value is supported, got %d", i, len(results))
		}
		m.Types = append(m.Types, FuncType{Params: params, Results: results})
	}
	return nil
}

func readValueTypeVec(r *leb128.Reader, cp *errs.CheckpointStack) ([]api.ValueType, error) {
	n, err := r.ReadVectorLen()
	if err != nil {
		return nil, err
	}
	out := make([]api.ValueType, n)
	for i := range out {
		t, err := readValueType(r, cp)
		if err != nil {
			return nil, err
		}
		out[i] = t
	}
	return out, nil
}

func parseImportSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		modName, err := r.ReadName()
		if err != nil {
			return err
		}
		if modName != "env" {
			return cp.Fail(errs.Link, "import %d: module %q is not supported; only \"env\" imports are allowed", i, modName)
		}
		fieldName, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch kind {
		case ImportKindFunc:
			ti, err := r.ReadU32()
			if err != nil {
				return err
			}
			if int(ti) >= len(m.Types) {
				return cp.Fail(errs.Decode, "import %d (%s.%s): type index %d out of range", i, modName, fieldName, ti)
			}
			m.ImportFuncs = append(m.ImportFuncs, ImportFunc{Module: modName, Name: fieldName, TypeIndex: ti})
		case ImportKindTable:
			elem, err := r.ReadByte()
			if err != nil {
				return err
			}
			if elem != tableElemType {
				return cp.Fail(errs.Decode, "import %d: table element type %#x is not supported", i, elem)
			}
			if err := skipLimits(r); err != nil {
				return err
			}
		case ImportKindMemory:
			if err := skipLimits(r); err != nil {
				return err
			}
			m.HasMemory = true
		case ImportKindGlobal:
			t, err := readValueType(r, cp)
			if err != nil {
				return err
			}
			mutByte, err := r.ReadByte()
			if err != nil {
				return err
			}
			if mutByte > 1 {
				return cp.Fail(errs.Decode, "import %d: invalid mutability byte %#x", i, mutByte)
			}
			m.ImportGlobals = append(m.ImportGlobals, ImportGlobal{
				Module: modName, Name: fieldName, Type: t, Mutable: mutByte == 1,
			})
		default:
			return cp.Fail(errs.Decode, "import %d: unknown import kind %#x", i, kind)
		}
	}
	return nil
}

func parseTableSection(r *leb128.Reader, cp *errs.CheckpointStack) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		elem, err := r.ReadByte()
		if err != nil {
			return err
		}
		if elem != tableElemType {
			return cp.Fail(errs.Decode, "table %d: element type %#x is not supported", i, elem)
		}
		if err := skipLimits(r); err != nil {
			return err
		}
	}
	return nil
}

func parseGlobalSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		t, err := readValueType(r, cp)
		if err != nil {
			return err
		}
		mutByte, err := r.ReadByte()
		if err != nil {
			return err
		}
		if mutByte > 1 {
			return cp.Fail(errs.Decode, "global %d: invalid mutability byte %#x", i, mutByte)
		}
		if _, err := readI32Initializer(r, cp); err != nil { // value discarded
			return err
		}
		m.Globals = append(m.Globals, Global{Type: t, Mutable: mutByte == 1})
	}
	return nil
}

func parseExportSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if kind != ExportKindFunc {
			return cp.Fail(errs.Decode, "export %q: only function exports are accepted, got kind %#x", name, kind)
		}
		m.Exports = append(m.Exports, Export{Name: name, Kind: kind, Index: idx})
	}
	return nil
}

// parseElementSection handles the single permitted element segment: the
// indirect-call function table (spec §4.2). importFuncCount shifts the
// segment's function indices down to local-function space.
func parseElementSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module, importFuncCount int) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	if n != 1 {
		return cp.Fail(errs.Decode, "exactly one element segment is permitted, got %d", n)
	}
	tableIdx, err := r.ReadU32()
	if err != nil {
		return err
	}
	if tableIdx != 0 {
		return cp.Fail(errs.Decode, "element segment table index must be 0, got %d", tableIdx)
	}
	offset, err := readI32Initializer(r, cp)
	if err != nil {
		return err
	}
	// Historical quirk (spec §9): the offset value is not a real base
	// address, but it must equal 1 to parse; preserved bit-exactly.
	if offset != 1 {
		return cp.Fail(errs.Decode, "element segment initializer must equal 1, got %d", offset)
	}
	count, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	funcs := make([]uint32, count)
	for i := range funcs {
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if int(idx) < importFuncCount {
			return cp.Fail(errs.Decode, "element %d: function index %d refers to an imported function", i, idx)
		}
		funcs[i] = idx - uint32(importFuncCount)
	}
	m.TableFuncs = funcs
	return nil
}

func parseCodeSection(r *leb128.Reader, cp *errs.CheckpointStack) ([][]byte, error) {
	n, err := r.ReadVectorLen()
	if err != nil {
		return nil, err
	}
	bodies := make([][]byte, n)
	for i := uint32(0); i < n; i++ {
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		body, err := r.Consume(int(size))
		if err != nil {
			return nil, err
		}
		bodies[i] = body
	}
	return bodies, nil
}

// decodeFuncBody expands a raw code-section entry into its flattened
// locals list (formal args first, then declared locals, positions assigned
// contiguously in words) plus the unparsed instruction bytes for the
// compiler (spec §4.2 Code section).
func decodeFuncBody(body []byte, sig FuncType, cp *errs.CheckpointStack) (locals []LocalVar, numArgs int, rest []byte, err error) {
	pos := 0
	for _, t := range sig.Params {
		locals = append(locals, LocalVar{Type: t, Words: api.Words(t), Position: pos})
		pos += api.Words(t)
	}
	numArgs = len(locals)

	r := leb128.NewReader(body, leb128.Standard, cp)
	groupCount, err := r.ReadVectorLen()
	if err != nil {
		return nil, 0, nil, err
	}
	for i := uint32(0); i < groupCount; i++ {
		count, err := r.ReadU32()
		if err != nil {
			return nil, 0, nil, err
		}
		t, err := readValueType(r, cp)
		if err != nil {
			return nil, 0, nil, err
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, LocalVar{Type: t, Words: api.Words(t), Position: pos})
			pos += api.Words(t)
		}
	}
	rest = body[r.Pos():]
	return locals, numArgs, rest, nil
}

func parseDataSection(r *leb128.Reader, cp *errs.CheckpointStack, m *Module) error {
	n, err := r.ReadVectorLen()
	if err != nil {
		return err
	}
	type block struct {
		offset uint32
		bytes  []byte
	}
	blocks := make([]block, 0, n)
	for i := uint32(0); i < n; i++ {
		memIdx, err := r.ReadU32()
		if err != nil {
			return err
		}
		if memIdx != 0 {
			return cp.Fail(errs.Decode, "data %d: memory index must be 0, got %d", i, memIdx)
		}
		offset, err := readI32Initializer(r, cp)
		if err != nil {
			return err
		}
		blen, err := r.ReadVectorLen()
		if err != nil {
			return err
		}
		bytes, err := r.Consume(int(blen))
		if err != nil {
			return err
		}
		blocks = append(blocks, block{offset: uint32(offset), bytes: bytes})
	}
	if len(blocks) == 0 {
		return nil
	}
	for i := 1; i < len(blocks); i++ {
		prevEnd := blocks[i-1].offset + uint32(len(blocks[i-1].bytes))
		if blocks[i].offset < prevEnd {
			return cp.Fail(errs.Decode, "data %d: overlaps previous block (offset %d < %d)", i, blocks[i].offset, prevEnd)
		}
	}
	m.DataBase = blocks[0].offset
	total := blocks[len(blocks)-1].offset + uint32(len(blocks[len(blocks)-1].bytes)) - m.DataBase
	packed := make([]byte, total)
	for _, b := range blocks {
		copy(packed[b.offset-m.DataBase:], b.bytes)
	}
	m.Data = packed
	return nil
}

const nameSubsectionFunctions = 1

func parseCustomSection(r *leb128.Reader, cp *errs.CheckpointStack, names map[uint32]string) error {
	sectionName, err := r.ReadName()
	if err != nil {
		return err
	}
	if sectionName != "name" {
		return nil // other custom sections are accepted and ignored
	}
	for r.Remaining() > 0 {
		subID, err := r.ReadByte()
		if err != nil {
			return err
		}
		size, err := r.ReadU32()
		if err != nil {
			return err
		}
		sub, err := r.Consume(int(size))
		if err != nil {
			return err
		}
		if subID != nameSubsectionFunctions {
			continue // only the function-names subsection is interpreted
		}
		sr := leb128.NewReader(sub, leb128.Standard, cp)
		n, err := sr.ReadVectorLen()
		if err != nil {
			return err
		}
		for i := uint32(0); i < n; i++ {
			idx, err := sr.ReadU32()
			if err != nil {
				return err
			}
			name, err := sr.ReadName()
			if err != nil {
				return err
			}
			names[idx] = name
		}
	}
	return nil
}
