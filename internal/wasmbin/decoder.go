package wasmbin

import (
	"bytes"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/leb128"
)

var magic = []byte{0x00, 'a', 's', 'm'}
var version = []byte{0x01, 0x00, 0x00, 0x00}

// Parse decodes a WASM binary module into a Module description (spec §4.2).
// mode selects the LEB128 reader's surplus-sign-bit handling (spec §4.1).
func Parse(wasm []byte, mode leb128.Mode, cp *errs.CheckpointStack) (*Module, error) {
	cp.Push("wasm/parse")
	defer cp.Pop()

	r := leb128.NewReader(wasm, mode, cp)
	hdr, err := r.Consume(8)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(hdr[:4], magic) {
		return nil, cp.Fail(errs.Decode, "bad magic %x", hdr[:4])
	}
	if !bytes.Equal(hdr[4:], version) {
		return nil, cp.Fail(errs.Decode, "unsupported version %x", hdr[4:])
	}

	m := &Module{}
	var pendingFuncTypeIdx []uint32
	var codeBodies [][]byte
	names := map[uint32]string{}

	lastOrderedID := -1
	for r.Remaining() > 0 {
		id, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		body, err := r.Consume(int(size))
		if err != nil {
			return nil, err
		}
		if id != SectionCustom && id != SectionDataCount {
			if int(id) <= lastOrderedID {
				return nil, cp.Fail(errs.Decode, "section id %d out of order (last %d)", id, lastOrderedID)
			}
			lastOrderedID = int(id)
		}

		sr := leb128.NewReader(body, mode, cp)
		switch id {
		case SectionCustom:
			if err := parseCustomSection(sr, cp, names); err != nil {
				return nil, err
			}
		case SectionType:
			if err := parseTypeSection(sr, cp, m); err != nil {
				return nil, err
			}
		case SectionImport:
			if err := parseImportSection(sr, cp, m); err != nil {
				return nil, err
			}
		case SectionFunction:
			n, err := sr.ReadVectorLen()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < n; i++ {
				ti, err := sr.ReadU32()
				if err != nil {
					return nil, err
				}
				if int(ti) >= len(m.Types) {
					return nil, cp.Fail(errs.Decode, "function %d: type index %d out of range", i, ti)
				}
				pendingFuncTypeIdx = append(pendingFuncTypeIdx, ti)
			}
		case SectionTable:
			if err := parseTableSection(sr, cp); err != nil {
				return nil, err
			}
		case SectionMemory:
			return nil, cp.Fail(errs.Decode, "memory section is not supported")
		case SectionGlobal:
			if err := parseGlobalSection(sr, cp, m); err != nil {
				return nil, err
			}
		case SectionExport:
			if err := parseExportSection(sr, cp, m); err != nil {
				return nil, err
			}
		case SectionStart:
			return nil, cp.Fail(errs.Decode, "start section is not supported")
		case SectionElement:
			if err := parseElementSection(sr, cp, m, len(m.ImportFuncs)); err != nil {
				return nil, err
			}
		case SectionCode:
			bodies, err := parseCodeSection(sr, cp)
			if err != nil {
				return nil, err
			}
			codeBodies = bodies
		case SectionData:
			if err := parseDataSection(sr, cp, m); err != nil {
				return nil, err
			}
		case SectionDataCount:
			if _, err := sr.ReadU32(); err != nil { // value ignored
				return nil, err
			}
		default:
			return nil, cp.Fail(errs.Decode, "unknown section id %d", id)
		}
	}

	if len(codeBodies) != len(pendingFuncTypeIdx) {
		return nil, cp.Fail(errs.Decode, "code section count %d does not match function section count %d", len(codeBodies), len(pendingFuncTypeIdx))
	}
	for i, ti := range pendingFuncTypeIdx {
		locals, numArgs, body, err := decodeFuncBody(codeBodies[i], m.Types[ti], cp)
		if err != nil {
			return nil, err
		}
		f := Func{TypeIndex: ti, Locals: locals, NumArgs: numArgs, Body: body}
		if name, ok := names[uint32(len(m.ImportFuncs)+i)]; ok {
			f.Name = name
		}
		m.Funcs = append(m.Funcs, f)
	}

	if err := rewriteStackPointer(m, cp); err != nil {
		return nil, err
	}

	return m, nil
}

// rewriteStackPointer enforces spec §3's rule on module-local globals: at
// most one is accepted, and only if it is an i32 mutable (the WASM stack
// pointer emitted by toolchains that don't import it). It is rewritten into
// an ImportGlobal named "__stack_pointer" and Module.Globals is cleared.
func rewriteStackPointer(m *Module, cp *errs.CheckpointStack) error {
	switch len(m.Globals) {
	case 0:
		return nil
	case 1:
		g := m.Globals[0]
		if g.Type != api.ValueTypeI32 || !g.Mutable {
			return cp.Fail(errs.Link, "the sole module-local global must be an i32 mutable (stack pointer); got type %#x mutable=%v", g.Type, g.Mutable)
		}
		m.ImportGlobals = append(m.ImportGlobals, ImportGlobal{
			Module: "env", Name: "__stack_pointer", Type: api.ValueTypeI32, Mutable: true,
		})
		m.Globals = nil
		return nil
	default:
		return cp.Fail(errs.Link, "at most one module-local global is accepted, got %d", len(m.Globals))
	}
}
