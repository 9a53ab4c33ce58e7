package ir

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/internal/errs"
)

// labels is the back-patch table shared by every function compiled into one
// Image (spec §4.3): forward references (calls to not-yet-emitted
// functions, branches to a block's closing `end`) are written as 4-byte
// placeholders and patched once every referenced position is known.
type labels struct {
	items   []int // byte offset of label i, or -1 if unresolved
	targets []patchTarget
}

type patchTarget struct {
	pos  int // byte offset in the image where the placeholder was written
	item int // index into items
}

func newLabels() *labels { return &labels{} }

// alloc reserves a new label id, unresolved until resolve is called.
func (l *labels) alloc() int {
	l.items = append(l.items, -1)
	return len(l.items) - 1
}

func (l *labels) resolve(id, pos int) { l.items[id] = pos }

// ref writes a 4-byte placeholder for label id at the end of buf and
// records it for the final backpatch pass.
func (l *labels) ref(buf *[]byte, id int) {
	l.targets = append(l.targets, patchTarget{pos: len(*buf), item: id})
	*buf = append(*buf, 0, 0, 0, 0)
}

// backpatch writes every recorded reference's resolved byte offset. It is
// a Link fault for a reference to remain unresolved: that can only happen
// if the compiler's dependency closure missed a callee.
func (l *labels) backpatch(buf []byte, cp *errs.CheckpointStack) error {
	for _, t := range l.targets {
		v := l.items[t.item]
		if v < 0 {
			return cp.Fail(errs.Link, "internal error: label %d never resolved", t.item)
		}
		binary.LittleEndian.PutUint32(buf[t.pos:], uint32(v))
	}
	return nil
}

// Image is the flat executable produced by Compile (spec §3 "Executable
// image (post-compile)"): one contiguous instruction stream for every
// function reachable from an export, plus the constant data segment the
// processor maps as the Data memory segment.
type Image struct {
	Code []byte

	// FuncOffsets[i] is the byte offset of local function i's entry point
	// (its OpProlog instruction), or -1 if the dependency closure pass
	// determined it is never reached from an export.
	FuncOffsets []int

	// TableOffsets mirrors wasmbin.Module.TableFuncs: TableOffsets[i] is the
	// byte offset call_indirect jumps to when the table index is i.
	TableOffsets []int

	// Exports maps an exported function's name to its entry offset.
	Exports map[string]int

	// Methods is Exports re-indexed by method number: every export must be
	// named "Method_N" (spec §4.5 module header, GLOSSARY "Method 0/1").
	// Gaps are allowed: a slot with no matching export holds -1, and the
	// table always has at least two slots. Methods[0]/[1] are the
	// constructor/destructor entry points.
	Methods []int

	// FuncTypeIndex[i] is the wasmbin.Module.Types index of local function
	// i's signature, needed by call_indirect to check the callee's type.
	FuncTypeIndex []uint32

	Data     []byte
	DataBase uint32

	// StackPointerBindingID is the binding id the processor reads/writes
	// the imported __stack_pointer global through, or 0 if the module
	// declared none.
	StackPointerBindingID uint32
	HasStackPointer       bool

	// HasMemory records whether the module imported a linear memory (spec
	// §4.2/§3): its declared limits are ignored, but the processor only
	// maps the Global segment at all when this is set.
	HasMemory bool
}
