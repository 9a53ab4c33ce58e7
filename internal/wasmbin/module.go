// Package wasmbin implements the Module Parser (spec §4.2): it walks the
// 8-byte WASM preamble and each section, producing the post-parse Module
// description defined by spec §3.
package wasmbin

import "github.com/BeamMW/beam-sub003/api"

// Section ids, in the order the spec requires them to appear (except
// Custom (0) and DataCount (12), which may appear anywhere).
const (
	SectionCustom   = 0
	SectionType     = 1
	SectionImport   = 2
	SectionFunction = 3
	SectionTable    = 4
	SectionMemory   = 5
	SectionGlobal   = 6
	SectionExport   = 7
	SectionStart    = 8
	SectionElement  = 9
	SectionCode     = 10
	SectionData     = 11
	SectionDataCount = 12
)

// Export kinds; only ExportKindFunc is accepted by this engine (§4.2).
const (
	ExportKindFunc   = 0x00
	ExportKindTable  = 0x01
	ExportKindMemory = 0x02
	ExportKindGlobal = 0x03
)

// Import kinds.
const (
	ImportKindFunc   = 0x00
	ImportKindTable  = 0x01
	ImportKindMemory = 0x02
	ImportKindGlobal = 0x03
)

// FuncType is a function signature: argument and return type-code vectors.
// Per spec §3, Returns has at most one element.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// ImportFunc is an imported function. BindingID is filled in later by the
// host during ResolveBindings (spec §4.5); it is zero until then.
type ImportFunc struct {
	Module    string
	Name      string
	TypeIndex uint32
	BindingID uint32
}

// ImportGlobal is an imported global. BindingID is filled in by
// ResolveBindings.
type ImportGlobal struct {
	Module    string
	Name      string
	Type      api.ValueType
	Mutable   bool
	BindingID uint32
}

// LocalVar is one local variable slot: the formal arguments of a function
// followed by its declared locals, in a single flat list with positions
// assigned contiguously in words.
type LocalVar struct {
	Type     api.ValueType
	Words    int
	Position int // position in words, from the start of the locals region
}

// Func is one function body as seen by the compiler: its signature, its
// flattened locals, and its unparsed instruction stream.
type Func struct {
	TypeIndex uint32
	Locals    []LocalVar
	NumArgs   int // Locals[:NumArgs] are the formal arguments
	Body      []byte
	Name      string

	// Deps and Included are populated by the compiler's dependency-closure
	// pass (spec §4.3); the parser leaves them zero-valued.
	Deps     map[int]bool
	Included bool
}

// Global is a module-local global declaration, pre-rewrite. Per spec §3,
// at most one is ever accepted, and it must be an i32 mutable — the
// WebAssembly stack pointer produced by toolchains that don't import it.
type Global struct {
	Type    api.ValueType
	Mutable bool
}

// Export is a function export (only Kind == ExportKindFunc survives
// parsing).
type Export struct {
	Name  string
	Kind  byte
	Index uint32
}

// Module is the post-parse module description (spec §3).
type Module struct {
	Types         []FuncType
	ImportFuncs   []ImportFunc
	ImportGlobals []ImportGlobal
	Funcs         []Func
	TableFuncs    []uint32 // function indices of the single element segment
	Globals       []Global // always empty after Parse: see rewriteStackPointer
	Exports       []Export

	// DataBase is cmpl_data0: the base offset of the packed data image.
	DataBase uint32
	Data     []byte

	// HasMemory records whether any import declared kind Memory; its
	// limits are parsed but ignored (spec §4.2), and this engine's linear
	// memory (the "Global" segment, §3) has the fixed size
	// api.GlobalMemorySize, whatever the module declares.
	HasMemory bool
}
