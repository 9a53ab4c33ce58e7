// Package bvm is the engine's public library surface: compile(src) and
// run(), tying together the parser, binding resolution, compiler and
// processor exactly the way spec §6 "External interfaces" describes them.
// Everything else under internal/ is an implementation detail, although
// package cmd/bvmctl also imports internal/leb128, internal/logging and
// internal/store directly for its mode flag, logger and store.
package bvm

import (
	"fmt"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/hostabi"
	"github.com/BeamMW/beam-sub003/internal/ir"
	"github.com/BeamMW/beam-sub003/internal/leb128"
	"github.com/BeamMW/beam-sub003/internal/logging"
	"github.com/BeamMW/beam-sub003/internal/store"
	"github.com/BeamMW/beam-sub003/internal/vm"
	"github.com/BeamMW/beam-sub003/internal/wasmbin"
)

// ContractID re-exports hostabi.ContractID so embedders never need to
// import an internal package directly.
type ContractID = hostabi.ContractID

// Compile parses wasm under the given LEB128 reader mode, resolves its
// host-ABI imports and lowers it into this engine's deployable contract
// binary (spec §6 "Compiled contract binary"). The returned bytes are
// byte-deterministic for a given input and mode (spec §8).
func Compile(wasm []byte, mode leb128.Mode) ([]byte, error) {
	cp := &errs.CheckpointStack{}
	cp.Push("bvm/Compile")
	defer cp.Pop()

	m, err := wasmbin.Parse(wasm, mode, cp)
	if err != nil {
		return nil, err
	}
	if err := hostabi.ResolveBindings(m, cp); err != nil {
		return nil, err
	}
	img, err := ir.Compile(m, mode, cp)
	if err != nil {
		return nil, err
	}
	return img.Serialize(), nil
}

// Inspect deserializes a previously compiled binary far enough to report
// its shape, without executing anything — the bvmctl "inspect" subcommand.
type Inspect struct {
	NumMethods int
	HasMemory  bool
}

func InspectImage(compiled []byte) (Inspect, error) {
	cp := &errs.CheckpointStack{}
	cm, err := ir.DeserializeImage(compiled, cp)
	if err != nil {
		return Inspect{}, err
	}
	return Inspect{NumMethods: len(cm.Methods), HasMemory: cm.HasMemory}, nil
}

// Engine is a long-lived façade over a variable store and the external
// collaborators the host ABI needs (spec §4.5): asset bookkeeping,
// signature validation, chain height. It deploys and invokes contracts,
// constructing a fresh hostabi.Host/vm.Processor pair per call (spec §5:
// the processor itself is not reusable across transactions).
type Engine struct {
	store  store.Store
	assets hostabi.AssetLedger
	sig    hostabi.SigValidator
	chain  hostabi.ChainInfo
	log    logging.Logger
}

// Option configures an Engine's optional collaborators.
type Option func(*Engine)

func WithAssetLedger(a hostabi.AssetLedger) Option { return func(e *Engine) { e.assets = a } }
func WithSigValidator(s hostabi.SigValidator) Option { return func(e *Engine) { e.sig = s } }
func WithChainInfo(c hostabi.ChainInfo) Option       { return func(e *Engine) { e.chain = c } }
func WithLogger(l logging.Logger) Option             { return func(e *Engine) { e.log = l } }

// NewEngine wires an Engine to a backing variable store.
func NewEngine(s store.Store, opts ...Option) *Engine {
	e := &Engine{store: s}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Deploy stores compiled (the output of Compile) under id's tag-0 slot
// (spec §6 "Variable key prefixes": "Tag 0 is for the contract body
// itself... written by the deployment path, not by contracts").
func (e *Engine) Deploy(id ContractID, compiled []byte) error {
	return e.store.Put(store.Key(id[:], api.VarInternal, nil), compiled)
}

// storeModuleLoader implements hostabi.ModuleLoader by reading a contract's
// compiled body out of the same store CallFar's bookkeeping uses.
type storeModuleLoader struct{ s store.Store }

func (l storeModuleLoader) LoadModule(id ContractID) (*ir.CompiledModule, error) {
	body, ok, err := l.s.Get(store.Key(id[:], api.VarInternal, nil))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errs.New(errs.Link, nil, "contract %x not deployed", id)
	}
	return ir.DeserializeImage(body, &errs.CheckpointStack{})
}

// Invoke runs method on the contract deployed at id, passing args as its
// sole formal parameter (a tagged VM address, per this engine's calling
// convention — see ir/image.go and vm/processor.go), and returns the
// bottom word of the operand stack once the method has returned: its i32
// result, or the low word of an i64 one. A method that returns nothing
// yields an error instead.
func (e *Engine) Invoke(id ContractID, method int, args api.Word) (api.Word, error) {
	cm, err := (storeModuleLoader{e.store}).LoadModule(id)
	if err != nil {
		return 0, err
	}
	host := hostabi.NewHost(e.store, storeModuleLoader{e.store}, e.assets, e.sig, e.chain, e.log)
	host.Begin(id)

	cp := &errs.CheckpointStack{}
	p := vm.NewProcessor(host, cp)
	if err := p.Invoke(cm, method, args); err != nil {
		return 0, err
	}
	if host.Halted() {
		return 0, fmt.Errorf("contract %x halted the transaction", id)
	}
	return p.ResultWord()
}
