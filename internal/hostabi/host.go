package hostabi

import (
	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/ir"
	"github.com/BeamMW/beam-sub003/internal/logging"
	"github.com/BeamMW/beam-sub003/internal/store"
	"github.com/BeamMW/beam-sub003/internal/vm"
)

// ContractID is the fixed-size opaque handle the store, far-call protocol
// and funds/ref bookkeeping key persisted state by (spec §3, §4.5).
type ContractID [api.ContractIDSize]byte

// ModuleLoader resolves a contract id to its deserialized on-chain image,
// for CallFar (spec §4.5 far-call protocol "create a new frame loading the
// module body by its contract_id from the host store").
type ModuleLoader interface {
	LoadModule(id ContractID) (*ir.CompiledModule, error)
}

// AssetLedger is the external asset-bookkeeping callback (spec §1 "a
// callback interface for asset/funds bookkeeping"): asset id allocation and
// mint/burn/retire are chain-global operations this engine delegates
// entirely rather than modeling itself.
type AssetLedger interface {
	Create(contractID ContractID, meta []byte) (assetID uint32, ok bool)
	Emit(contractID ContractID, assetID uint32, amount uint64, mint bool) bool
	Destroy(contractID ContractID, assetID uint32) bool
}

// SigValidator accumulates AddSig's public keys into the pending
// transaction-level Schnorr-style multi-signature (spec §4.5 "Signature
// validation").
type SigValidator interface {
	AddSig(pubkey []byte)
}

// ChainInfo supplies chain state the engine itself has no notion of.
type ChainInfo interface {
	Height() uint64
}

// Host implements vm.Host: it is the single binding-id dispatch point for
// every call_ext a compiled contract emits, and it owns the per-transaction
// state (active contract-id stack, halted flag) the bookkeeping handlers
// need. Grounded on core/bvm2.cpp's ProcessorManager::InvokeExt
// (original_source) for the handler set: Invoke dispatches on binding id
// with a Go switch, one Go method per handler.
type Host struct {
	store   store.Store
	modules ModuleLoader
	assets  AssetLedger
	sig     SigValidator
	chain   ChainInfo
	log     logging.Logger

	contractIDs []ContractID
	halted      bool
}

// NewHost wires a Host to its backing collaborators. sig and assets may be
// nil if the embedder never needs signature accumulation or asset
// operations. Against a nil sig, AddSig faults with Host; against a nil
// assets ledger, AssetCreate/AssetEmit/AssetDestroy push 0 (refused)
// without faulting. Neither case panics.
func NewHost(s store.Store, modules ModuleLoader, assets AssetLedger, sig SigValidator, chain ChainInfo, log logging.Logger) *Host {
	if log == nil {
		log = logging.Discard()
	}
	return &Host{store: s, modules: modules, assets: assets, sig: sig, chain: chain, log: log}
}

// Begin resets per-transaction state and records root as the contract
// whose method is about to be invoked at far-call depth 0.
func (h *Host) Begin(root ContractID) {
	h.contractIDs = []ContractID{root}
	h.halted = false
}

// Halted reports whether a contract called Halt during this transaction.
func (h *Host) Halted() bool { return h.halted }

func (h *Host) currentID() ContractID {
	return h.contractIDs[len(h.contractIDs)-1]
}

// Invoke is vm.Host's single entry point: every call_ext dispatches here by
// binding id. It first reconciles the contract-id stack against the
// processor's far-call depth — a far call's matching `ret` pops the
// processor's frame without any callback into Host, so Host lazily
// truncates its own parallel stack the next time a call_ext proves a
// return has happened.
func (h *Host) Invoke(p *vm.Processor, bindingID uint32) error {
	depth := p.FarCallDepth()
	if depth+1 < len(h.contractIDs) {
		h.contractIDs = h.contractIDs[:depth+1]
	}

	h.log.WithFields(logging.Fields{"binding_id": bindingID, "contract": h.currentID()}).Debugf("call_ext")

	switch bindingID {
	case api.BindMemcpy:
		return h.memcpy(p)
	case api.BindMemset:
		return h.memset(p)
	case api.BindMemcmp:
		return h.memcmp(p)
	case api.BindMemIs0:
		return h.memis0(p)
	case api.BindStackAlloc:
		return h.stackAlloc(p)
	case api.BindStackFree:
		return h.stackFree(p)
	case api.BindLoadVar:
		return h.loadVar(p)
	case api.BindSaveVar:
		return h.saveVar(p)
	case api.BindCallFar:
		return h.callFar(p)
	case api.BindHalt:
		h.halted = true
		return p.Checkpoints().Fail(errs.Host, "contract called Halt")
	case api.BindAddSig:
		return h.addSig(p)
	case api.BindFundsLock:
		return h.fundsLock(p)
	case api.BindFundsUnlock:
		return h.fundsUnlock(p)
	case api.BindRefAdd:
		return h.refAdd(p)
	case api.BindRefRelease:
		return h.refRelease(p)
	case api.BindAssetCreate:
		return h.assetCreate(p)
	case api.BindAssetEmit:
		return h.assetEmit(p)
	case api.BindAssetDestroy:
		return h.assetDestroy(p)
	case api.BindGetHeight:
		return h.getHeight(p)
	default:
		return p.Checkpoints().Fail(errs.Link, "unbound call_ext binding %#x", bindingID)
	}
}
