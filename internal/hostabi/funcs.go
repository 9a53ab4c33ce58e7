package hostabi

import (
	"encoding/binary"

	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/errs"
	"github.com/BeamMW/beam-sub003/internal/store"
	"github.com/BeamMW/beam-sub003/internal/vm"
)

// sigPubKeySize is the width of the compressed EC point AddSig reads. The
// ABI table (spec §4.5) gives AddSig a single `ptr` argument with no
// accompanying length, so the point width has to be a fixed constant rather
// than caller-supplied.
const sigPubKeySize = 32

func (h *Host) memcpy(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	src, err := p.PopWord()
	if err != nil {
		return err
	}
	dst, err := p.PopWord()
	if err != nil {
		return err
	}
	srcBuf, err := p.ReadBytes(src, int(n))
	if err != nil {
		return err
	}
	dstBuf, err := p.WriteBytes(dst, int(n))
	if err != nil {
		return err
	}
	copy(dstBuf, srcBuf)
	p.PushWord(dst)
	return nil
}

func (h *Host) memset(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	val, err := p.PopWord()
	if err != nil {
		return err
	}
	dst, err := p.PopWord()
	if err != nil {
		return err
	}
	buf, err := p.WriteBytes(dst, int(n))
	if err != nil {
		return err
	}
	b := byte(val)
	for i := range buf {
		buf[i] = b
	}
	p.PushWord(dst)
	return nil
}

func (h *Host) memcmp(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	b, err := p.PopWord()
	if err != nil {
		return err
	}
	a, err := p.PopWord()
	if err != nil {
		return err
	}
	aBuf, err := p.ReadBytes(a, int(n))
	if err != nil {
		return err
	}
	bBuf, err := p.ReadBytes(b, int(n))
	if err != nil {
		return err
	}
	switch {
	case string(aBuf) < string(bBuf):
		p.PushWord(uint32(int32(-1)))
	case string(aBuf) > string(bBuf):
		p.PushWord(1)
	default:
		p.PushWord(0)
	}
	return nil
}

func (h *Host) memis0(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	addr, err := p.PopWord()
	if err != nil {
		return err
	}
	buf, err := p.ReadBytes(addr, int(n))
	if err != nil {
		return err
	}
	for _, b := range buf {
		if b != 0 {
			p.PushWord(0)
			return nil
		}
	}
	p.PushWord(1)
	return nil
}

func (h *Host) stackAlloc(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	addr, err := p.StackAlloc(n)
	if err != nil {
		return err
	}
	p.PushWord(addr)
	return nil
}

func (h *Host) stackFree(p *vm.Processor) error {
	n, err := p.PopWord()
	if err != nil {
		return err
	}
	return p.StackFree(n)
}

// variableKey splits a contract-supplied raw key into its tag byte and
// payload and prefixes it with the active contract id, matching the
// contract_id||tag||payload convention of spec §3/§4.5. The contract
// supplies the tag itself as the first byte of its key. The VM's own
// funds and ref-count bookkeeping builds its tag-1/tag-2 keys directly via
// store.Key rather than through this path; variableKey itself accepts any
// tag byte, including 1-3.
func (h *Host) variableKey(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, errNoTag
	}
	key := store.Key(h.currentID()[:], api.VariableTag(raw[0]), raw[1:])
	if len(key) > api.MaxVariableKey {
		return nil, errKeyTooLong
	}
	return key, nil
}

var (
	errNoTag      = &tagError{"variable key is empty, missing its tag byte"}
	errKeyTooLong = &tagError{"variable key exceeds the 256-byte limit"}
)

type tagError struct{ msg string }

func (e *tagError) Error() string { return e.msg }

func (h *Host) loadVar(p *vm.Processor) error {
	nv, err := p.PopWord()
	if err != nil {
		return err
	}
	pv, err := p.PopWord()
	if err != nil {
		return err
	}
	nk, err := p.PopWord()
	if err != nil {
		return err
	}
	pk, err := p.PopWord()
	if err != nil {
		return err
	}
	rawKey, err := p.ReadBytes(pk, int(nk))
	if err != nil {
		return err
	}
	key, kerr := h.variableKey(rawKey)
	if kerr != nil {
		return p.Checkpoints().FailWrap(errs.Validate, kerr, "LoadVar")
	}
	value, ok, err := h.store.Get(key)
	if err != nil {
		return p.Checkpoints().FailWrap(errs.Host, err, "LoadVar: store get")
	}
	actual := 0
	if ok {
		actual = len(value)
	}
	if ok && nv > 0 {
		n := int(nv)
		if n > actual {
			n = actual
		}
		buf, err := p.WriteBytes(pv, n)
		if err != nil {
			return err
		}
		copy(buf, value[:n])
	}
	p.PushWord(api.Word(actual))
	return nil
}

func (h *Host) saveVar(p *vm.Processor) error {
	nv, err := p.PopWord()
	if err != nil {
		return err
	}
	pv, err := p.PopWord()
	if err != nil {
		return err
	}
	nk, err := p.PopWord()
	if err != nil {
		return err
	}
	pk, err := p.PopWord()
	if err != nil {
		return err
	}
	if nv > api.MaxVariableSize {
		return p.Checkpoints().Fail(errs.Validate, "SaveVar: value of %d bytes exceeds the %d-byte limit", nv, api.MaxVariableSize)
	}
	rawKey, err := p.ReadBytes(pk, int(nk))
	if err != nil {
		return err
	}
	key, kerr := h.variableKey(rawKey)
	if kerr != nil {
		return p.Checkpoints().FailWrap(errs.Validate, kerr, "SaveVar")
	}
	if nv == 0 {
		if err := h.store.Delete(key); err != nil {
			return p.Checkpoints().FailWrap(errs.Host, err, "SaveVar: delete")
		}
		return nil
	}
	valBuf, err := p.ReadBytes(pv, int(nv))
	if err != nil {
		return err
	}
	if err := h.store.Put(key, append([]byte(nil), valBuf...)); err != nil {
		return p.Checkpoints().FailWrap(errs.Host, err, "SaveVar: put")
	}
	return nil
}

func (h *Host) readContractID(p *vm.Processor, ptr api.Word) (ContractID, error) {
	var id ContractID
	buf, err := p.ReadBytes(ptr, api.ContractIDSize)
	if err != nil {
		return id, err
	}
	copy(id[:], buf)
	return id, nil
}

func (h *Host) callFar(p *vm.Processor) error {
	args, err := p.PopWord()
	if err != nil {
		return err
	}
	method, err := p.PopWord()
	if err != nil {
		return err
	}
	cidPtr, err := p.PopWord()
	if err != nil {
		return err
	}
	if api.Tag(args) != api.SegGlobal {
		if api.Tag(args) != api.SegStack || api.Offset(args) < api.Offset(p.StackPointer()) {
			return p.Checkpoints().Fail(errs.Validate, "CallFar: args pointer must be Global, or Stack above the caller's alias-sp")
		}
	}
	if h.modules == nil {
		return p.Checkpoints().Fail(errs.Host, "CallFar: no module loader attached")
	}
	calleeID, err := h.readContractID(p, cidPtr)
	if err != nil {
		return err
	}
	mod, err := h.modules.LoadModule(calleeID)
	if err != nil {
		return p.Checkpoints().FailWrap(errs.Link, err, "CallFar: load contract %x", calleeID)
	}
	if err := p.PushFarCall(mod, int(method), args); err != nil {
		return err
	}
	h.contractIDs = append(h.contractIDs, calleeID)
	return nil
}

func (h *Host) addSig(p *vm.Processor) error {
	ptr, err := p.PopWord()
	if err != nil {
		return err
	}
	buf, err := p.ReadBytes(ptr, sigPubKeySize)
	if err != nil {
		return err
	}
	if h.sig == nil {
		return p.Checkpoints().Fail(errs.Host, "AddSig: no signature validator attached")
	}
	h.sig.AddSig(append([]byte(nil), buf...))
	return nil
}

func (h *Host) fundsKey(assetID api.Word) []byte {
	var payload [4]byte
	binary.LittleEndian.PutUint32(payload[:], assetID)
	return store.Key(h.currentID()[:], api.VarLockedAmount, payload[:])
}

func (h *Host) readFunds(p *vm.Processor, key []byte) (int64, error) {
	v, ok, err := h.store.Get(key)
	if err != nil {
		return 0, p.Checkpoints().FailWrap(errs.Host, err, "funds: store get")
	}
	if !ok {
		return 0, nil
	}
	if len(v) != 8 {
		return 0, p.Checkpoints().Fail(errs.Host, "funds: corrupt accumulator")
	}
	return int64(binary.LittleEndian.Uint64(v)), nil
}

func (h *Host) writeFunds(p *vm.Processor, key []byte, v int64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	if err := h.store.Put(key, buf[:]); err != nil {
		return p.Checkpoints().FailWrap(errs.Host, err, "funds: store put")
	}
	return nil
}

// fundsLock and fundsUnlock maintain the signed per-(contract, asset)
// accumulator of spec §4.5 "Funds bookkeeping": locking moves funds into
// the contract (the accumulator grows), unlocking pays them out (it
// shrinks); both detect over/underflow and trap rather than wrap.
func (h *Host) fundsLock(p *vm.Processor) error {
	amount, err := p.PopI64()
	if err != nil {
		return err
	}
	assetID, err := p.PopWord()
	if err != nil {
		return err
	}
	key := h.fundsKey(assetID)
	cur, err := h.readFunds(p, key)
	if err != nil {
		return err
	}
	next := cur + amount
	if amount < 0 || next < cur {
		return p.Checkpoints().Fail(errs.Host, "FundsLock: accumulator overflow for asset %d", assetID)
	}
	return h.writeFunds(p, key, next)
}

func (h *Host) fundsUnlock(p *vm.Processor) error {
	amount, err := p.PopI64()
	if err != nil {
		return err
	}
	assetID, err := p.PopWord()
	if err != nil {
		return err
	}
	key := h.fundsKey(assetID)
	cur, err := h.readFunds(p, key)
	if err != nil {
		return err
	}
	next := cur - amount
	if amount < 0 || next > cur || next < 0 {
		return p.Checkpoints().Fail(errs.Host, "FundsUnlock: accumulator underflow for asset %d", assetID)
	}
	return h.writeFunds(p, key, next)
}

func (h *Host) refPairKey(calleeID ContractID) []byte {
	return store.Key(h.currentID()[:], api.VarRefs, calleeID[:])
}

func (h *Host) refGlobalKey(calleeID ContractID) []byte {
	return store.Key(calleeID[:], api.VarRefs, nil)
}

func (h *Host) refCounter(p *vm.Processor, key []byte) (uint32, error) {
	v, ok, err := h.store.Get(key)
	if err != nil {
		return 0, p.Checkpoints().FailWrap(errs.Host, err, "refcount: store get")
	}
	if !ok {
		return 0, nil
	}
	if len(v) != 4 {
		return 0, p.Checkpoints().Fail(errs.Host, "refcount: corrupt counter")
	}
	return binary.LittleEndian.Uint32(v), nil
}

func (h *Host) putRefCounter(p *vm.Processor, key []byte, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	if err := h.store.Put(key, buf[:]); err != nil {
		return p.Checkpoints().FailWrap(errs.Host, err, "refcount: store put")
	}
	return nil
}

func (h *Host) contractExists(p *vm.Processor, id ContractID) (bool, error) {
	key := store.Key(id[:], api.VarInternal, nil)
	v, ok, err := h.store.Get(key)
	if err != nil {
		return false, p.Checkpoints().FailWrap(errs.Host, err, "refcount: existence check")
	}
	return ok && len(v) > 0, nil
}

// refAdd implements spec §8 scenario 5 "Ref ↔ existence": a RefAdd whose
// pair counter transitions 0→1 also bumps the callee's global counter, and
// only on that transition is callee existence checked; a missing callee
// reverts both counters and returns 0.
func (h *Host) refAdd(p *vm.Processor) error {
	cidPtr, err := p.PopWord()
	if err != nil {
		return err
	}
	calleeID, err := h.readContractID(p, cidPtr)
	if err != nil {
		return err
	}
	pairKey := h.refPairKey(calleeID)
	pair, err := h.refCounter(p, pairKey)
	if err != nil {
		return err
	}
	if pair == 0 {
		exists, err := h.contractExists(p, calleeID)
		if err != nil {
			return err
		}
		if !exists {
			p.PushWord(0)
			return nil
		}
		globalKey := h.refGlobalKey(calleeID)
		global, err := h.refCounter(p, globalKey)
		if err != nil {
			return err
		}
		if err := h.putRefCounter(p, globalKey, global+1); err != nil {
			return err
		}
	}
	if err := h.putRefCounter(p, pairKey, pair+1); err != nil {
		return err
	}
	p.PushWord(1)
	return nil
}

func (h *Host) refRelease(p *vm.Processor) error {
	cidPtr, err := p.PopWord()
	if err != nil {
		return err
	}
	calleeID, err := h.readContractID(p, cidPtr)
	if err != nil {
		return err
	}
	pairKey := h.refPairKey(calleeID)
	pair, err := h.refCounter(p, pairKey)
	if err != nil {
		return err
	}
	if pair == 0 {
		return p.Checkpoints().Fail(errs.Host, "RefRelease: no matching reference held")
	}
	if err := h.putRefCounter(p, pairKey, pair-1); err != nil {
		return err
	}
	if pair != 1 {
		p.PushWord(0)
		return nil
	}
	globalKey := h.refGlobalKey(calleeID)
	global, err := h.refCounter(p, globalKey)
	if err != nil {
		return err
	}
	if global == 0 {
		return p.Checkpoints().Fail(errs.Host, "RefRelease: global refcount underflow for %x", calleeID)
	}
	if err := h.putRefCounter(p, globalKey, global-1); err != nil {
		return err
	}
	p.PushWord(1)
	return nil
}

func (h *Host) assetCreate(p *vm.Processor) error {
	nMeta, err := p.PopWord()
	if err != nil {
		return err
	}
	pMeta, err := p.PopWord()
	if err != nil {
		return err
	}
	meta, err := p.ReadBytes(pMeta, int(nMeta))
	if err != nil {
		return err
	}
	if h.assets == nil {
		p.PushWord(0)
		return nil
	}
	id, ok := h.assets.Create(h.currentID(), append([]byte(nil), meta...))
	if !ok {
		p.PushWord(0)
		return nil
	}
	p.PushWord(id)
	return nil
}

func (h *Host) assetEmit(p *vm.Processor) error {
	mint, err := p.PopWord()
	if err != nil {
		return err
	}
	amount, err := p.PopI64()
	if err != nil {
		return err
	}
	assetID, err := p.PopWord()
	if err != nil {
		return err
	}
	if h.assets == nil {
		p.PushWord(0)
		return nil
	}
	ok := h.assets.Emit(h.currentID(), assetID, uint64(amount), mint != 0)
	if !ok {
		p.PushWord(0)
		return nil
	}
	p.PushWord(1)
	return nil
}

func (h *Host) assetDestroy(p *vm.Processor) error {
	assetID, err := p.PopWord()
	if err != nil {
		return err
	}
	if h.assets == nil {
		p.PushWord(0)
		return nil
	}
	ok := h.assets.Destroy(h.currentID(), assetID)
	if !ok {
		p.PushWord(0)
		return nil
	}
	p.PushWord(1)
	return nil
}

func (h *Host) getHeight(p *vm.Processor) error {
	if h.chain == nil {
		return p.Checkpoints().Fail(errs.Host, "get_Height: no chain info attached")
	}
	p.PushI64(int64(h.chain.Height()))
	return nil
}
