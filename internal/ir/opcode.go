// Package ir implements the Compiler/Lowerer (spec §4.3): it validates each
// function body against the operand-type stack, re-emits it into the
// compact internal opcode stream executed by package vm, computes the
// call-dependency closure, and emits the flat executable Image.
package ir

import "github.com/BeamMW/beam-sub003/api"

// WASM opcodes this engine understands. Anything else observed in a
// function body is a Decode/Validate fault.
const (
	wasmUnreachable = 0x00
	wasmNop         = 0x01
	wasmBlock       = 0x02
	wasmLoop        = 0x03
	wasmEnd         = 0x0b
	wasmBr          = 0x0c
	wasmBrIf        = 0x0d
	wasmBrTable     = 0x0e
	wasmCall        = 0x10
	wasmCallIndirect = 0x11
	wasmDrop        = 0x1a
	wasmSelect      = 0x1b

	wasmLocalGet  = 0x20
	wasmLocalSet  = 0x21
	wasmLocalTee  = 0x22
	wasmGlobalGet = 0x23
	wasmGlobalSet = 0x24

	wasmI32Load    = 0x28
	wasmI64Load    = 0x29
	wasmF32Load    = 0x2a
	wasmF64Load    = 0x2b
	wasmI32Load8S  = 0x2c
	wasmI32Load8U  = 0x2d
	wasmI32Load16S = 0x2e
	wasmI32Load16U = 0x2f
	wasmI64Load8S  = 0x30
	wasmI64Load8U  = 0x31
	wasmI64Load16S = 0x32
	wasmI64Load16U = 0x33
	wasmI64Load32S = 0x34
	wasmI64Load32U = 0x35
	wasmI32Store   = 0x36
	wasmI64Store   = 0x37
	wasmF32Store   = 0x38
	wasmF64Store   = 0x39
	wasmI32Store8  = 0x3a
	wasmI32Store16 = 0x3b
	wasmI64Store8  = 0x3c
	wasmI64Store16 = 0x3d
	wasmI64Store32 = 0x3e

	wasmI32Const = 0x41
	wasmI64Const = 0x42
	wasmF32Const = 0x43
	wasmF64Const = 0x44

	wasmI32WrapI64     = 0xa7
	wasmI64ExtendI32S  = 0xac
	wasmI64ExtendI32U  = 0xad
)

// Internal opcodes, emitted by the compiler in place of their WASM source
// forms (spec §4.3/§4.4). They occupy the 0xE0-0xFF range, unused by the
// WASM 1.0 instruction set, so a lowered image never collides with a
// passthrough WASM opcode.
const (
	OpProlog         = 0xE0 // <LEB128 u32 nwords>
	OpRet            = 0xE1 // <LEB128 u32 retWords><LEB128 u32 localWords><LEB128 u32 argWords>
	OpCallExt        = 0xE2 // <u32 bindingID>
	OpGlobalGetImp   = 0xE3 // <u32 bindingID>
	OpGlobalSetImp   = 0xE4 // <u32 bindingID>
	OpCallInternal   = 0xE5 // <u32 label: byte offset of target function>
	OpCallIndirect   = 0xE6 // pops i32 index, no immediate
	OpLocalGet       = 0xE7 // <u32 immediate: (offsetWords<<2)|typeCode>
	OpLocalSet       = 0xE8
	OpLocalTee       = 0xE9
)

// typeCode2 returns the 2-bit type code used in local-access immediates:
// 0=f64, 1=f32, 2=i64, 3=i32, relative to api.ValueTypeF64 (0x7C).
func typeCode2(t api.ValueType) uint32 { return uint32(t - api.ValueTypeF64) }

// typeFromCode2 inverts typeCode2.
func typeFromCode2(c uint32) api.ValueType { return api.ValueTypeF64 + api.ValueType(c&3) }

type opInfo struct {
	pop  []api.ValueType
	push []api.ValueType
}

var opTable = map[byte]opInfo{}

func reg(op byte, pop, push []api.ValueType) { opTable[op] = opInfo{pop, push} }

func init() {
	i32, i64 := api.ValueTypeI32, api.ValueTypeI64

	reg(0x45, []api.ValueType{i32}, []api.ValueType{i32}) // i32.eqz
	for op := byte(0x46); op <= 0x4f; op++ {
		reg(op, []api.ValueType{i32, i32}, []api.ValueType{i32})
	}
	reg(0x50, []api.ValueType{i64}, []api.ValueType{i32}) // i64.eqz
	for op := byte(0x51); op <= 0x5a; op++ {
		reg(op, []api.ValueType{i64, i64}, []api.ValueType{i32})
	}
	for op := byte(0x67); op <= 0x69; op++ { // i32 clz/ctz/popcnt
		reg(op, []api.ValueType{i32}, []api.ValueType{i32})
	}
	for op := byte(0x6a); op <= 0x78; op++ { // i32 binops
		reg(op, []api.ValueType{i32, i32}, []api.ValueType{i32})
	}
	for op := byte(0x79); op <= 0x7b; op++ { // i64 clz/ctz/popcnt
		reg(op, []api.ValueType{i64}, []api.ValueType{i64})
	}
	for op := byte(0x7c); op <= 0x8a; op++ { // i64 binops
		reg(op, []api.ValueType{i64, i64}, []api.ValueType{i64})
	}
	reg(wasmI32WrapI64, []api.ValueType{i64}, []api.ValueType{i32})
	reg(wasmI64ExtendI32S, []api.ValueType{i32}, []api.ValueType{i64})
	reg(wasmI64ExtendI32U, []api.ValueType{i32}, []api.ValueType{i64})
}

// memOpType returns the value type a load/store opcode operates on, and
// whether it is a store (vs. a load).
func memOpType(op byte) (t api.ValueType, isStore, ok bool) {
	switch op {
	case wasmI32Load, wasmI32Load8S, wasmI32Load8U, wasmI32Load16S, wasmI32Load16U:
		return api.ValueTypeI32, false, true
	case wasmI64Load, wasmI64Load8S, wasmI64Load8U, wasmI64Load16S, wasmI64Load16U, wasmI64Load32S, wasmI64Load32U:
		return api.ValueTypeI64, false, true
	case wasmI32Store, wasmI32Store8, wasmI32Store16:
		return api.ValueTypeI32, true, true
	case wasmI64Store, wasmI64Store8, wasmI64Store16, wasmI64Store32:
		return api.ValueTypeI64, true, true
	case wasmF32Load, wasmF64Load, wasmF32Store, wasmF64Store:
		return 0, false, false // rejected: floating point (spec §1 Non-goals)
	default:
		return 0, false, false
	}
}
