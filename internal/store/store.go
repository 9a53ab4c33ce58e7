// Package store implements the persistent variable key/value store (spec
// §3 "Variable key", §4.5 LoadVar/SaveVar, §6 "Variable key prefixes"). The
// engine itself never touches a backing database directly: every access
// goes through the narrow Store interface here, keeping the host ABI
// decoupled from how (or whether) state is actually persisted.
package store

import "github.com/BeamMW/beam-sub003/api"

// Store is the key/value contract the host ABI's LoadVar/SaveVar bind to.
// Keys are at most api.MaxVariableKey bytes, values at most
// api.MaxVariableSize bytes — both are enforced by the caller (package
// hostabi), not by implementations of this interface.
type Store interface {
	// Get returns the stored value for key, and ok=false if no such key
	// exists. The returned slice must not be retained by the caller past
	// the next mutating call (implementations may reuse the backing array).
	Get(key []byte) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any existing value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error
}

// Key builds the engine's standard variable key: contract_id || tag ||
// payload (spec §3/§6). contractID is caller-supplied and opaque to this
// package; tag is one of the api.Var* constants.
func Key(contractID []byte, tag api.VariableTag, payload []byte) []byte {
	k := make([]byte, 0, len(contractID)+1+len(payload))
	k = append(k, contractID...)
	k = append(k, byte(tag))
	k = append(k, payload...)
	return k
}
