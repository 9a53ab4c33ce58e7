package main

import (
	"encoding/hex"
	"fmt"

	bvm "github.com/BeamMW/beam-sub003"
	"github.com/BeamMW/beam-sub003/api"
	"github.com/BeamMW/beam-sub003/internal/store"
)

func parseContractID(s string) (bvm.ContractID, error) {
	var id bvm.ContractID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("contract id: %w", err)
	}
	if len(raw) != api.ContractIDSize {
		return id, fmt.Errorf("contract id: want %d bytes, got %d", api.ContractIDSize, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// closableStore lets openStore hand back either a *BoltStore or the
// in-memory store uniformly; MemoryStore's Close is a no-op.
type closableStore interface {
	store.Store
	Close() error
}

func openStore(path string) (closableStore, error) {
	if ephemeral {
		return store.NewMemoryStore(), nil
	}
	return store.OpenBoltStore(path)
}
