package main

import (
	bvm "github.com/BeamMW/beam-sub003"
	"github.com/BeamMW/beam-sub003/internal/store"
)

func bvmEngine(db store.Store) *bvm.Engine {
	return bvm.NewEngine(db, bvm.WithLogger(newLogger()))
}
