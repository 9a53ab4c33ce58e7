// Command bvmctl is a small front-end over package bvm: compile a wasm
// module into this engine's contract binary, deploy it into a bbolt-backed
// store, run one of its exported methods, or inspect a compiled binary's
// shape. Grounded on cmd/wazero's compile/run split, rebuilt around cobra
// since this repo already depends on it for the other CLI surfaces the
// domain stack calls for.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "bvmctl:", err)
		os.Exit(1)
	}
}
