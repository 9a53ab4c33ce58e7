package main

import (
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/BeamMW/beam-sub003/internal/leb128"

	bvm "github.com/BeamMW/beam-sub003"
)

var lebModes = map[string]leb128.Mode{
	"auto":     leb128.AutoWorkAround,
	"standard": leb128.Standard,
	"x86":      leb128.EmulateX86,
	"restrict": leb128.Restrict,
}

func compileCmd() *cobra.Command {
	var out string
	var mode string

	cmd := &cobra.Command{
		Use:   "compile <module.wasm>",
		Short: "Compile a wasm module into a deployable contract binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, ok := lebModes[mode]
			if !ok {
				return fmt.Errorf("unknown --leb-mode %q (want auto, standard, x86 or restrict)", mode)
			}
			wasm, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			compiled, err := bvm.Compile(wasm, m)
			if err != nil {
				return err
			}
			if out == "" {
				out = args[0] + ".bvm"
			}
			if err := os.WriteFile(out, compiled, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", out, units.HumanSize(float64(len(compiled))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "", "output path (default: <input>.bvm)")
	cmd.Flags().StringVar(&mode, "leb-mode", "auto", "LEB128 surplus-sign-bit handling: auto, standard, x86, restrict")
	return cmd
}
