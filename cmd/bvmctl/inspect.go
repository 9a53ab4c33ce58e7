package main

import (
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	bvm "github.com/BeamMW/beam-sub003"
)

func inspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect <contract.bvm>",
		Short: "Print the shape of a compiled contract binary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			info, err := bvm.InspectImage(raw)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "size:       %s\n", units.HumanSize(float64(len(raw))))
			fmt.Fprintf(out, "methods:    %d\n", info.NumMethods)
			fmt.Fprintf(out, "has memory: %v\n", info.HasMemory)
			return nil
		},
	}
	return cmd
}
