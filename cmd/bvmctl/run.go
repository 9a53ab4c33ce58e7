package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BeamMW/beam-sub003/api"
)

func runCmd() *cobra.Command {
	var storePath string
	var method int
	var arg uint32

	cmd := &cobra.Command{
		Use:   "run <contract-id-hex>",
		Short: "Invoke one exported method of a deployed contract",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContractID(args[0])
			if err != nil {
				return err
			}
			db, err := openStore(storePath)
			if err != nil {
				return err
			}
			defer db.Close()

			eng := bvmEngine(db)
			result, err := eng.Invoke(id, method, api.Word(arg))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "result: %d\n", result)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "bvmctl.db", "path to the bbolt variable store")
	cmd.Flags().IntVar(&method, "method", 2, "exported method number to invoke")
	cmd.Flags().Uint32Var(&arg, "arg", 0, "raw word value passed as the method's sole argument")
	return cmd
}
