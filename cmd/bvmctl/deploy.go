package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func deployCmd() *cobra.Command {
	var storePath string

	cmd := &cobra.Command{
		Use:   "deploy <contract.bvm> <contract-id-hex>",
		Short: "Write a compiled contract binary into the variable store under its contract id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseContractID(args[1])
			if err != nil {
				return err
			}
			compiled, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			db, err := openStore(storePath)
			if err != nil {
				return err
			}
			defer db.Close()

			eng := bvmEngine(db)
			if err := eng.Deploy(id, compiled); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deployed %s under %x\n", args[0], id)
			return nil
		},
	}
	cmd.Flags().StringVar(&storePath, "store", "bvmctl.db", "path to the bbolt variable store")
	return cmd
}
