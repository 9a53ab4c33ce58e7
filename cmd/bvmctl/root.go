package main

import (
	"github.com/spf13/cobra"

	"github.com/BeamMW/beam-sub003/internal/logging"
)

var (
	logLevel  string
	ephemeral bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bvmctl",
		Short:         "Compile, deploy and run BVM smart contracts",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&ephemeral, "ephemeral", false, "use an in-memory store instead of --store's bbolt file (deploy+run don't persist across invocations)")

	root.AddCommand(compileCmd())
	root.AddCommand(inspectCmd())
	root.AddCommand(deployCmd())
	root.AddCommand(runCmd())
	return root
}

func newLogger() logging.Logger {
	return logging.New(logLevel)
}
