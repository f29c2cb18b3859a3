package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/grovetools/locmux/cmd"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "locmux",
		Short: "Per-provider location request multiplexer",
	}

	rootCmd.AddCommand(cmd.NewDaemonCmd())
	rootCmd.AddCommand(cmd.NewVersionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
