package main

import (
	"github.com/spf13/cobra"
)

type rootFlags struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "loom",
		Short:         "Loom plans and executes LLM tool calls over dependency-ordered plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "loom.yaml", "Path to configuration file")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable verbose logging")

	cmd.AddCommand(newRunCmd(flags))
	cmd.AddCommand(newChatCmd(flags))
	cmd.AddCommand(newSessionsCmd(flags))
	cmd.AddCommand(newToolsCmd(flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
