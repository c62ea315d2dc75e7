package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newToolsCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the registered tools",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tDESCRIPTION\tARGS")
			for _, t := range a.registry.List() {
				meta := t.Metadata()

				var args []string
				for _, arg := range t.Schema().Args {
					spec := fmt.Sprintf("%s (%s)", arg.Name, arg.Type)
					if arg.Required {
						spec = fmt.Sprintf("%s (%s, required)", arg.Name, arg.Type)
					}
					args = append(args, spec)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", meta.Name, meta.Description, strings.Join(args, ", "))
			}
			return w.Flush()
		},
	}

	return cmd
}
