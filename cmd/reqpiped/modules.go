package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/reqpipe/internal/modules/builtin"
	"github.com/tjfontaine/reqpipe/internal/modules/catalog"
)

// NewModulesCmd creates the modules command.
func NewModulesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "modules",
		Short: "List the module types usable in configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			builtin.Register()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tDESCRIPTION")
			for _, f := range catalog.ListFactories() {
				fmt.Fprintf(tw, "%s\t%s\n", f.Type, f.Description)
			}
			return tw.Flush()
		},
	}
}
