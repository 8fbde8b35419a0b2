// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the weft CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "weft",
		Short: "Provision and tear down AWS batch-compute scaffolding",
	}

	cmd.AddCommand(Configure())
	cmd.AddCommand(Down())
	cmd.AddCommand(Version())

	return cmd
}
