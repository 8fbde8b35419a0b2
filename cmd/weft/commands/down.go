package commands

import (
	"github.com/spf13/cobra"

	"github.com/weftlabs/weft/cmd/weft/handlers"
)

// Down returns the down command.
//
// Down tears a recorded dependency group down in reverse dependency
// order: security group, network, then the three IAM roles.
func Down() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down <name>",
		Short: "Tear down a dependency group and all its resources",
		Long: `Down adopts the dependency group recorded under <name> and destroys
its constituents in reverse dependency order:

  - Security group
  - VPC and subnets
  - Spot fleet role
  - ECS instance role
  - Batch service role

The group's durable record is removed last.

Example:
  weft down my-project

WARNING: This operation is irreversible.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.Down(cmd.Context(), args[0])
		},
	}

	return cmd
}
