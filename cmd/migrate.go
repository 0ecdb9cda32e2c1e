package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newMigrateCmd creates the 'migrate' subcommand, which creates the SQL schema.
func newMigrateCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the discovery cache and session tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.start(cmd, nil); err != nil {
				return err
			}
			if err := c.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(c.out, "schema ready (%s)\n", c.cfg.Storage.Driver)
			return nil
		},
	}
}
