package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/storage-gateway/internal/storage/data"
)

func (c *cli) migrateCmd() *cobra.Command {
	var rollback bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or roll back the last) schema migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := c.database()
			if err != nil {
				return err
			}
			defer db.Close()

			if rollback {
				if err := data.RollbackLast(db.GetDB()); err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "rolled back last migration")
				return nil
			}
			if err := data.Migrate(db.GetDB()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
	cmd.Flags().BoolVar(&rollback, "rollback", false, "roll back the most recent migration")
	return cmd
}
