package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kebairia/bakctl/internal/backup"
)

var (
	rotateDatabase string
	rotatePolicy   string
	rotateAll      bool
)

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Prune backups under the retention policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}

		var policy *backup.RetentionPolicy
		if rotatePolicy != "" {
			policy, err = e.store.GetPolicy(ctx, rotatePolicy)
			if err != nil {
				return err
			}
		}

		var results []*backup.RotationResult
		switch {
		case rotateAll:
			results, err = e.engine.RotateAll(ctx, policy)
		case rotateDatabase != "":
			var result *backup.RotationResult
			result, err = e.engine.ApplyRotation(ctx, rotateDatabase, policy)
			if result != nil {
				results = append(results, result)
			}
		default:
			return fmt.Errorf("either --database or --all is required")
		}

		for _, r := range results {
			fmt.Printf("%s: %d -> %d backups, freed %s\n",
				r.DatabaseID, r.TotalBefore, r.TotalAfter,
				humanize.Bytes(uint64(r.FreedSpace)))
			for _, w := range r.Warnings {
				fmt.Printf("  warning: %s\n", w)
			}
		}
		return err
	},
}

var undeleteCmd = &cobra.Command{
	Use:   "undelete <operation-id>",
	Short: "Clear a backup's soft-delete marker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid operation id %q: %w", args[0], err)
		}
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}
		if err := e.engine.RestoreDeleted(ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s restored to the active set\n", id)
		return nil
	},
}

func init() {
	rotateCmd.Flags().
		StringVarP(&rotateDatabase, "database", "d", "", "rotate a single database")
	rotateCmd.Flags().
		StringVarP(&rotatePolicy, "policy", "p", "", "policy name (default: the active policy)")
	rotateCmd.Flags().
		BoolVar(&rotateAll, "all", false, "rotate every known database")

	rotateCmd.AddCommand(undeleteCmd)
}
