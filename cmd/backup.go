package cmd

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/kebairia/bakctl/internal/backup"
	"github.com/kebairia/bakctl/internal/metadata"
	"github.com/kebairia/bakctl/internal/pipeline"
)

var (
	backupDatabase string
	backupType     string
	backupLabels   []string

	listDatabase string
	listType     string
	listStatus   string
	listDeleted  bool

	statsDatabase string
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and inspect database backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Back up one database, or every configured one",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}

		t := backup.Type(strings.ToUpper(backupType))
		secret, keyRef, iterations, err := e.passphrase(ctx)
		if err != nil {
			return err
		}
		opts := pipeline.Options{
			Compression:   backup.Compression(e.cfg.Backup.Compression),
			Encrypt:       e.cfg.Encryption.Enabled,
			Passphrase:    secret,
			KeyRef:        keyRef,
			KDFIterations: iterations,
			Labels:        backupLabels,
		}

		targets := []string{backupDatabase}
		if backupDatabase == "" {
			targets = configuredDatabases(e)
			if len(targets) == 0 {
				return fmt.Errorf("no databases configured")
			}
		}

		var errs *multierror.Error
		for _, db := range targets {
			op, err := e.orchestrator.CreateBackup(ctx, db, t, opts)
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("backup %q: %w", db, err))
				continue
			}
			fmt.Printf("%s  %s %s v%d  %s  %s\n",
				op.ID, op.DatabaseID, op.Type, op.Version,
				humanize.Bytes(uint64(op.CompressedSize)), op.StorageKey)
		}
		return errs.ErrorOrNil()
	},
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded backup operations",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}

		ops, err := e.store.ListOperations(ctx, metadata.Filter{
			DatabaseID:     listDatabase,
			Type:           backup.Type(strings.ToUpper(listType)),
			Status:         backup.Status(strings.ToUpper(listStatus)),
			IncludeDeleted: listDeleted,
		})
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tDATABASE\tTYPE\tVERSION\tSTATUS\tSTARTED\tSIZE\tDELETED")
		for _, op := range ops {
			deleted := ""
			if op.IsDeleted {
				deleted = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\tv%d\t%s\t%s\t%s\t%s\n",
				op.ID, op.DatabaseID, op.Type, op.Version, op.Status,
				humanize.Time(op.StartTime),
				humanize.Bytes(uint64(op.CompressedSize)),
				deleted,
			)
		}
		return w.Flush()
	},
}

var backupStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recorded backups by type, status and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := newEnv(ctx)
		if err != nil {
			return err
		}

		stats, err := e.store.Stats(ctx, statsDatabase)
		if err != nil {
			return err
		}

		scope := statsDatabase
		if scope == "" {
			scope = "all databases"
		}
		fmt.Printf("%s: %d backups (%d soft-deleted)\n", scope, stats.Total, stats.Deleted)
		for _, t := range backup.Types {
			if n := stats.ByType[t]; n > 0 {
				fmt.Printf("  %-13s %d\n", strings.ToLower(string(t)), n)
			}
		}
		for _, status := range []backup.Status{
			backup.StatusPending, backup.StatusRunning, backup.StatusCompleted,
			backup.StatusFailed, backup.StatusCancelled,
		} {
			if n := stats.ByStatus[status]; n > 0 {
				fmt.Printf("  %-13s %d\n", strings.ToLower(string(status)), n)
			}
		}
		fmt.Printf("  logical size  %s\n", humanize.Bytes(uint64(stats.SizeBytes)))
		fmt.Printf("  stored size   %s\n", humanize.Bytes(uint64(stats.StoredBytes)))
		return nil
	},
}

// configuredDatabases lists the database IDs declared in the config file,
// in declaration order.
func configuredDatabases(e *env) []string {
	var ids []string
	for _, inst := range e.cfg.Postgres.Instances {
		ids = append(ids, inst.Database)
	}
	for _, inst := range e.cfg.MongoDB.Instances {
		ids = append(ids, inst.Database)
	}
	for _, inst := range e.cfg.MySQL.Instances {
		ids = append(ids, inst.Database)
	}
	return ids
}

func init() {
	backupCreateCmd.Flags().
		StringVarP(&backupDatabase, "database", "d", "", "database to back up (default: all configured)")
	backupCreateCmd.Flags().
		StringVarP(&backupType, "type", "t", "full", "backup type (full|differential|incremental|wal)")
	backupCreateCmd.Flags().
		StringSliceVarP(&backupLabels, "label", "l", nil, "label to attach (repeatable)")

	backupListCmd.Flags().
		StringVarP(&listDatabase, "database", "d", "", "filter by database")
	backupListCmd.Flags().
		StringVarP(&listType, "type", "t", "", "filter by backup type")
	backupListCmd.Flags().
		StringVarP(&listStatus, "status", "s", "", "filter by status")
	backupListCmd.Flags().
		BoolVar(&listDeleted, "deleted", false, "include soft-deleted records")

	backupStatsCmd.Flags().
		StringVarP(&statsDatabase, "database", "d", "", "limit to one database")

	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupStatsCmd)
}
