package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <operation-id>",
	Short: "Restore a backup into its database",
	Long: `restore downloads the artifact, verifies its checksum, decrypts and
decompresses it, and loads it back through the database's native tooling.
A checksum mismatch aborts before anything touches the database.`,
	Args: cobra.ExactArgs(1),
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

		secret, _, _, err := e.passphrase(ctx)
		if err != nil {
			return err
		}
		if err := e.orchestrator.RestoreBackup(ctx, id, secret); err != nil {
			return err
		}
		fmt.Printf("%s restored\n", id)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify <operation-id>",
	Short: "Re-download a backup and check its integrity",
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

		if err := e.orchestrator.VerifyBackup(ctx, id); err != nil {
			return err
		}
		fmt.Printf("%s verified: stored artifact matches its checksum\n", id)
		return nil
	},
}
