package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"cipherlink/internal/store"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Export or import room keys",
	}
	cmd.AddCommand(keysExportCmd(), keysImportCmd())
	return cmd
}

func keysExportCmd() *cobra.Command {
	var password string
	var rounds int
	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Write all inbound room keys to an encrypted export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			if password == "" {
				return errors.New("--password required")
			}
			data, err := wire.Megolm.ExportEncrypted(password, rounds)
			if err != nil {
				return err
			}
			if err := os.WriteFile(args[0], data, 0o600); err != nil {
				return err
			}
			fmt.Printf("Exported keys to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "export password")
	cmd.Flags().IntVar(&rounds, "rounds", store.DefaultExportRounds, "PBKDF2 rounds")
	return cmd
}

func keysImportCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import room keys from an encrypted export file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			if password == "" {
				return errors.New("--password required")
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			n, err := wire.Megolm.ImportEncrypted(cmd.Context(), data, password)
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d new or improved sessions\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "export password")
	return cmd
}
