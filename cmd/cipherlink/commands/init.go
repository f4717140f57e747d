package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Generate device keys for --user/--device and store them securely",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := wire.Config
			if cfg.UserID == "" || cfg.DeviceID == "" {
				return errors.New("--user and --device required")
			}
			fp, err := wire.CreateAccount(cfg.UserID, cfg.DeviceID)
			if err != nil {
				return err
			}
			if err := cfg.Save(); err != nil {
				return err
			}
			fmt.Printf("Account created for %s (%s).\nFingerprint: %s\n", cfg.UserID, cfg.DeviceID, fp)
			return nil
		},
	}
}
