package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherlink/internal/services/account"
)

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print device fingerprint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			fmt.Printf("Device: %s %s\nFingerprint: %s\n",
				wire.Account.UserID, wire.Account.DeviceID, account.Fingerprint(wire.Account))
			return nil
		},
	}
	return cmd
}
