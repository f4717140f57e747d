package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cipherlink/internal/crypto"
	"cipherlink/internal/domain"
)

// devices: refresh and list a user's devices.
func devicesCmd() *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "devices <user>",
		Short: "List a user's devices and their trust state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			user := domain.UserID(args[0])
			if !offline {
				if err := wire.SyncKeys(cmd.Context(), user); err != nil {
					return fmt.Errorf("refresh keys: %w", err)
				}
			}
			devices, err := wire.Trust.ListDevices(user)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DEVICE\tTRUST\tFINGERPRINT")
			for _, d := range devices {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.DeviceID, trustLabel(wire.Trust.DeviceTrustState(d)), crypto.Fingerprint(d.SigningKey()))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "list stored devices without querying the homeserver")
	return cmd
}

func trustLabel(s domain.TrustState) string {
	switch s {
	case domain.TrustStateBlocked:
		return "blocked"
	case domain.TrustStateVerified:
		return "verified"
	case domain.TrustStateCrossSignedVerified:
		return "cross-signed"
	case domain.TrustStateCrossSignedUntrusted:
		return "cross-signed (owner unverified)"
	default:
		return "unverified"
	}
}

// verify: set the local verification flag.
func verifyCmd() *cobra.Command {
	var undo bool
	cmd := &cobra.Command{
		Use:   "verify <user> <device>",
		Short: "Mark a device as locally verified",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			level := domain.TrustLevel{LocallyVerified: !undo}
			return wire.Trust.SetDeviceVerification(level, domain.UserID(args[0]), domain.DeviceID(args[1]))
		},
	}
	cmd.Flags().BoolVar(&undo, "undo", false, "clear the local verification flag")
	return cmd
}

func blockCmd(blocked bool) *cobra.Command {
	use, short := "block", "Block a device"
	if !blocked {
		use, short = "unblock", "Unblock a device"
	}
	return &cobra.Command{
		Use:   use + " <user> <device>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			return wire.Trust.SetDeviceBlocked(domain.UserID(args[0]), domain.DeviceID(args[1]), blocked)
		},
	}
}

// forget: drop a device and the room keys it sent.
func forgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <user> <device>",
		Short: "Forget a device and every room key received from it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := wire.ForgetDevice(domain.UserID(args[0]), domain.DeviceID(args[1]))
			if err != nil {
				return err
			}
			fmt.Printf("Forgot %s %s and %d room keys\n", args[0], args[1], n)
			return nil
		},
	}
}
