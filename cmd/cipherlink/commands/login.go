package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"cipherlink/internal/services/account"
	"cipherlink/internal/services/rendezvous"
)

// login: sign this device in from a QR code shown by an existing device.
func loginCmd() *cobra.Command {
	var deviceName string
	var yes bool
	cmd := &cobra.Command{
		Use:   "login <code | @file>",
		Short: "Sign in this device by scanning a QR login code",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wire.Ready() {
				return account.ErrAccountExists
			}
			raw := []byte(args[0])
			if name, ok := strings.CutPrefix(args[0], "@"); ok {
				b, err := os.ReadFile(name)
				if err != nil {
					return err
				}
				raw = b
			}
			code, err := rendezvous.ParseCode(raw)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			transport, err := wire.OpenScanner(ctx, code)
			if err != nil {
				return err
			}
			ch, err := rendezvous.NewScannerChannel(transport, code)
			if err != nil {
				transport.Close()
				return err
			}

			confirm := confirmChecksum
			if yes {
				confirm = func(_ context.Context, checksum string) error {
					fmt.Printf("Checksum: %s\n", checksum)
					return nil
				}
			}
			res, err := wire.Ceremony(deviceName, confirm).LoginOnNewDevice(ctx, code, ch)
			if err != nil {
				return err
			}
			if err := wire.Config.Save(); err != nil {
				return err
			}

			fmt.Printf("Signed in as %s (%s).\n", res.Credentials.UserID, res.Credentials.DeviceID)
			if res.Verified {
				fmt.Printf("Verified by %s; requested %d secrets.\n", res.VerifyingDeviceID, len(res.SecretRequests))
			} else {
				fmt.Println("The other device did not verify this one.")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&deviceName, "device-name", "cipherlink", "display name for the new device")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask to confirm the checksum")
	return cmd
}

func confirmChecksum(ctx context.Context, checksum string) error {
	fmt.Printf("Checksum: %s\nDoes it match the other device? [y/N] ", checksum)
	answer := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		answer <- strings.ToLower(strings.TrimSpace(line))
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case a := <-answer:
		if a != "y" && a != "yes" {
			return errors.New("checksum not confirmed")
		}
		return nil
	}
}
