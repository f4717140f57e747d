package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cipherlink/internal/app"
	"cipherlink/internal/domain"
)

var (
	home        string
	passphrase  string
	homeserver  string
	userID      string
	deviceID    string
	accessToken string
	verbose     bool

	wire *app.Wire
	log  = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
)

func Execute() error {
	root := &cobra.Command{
		Use:           "cipherlink",
		Short:         "Matrix end-to-end encryption trust and key management",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).With().Timestamp().Logger()

			if home == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				home = filepath.Join(dir, ".cipherlink")
			}
			if err := os.MkdirAll(home, 0o700); err != nil {
				return err
			}
			if passphrase == "" {
				return errors.New("passphrase required (-p)")
			}

			cfg, err := app.LoadConfig(home)
			if err != nil {
				return err
			}
			applyFlags(cmd, &cfg)

			wire, err = app.NewWire(cfg, passphrase, log)
			return err
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&home, "home", "", "config dir (default ~/.cipherlink)")
	pf.StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the local store")
	pf.StringVar(&homeserver, "homeserver", "", "homeserver base URL (e.g. https://matrix.example.org)")
	pf.StringVar(&userID, "user", "", "Matrix user id of this device's account")
	pf.StringVar(&deviceID, "device", "", "device id of this device")
	pf.StringVar(&accessToken, "access-token", "", "homeserver access token")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		initCmd(),
		fingerprintCmd(),
		devicesCmd(),
		verifyCmd(),
		blockCmd(true),
		blockCmd(false),
		forgetCmd(),
		keysCmd(),
		requestsCmd(),
		loginCmd(),
	)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := root.ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("command failed")
	}
	return err
}

// applyFlags overrides config values with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *app.Config) {
	flags := cmd.Flags()
	if flags.Changed("homeserver") {
		cfg.HomeserverURL = homeserver
	}
	if flags.Changed("user") {
		cfg.UserID = domain.UserID(userID)
	}
	if flags.Changed("device") {
		cfg.DeviceID = domain.DeviceID(deviceID)
	}
	if flags.Changed("access-token") {
		cfg.AccessToken = accessToken
	}
}
