package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cipherlink/internal/relay"
)

func main() {
	var (
		addr        string
		ttl         time.Duration
		maxChannels int
		createRate  float64
		createBurst int
		verbose     bool
	)
	cmd := &cobra.Command{
		Use:          "rendezvous-relay",
		Short:        "In-memory HTTP rendezvous relay for QR login",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := zerolog.InfoLevel
			if verbose {
				level = zerolog.DebugLevel
			}
			log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
				Level(level).With().Timestamp().Logger()

			rz := relay.NewServer(ttl, log,
				relay.WithMaxChannels(maxChannels),
				relay.WithCreateRate(createRate, createBurst),
			)
			srv := &http.Server{
				Addr:              addr,
				Handler:           rz.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-cmd.Context().Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdown)
			}()

			log.Info().Str("addr", addr).Dur("ttl", ttl).Msg("relay listening")
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().DurationVar(&ttl, "ttl", relay.DefaultChannelTTL, "channel lifetime after the last write")
	cmd.Flags().IntVar(&maxChannels, "max-channels", relay.DefaultMaxChannels, "live channel cap (0 for none)")
	cmd.Flags().Float64Var(&createRate, "create-rate", relay.DefaultCreateRate, "channels per second each remote host may create (0 for unlimited)")
	cmd.Flags().IntVar(&createBurst, "create-burst", relay.DefaultCreateBurst, "burst of channel creations per remote host")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "access log at debug level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
