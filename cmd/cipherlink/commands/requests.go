package commands

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"cipherlink/internal/domain"
)

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "requests",
		Short: "Inspect outgoing key and secret requests",
	}
	cmd.AddCommand(requestsListCmd(), requestsResendCmd(), requestsCancelCmd(), requestsFlushCmd())
	return cmd
}

func requestsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List outgoing requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			reqs, err := wire.Gossip.ListRequests()
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tKIND\tSTATE\tTARGET\tREPLIES")
			for _, r := range reqs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.RequestID, r.Kind, r.State, target(r), len(r.Results))
			}
			return tw.Flush()
		},
	}
}

func target(r *domain.OutgoingKeyRequest) string {
	if r.Kind == domain.KindSecret {
		return r.SecretName
	}
	return fmt.Sprintf("%s %s", r.RoomID, r.SessionID)
}

func requestsResendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resend <id>",
		Short: "Cancel and resend a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			return wire.Gossip.Resend(cmd.Context(), args[0])
		},
	}
}

func requestsCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			return wire.Gossip.Cancel(cmd.Context(), args[0])
		},
	}
}

func requestsFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Send requests and cancellations that are still pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wire.RequireAccount(); err != nil {
				return err
			}
			return wire.Gossip.ProcessPending(cmd.Context())
		},
	}
}
