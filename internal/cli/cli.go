// Package cli implements coordctl, the operator tool for inspecting and
// clearing coordination records.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/PratikDhanave/incident-bot/internal/fingerprint"
	"github.com/PratikDhanave/incident-bot/internal/models"
	"github.com/PratikDhanave/incident-bot/internal/store"
)

// Opener opens the coordination store named by a DSN.
type Opener func(ctx context.Context, dsn string) (store.Store, error)

// RootCmd builds the coordctl command tree.
func RootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "coordctl",
		Short: "Inspect and clear incident-bot coordination records",
		Long: `coordctl reads the coordination store shared by incident-bot instances.
Use it to see who holds an incident lock, to release a stuck lock, or to
forget an event record so a redelivery is processed again.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().String("dsn", os.Getenv("COORD_STORE_DSN"), "coordination store DSN (default $COORD_STORE_DSN)")

	root.AddCommand(lockCmd(open))
	root.AddCommand(eventCmd(open))
	root.AddCommand(fingerprintCmd())
	return root
}

func lockCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lock",
		Short: "Inspect or release incident locks",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [ticket-or-key]",
		Short: "Show the lock record for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				return show(ctx, cmd.OutOrStdout(), st, lockKey(args[0]))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "release [ticket-or-key]",
		Short: "Delete the lock record for a ticket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				return remove(ctx, cmd.OutOrStdout(), st, lockKey(args[0]), "released")
			})
		},
	})
	return cmd
}

func eventCmd(open Opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "event",
		Short: "Inspect or forget event records",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show [fingerprint]",
		Short: "Show the event record for a fingerprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				return show(ctx, cmd.OutOrStdout(), st, eventKey(args[0]))
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "forget [fingerprint]",
		Short: "Delete the event record so a redelivery is processed again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, open, func(ctx context.Context, st store.Store) error {
				return remove(ctx, cmd.OutOrStdout(), st, eventKey(args[0]), "forgotten")
			})
		},
	})
	return cmd
}

func fingerprintCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Compute the fingerprint the bot derives for a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			pattern, _ := flags.GetString("pattern")
			d, err := fingerprint.NewDeriver(pattern)
			if err != nil {
				return err
			}
			var ev models.InboundEvent
			ev.Channel, _ = flags.GetString("channel")
			ev.User, _ = flags.GetString("user")
			ev.Text, _ = flags.GetString("text")
			ev.Timestamp, _ = flags.GetString("ts")
			ev.BotID, _ = flags.GetString("bot-id")
			ev.SubType, _ = flags.GetString("subtype")

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, d.Fingerprint(ev))
			if key := d.TicketKey(ev.Text); key != "" {
				fmt.Fprintf(out, "ticket: %s\n", key)
			}
			return nil
		},
	}
	cmd.Flags().String("channel", "", "channel id")
	cmd.Flags().String("user", "", "user id")
	cmd.Flags().String("text", "", "message text")
	cmd.Flags().String("ts", "", "message timestamp")
	cmd.Flags().String("bot-id", "", "bot id, for bot messages")
	cmd.Flags().String("subtype", "", "message subtype")
	cmd.Flags().String("pattern", fingerprint.DefaultTicketPattern, "ticket key pattern")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("ts")
	return cmd
}

func withStore(cmd *cobra.Command, open Opener, fn func(context.Context, store.Store) error) error {
	dsn, _ := cmd.Flags().GetString("dsn")
	if strings.TrimSpace(dsn) == "" {
		return errors.New("no store DSN\nHint: use --dsn or set COORD_STORE_DSN")
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	st, err := open(ctx, dsn)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer st.Close()
	return fn(ctx, st)
}

func show(ctx context.Context, out io.Writer, st store.Store, key string) error {
	rec, err := st.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		fmt.Fprintf(out, "%s: %s\n", key, color.New(color.FgYellow).Sprint("not found"))
		return nil
	}
	if err != nil {
		return err
	}

	state := color.New(color.FgGreen).Sprint("live")
	if !rec.Live(time.Now()) {
		state = color.New(color.FgRed).Sprint("expired")
	}
	fmt.Fprintf(out, "%s (%s)\n", rec.Key, state)
	fmt.Fprintf(out, "  kind:    %s\n", rec.Kind)
	fmt.Fprintf(out, "  status:  %s\n", rec.Status)
	fmt.Fprintf(out, "  owner:   %s\n", rec.Owner)
	fmt.Fprintf(out, "  created: %s\n", time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339))
	fmt.Fprintf(out, "  expires: %s\n", rec.Expiry().Format(time.RFC3339))
	return nil
}

func remove(ctx context.Context, out io.Writer, st store.Store, key, verb string) error {
	if err := st.Delete(ctx, key); err != nil {
		return err
	}
	fmt.Fprintf(out, "%s: %s\n", key, color.New(color.FgGreen).Sprint(verb))
	return nil
}

func lockKey(arg string) string {
	if strings.HasPrefix(arg, models.LockKeyPrefix) || strings.HasPrefix(arg, models.CommandKeyPrefix) {
		return arg
	}
	return models.LockKey(strings.ToUpper(arg))
}

func eventKey(arg string) string {
	if strings.HasPrefix(arg, models.EventKeyPrefix) {
		return arg
	}
	return models.EventKey(strings.ToLower(arg))
}
