package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"streamwatch/internal/app"
	"streamwatch/internal/monitor"
)

func newReconcileCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <channel-id>",
		Short: "Run one reconcile pass for a channel and print the outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(*cfgPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.Seed(ctx); err != nil {
				return err
			}
			out, err := a.ReconcileOnce(ctx, strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			printOutcome(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func printOutcome(w io.Writer, out monitor.Outcome) {
	name := out.DisplayName
	if name == "" {
		name = out.ChannelID
	}
	if out.Skipped != "" {
		fmt.Fprintf(w, "%s: skipped (%s)\n", name, out.Skipped)
		return
	}
	fmt.Fprintf(w, "%s: phase=%s action=%s committed=%t\n", name, out.Phase, out.Action, out.Committed)
	if out.Activity != "" {
		fmt.Fprintf(w, "  activity: %s (changed=%t)\n", out.Activity, out.ActivityChanged)
	}
	if out.Phase == monitor.SessionEnded && !out.SessionEnd.IsZero() {
		fmt.Fprintf(w, "  ended: %s\n", humanize.Time(out.SessionEnd))
	}
	n := out.Notify
	fmt.Fprintf(w, "  messages: created=%d edited=%d reposted=%d failed=%d\n", n.Created, n.Edited, n.Reposted, n.Failed)
	for _, sub := range out.Removed {
		fmt.Fprintf(w, "  removed subscription: chat=%d thread=%d\n", sub.DestinationID, sub.ThreadID)
	}
}
