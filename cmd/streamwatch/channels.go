package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"streamwatch/internal/app"
	"streamwatch/internal/config"
	"streamwatch/internal/monitor"
	"streamwatch/internal/storage"
	logx "streamwatch/pkg/logx"
)

// withStore opens only the store; admin commands need no platform credentials.
func withStore(ctx context.Context, cfgPath string, fn func(storage.Store) error) error {
	if err := config.LoadDotEnv(cfgPath); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.NewConfigManager(cfgPath).Parse()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	st, err := app.OpenStore(ctx, cfg, logx.NewConsole("warn"))
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()
	return fn(st)
}

func newChannelCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channel",
		Short: "Manage monitored channels",
	}

	var name, tz string
	add := &cobra.Command{
		Use:   "add <channel-id>",
		Short: "Add or update a monitored channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if tz != "" {
				if _, err := time.LoadLocation(tz); err != nil {
					return fmt.Errorf("invalid timezone %q: %w", tz, err)
				}
			}
			return withStore(c.Context(), *cfgPath, func(st storage.Store) error {
				if err := st.UpsertChannel(c.Context(), storage.ChannelInfo{ID: id, DisplayName: name, Timezone: tz}); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "channel %s saved\n", id)
				return nil
			})
		},
	}
	add.Flags().StringVar(&name, "name", "", "display name")
	add.Flags().StringVar(&tz, "timezone", "", "IANA timezone used in summaries")

	list := &cobra.Command{
		Use:   "list",
		Short: "List monitored channels",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			return withStore(c.Context(), *cfgPath, func(st storage.Store) error {
				chs, err := st.ListChannels(c.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(c.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tNAME\tTIMEZONE\tSUBSCRIPTIONS")
				for _, info := range chs {
					ch, err := st.Load(c.Context(), info.ID)
					if err != nil {
						return err
					}
					subs := 0
					if ch != nil {
						subs = len(ch.Subscriptions)
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", info.ID, info.DisplayName, info.Timezone, subs)
				}
				return tw.Flush()
			})
		},
	}

	cmd.AddCommand(add, list)
	return cmd
}

func parseDestination(args []string) (string, int64, int, error) {
	id := strings.TrimSpace(args[0])
	chatID, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 64)
	if err != nil || chatID == 0 {
		return "", 0, 0, fmt.Errorf("invalid chat id %q", args[1])
	}
	thread := 0
	if len(args) > 2 {
		if thread, err = strconv.Atoi(strings.TrimSpace(args[2])); err != nil || thread < 0 {
			return "", 0, 0, fmt.Errorf("invalid thread id %q", args[2])
		}
	}
	return id, chatID, thread, nil
}

func newSubscribeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "subscribe <channel-id> <chat-id> [thread-id]",
		Short: "Announce a channel's sessions in a chat",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(c *cobra.Command, args []string) error {
			id, chatID, thread, err := parseDestination(args)
			if err != nil {
				return err
			}
			return withStore(c.Context(), *cfgPath, func(st storage.Store) error {
				if err := st.AddSubscription(c.Context(), id, chatID, thread); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "chat %d subscribed to %s\n", chatID, id)
				return nil
			})
		},
	}
}

func newUnsubscribeCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "unsubscribe <channel-id> <chat-id> [thread-id]",
		Short: "Stop announcing a channel in a chat",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(c *cobra.Command, args []string) error {
			id, chatID, thread, err := parseDestination(args)
			if err != nil {
				return err
			}
			return withStore(c.Context(), *cfgPath, func(st storage.Store) error {
				key := monitor.SubscriptionKey{DestinationID: chatID, ThreadID: thread}
				if err := st.RemoveSubscription(c.Context(), id, key); err != nil {
					return err
				}
				fmt.Fprintf(c.OutOrStdout(), "chat %d unsubscribed from %s\n", chatID, id)
				return nil
			})
		},
	}
}
