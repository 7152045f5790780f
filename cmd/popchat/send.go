package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

var sendToRoom bool

func init() {
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(dmCmd)
	sendCmd.Flags().BoolVar(&sendToRoom, "room", false, "The id names a room instead of a direct chat")
}

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <text...>",
	Short: "Send a message to a chat or room",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := popchat.KindChat
		if sendToRoom {
			kind = popchat.KindRoom
		}
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.syncer.Open(ctx, kind, args[0]); err != nil {
				return err
			}
			return c.syncer.Send(ctx, strings.Join(args[1:], " "))
		})
	},
}

var dmCmd = &cobra.Command{
	Use:   "dm <username> <text...>",
	Short: "Send a direct message, starting the chat if needed",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(cmd, func(ctx context.Context, c *client) error {
			if err := c.syncer.StartChat(ctx, args[0]); err != nil {
				return err
			}
			return c.syncer.Send(ctx, strings.Join(args[1:], " "))
		})
	},
}

// withClient connects, runs fn and reports the open conversation afterwards.
func withClient(cmd *cobra.Command, fn func(ctx context.Context, c *client) error) error {
	cfg, err := loadRuntimeConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	c, err := connect(ctx, cfg, &printNotifier{out: cmd.ErrOrStderr()})
	if err != nil {
		return err
	}
	defer c.Close()

	if err := fn(ctx, c); err != nil {
		return err
	}

	if open := c.syncer.Store().Snapshot().Open; open != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Sent to %s (%s)\n", open.Title(c.user.Username), open.ID)
	}
	return nil
}
