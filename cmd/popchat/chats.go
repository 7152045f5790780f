package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	popchat "github.com/popchat-app/popchat/sdk/golang"
	"github.com/spf13/cobra"
)

var chatsJSON bool

func init() {
	rootCmd.AddCommand(chatsCmd)
	chatsCmd.Flags().BoolVar(&chatsJSON, "json", false, "Output raw JSON")
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats and rooms, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
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

		list := c.syncer.Store().Snapshot().Conversations
		if chatsJSON {
			b, err := json.MarshalIndent(list, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode conversations: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(b))
			return nil
		}
		printConversations(cmd.OutOrStdout(), list, c.user.Username)
		return nil
	},
}

func printConversations(w io.Writer, list []*popchat.Conversation, self string) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No conversations yet.")
		return
	}
	for _, c := range list {
		fmt.Fprintln(w, formatConversation(c, self))
	}
}

// formatConversation renders one list row: kind, id, title, unread count and
// a preview of the last message.
func formatConversation(c *popchat.Conversation, self string) string {
	unread := ""
	if c.UnreadCount > 0 {
		unread = fmt.Sprintf("(%d)", c.UnreadCount)
	}
	preview := ""
	if c.LastMessage != nil {
		text := c.LastMessage.Text
		if r := []rune(text); len(r) > 40 {
			text = string(r[:37]) + "..."
		}
		preview = fmt.Sprintf("%s @%s: %s", c.LastMessage.When.Local().Format("Jan 02 15:04"), c.LastMessage.Sender, text)
	}
	row := fmt.Sprintf("%-4s %-24s %-20s %5s  %s", c.Kind, c.ID, c.Title(self), unread, preview)
	return strings.TrimRight(row, " ")
}
