package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print notifications as they arrive",
	Long:  "Stay connected and print a line for every message and membership change until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadRuntimeConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		c, err := connect(ctx, cfg, &printNotifier{out: out})
		if err != nil {
			return err
		}
		defer c.Close()

		c.transport.OnReconnecting(func(attempt int, delay time.Duration) {
			fmt.Fprintf(cmd.ErrOrStderr(), "connection lost, retrying in %s (attempt %d)\n", delay.Round(time.Millisecond), attempt)
		})

		st := c.syncer.Store().Snapshot()
		fmt.Fprintf(out, "Watching %d conversations as @%s. Press Ctrl+C to stop.\n", len(st.Conversations), c.user.Username)

		<-ctx.Done()
		return nil
	},
}
