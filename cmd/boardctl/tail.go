package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"boardsync-backend/internal/libraries"
	"boardsync-backend/internal/protocol"

	"github.com/spf13/cobra"
)

func newTailCmd() *cobra.Command {
	var addr, boardID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print entries published to a board's redis feed",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			feed, err := libraries.NewRedisFeed(ctx, addr)
			if err != nil {
				return err
			}
			defer feed.Close()

			slog.Info("tailing", "channel", libraries.FeedChannel(boardID))
			for raw := range feed.Subscribe(ctx, boardID) {
				fmt.Fprintln(cmd.OutOrStdout(), describe(raw))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "redis", "localhost:6379", "redis address")
	cmd.Flags().StringVar(&boardID, "board", "", "board id")
	cmd.MarkFlagRequired("board")
	return cmd
}

// describe renders one published message as a single line.
func describe(raw []byte) string {
	msg, err := protocol.Parse(raw)
	if err != nil {
		return fmt.Sprintf("unreadable message: %v", err)
	}
	e, ok := msg.(protocol.Entry)
	if !ok {
		return fmt.Sprintf("%T", msg)
	}
	user := e.User.ID
	if e.User.Name != "" {
		user = e.User.Name
	}
	return fmt.Sprintf("#%d %s by %s", e.Serial, e.Action, user)
}
