package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"

	"boardsync-backend/internal/board"
	"boardsync-backend/internal/replica"
	"boardsync-backend/internal/session"
	"boardsync-backend/internal/transport"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type watchOptions struct {
	server      string
	boardID     string
	user        string
	userName    string
	replicaPath string
}

func newWatchCmd() *cobra.Command {
	var o watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Join a board and print every state change",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, o)
		},
	}
	cmd.Flags().StringVar(&o.server, "server", "ws://localhost:3000/api/v1/ws", "websocket url")
	cmd.Flags().StringVar(&o.boardID, "board", "", "board id")
	cmd.Flags().StringVar(&o.user, "user", "", "user id, anonymous when empty")
	cmd.Flags().StringVar(&o.userName, "name", "", "display name")
	cmd.Flags().StringVar(&o.replicaPath, "replica", "", "directory to keep the board in between runs")
	cmd.MarkFlagRequired("board")
	return cmd
}

func watchURL(server, user, name string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if user != "" {
		q.Set("userId", user)
	}
	if name != "" {
		q.Set("userName", name)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func boardUser(id, name string) board.UserInfo {
	return board.UserInfo{ID: id, Name: name}
}

// printer writes a line whenever the status, serial or queue changes.
type printer struct {
	out  func(string)
	last string
}

func (p *printer) view(v session.View) {
	line := string(v.Status)
	if v.Board != nil {
		line = fmt.Sprintf("%s serial=%d items=%d connections=%d access=%s queued=%d",
			v.Status, v.Board.Serial, len(v.Board.Items), len(v.Board.Connections), v.Access, v.QueueSize)
	}
	if line != p.last {
		p.last = line
		p.out(line)
	}
}

func runWatch(cmd *cobra.Command, o watchOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	logger := slog.Default().With("board", o.boardID)

	var rep session.Replica
	if o.replicaPath != "" {
		store, err := replica.Open(replica.Config{Path: o.replicaPath, SyncWrites: true, Logger: logger})
		if err != nil {
			return err
		}
		defer store.Close()
		rep = store
	}

	target, err := watchURL(o.server, o.user, o.userName)
	if err != nil {
		return err
	}
	client := transport.NewClient(target, transport.Options{Logger: logger})
	p := &printer{out: func(s string) { fmt.Fprintln(cmd.OutOrStdout(), s) }}
	s := session.New(session.Config{
		BoardID:  o.boardID,
		User:     boardUser(o.user, o.userName),
		Sender:   client,
		Replica:  rep,
		OnChange: p.view,
		Logger:   logger,
	})
	auth := session.AuthAuthenticated
	if o.user == "" {
		auth = session.AuthAnonymous
	}
	s.SetAuth(auth)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.Run(ctx) })
	g.Go(func() error { return client.Run(ctx, s) })
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
