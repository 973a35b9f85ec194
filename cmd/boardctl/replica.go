package main

import (
	"fmt"

	"boardsync-backend/internal/replica"

	"github.com/spf13/cobra"
)

func newReplicaCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "replica",
		Short: "Inspect a local board replica",
	}
	cmd.PersistentFlags().StringVar(&path, "path", "", "replica directory")
	cmd.MarkPersistentFlagRequired("path")

	open := func() (*replica.Store, error) {
		return replica.Open(replica.Config{Path: path})
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "ls",
		Short: "List the boards kept in the replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			ids, err := store.Boards()
			if err != nil {
				return err
			}
			for _, id := range ids {
				snap, ok, err := store.Load(id)
				if err != nil || !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tunreadable\n", id)
					continue
				}
				serial := int64(0)
				if snap.Shadow != nil {
					serial = snap.Shadow.Serial
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tserial %d\t%d pending\n", id, serial, len(snap.Sent)+len(snap.Queue))
			}
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm [board]",
		Short: "Forget a board and its pending edits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := open()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Delete(args[0])
		},
	})
	return cmd
}
