package main

import (
	"context"
	"fmt"
	"time"

	"boardsync-backend/internal/libraries"

	"github.com/spf13/cobra"
)

func newDiscoverCmd() *cobra.Command {
	var (
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find board servers on the local network",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			peers, err := libraries.Discover(ctx, service)
			if err != nil {
				return err
			}
			if len(peers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no servers found")
				return nil
			}
			for _, p := range peers {
				addr := p.Host
				if len(p.Addrs) > 0 {
					addr = p.Addrs[0].String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tws://%s:%d/api/v1/ws\n", p.Instance, addr, p.Port)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&service, "service", "_boardsync._tcp", "mDNS service type")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to browse")
	return cmd
}
