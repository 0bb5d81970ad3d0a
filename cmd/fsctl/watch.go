package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/tenantfs/internal/client"
)

func newWatchCmd() *cobra.Command {
	var (
		server string
		token  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the change feed of a running server",
		Long: `watch connects to a tenantfs server and prints every committed change
of the token's tenant. It reconnects until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("no token: set TENANTFS_TOKEN or --token")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c := client.New(client.Config{BaseURL: server, AuthToken: token})
			if err := c.Ping(ctx); err != nil {
				return fmt.Errorf("server %s: %w", server, err)
			}
			feed, errs := c.Events(ctx)
			out := cmd.OutOrStdout()
			for {
				select {
				case e, ok := <-feed:
					if !ok {
						return nil
					}
					if asJSON {
						if err := printJSON(cmd, e); err != nil {
							return err
						}
						continue
					}
					fmt.Fprintf(out, "%s  %-6s %-12s %s", time.Unix(e.Timestamp, 0).Format(time.TimeOnly), e.Type, e.Operation, e.Path)
					if e.Size > 0 {
						fmt.Fprintf(out, "  (%s)", humanize.IBytes(uint64(e.Size)))
					}
					fmt.Fprintln(out)
				case err, ok := <-errs:
					if ok {
						fmt.Fprintf(cmd.ErrOrStderr(), "feed: %v\n", err)
					} else {
						errs = nil
					}
				}
			}
		},
	}
	cmd.Flags().StringVar(&server, "server", envOr("TENANTFS_SERVER", "http://localhost:8080"), "server base URL")
	cmd.Flags().StringVar(&token, "token", os.Getenv("TENANTFS_TOKEN"), "bearer token")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON")
	return cmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
