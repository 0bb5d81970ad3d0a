// fsctl operates on a tenantfs database directly. Only watch goes through
// the HTTP server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/tenantfs/internal/acl"
	"github.com/fruitsalade/tenantfs/internal/fileops"
	"github.com/fruitsalade/tenantfs/internal/logging"
	"github.com/fruitsalade/tenantfs/internal/metadata"
	"github.com/fruitsalade/tenantfs/internal/metadata/postgres"
	"github.com/fruitsalade/tenantfs/internal/tenant"
	"github.com/fruitsalade/tenantfs/internal/txn"
)

var (
	databaseURL string
	tenantName  string
	actAs       string
	logLevel    string
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "fsctl",
		Short: "Inspect and edit tenantfs namespaces",
		Long: `fsctl runs filesystem verbs against a tenantfs database.

Commands run as the root identity unless --as names a user id.

Examples:
  # List the schemas of a tenant
  fsctl --tenant acme ls /data

  # Show one field
  fsctl --tenant acme cat /data/users/u1/email

  # Write a record from a JSON file
  fsctl --tenant acme write --json /data/users/u2 < bob.json`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Init(logging.Config{Level: logLevel, Format: "console", OutputPath: "stderr"})
		},
	}

	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL")
	rootCmd.PersistentFlags().StringVarP(&tenantName, "tenant", "t", os.Getenv("DEFAULT_TENANT"), "tenant name")
	rootCmd.PersistentFlags().StringVar(&actAs, "as", "", "run as this user id instead of root")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(newLsCmd())
	rootCmd.AddCommand(newCatCmd())
	rootCmd.AddCommand(newWriteCmd())
	rootCmd.AddCommand(newRmCmd())
	rootCmd.AddCommand(newStatCmd())
	rootCmd.AddCommand(newSizeCmd())
	rootCmd.AddCommand(newMdtmCmd())
	rootCmd.AddCommand(newWatchCmd())
	rootCmd.AddCommand(newTokenCmd())
	rootCmd.AddCommand(newTenantCmd())
	rootCmd.AddCommand(newSchemaCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is an open database plus the verb request for the chosen tenant.
type session struct {
	store *postgres.Store
	svc   *fileops.Service
	req   fileops.Request
}

func openStore() (*postgres.Store, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("no database: set DATABASE_URL or --database-url")
	}
	return postgres.New(databaseURL, postgres.Pool{MaxOpenConns: 2, MaxIdleConns: 1})
}

func openSession(ctx context.Context) (*session, error) {
	if tenantName == "" {
		return nil, fmt.Errorf("no tenant: set DEFAULT_TENANT or --tenant")
	}
	st, err := openStore()
	if err != nil {
		return nil, err
	}
	ns, err := tenant.NewPostgres(st.DB()).Namespace(ctx, tenantName)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("tenant %s: %w", tenantName, err)
	}

	var id acl.Identity = acl.Root
	if actAs != "" {
		id = acl.Static{U: acl.User{ID: actAs}}
	}
	rt := txn.New(st, txn.WithCacheLoader(metadata.CacheLoader(st)))
	return &session{
		store: st,
		svc:   fileops.New(rt, st),
		req:   fileops.Request{Tenant: tenantName, Namespace: ns, Identity: id},
	}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
