package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/fruitsalade/tenantfs/internal/auth"
	"github.com/fruitsalade/tenantfs/internal/schema"
)

func newTokenCmd() *cobra.Command {
	var (
		subject          string
		root             bool
		full, edit, read []string
		ttl              time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an API token for the tenant",
		Long: `Issue a signed API token. JWT_SECRET must match the server's.

Examples:
  # A root token
  fsctl --tenant acme token --root

  # A user inheriting grants from a group
  fsctl --tenant acme token --subject u-alice --read g-staff`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is not set")
			}
			if tenantName == "" {
				return fmt.Errorf("no tenant: set DEFAULT_TENANT or --tenant")
			}
			tok, exp, err := auth.New(secret, auth.WithTTL(ttl)).Issue(auth.Claims{
				RegisteredClaims: jwt.RegisteredClaims{Subject: subject},
				Tenant:           tenantName,
				Root:             root,
				AccessFull:       full,
				AccessEdit:       edit,
				AccessRead:       read,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", exp.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id")
	cmd.Flags().BoolVar(&root, "root", false, "grant root access")
	cmd.Flags().StringSliceVar(&full, "full", nil, "ids granting full access")
	cmd.Flags().StringSliceVar(&edit, "edit", nil, "ids granting edit access")
	cmd.Flags().StringSliceVar(&read, "read", nil, "ids granting read access")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime")
	return cmd
}

func newTenantCmd() *cobra.Command {
	tenantCmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var namespace string
	createCmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a tenant and its namespace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ns := namespace
			if ns == "" {
				ns = "tenant_" + args[0]
			}
			if err := st.CreateTenant(cmd.Context(), args[0], ns); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s -> %s\n", args[0], ns)
			return nil
		},
	}
	createCmd.Flags().StringVar(&namespace, "namespace", "", "namespace name (default tenant_<name>)")
	tenantCmd.AddCommand(createCmd)

	return tenantCmd
}

func newSchemaCmd() *cobra.Command {
	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage schema definitions",
	}

	applyCmd := &cobra.Command{
		Use:   "apply <file.json>",
		Short: "Create a schema from a JSON definition",
		Long: `Create a schema table in the tenant's namespace.

The file holds a schema definition as shown under /describe, e.g.
  {"schema_name": "users", "columns": [{"column_name": "name", "type": "text", "required": true}]}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var sc schema.Schema
			if err := json.Unmarshal(data, &sc); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}
			if sc.Name == "" {
				return fmt.Errorf("%s: schema_name is required", args[0])
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.store.DefineSchema(cmd.Context(), s.req.Namespace, &sc); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema %s created with %d columns\n", sc.Name, len(sc.Columns))
			return nil
		},
	}
	schemaCmd.AddCommand(applyCmd)

	return schemaCmd
}
