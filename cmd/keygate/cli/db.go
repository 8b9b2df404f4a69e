package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/faucetdb/keygate/internal/store"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "db",
		Aliases: []string{"store"},
		Short:   "Manage the key store",
		Long:    "Create or upgrade the key store schema and check connectivity.",
	}

	cmd.AddCommand(newDBMigrateCmd())
	cmd.AddCommand(newDBPingCmd())

	return cmd
}

// ---------- db migrate ----------

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the key store schema",
		Long: `Create the api_keys table if it does not exist and add any columns missing
from an older schema. Migrations are idempotent; serve runs them at startup too.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLIEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			fmt.Fprintf(cmd.OutOrStdout(), "Key store schema is up to date (%s)\n", describeStore(env.cfg.Store.Driver, env.cfg.Store.Path, env.cfg.Store.DSN))
			return nil
		},
	}
}

// ---------- db ping ----------

func newDBPingCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the key store is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLIEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			start := time.Now()
			if err := env.keys.Ping(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK %s (%s)\n",
				describeStore(env.cfg.Store.Driver, env.cfg.Store.Path, env.cfg.Store.DSN),
				time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "Ping timeout")

	return cmd
}

// describeStore names the store for display without leaking credentials.
func describeStore(driver, path, dsn string) string {
	if dsn != "" {
		return driver + " " + store.RedactDSN(dsn)
	}
	if driver == "sqlite" {
		return driver + " " + path
	}
	return driver
}
