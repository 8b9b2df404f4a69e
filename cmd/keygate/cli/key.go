package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/faucetdb/keygate/internal/model"
	"github.com/faucetdb/keygate/internal/service"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"apikey"},
		Short:   "Manage API keys",
		Long:    "Create, list, inspect, revoke and renew API keys directly against the key store.",
	}

	cmd.AddCommand(newKeyCreateCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyShowCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyRenewCmd())

	return cmd
}

// ---------- key create ----------

func newKeyCreateCmd() *cobra.Command {
	var (
		req            service.IssueRequest
		promptPassword bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API key",
		Long:  "Issue a new API key. Owner metadata is optional; the key is printed once.",
		Example: `  keygate key create
  keygate key create --username alice --email alice@example.com --prompt-password
  keygate key create --never-expires`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if promptPassword {
				pw, err := readPassword(cmd.ErrOrStderr())
				if err != nil {
					return err
				}
				req.Password = pw
			}
			return runKeyCreate(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}

	cmd.Flags().StringVar(&req.OwnerName, "username", "", "Owner name")
	cmd.Flags().StringVar(&req.OwnerEmail, "email", "", "Owner email address")
	cmd.Flags().StringVar(&req.Password, "password", "", "Owner password (prefer --prompt-password)")
	cmd.Flags().BoolVar(&promptPassword, "prompt-password", false, "Prompt for the owner password")
	cmd.Flags().BoolVar(&req.NeverExpire, "never-expires", false, "Create a key that never expires")

	return cmd
}

func readPassword(w io.Writer) (string, error) {
	fmt.Fprint(w, "Password: ")
	pwBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	fmt.Fprintln(w)

	fmt.Fprint(w, "Confirm password: ")
	confirmBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	if err != nil {
		return "", fmt.Errorf("failed to read confirmation: %w", err)
	}
	fmt.Fprintln(w)

	if string(pwBytes) != string(confirmBytes) {
		return "", fmt.Errorf("passwords do not match")
	}
	return string(pwBytes), nil
}

func runKeyCreate(ctx context.Context, out io.Writer, req service.IssueRequest) error {
	env, err := openCLIEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	key, err := env.keys.Issue(ctx, req)
	if err != nil {
		return describeKeyError(err)
	}

	fmt.Fprintln(out, "API Key created:")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "  Key:   %s\n", key)
	if req.OwnerName != "" {
		fmt.Fprintf(out, "  Owner: %s\n", req.OwnerName)
	}
	if req.NeverExpire {
		fmt.Fprintln(out, "  Never expires")
	} else {
		fmt.Fprintf(out, "  Valid for %s\n", env.keys.ExpirationWindow())
	}
	return nil
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls", "logs"},
		Short:   "List all API keys with usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runKeyList(cmd.Context(), cmd.OutOrStdout(), jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runKeyList(ctx context.Context, out io.Writer, jsonOutput bool) error {
	env, err := openCLIEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	records, err := env.keys.UsageStats(ctx)
	if err != nil {
		return err
	}
	return printUsageLogs(out, records, time.Now(), jsonOutput)
}

func printUsageLogs(out io.Writer, records []model.KeyRecord, now time.Time, jsonOutput bool) error {
	logs := model.UsageLogs{Logs: make([]model.UsageLog, 0, len(records))}
	for _, rec := range records {
		logs.Logs = append(logs.Logs, model.NewUsageLog(rec, now))
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(logs)
	}

	if len(logs.Logs) == 0 {
		fmt.Fprintln(out, "No API keys issued. Use 'keygate key create' to create one.")
		return nil
	}

	fmt.Fprintf(out, "%-10s %-16s %-8s %-20s %-20s %s\n", "PREFIX", "OWNER", "STATE", "EXPIRES", "LAST USED", "QUERIES")
	for _, l := range logs.Logs {
		expires := l.ExpirationDate
		if l.NeverExpire {
			expires = "never"
		}
		lastUsed := "-"
		if l.LatestQueryDate != nil {
			lastUsed = *l.LatestQueryDate
		}
		fmt.Fprintf(out, "%-10s %-16s %-8s %-20s %-20s %d\n",
			model.KeyPrefix(l.APIKey), l.Username, l.State, expires, lastUsed, l.TotalQueries)
	}
	return nil
}

// ---------- key show ----------

func newKeyShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <api-key>",
		Short: "Show one API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLIEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			rec, err := env.keys.Lookup(cmd.Context(), args[0])
			if err != nil {
				return describeKeyError(err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(model.NewUsageLog(*rec, time.Now()))
		},
	}
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <api-key>",
		Short: "Revoke an API key",
		Long:  "Deactivate an API key. It can be reactivated with 'keygate key renew'.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLIEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			if err := env.keys.Revoke(cmd.Context(), args[0]); err != nil {
				return describeKeyError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked API key %s\n", model.KeyPrefix(args[0]))
			return nil
		},
	}
}

// ---------- key renew ----------

func newKeyRenewCmd() *cobra.Command {
	var expiration string

	cmd := &cobra.Command{
		Use:   "renew <api-key>",
		Short: "Renew and reactivate an API key",
		Example: `  keygate key renew 0b6a5c1e-...
  keygate key renew 0b6a5c1e-... --expiration-date 2026-12-31`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := openCLIEnv(cmd.Context())
			if err != nil {
				return err
			}
			defer env.close()

			result, err := env.keys.Renew(cmd.Context(), args[0], expiration)
			if err != nil {
				return describeKeyError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), result.Message)
			return nil
		},
	}

	cmd.Flags().StringVar(&expiration, "expiration-date", "", "New expiration date, ISO-8601 (default: one expiration window from now)")

	return cmd
}
