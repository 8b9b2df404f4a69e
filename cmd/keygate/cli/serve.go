package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/keygate/internal/server"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/telemetry"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the keygate API server",
		Long: `Start the HTTP server exposing key management (gated by the administrative
secret), the protected demo route, probes, metrics and the OpenAPI document.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stderr)

	// A store that cannot be opened or migrated is fatal.
	st, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open key store: %w", err)
	}
	logger.Info("key store ready", "driver", cfg.Store.Driver)

	secret := cfg.ResolveSecret(logger)

	metrics := telemetry.New()
	dispatcher := service.NewAsyncDispatcher(cfg.Auth.UsageWorkers, logger, metrics)
	keys := newKeyService(st, cfg, dispatcher, metrics, logger)

	srv := server.New(server.ConfigFrom(cfg, secret, versionString()), keys, metrics, logger)
	srv.OnShutdown(dispatcher.Wait)
	srv.OnShutdown(func() {
		if err := st.Close(); err != nil {
			logger.Error("close key store", "error", err)
		}
	})

	fmt.Printf("→ keygate %s\n", versionString())
	fmt.Printf("→ Listening on http://%s\n", cfg.Addr())
	fmt.Printf("→ OpenAPI:    http://%s/openapi.json\n", cfg.Addr())
	fmt.Printf("→ Health:     http://%s/healthz\n", cfg.Addr())
	fmt.Printf("→ Metrics:    http://%s/metrics\n", cfg.Addr())
	fmt.Println()

	return srv.ListenAndServe()
}
