package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/faucetdb/keygate/internal/config"
	"github.com/faucetdb/keygate/internal/credential"
	"github.com/faucetdb/keygate/internal/service"
	"github.com/faucetdb/keygate/internal/store"
	"github.com/faucetdb/keygate/internal/store/mssql"
	"github.com/faucetdb/keygate/internal/store/mysql"
	"github.com/faucetdb/keygate/internal/store/oracle"
	"github.com/faucetdb/keygate/internal/store/postgres"
	"github.com/faucetdb/keygate/internal/store/sqlite"
	"github.com/faucetdb/keygate/internal/telemetry"
)

// loadConfig builds and validates the configuration from the file located
// by initConfig, KEYGATE_* variables and defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger. --dev forces debug level.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		level = slog.LevelInfo
	}
	if devMode {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newStoreRegistry creates a store registry with every supported backend.
func newStoreRegistry() *store.Registry {
	registry := store.NewRegistry()
	registry.RegisterDriver("sqlite", sqlite.Open)
	registry.RegisterDriver("postgres", postgres.Open)
	registry.RegisterDriver("mysql", mysql.Open)
	registry.RegisterDriver("mssql", mssql.Open)
	registry.RegisterDriver("oracle", oracle.Open)
	return registry
}

// openStore connects to the configured backend and applies migrations.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	st, err := newStoreRegistry().Open(ctx, cfg.StoreConnection(), logger)
	if err != nil {
		return nil, err
	}
	logger.Debug("key store opened", "driver", cfg.Store.Driver)
	return st, nil
}

// newKeyService builds the lifecycle engine from the configuration.
func newKeyService(st store.Store, cfg *config.Config, dispatcher service.Dispatcher, metrics *telemetry.Metrics, logger *slog.Logger) *service.KeyService {
	return service.NewKeyService(st, service.Options{
		ExpirationWindow: cfg.ExpirationWindow(),
		Dispatcher:       dispatcher,
		Logger:           logger,
		Metrics:          metrics,
		Policy:           credential.Policy{Cost: cfg.Auth.BcryptCost},
	})
}

// cliEnv is what the one-shot key and db commands work with.
type cliEnv struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	keys   *service.KeyService
}

// openCLIEnv loads configuration and opens the store for a one-shot
// command. Usage writes run synchronously since the process exits right
// after. The caller must call close.
func openCLIEnv(ctx context.Context) (*cliEnv, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open key store: %w", err)
	}
	return &cliEnv{
		cfg:    cfg,
		logger: logger,
		store:  st,
		keys:   newKeyService(st, cfg, service.SyncDispatcher{}, nil, logger),
	}, nil
}

func (e *cliEnv) close() {
	e.store.Close()
}

// versionString returns a display version string.
func versionString() string {
	if appVersion == "" || appVersion == "dev" {
		return "dev"
	}
	if strings.HasPrefix(appVersion, "v") {
		return appVersion
	}
	return "v" + appVersion
}

// describeKeyError adds the generated suggestion to a weak-password error.
func describeKeyError(err error) error {
	var weak *credential.WeakPasswordError
	if errors.As(err, &weak) {
		return fmt.Errorf("%w (suggested password: %s)", err, weak.Suggestion)
	}
	return err
}
