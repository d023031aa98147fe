// internal/cli/root.go

// Package cli wires configuration, storage and the circulation service into
// the collectortrack commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"collectortrack/internal/circulation"
	"collectortrack/internal/client"
	"collectortrack/internal/config"
	"collectortrack/internal/eventstore"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every command needs once flags are parsed.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	// server, when set, sends process, status and totals to a running
	// collectortrack server instead of opening the database.
	server string
}

// NewRootCommand builds the command tree. Environment variables prefixed
// with COLLECTORS_ configure every command; flags override them.
func NewRootCommand() *cobra.Command {
	a := &app{}
	var (
		driver   string
		dsn      string
		logLevel string
	)

	root := &cobra.Command{
		Use:           "collectortrack",
		Short:         "Track handheld collector movements between operators, repair and retirement.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("driver") {
				cfg.DatabaseDriver = driver
			}
			if cmd.Flags().Changed("database-url") {
				cfg.DatabaseURL = dsn
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger, err := config.NewLogger(cfg.LogLevel, cfg.Debug, cfg.LogDir)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			a.cfg, a.logger = cfg, logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVar(&driver, "driver", "", "database driver: postgres, pgx or sqlite")
	root.PersistentFlags().StringVar(&dsn, "database-url", "", "database connection string or sqlite file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level")
	root.PersistentFlags().StringVar(&a.server, "server", "", "base URL of a running server, e.g. http://localhost:8082")

	root.AddCommand(
		newServeCommand(a),
		newMigrateCommand(a),
		newStatusCommand(a),
		newProcessCommand(a),
		newDefectsCommand(a),
		newTotalsCommand(a),
		newDrillCommand(a),
	)
	return root
}

// openStore connects to the configured database, migrating it when enabled.
func (a *app) openStore(ctx context.Context, migrate bool) (*eventstore.EventStore, error) {
	store, err := eventstore.Open(ctx, eventstore.Config{
		Driver:   a.cfg.DatabaseDriver,
		DSN:      a.cfg.DatabaseURL,
		Timeout:  a.cfg.StoreTimeout,
		MaxTries: a.cfg.StoreMaxTries,
	}, a.logger)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
	}
	return store, nil
}

func (a *app) service(store circulation.Store, opts ...circulation.Option) circulation.Service {
	return circulation.NewService(store, a.logger, opts...)
}

// remote returns a client for --server, nil when commands should use the
// database directly.
func (a *app) remote() *client.Client {
	if a.server == "" {
		return nil
	}
	return client.New(a.server, nil)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
