package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/prefsauth/internal/config"
	"github.com/example/prefsauth/internal/logging"
	"github.com/example/prefsauth/internal/store"
)

// deps are the side effects commands reach for, swapped out in tests.
type deps struct {
	loadConfig func() (*config.Config, error)
	openStore  func(ctx context.Context, c *config.Config) (store.Store, error)
	logger     func(c *config.Config) *slog.Logger
	now        func() time.Time
}

func defaultDeps() *deps {
	return &deps{
		loadConfig: config.Load,
		openStore:  openStore,
		logger: func(c *config.Config) *slog.Logger {
			return logging.NewLogger(c.Environment, c.LogLevel)
		},
		now: time.Now,
	}
}

func newRootCmd(d *deps) *cobra.Command {
	root := &cobra.Command{
		Use:   "prefsauth-admin",
		Short: "Administer the prefsauth database",
		Long: `prefsauth-admin applies schema migrations and provisions the records the
authorization server reads: clients, client credentials, prefs safes and
their keys, local users and SSO providers.

Configuration is read from the environment (and a .env file) exactly like
the server reads it.`,
		SilenceUsage: true,
	}
	root.AddCommand(newMigrateCmd(d))
	root.AddCommand(newProvisionCmd(d))
	root.AddCommand(newRevokeCmd(d))
	return root
}

// openStore opens the configured SQL store. The memory adapter holds
// nothing between processes so it is refused here.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.DBAdapter {
	case config.AdapterPostgres:
		return store.OpenPostgres(ctx, c.PostgresDSN)
	case config.AdapterSQLite:
		return store.OpenSQLite(ctx, c.SQLiteFile)
	case config.AdapterMemory:
		return nil, errors.New("DB_ADAPTER=memory keeps no data between runs; use postgres or sqlite")
	}
	return nil, fmt.Errorf("unsupported DB_ADAPTER: %s", c.DBAdapter)
}

// withStore loads the configuration, opens the store and hands both to fn.
func (d *deps) withStore(cmd *cobra.Command, fn func(ctx context.Context, c *config.Config, st store.Store) error) error {
	c, err := d.loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, err := d.openStore(ctx, c)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()
	return fn(ctx, c, st)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
