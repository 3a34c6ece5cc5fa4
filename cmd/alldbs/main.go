package main

import (
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/sydlexius/alldbs/internal/config"
	"github.com/sydlexius/alldbs/internal/database"
	"github.com/sydlexius/alldbs/internal/logging"
	"github.com/sydlexius/alldbs/internal/registry"
)

const defaultConfigPath = "/data/config.yaml"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running with no subcommand serves.
func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "alldbs",
		Short:         "Registry of every database created through the client",
		Long:          "alldbs keeps a durable list of the databases created and destroyed through its adapters and serves it over HTTP.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}

	defPath := os.Getenv("ALLDBS_CONFIG_PATH")
	if defPath == "" {
		defPath = defaultConfigPath
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defPath, "path to config.yaml (env ALLDBS_CONFIG_PATH)")

	root.AddCommand(
		newServeCmd(&configPath),
		newListCmd(&configPath),
		newResetCmd(&configPath),
		newExportCmd(&configPath),
		newImportCmd(&configPath),
		newBackupCmd(&configPath),
		newHashTokenCmd(),
		newVersionCmd(),
	)
	return root
}

func loggingConfig(c config.LoggingConfig) logging.Config {
	return logging.Config{
		Level:          c.Level,
		Format:         c.Format,
		FilePath:       c.FilePath,
		FileMaxSizeMB:  c.FileMaxSizeMB,
		FileMaxFiles:   c.FileMaxFiles,
		FileMaxAgeDays: c.FileMaxAgeDays,
	}
}

// cliEnv is what the one-shot subcommands share.
type cliEnv struct {
	cfg    *config.Config
	db     *sql.DB
	reg    *registry.Registry
	logger *slog.Logger
	logs   *logging.Manager
}

func (e *cliEnv) Close() {
	if err := e.db.Close(); err != nil {
		e.logger.Error("closing database", "error", err)
	}
	e.logs.Close() //nolint:errcheck
}

// openCLI loads config and opens the registry, logging to stderr.
func openCLI(configPath string, stderr io.Writer) (*cliEnv, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logCfg := loggingConfig(cfg.Logging)
	logCfg.FilePath = ""
	logs, logger := logging.NewManagerWithWriter(logCfg, stderr)

	db, err := database.OpenMigrated(cfg.Database.Path)
	if err != nil {
		logs.Close() //nolint:errcheck
		return nil, fmt.Errorf("opening database: %w", err)
	}

	reg, err := newRegistry(db, cfg, logger)
	if err != nil {
		_ = db.Close()
		logs.Close() //nolint:errcheck
		return nil, err
	}
	return &cliEnv{cfg: cfg, db: db, reg: reg, logger: logger, logs: logs}, nil
}

func newRegistry(db *sql.DB, cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	policy, err := registry.ParseConflictPolicy(cfg.Registry.ConflictPolicy)
	if err != nil {
		return nil, err
	}
	reg := registry.New(db, logger)
	reg.SetConflictPolicy(policy)
	return reg, nil
}
