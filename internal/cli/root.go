// Package cli holds the cobra commands of the docmap binary.
package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/docmap/docmap/internal/config"
	"github.com/docmap/docmap/internal/logging"
	"github.com/docmap/docmap/port/docstore"
)

type options struct {
	configPath string
	driver     string
	path       string
	dsn        string
}

func NewRootCommand() *cobra.Command {
	var opts options
	root := &cobra.Command{
		Use:           "docmap",
		Short:         "Map Go structs onto a document store",
		Long:          `docmap runs the employee directory walkthrough and inspects the stored documents.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "TOML or YAML configuration file")
	flags.StringVar(&opts.driver, "driver", "", "document store driver: memory, bolt, sqlite or postgres")
	flags.StringVar(&opts.path, "path", "", "database file of the bolt and sqlite drivers")
	flags.StringVar(&opts.dsn, "dsn", "", "connection string of the postgres driver")

	root.AddCommand(newDemoCommand(&opts), newDumpCommand(&opts))
	return root
}

// session is what a command needs to talk to the configured store.
type session struct {
	cfg    config.Config
	logger *zap.Logger
	store  docstore.Store
	close  func() error
}

func (opts *options) open(ctx context.Context, cmd *cobra.Command) (*session, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Store.Driver = opts.driver
	}
	if flags.Changed("path") {
		cfg.Store.Path = opts.path
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = opts.dsn
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	logger.Debug("store opened", zap.String("driver", cfg.Store.Driver))
	return &session{
		cfg:    cfg,
		logger: logger,
		store:  store,
		close: func() error {
			// syncing stderr fails on some terminals
			_ = logger.Sync()
			return closeStore()
		},
	}, nil
}
