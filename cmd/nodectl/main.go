package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lk2023060901/storage-gateway/internal/conf"
	"github.com/lk2023060901/storage-gateway/internal/pkg/crypto"
	"github.com/lk2023060901/storage-gateway/internal/pkg/database"
	"github.com/lk2023060901/storage-gateway/internal/pkg/logger"
	"github.com/lk2023060901/storage-gateway/internal/storage/biz"
	"github.com/lk2023060901/storage-gateway/internal/storage/data"
)

// dbOpener opens the metadata database; tests swap in sqlite
type dbOpener func(cfg *database.Config, log *logger.Logger) (*database.DB, error)

type cli struct {
	cfgFile string
	openDB  dbOpener
	config  *conf.Config
	logger  *logger.Logger
}

func newRootCmd(openDB dbOpener) *cobra.Command {
	c := &cli{openDB: openDB}

	root := &cobra.Command{
		Use:           "nodectl",
		Short:         "Administer storage gateway nodes, schema and tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.load()
		},
	}
	root.PersistentFlags().StringVar(&c.cfgFile, "config", "configs/config.yaml", "config file path")

	root.AddCommand(c.migrateCmd())
	root.AddCommand(c.nodeCmd())
	root.AddCommand(c.tokenCmd())
	return root
}

func (c *cli) load() error {
	config, err := conf.LoadConfig(c.cfgFile)
	if err != nil {
		return err
	}
	c.config = config

	logCfg := config.Log
	logCfg.Output = "console"
	logCfg.Level = "warn"
	log, err := logger.New(&logCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	c.logger = log
	return nil
}

func (c *cli) database() (*database.DB, error) {
	db, err := c.openDB(&c.config.Database, c.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

// registry builds a node registry; node administration only needs the credential key
func (c *cli) registry(db *database.DB) (*biz.NodeRegistry, error) {
	credKey, err := crypto.DeriveKey([]byte(c.config.Security.MasterSecret), crypto.PurposeCredentials)
	if err != nil {
		return nil, err
	}
	enc, err := biz.NewEncryptionService(biz.NewMemoryKeyStore(1), credKey)
	if err != nil {
		return nil, err
	}
	return biz.NewNodeRegistry(data.NewNodeRepo(db), enc, c.logger), nil
}

func main() {
	if err := newRootCmd(database.New).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
