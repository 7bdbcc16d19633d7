// Command migrate_data copies an SQLite inbox into the configured database,
// typically when moving a deployment from sqlite to postgres.
package main

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"whatsapp-inbox/internal/config"
	"whatsapp-inbox/internal/database"
	"whatsapp-inbox/internal/logging"
)

func main() {
	var source string

	cmd := &cobra.Command{
		Use:          "migrate_data",
		Short:        "Copy an SQLite inbox into the database configured by DB_DRIVER/DB_DSN",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), source)
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "path or DSN of the source SQLite database")
	cmd.MarkFlagRequired("source")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, source string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logging.Init(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.DBDriver == config.DriverSQLite && cfg.DBDSN == source {
		return errors.New("source and destination are the same database")
	}

	src, err := gorm.Open(sqlite.Open(source), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return errors.Wrap(err, "open source")
	}
	log.Info("Connected to source", zap.String("path", source))

	dst, err := database.Open(cfg)
	if err != nil {
		return err
	}

	log.Info("Starting data migration...")
	failed := 0
	for _, res := range database.CopyAll(ctx, src, dst) {
		if res.Err != nil {
			failed++
		}
	}

	if err := database.ResetSequences(ctx, dst); err != nil {
		return err
	}

	if failed > 0 {
		return errors.Errorf("%d tables failed to copy", failed)
	}
	log.Info("Migration completed")
	return nil
}
