package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesync/core/model"
	"github.com/kilianp07/routesync/core/store"
	"github.com/kilianp07/routesync/infra/logger"
	_ "github.com/kilianp07/routesync/infra/sqlstore" // sqlite and postgres backends
)

var migrateSeed string

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the schema and optionally import a YAML seed",
	RunE:  runMigrate,
}

func init() {
	migrateCmd.Flags().StringVar(&migrateSeed, "seed", "", "YAML file of routes, stops and safety checks")
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logger.New("migrate")
	// Opening a SQL backend applies the schema.
	st, err := store.Open(cfg.Store)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Store.Type, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Errorf("store close: %v", err)
		}
	}()
	log.Infof("schema ready on %s store", cfg.Store.Type)
	if migrateSeed == "" {
		return nil
	}
	loc, err := cfg.Safety.Location()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()
	return applySeed(ctx, st, migrateSeed, model.Day(time.Now(), loc))
}

func applySeed(ctx context.Context, st store.Store, path, today string) error {
	seed, err := store.LoadSeed(path)
	if err != nil {
		return err
	}
	if err := seed.Apply(ctx, st, st, today, time.Now()); err != nil {
		return err
	}
	logger.New("seed").Infof("seeded %d routes from %s", len(seed.Routes), path)
	return nil
}
