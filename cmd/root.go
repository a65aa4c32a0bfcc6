package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/routesync/app"
	"github.com/kilianp07/routesync/config"
	"github.com/kilianp07/routesync/infra/logger"
)

var (
	cfgPath  string
	envPath  string
	seedPath string
)

var rootCmd = &cobra.Command{
	Use:   "routesync",
	Short: "Delivery route lifecycle and realtime sync service",
}

func init() {
	rootCmd.RunE = run
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "optional dotenv file loaded before the configuration")
	rootCmd.Flags().StringVar(&seedPath, "seed", "", "YAML seed applied to the store at startup")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envPath); err != nil {
		return nil, err
	}
	path := cfgPath
	if _, err := os.Stat(path); os.IsNotExist(err) && !rootCmd.PersistentFlags().Changed("config") {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	if seedPath != "" {
		if err := applySeed(ctx, svc.Store, seedPath, svc.Gate.Today()); err != nil {
			return err
		}
	}
	return svc.Run(ctx)
}
