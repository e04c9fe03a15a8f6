// Package cmd — команды командной строки сервиса.
package cmd

import (
	"context"
	"fmt"
	"os"

	"autoclick_go/internal/config"
	"autoclick_go/logger"

	"github.com/spf13/cobra"
)

var cfgFile string

// Execute разбирает аргументы и запускает выбранную команду.
func Execute() {
	rootCmd := &cobra.Command{
		Use:   "autoclick",
		Short: "Подключение Telegram-аккаунтов и автоматический сбор урожая",
		// Без подкоманды запускается сервис.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfig, "config file path (env CONFIG_PATH)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newAccountsCmd())
	rootCmd.AddCommand(newMigrateCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// initConfig загружает конфигурацию и настраивает логгер.
func initConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
