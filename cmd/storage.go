package cmd

import (
	"context"
	"fmt"

	"autoclick_go/internal/config"
	"autoclick_go/pkg/storage"
	"autoclick_go/pkg/telegram/module"
)

// backend — выбранное хранилище реестра и сессий.
type backend struct {
	Registry storage.Registry
	Sessions module.StorageFactory
	Close    func() error
}

// openBackend подключает хранилище из конфигурации.
// Для Postgres перед работой применяются миграции.
func openBackend(ctx context.Context, cfg config.StorageConfig) (*backend, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		conn, err := storage.Connect(ctx, cfg.DSN, cfg.MaxConns)
		if err != nil {
			return nil, err
		}
		if err := storage.RunMigrations(cfg.DSN); err != nil {
			conn.Close()
			return nil, err
		}
		return &backend{
			Registry: storage.NewDB(conn),
			Sessions: module.DBStorages(conn),
			Close:    conn.Close,
		}, nil
	case config.BackendFile:
		return &backend{
			Registry: storage.NewFileRegistry(cfg.RegistryPath),
			Sessions: module.FileStorages(cfg.SessionsDir),
			Close:    func() error { return nil },
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
