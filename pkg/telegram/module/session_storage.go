package module

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	"autoclick_go/logger"

	"github.com/gotd/td/session"
	"github.com/jmoiron/sqlx"
)

// DBSessionStorage хранит и загружает сессии Telegram из таблицы account_session.
type DBSessionStorage struct {
	DB          *sqlx.DB
	SessionName string
}

// LoadSession загружает текст сессии из БД.
func (s *DBSessionStorage) LoadSession(ctx context.Context) ([]byte, error) {
	if s == nil || s.DB == nil {
		return nil, session.ErrNotFound
	}

	var data string
	// session_name уникален, поэтому достаточно выбрать одну запись без сортировки.
	err := s.DB.QueryRowContext(ctx, "SELECT data_json FROM account_session WHERE session_name = $1", s.SessionName).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		logger.For("session").Errorf("[DBSessionStorage] ошибка чтения сессии: %v", err)
		return nil, err
	}
	return []byte(data), nil
}

// StoreSession сохраняет текст сессии в БД.
func (s *DBSessionStorage) StoreSession(ctx context.Context, data []byte) error {
	if s == nil || s.DB == nil {
		return session.ErrNotFound
	}
	// Обновляем существующую запись сессии, чтобы не создавать дубликаты
	_, err := s.DB.ExecContext(
		ctx,
		"INSERT INTO account_session (session_name, data_json) VALUES ($1, $2) "+
			"ON CONFLICT (session_name) DO UPDATE SET data_json = EXCLUDED.data_json, date_time = NOW()",
		s.SessionName,
		string(data),
	)
	if err != nil {
		logger.For("session").Errorf("[DBSessionStorage] ошибка сохранения сессии: %v", err)
		return err
	}
	return nil
}

// StorageFactory создаёт хранилище сессии по её имени.
type StorageFactory func(sessionName string) session.Storage

// FileStorages хранит каждую сессию в отдельном файле каталога dir.
func FileStorages(dir string) StorageFactory {
	return func(name string) session.Storage {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			logger.For("session").Errorf("[SESSION] не удалось создать каталог %s: %v", dir, err)
		}
		return &session.FileStorage{Path: filepath.Join(dir, name+".session.json")}
	}
}

// DBStorages хранит сессии в таблице account_session.
func DBStorages(db *sqlx.DB) StorageFactory {
	return func(name string) session.Storage {
		return &DBSessionStorage{DB: db, SessionName: name}
	}
}
