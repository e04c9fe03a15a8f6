package storage

import (
	"context"
	"fmt"
	"time"

	"autoclick_go/logger"
	"autoclick_go/models"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// DB — реестр аккаунтов и хранилище сессий в Postgres.
type DB struct {
	Conn *sqlx.DB
}

func NewDB(conn *sqlx.DB) *DB {
	return &DB{Conn: conn}
}

// Connect открывает соединение с Postgres и ждёт готовности базы.
// Попытки повторяются с экспоненциальной задержкой, пока не истечёт контекст.
func Connect(ctx context.Context, dsn string, maxConns int) (*sqlx.DB, error) {
	log := logger.For("db")
	var conn *sqlx.DB

	op := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		c, err := sqlx.ConnectContext(attemptCtx, "postgres", dsn)
		if err != nil {
			log.Warnf("[DB] подключение не удалось, повторим: %v", err)
			return err
		}
		conn = c
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	if maxConns > 0 {
		conn.SetMaxOpenConns(maxConns)
		conn.SetMaxIdleConns(maxConns)
	}
	log.Infof("[DB] подключение установлено, пул %d", maxConns)
	return conn, nil
}

// Load возвращает все аккаунты реестра в порядке добавления.
func (db *DB) Load(ctx context.Context) ([]models.Account, error) {
	query := `
		SELECT phone, api_id, api_hash, session_name, created_at
		FROM accounts
		ORDER BY id
	`
	var accounts []models.Account
	if err := db.Conn.SelectContext(ctx, &accounts, query); err != nil {
		logger.For("db").Errorf("[DB ERROR] Failed to load accounts: %v", err)
		return nil, fmt.Errorf("load accounts: %w", err)
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	return accounts, nil
}

// Append сохраняет аккаунт. Повторная вставка того же телефона ничего не меняет.
func (db *DB) Append(ctx context.Context, acc models.Account) (bool, error) {
	if acc.Phone == "" {
		return false, fmt.Errorf("empty phone")
	}
	query := `
		INSERT INTO accounts (phone, api_id, api_hash, session_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	res, err := db.Conn.ExecContext(ctx, query, acc.Phone, acc.ApiID, acc.ApiHash, acc.SessionName)
	if err != nil {
		return false, fmt.Errorf("append account: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
