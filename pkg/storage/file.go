package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"autoclick_go/logger"
	"autoclick_go/models"
)

// RegistryVersion — текущая версия формата файла реестра.
const RegistryVersion = 1

type registryFile struct {
	Version  int              `json:"version"`
	Accounts []models.Account `json:"accounts"`
}

// FileRegistry хранит реестр в JSON-файле.
// Запись выполняется целиком во временный файл с последующим переименованием,
// чтение и добавление сериализованы мьютексом.
type FileRegistry struct {
	Path string

	mu sync.Mutex
}

// NewFileRegistry создаёт реестр поверх файла path.
func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{Path: path}
}

// Load читает все записи реестра.
func (r *FileRegistry) Load(ctx context.Context) ([]models.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read(), nil
}

// Append добавляет аккаунт, если телефона ещё нет в реестре, и сохраняет весь набор.
func (r *FileRegistry) Append(ctx context.Context, acc models.Account) (bool, error) {
	if acc.Phone == "" {
		return false, fmt.Errorf("empty phone")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts := r.read()
	for _, a := range accounts {
		if a.Phone == acc.Phone {
			return false, nil
		}
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now().UTC()
	}
	accounts = append(accounts, acc)
	if err := r.write(accounts); err != nil {
		return false, err
	}
	return true, nil
}

// read разбирает файл реестра. Предполагается, что мьютекс уже захвачен.
// Поддерживается старый формат — голый JSON-массив без версии.
func (r *FileRegistry) read() []models.Account {
	log := logger.For("registry")
	data, err := os.ReadFile(r.Path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Warnf("[REGISTRY] не удалось прочитать %s: %v", r.Path, err)
		}
		return []models.Account{}
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return []models.Account{}
	}

	var legacy []models.Account
	if data[0] == '[' {
		if err := json.Unmarshal(data, &legacy); err != nil {
			log.Warnf("[REGISTRY] файл %s повреждён, считаем реестр пустым: %v", r.Path, err)
			return []models.Account{}
		}
		return dedupe(legacy)
	}

	var doc registryFile
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("[REGISTRY] файл %s повреждён, считаем реестр пустым: %v", r.Path, err)
		return []models.Account{}
	}
	if doc.Version > RegistryVersion {
		log.Warnf("[REGISTRY] версия файла %d новее поддерживаемой %d", doc.Version, RegistryVersion)
	}
	return dedupe(doc.Accounts)
}

func (r *FileRegistry) write(accounts []models.Account) error {
	data, err := json.MarshalIndent(registryFile{Version: RegistryVersion, Accounts: accounts}, "", "    ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".registry-*.json")
	if err != nil {
		return fmt.Errorf("create temp registry: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), r.Path); err != nil {
		return fmt.Errorf("replace registry: %w", err)
	}
	return nil
}

// dedupe оставляет первую запись для каждого телефона.
func dedupe(accounts []models.Account) []models.Account {
	seen := make(map[string]struct{}, len(accounts))
	out := make([]models.Account, 0, len(accounts))
	for _, a := range accounts {
		if a.Phone == "" {
			continue
		}
		if _, ok := seen[a.Phone]; ok {
			continue
		}
		seen[a.Phone] = struct{}{}
		out = append(out, a)
	}
	return out
}
