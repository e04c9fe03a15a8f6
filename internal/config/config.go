package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"autoclick_go/models"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// BackendFile хранит реестр и сессии в файлах.
	BackendFile = "file"
	// BackendPostgres хранит реестр и сессии в Postgres.
	BackendPostgres = "postgres"
)

// TelegramConfig — настройки бота, через которого идёт подключение аккаунтов.
type TelegramConfig struct {
	Token                  string `yaml:"token" envconfig:"BOT_TOKEN"`
	AdminID                int64  `yaml:"admin_id" envconfig:"TELEGRAM_ADMIN_ID"`
	LongPollTimeoutSeconds int    `yaml:"longpoll_timeout_seconds" envconfig:"TELEGRAM_LONGPOLL_TIMEOUT_SECONDS"`
}

// ProviderConfig — параметры клиентов Telegram (MTProto), которыми управляет программа.
type ProviderConfig struct {
	Proxy                 models.Proxy `yaml:"proxy"`
	ConnectTimeoutSeconds int          `yaml:"connect_timeout_seconds" envconfig:"PROVIDER_CONNECT_TIMEOUT_SECONDS"`
}

// StorageConfig выбирает хранилище реестра аккаунтов и сессий.
type StorageConfig struct {
	Backend      string `yaml:"backend" envconfig:"STORAGE_BACKEND"`
	RegistryPath string `yaml:"registry_path" envconfig:"REGISTRY_PATH"`
	SessionsDir  string `yaml:"sessions_dir" envconfig:"SESSIONS_DIR"`
	DSN          string `yaml:"dsn" envconfig:"DB_DSN"`
	MaxConns     int    `yaml:"max_connections" envconfig:"DB_MAX_CONNECTIONS"`
}

// AutomationConfig — маркеры и тайминги фоновой задачи.
type AutomationConfig struct {
	Contact               string            `yaml:"contact" envconfig:"AUTOMATION_CONTACT"`
	StartCommand          string            `yaml:"start_command"`
	ClaimMarker           string            `yaml:"claim_marker"`
	SubscribeMarker       string            `yaml:"subscribe_marker"`
	ChannelMarker         string            `yaml:"channel_marker"`
	VerifyMarker          string            `yaml:"verify_marker"`
	RewardMarker          string            `yaml:"reward_marker"`
	IntervalSeconds       int               `yaml:"interval_seconds" envconfig:"AUTOMATION_INTERVAL_SECONDS"`
	ReplyWaitSeconds      int               `yaml:"reply_wait_seconds"`
	HistoryLimit          int               `yaml:"history_limit"`
	HistoryTimeoutSeconds int               `yaml:"history_timeout_seconds"`
	ClickDelaySeconds     [2]int            `yaml:"click_delay_seconds"`
	ResumeParallelism     int               `yaml:"resume_parallelism"`
	Symbols               map[string]string `yaml:"symbols"`
}

// HTTPConfig — операторский HTTP API.
type HTTPConfig struct {
	Listen string `yaml:"listen" envconfig:"HTTP_LISTEN"`
	Token  string `yaml:"token" envconfig:"HTTP_TOKEN"`
}

// LoggingConfig — уровень и формат логов.
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LOG_LEVEL"`
	Format string `yaml:"format" envconfig:"LOG_FORMAT"`
}

// Config объединяет все настройки приложения.
type Config struct {
	Telegram   TelegramConfig   `yaml:"telegram"`
	Provider   ProviderConfig   `yaml:"provider"`
	Storage    StorageConfig    `yaml:"storage"`
	Automation AutomationConfig `yaml:"automation"`
	HTTP       HTTPConfig       `yaml:"http"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DefaultSymbols — таблица «название → эмодзи» для сообщений о награде.
var DefaultSymbols = map[string]string{
	"Банан":    "🍌",
	"Яблоко":   "🍎",
	"Груша":    "🍐",
	"Апельсин": "🍊",
	"Лимон":    "🍋",
	"Арбуз":    "🍉",
	"Виноград": "🍇",
	"Клубника": "🍓",
	"Вишня":    "🍒",
	"Персик":   "🍑",
	"Ананас":   "🍍",
	"Киви":     "🥝",
	"Кокос":    "🥥",
	"Морковь":  "🥕",
	"Помидор":  "🍅",
	"Баклажан": "🍆",
	"Кукуруза": "🌽",
}

// Load читает YAML-файл и переопределяет значения переменными окружения.
// Отсутствующий файл не считается ошибкой: всё можно задать через окружение.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse YAML config: %w", err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env: %w", err)
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize проверяет обязательные поля и подставляет значения по умолчанию.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	if cfg.Telegram.LongPollTimeoutSeconds <= 0 {
		cfg.Telegram.LongPollTimeoutSeconds = 10
	}
	if cfg.Provider.ConnectTimeoutSeconds <= 0 {
		cfg.Provider.ConnectTimeoutSeconds = 30
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Storage.Backend))
	if backend == "" {
		backend = BackendFile
	}
	switch backend {
	case BackendFile:
		if cfg.Storage.RegistryPath == "" {
			cfg.Storage.RegistryPath = "accounts.json"
		}
		if cfg.Storage.SessionsDir == "" {
			cfg.Storage.SessionsDir = "sessions"
		}
	case BackendPostgres:
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			return fmt.Errorf("storage.dsn is required when storage.backend is 'postgres'")
		}
		if cfg.Storage.MaxConns <= 0 {
			cfg.Storage.MaxConns = 5
		}
	default:
		return fmt.Errorf("invalid storage.backend %q; allowed: file, postgres", cfg.Storage.Backend)
	}
	cfg.Storage.Backend = backend

	a := &cfg.Automation
	if a.Contact == "" {
		a.Contact = "fruit_farm_bot"
	}
	a.Contact = strings.TrimPrefix(a.Contact, "@")
	if a.StartCommand == "" {
		a.StartCommand = "/start"
	}
	if a.ClaimMarker == "" {
		a.ClaimMarker = "Собрать урожай"
	}
	if a.SubscribeMarker == "" {
		a.SubscribeMarker = "Подпишитесь"
	}
	if a.ChannelMarker == "" {
		a.ChannelMarker = "Подписаться"
	}
	if a.VerifyMarker == "" {
		a.VerifyMarker = "Проверить"
	}
	if a.RewardMarker == "" {
		a.RewardMarker = "где изображено"
	}
	if a.IntervalSeconds <= 0 {
		a.IntervalSeconds = 360
	}
	if a.ReplyWaitSeconds <= 0 {
		a.ReplyWaitSeconds = 3
	}
	if a.HistoryLimit <= 0 {
		a.HistoryLimit = 5
	}
	if a.HistoryTimeoutSeconds <= 0 {
		a.HistoryTimeoutSeconds = 15
	}
	if a.ClickDelaySeconds[0] < 0 || a.ClickDelaySeconds[1] < a.ClickDelaySeconds[0] {
		return fmt.Errorf("automation.click_delay_seconds must be [min, max] with 0 <= min <= max")
	}
	if a.ClickDelaySeconds == [2]int{} {
		a.ClickDelaySeconds = [2]int{1, 2}
	}
	if a.ResumeParallelism <= 0 {
		a.ResumeParallelism = 4
	}
	if len(a.Symbols) == 0 {
		a.Symbols = DefaultSymbols
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8080"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return nil
}

// RequireBot проверяет настройки, без которых бот не запустится.
func (c *Config) RequireBot() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram token is required")
	}
	return nil
}
