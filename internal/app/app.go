// Package app связывает реестр аккаунтов, клиентов Telegram и супервизор задач.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"autoclick_go/internal/config"
	"autoclick_go/internal/supervisor"
	"autoclick_go/logger"
	"autoclick_go/models"
	"autoclick_go/pkg/storage"
	"autoclick_go/pkg/telegram/automation"
	"autoclick_go/pkg/telegram/client"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// App владеет живыми сессиями аккаунтов и их фоновыми задачами.
type App struct {
	Registry    storage.Registry
	Provider    client.Provider
	Supervisor  *supervisor.Supervisor
	Settings    automation.Settings
	Parallelism int

	mu       sync.Mutex
	sessions map[string]client.Session
	log      *logrus.Entry
}

// New создаёт приложение.
func New(reg storage.Registry, p client.Provider, sup *supervisor.Supervisor, set automation.Settings, parallelism int) *App {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &App{
		Registry:    reg,
		Provider:    p,
		Supervisor:  sup,
		Settings:    set,
		Parallelism: parallelism,
		sessions:    make(map[string]client.Session),
		log:         logger.For("app"),
	}
}

// SettingsFromConfig переводит настройки автоматизации из конфигурации.
func SettingsFromConfig(cfg config.AutomationConfig) automation.Settings {
	return automation.Settings{
		Contact:         cfg.Contact,
		StartCommand:    cfg.StartCommand,
		ClaimMarker:     cfg.ClaimMarker,
		SubscribeMarker: cfg.SubscribeMarker,
		ChannelMarker:   cfg.ChannelMarker,
		VerifyMarker:    cfg.VerifyMarker,
		RewardMarker:    cfg.RewardMarker,
		Interval:        time.Duration(cfg.IntervalSeconds) * time.Second,
		ReplyWait:       time.Duration(cfg.ReplyWaitSeconds) * time.Second,
		HistoryLimit:    cfg.HistoryLimit,
		HistoryTimeout:  time.Duration(cfg.HistoryTimeoutSeconds) * time.Second,
		ClickDelay:      cfg.ClickDelaySeconds,
		Symbols:         cfg.Symbols,
	}
}

// Resume поднимает задачи для всех аккаунтов реестра, которые ещё авторизованы.
// Неавторизованные сессии закрываются без повторного входа.
func (a *App) Resume(ctx context.Context) (int, error) {
	accounts, err := a.Registry.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load registry: %w", err)
	}
	a.log.Infof("[RESUME] аккаунтов в реестре: %d", len(accounts))

	var resumed atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.Parallelism)
	for _, acc := range accounts {
		acc := acc
		if a.Supervisor.Running(acc.Phone) {
			continue
		}
		g.Go(func() error {
			if a.resumeOne(gctx, acc) {
				resumed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(resumed.Load()), err
	}
	a.log.Infof("[RESUME] восстановлено задач: %d", resumed.Load())
	return int(resumed.Load()), nil
}

func (a *App) resumeOne(ctx context.Context, acc models.Account) bool {
	sess, err := a.Provider.Open(ctx, client.Credentials{
		Phone:       acc.Phone,
		ApiID:       acc.ApiID,
		ApiHash:     acc.ApiHash,
		SessionName: acc.SessionName,
	})
	if err != nil {
		a.log.Warnf("[RESUME] %s: не удалось подключиться: %v", acc.Phone, err)
		return false
	}

	authorized, err := sess.IsAuthorized(ctx)
	if err != nil || !authorized {
		if err != nil {
			a.log.Warnf("[RESUME] %s: проверка авторизации не удалась: %v", acc.Phone, err)
		} else {
			a.log.Infof("[RESUME] %s: сессия не авторизована, пропускаем", acc.Phone)
		}
		sess.Close()
		return false
	}

	if err := a.StartAutomation(acc, sess); err != nil {
		a.log.Warnf("[RESUME] %s: %v", acc.Phone, err)
		sess.Close()
		return false
	}
	return true
}

// OnAuthorized сохраняет аккаунт в реестр и запускает его задачу.
// Ошибка записи в реестр не мешает запуску, но возвращается вызывающему.
func (a *App) OnAuthorized(ctx context.Context, acc models.Account, sess client.Session) error {
	added, appendErr := a.Registry.Append(ctx, acc)
	switch {
	case appendErr != nil:
		a.log.Errorf("[REGISTRY] %s: не удалось сохранить аккаунт: %v", acc.Phone, appendErr)
	case added:
		a.log.Infof("[REGISTRY] %s: аккаунт добавлен", acc.Phone)
	default:
		a.log.Infof("[REGISTRY] %s: аккаунт уже есть в реестре", acc.Phone)
	}

	if err := a.StartAutomation(acc, sess); err != nil {
		sess.Close()
		if errors.Is(err, supervisor.ErrAlreadyRunning) {
			return fmt.Errorf("автоматизация для %s уже запущена", acc.Phone)
		}
		return err
	}
	if appendErr != nil {
		return fmt.Errorf("автоматизация запущена, но аккаунт не сохранён и не будет восстановлен после перезапуска: %w", appendErr)
	}
	return nil
}

// StartAutomation запускает фоновую задачу под супервизором.
// Сессия закрывается, когда задача завершится.
func (a *App) StartAutomation(acc models.Account, sess client.Session) error {
	phone := acc.Phone
	task := automation.New(phone, sess, a.Settings)
	task.OnCycle = func(err error) { a.Supervisor.Touch(phone, err) }

	// Сессия попадает в карту только после успешного запуска задачи
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.Supervisor.Start(phone, task.Run, func() {
		a.release(phone, sess)
	}); err != nil {
		return err
	}
	a.sessions[phone] = sess
	return nil
}

// Sessions возвращает телефоны аккаунтов с живыми сессиями.
func (a *App) Sessions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	phones := make([]string, 0, len(a.sessions))
	for p := range a.sessions {
		phones = append(phones, p)
	}
	return phones
}

func (a *App) release(phone string, sess client.Session) {
	a.forget(phone, sess)
	if err := sess.Close(); err != nil {
		a.log.Warnf("[SESSION] %s: ошибка закрытия: %v", phone, err)
	}
}

func (a *App) forget(phone string, sess client.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if cur, ok := a.sessions[phone]; ok && cur == sess {
		delete(a.sessions, phone)
	}
}
