// Package bot — Telegram-бот, через который пользователь подключает аккаунты.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"autoclick_go/internal/config"
	"autoclick_go/logger"
	"autoclick_go/models"

	"github.com/sirupsen/logrus"
	tele "gopkg.in/telebot.v4"
)

// Onboarding — операции подключения аккаунта, доступные из чата.
type Onboarding interface {
	Start(ctx context.Context, chatID int64) error
	Handle(ctx context.Context, chatID int64, text string) error
	Resend(ctx context.Context, chatID int64) error
	Cancel(ctx context.Context, chatID int64) error
	Pending(chatID int64) bool
}

// TaskStatusSource отдаёт состояние фоновых задач.
type TaskStatusSource interface {
	Status() []models.TaskStatus
}

// NewAPI создаёт клиента Bot API с long polling.
func NewAPI(cfg config.TelegramConfig) (*tele.Bot, error) {
	log := logger.For("bot")
	return tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(cfg.LongPollTimeoutSeconds) * time.Second},
		OnError: func(err error, c tele.Context) {
			if c != nil && c.Chat() != nil {
				log.Errorf("[BOT] чат %d: %v", c.Chat().ID, err)
				return
			}
			log.Errorf("[BOT] %v", err)
		},
	})
}

// Replier отправляет ответы контроллера подключения через Bot API.
type Replier struct {
	API *tele.Bot
}

func (r Replier) Reply(ctx context.Context, chatID int64, text string) error {
	_, err := r.API.Send(tele.ChatID(chatID), text)
	return err
}

// Bot маршрутизирует команды и текст к контроллеру подключения.
type Bot struct {
	api     *tele.Bot
	ob      Onboarding
	tasks   TaskStatusSource
	adminID int64
	active  atomic.Bool
	ctx     context.Context
	log     *logrus.Entry
}

// New регистрирует обработчики на api. ctx передаётся шагам подключения.
func New(ctx context.Context, api *tele.Bot, ob Onboarding, tasks TaskStatusSource, adminID int64) *Bot {
	b := &Bot{
		api:     api,
		ob:      ob,
		tasks:   tasks,
		adminID: adminID,
		ctx:     ctx,
		log:     logger.For("bot"),
	}
	b.active.Store(true)

	api.Use(Recover, Logging, b.ActiveGuard)

	api.Handle("/start", b.handleHelp)
	api.Handle("/help", b.handleHelp)
	api.Handle("/login", b.handleLogin)
	api.Handle("/resend", b.handleResend)
	api.Handle("/cancel", b.handleCancel)
	api.Handle("/status", b.handleStatus, b.AdminOnly)
	api.Handle("/pause", b.handlePause, b.AdminOnly)
	api.Handle("/resume", b.handleResume, b.AdminOnly)
	api.Handle(tele.OnText, b.handleText)
	return b
}

// Run принимает обновления до отмены ctx.
func (b *Bot) Run(ctx context.Context) {
	go func() {
		<-ctx.Done()
		b.api.Stop()
	}()
	b.log.Infof("[BOT] бот @%s запущен", b.api.Me.Username)
	b.api.Start()
	b.log.Infof("[BOT] бот остановлен")
}

// Active сообщает, принимает ли бот команды пользователей.
func (b *Bot) Active() bool { return b.active.Load() }

func (b *Bot) isAdmin(c tele.Context) bool {
	return b.adminID != 0 && c.Sender() != nil && c.Sender().ID == b.adminID
}

func (b *Bot) handleHelp(c tele.Context) error {
	return c.Send(helpText)
}

func (b *Bot) handleLogin(c tele.Context) error {
	return b.ob.Start(b.ctx, c.Chat().ID)
}

func (b *Bot) handleResend(c tele.Context) error {
	return b.ob.Resend(b.ctx, c.Chat().ID)
}

func (b *Bot) handleCancel(c tele.Context) error {
	return b.ob.Cancel(b.ctx, c.Chat().ID)
}

func (b *Bot) handleText(c tele.Context) error {
	chatID := c.Chat().ID
	if !b.ob.Pending(chatID) {
		return c.Send(helpText)
	}
	return b.ob.Handle(b.ctx, chatID, c.Text())
}

func (b *Bot) handleStatus(c tele.Context) error {
	return c.Send(FormatStatus(b.tasks.Status(), b.Active()))
}

func (b *Bot) handlePause(c tele.Context) error {
	b.active.Store(false)
	b.log.Warnf("[BOT] бот приостановлен администратором")
	return c.Send("Бот приостановлен. /resume — возобновить.")
}

func (b *Bot) handleResume(c tele.Context) error {
	b.active.Store(true)
	b.log.Infof("[BOT] бот возобновлён администратором")
	return c.Send("Бот снова принимает команды.")
}

// FormatStatus собирает текст ответа на /status.
func FormatStatus(tasks []models.TaskStatus, active bool) string {
	var sb strings.Builder
	state := "активен"
	if !active {
		state = "приостановлен"
	}
	fmt.Fprintf(&sb, "Бот %s. Задач: %d\n", state, len(tasks))
	for _, t := range tasks {
		fmt.Fprintf(&sb, "\n%s — %s, витков %d", t.Phone, t.State, t.Cycles)
		if t.LastCycle != nil {
			fmt.Fprintf(&sb, ", последний %s", t.LastCycle.Format("02.01 15:04:05"))
		}
		if t.LastError != "" {
			fmt.Fprintf(&sb, "\n  ошибка: %s", t.LastError)
		}
	}
	return sb.String()
}

const helpText = `Бот подключает Telegram-аккаунты к автоматическому сбору урожая.

/login — подключить аккаунт
/resend — прислать код входа ещё раз
/cancel — отменить подключение`
