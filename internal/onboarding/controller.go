// Package onboarding ведёт диалог подключения аккаунта: телефон, api_id, api_hash,
// код входа и, при необходимости, пароль двухфакторной защиты.
package onboarding

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"autoclick_go/logger"
	"autoclick_go/models"
	"autoclick_go/pkg/telegram/client"
	"autoclick_go/pkg/telegram/module/account_mutex"

	"github.com/sirupsen/logrus"
)

// Step — шаг диалога подключения.
type Step int

const (
	AwaitingPhone Step = iota
	AwaitingApiID
	AwaitingApiHash
	AwaitingCode
	AwaitingTwoFactor
)

func (s Step) String() string {
	switch s {
	case AwaitingPhone:
		return "awaiting_phone"
	case AwaitingApiID:
		return "awaiting_api_id"
	case AwaitingApiHash:
		return "awaiting_api_hash"
	case AwaitingCode:
		return "awaiting_code"
	case AwaitingTwoFactor:
		return "awaiting_two_factor"
	default:
		return "unknown"
	}
}

var (
	phonePattern  = regexp.MustCompile(`^\+\d{7,}$`)
	digitsPattern = regexp.MustCompile(`^\d+$`)
)

// Replier отправляет ответ в чат.
type Replier interface {
	Reply(ctx context.Context, chatID int64, text string) error
}

// AuthorizedFunc получает авторизованную сессию и дальше владеет ею.
type AuthorizedFunc func(ctx context.Context, acc models.Account, s client.Session) error

// pending — незавершённое подключение одного чата. Хранится только в памяти.
type pending struct {
	step        Step
	phone       string
	apiID       int
	apiHash     string
	session     client.Session
	codeExpired bool
	touched     time.Time
}

// Controller владеет незавершёнными подключениями всех чатов.
// Шаги одного чата выполняются строго по очереди.
type Controller struct {
	provider     client.Provider
	replier      Replier
	onAuthorized AuthorizedFunc
	stepTimeout  time.Duration
	idleTTL      time.Duration
	now          func() time.Time

	mu      sync.Mutex
	pending map[int64]pending
	chats   *account_mutex.Locker
	log     *logrus.Entry
}

// NewController создаёт контроллер. onAuthorized вызывается после успешного входа.
func NewController(p client.Provider, r Replier, onAuthorized AuthorizedFunc) *Controller {
	return &Controller{
		provider:     p,
		replier:      r,
		onAuthorized: onAuthorized,
		stepTimeout:  2 * time.Minute,
		idleTTL:      15 * time.Minute,
		now:          time.Now,
		pending:      make(map[int64]pending),
		chats:        account_mutex.New("chat"),
		log:          logger.For("onboarding"),
	}
}

// Step возвращает текущий шаг чата и признак наличия незавершённого подключения.
func (c *Controller) Step(chatID int64) (Step, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[chatID]
	return p.step, ok
}

// Pending сообщает, ждёт ли контроллер ввода от чата.
func (c *Controller) Pending(chatID int64) bool {
	_, ok := c.Step(chatID)
	return ok
}

// Start начинает подключение заново. Прежнее подключение чата закрывается.
func (c *Controller) Start(ctx context.Context, chatID int64) error {
	release, busy := c.lock(chatID)
	if busy {
		return c.reply(ctx, chatID, msgBusy)
	}
	defer release()

	c.mu.Lock()
	old, replaced := c.pending[chatID]
	c.pending[chatID] = pending{step: AwaitingPhone, touched: c.now()}
	c.mu.Unlock()

	if replaced {
		c.log.Infof("[ONBOARDING] чат %d: прежнее подключение (%s) заменено", chatID, old.step)
		c.closeSession(old)
	}
	return c.reply(ctx, chatID, msgAskPhone)
}

// Cancel прерывает подключение чата и закрывает открытую сессию.
func (c *Controller) Cancel(ctx context.Context, chatID int64) error {
	release, busy := c.lock(chatID)
	if busy {
		return c.reply(ctx, chatID, msgBusy)
	}
	defer release()

	p, ok := c.take(chatID)
	if !ok {
		return c.reply(ctx, chatID, msgNothingToCancel)
	}
	c.closeSession(p)
	return c.reply(ctx, chatID, msgCancelled)
}

// Resend повторно запрашивает код входа для чата, ожидающего код.
func (c *Controller) Resend(ctx context.Context, chatID int64) error {
	release, busy := c.lock(chatID)
	if busy {
		return c.reply(ctx, chatID, msgBusy)
	}
	defer release()

	c.mu.Lock()
	p, ok := c.pending[chatID]
	c.mu.Unlock()
	if !ok || p.step != AwaitingCode || p.session == nil {
		return c.reply(ctx, chatID, msgNoCodePending)
	}

	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()
	if err := p.session.RequestCode(stepCtx); err != nil {
		if errors.Is(err, client.ErrAlreadyAuthorized) {
			return c.succeed(ctx, chatID, p)
		}
		if _, limited := client.AsRateLimit(err); limited {
			return c.abort(ctx, chatID, p, err)
		}
		c.log.Warnf("[ONBOARDING] чат %d: повторный запрос кода не удался: %v", chatID, err)
		return c.reply(ctx, chatID, fmt.Sprintf("Не удалось отправить код повторно: %v. Попробуйте /resend ещё раз или начните заново /login.", err))
	}
	p.codeExpired = false
	c.put(chatID, p)
	return c.reply(ctx, chatID, msgCodeResent)
}

// Handle продвигает подключение чата на один шаг по введённому тексту.
func (c *Controller) Handle(ctx context.Context, chatID int64, text string) error {
	release, busy := c.lock(chatID)
	if busy {
		return c.reply(ctx, chatID, msgBusy)
	}
	defer release()

	c.mu.Lock()
	p, ok := c.pending[chatID]
	c.mu.Unlock()
	if !ok {
		return c.reply(ctx, chatID, msgNoPending)
	}

	text = strings.TrimSpace(text)
	stepCtx, cancel := context.WithTimeout(ctx, c.stepTimeout)
	defer cancel()

	switch p.step {
	case AwaitingPhone:
		if !phonePattern.MatchString(text) {
			return c.reply(ctx, chatID, msgBadPhone)
		}
		p.phone = text
		p.step = AwaitingApiID
		c.put(chatID, p)
		return c.reply(ctx, chatID, msgAskApiID)

	case AwaitingApiID:
		if !digitsPattern.MatchString(text) {
			return c.reply(ctx, chatID, msgBadApiID)
		}
		id, err := strconv.Atoi(text)
		if err != nil || id <= 0 {
			return c.reply(ctx, chatID, msgBadApiID)
		}
		p.apiID = id
		p.step = AwaitingApiHash
		c.put(chatID, p)
		return c.reply(ctx, chatID, msgAskApiHash)

	case AwaitingApiHash:
		if text == "" {
			return c.reply(ctx, chatID, msgAskApiHash)
		}
		p.apiHash = text
		return c.connect(ctx, stepCtx, chatID, p)

	case AwaitingCode:
		if !digitsPattern.MatchString(text) {
			return c.reply(ctx, chatID, msgBadCode)
		}
		if p.codeExpired {
			return c.reply(ctx, chatID, msgCodeExpired)
		}
		err := p.session.SignIn(stepCtx, text)
		switch {
		case err == nil:
			return c.succeed(ctx, chatID, p)
		case errors.Is(err, client.ErrPasswordRequired):
			p.step = AwaitingTwoFactor
			c.put(chatID, p)
			return c.reply(ctx, chatID, msgAskPassword)
		case errors.Is(err, client.ErrCodeExpired):
			p.codeExpired = true
			c.put(chatID, p)
			return c.reply(ctx, chatID, msgCodeExpired)
		default:
			return c.abort(ctx, chatID, p, err)
		}

	case AwaitingTwoFactor:
		if text == "" {
			return c.reply(ctx, chatID, msgAskPassword)
		}
		if err := p.session.SignInPassword(stepCtx, text); err != nil {
			return c.abort(ctx, chatID, p, err)
		}
		return c.succeed(ctx, chatID, p)
	}
	return nil
}

// connect открывает сессию и либо сразу завершает подключение, либо запрашивает код.
func (c *Controller) connect(ctx, stepCtx context.Context, chatID int64, p pending) error {
	creds := client.Credentials{
		Phone:       p.phone,
		ApiID:       p.apiID,
		ApiHash:     p.apiHash,
		SessionName: SessionName(p.phone),
	}
	sess, err := c.provider.Open(stepCtx, creds)
	if err != nil {
		return c.abort(ctx, chatID, p, err)
	}
	p.session = sess

	authorized, err := sess.IsAuthorized(stepCtx)
	if err != nil {
		return c.abort(ctx, chatID, p, err)
	}
	if authorized {
		c.log.Infof("[ONBOARDING] %s уже авторизован", p.phone)
		return c.succeed(ctx, chatID, p)
	}

	if err := sess.RequestCode(stepCtx); err != nil {
		if errors.Is(err, client.ErrAlreadyAuthorized) {
			return c.succeed(ctx, chatID, p)
		}
		return c.abort(ctx, chatID, p, err)
	}
	p.step = AwaitingCode
	c.put(chatID, p)
	return c.reply(ctx, chatID, msgAskCode)
}

// SweepIdle закрывает подключения, от которых дольше idleTTL не было ввода.
// Чаты с выполняющимся шагом пропускаются.
func (c *Controller) SweepIdle(ctx context.Context) int {
	deadline := c.now().Add(-c.idleTTL)

	c.mu.Lock()
	var idle []int64
	for chatID, p := range c.pending {
		if p.touched.Before(deadline) {
			idle = append(idle, chatID)
		}
	}
	c.mu.Unlock()

	swept := 0
	for _, chatID := range idle {
		release, busy := c.lock(chatID)
		if busy {
			continue
		}
		c.mu.Lock()
		p, ok := c.pending[chatID]
		if ok && p.touched.Before(deadline) {
			delete(c.pending, chatID)
		} else {
			ok = false
		}
		c.mu.Unlock()
		if ok {
			c.closeSession(p)
			c.log.Infof("[ONBOARDING] чат %d (%s, шаг %s): подключение закрыто по бездействию", chatID, p.phone, p.step)
			c.reply(ctx, chatID, msgIdleExpired)
			swept++
		}
		release()
	}
	return swept
}

// RunSweeper периодически вызывает SweepIdle до отмены ctx.
func (c *Controller) RunSweeper(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.SweepIdle(ctx)
		}
	}
}

// succeed передаёт сессию дальше и удаляет подключение чата.
func (c *Controller) succeed(ctx context.Context, chatID int64, p pending) error {
	c.take(chatID)
	acc := models.Account{
		Phone:       p.phone,
		ApiID:       p.apiID,
		ApiHash:     p.apiHash,
		SessionName: SessionName(p.phone),
	}
	c.log.Infof("[ONBOARDING] чат %d: аккаунт %s авторизован", chatID, p.phone)

	if c.onAuthorized != nil {
		if err := c.onAuthorized(ctx, acc, p.session); err != nil {
			c.log.Errorf("[ONBOARDING] %s: %v", p.phone, err)
			return c.reply(ctx, chatID, fmt.Sprintf("Аккаунт %s авторизован, но возникла проблема: %v", p.phone, err))
		}
	}
	return c.reply(ctx, chatID, fmt.Sprintf("Аккаунт %s подключён, автоматизация запущена.", p.phone))
}

// abort закрывает сессию, удаляет подключение чата и сообщает причину.
func (c *Controller) abort(ctx context.Context, chatID int64, p pending, err error) error {
	c.take(chatID)
	c.closeSession(p)
	c.log.Warnf("[ONBOARDING] чат %d (%s, шаг %s): %v", chatID, p.phone, p.step, err)
	return c.reply(ctx, chatID, describe(err))
}

func describe(err error) string {
	if wait, ok := client.AsRateLimit(err); ok {
		return fmt.Sprintf("Telegram ограничил запросы, подождите %s и начните заново: /login", wait.Round(time.Second))
	}
	switch {
	case errors.Is(err, client.ErrCodeInvalid):
		return "Неверный код. Начните заново: /login"
	case errors.Is(err, client.ErrPasswordInvalid):
		return "Неверный пароль двухфакторной защиты. Начните заново: /login"
	case errors.Is(err, client.ErrNotRegistered):
		return "Номер не зарегистрирован в Telegram. Начните заново с другим номером: /login"
	case errors.Is(err, context.DeadlineExceeded):
		return "Telegram не ответил вовремя. Начните заново: /login"
	}
	return fmt.Sprintf("Ошибка: %v. Начните заново: /login", err)
}

// SessionName — имя файла или записи сессии для номера телефона.
func SessionName(phone string) string {
	return strings.TrimPrefix(phone, "+")
}

func (c *Controller) lock(chatID int64) (func(), bool) {
	key := strconv.FormatInt(chatID, 10)
	if err := c.chats.TryLock(key); err != nil {
		return nil, true
	}
	return func() { c.chats.Unlock(key) }, false
}

func (c *Controller) put(chatID int64, p pending) {
	p.touched = c.now()
	c.mu.Lock()
	c.pending[chatID] = p
	c.mu.Unlock()
}

func (c *Controller) take(chatID int64) (pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[chatID]
	delete(c.pending, chatID)
	return p, ok
}

func (c *Controller) closeSession(p pending) {
	if p.session == nil {
		return
	}
	if err := p.session.Close(); err != nil {
		c.log.Warnf("[ONBOARDING] %s: ошибка закрытия сессии: %v", p.phone, err)
	}
}

func (c *Controller) reply(ctx context.Context, chatID int64, text string) error {
	if c.replier == nil {
		return nil
	}
	if err := c.replier.Reply(ctx, chatID, text); err != nil {
		c.log.Errorf("[ONBOARDING] чат %d: не удалось отправить ответ: %v", chatID, err)
		return err
	}
	return nil
}
