// Package client оборачивает клиента gotd в долгоживущую сессию аккаунта:
// вход по коду, переписка с собеседником и нажатие кнопок.
package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autoclick_go/models"

	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/tgerr"
)

// Credentials — данные, необходимые для подключения аккаунта.
type Credentials struct {
	Phone       string
	ApiID       int
	ApiHash     string
	SessionName string
}

// Session — открытое подключение к Telegram от имени одного аккаунта.
type Session interface {
	IsAuthorized(ctx context.Context) (bool, error)
	RequestCode(ctx context.Context) error
	SignIn(ctx context.Context, code string) error
	SignInPassword(ctx context.Context, password string) error

	SendMessage(ctx context.Context, contact, text string) error
	RecentMessages(ctx context.Context, contact string, limit int) ([]models.Message, error)
	Click(ctx context.Context, contact string, msg models.Message, btn models.Button) error
	Subscribe(ctx context.Context, contact string, fn func(ctx context.Context, msg models.Message)) error

	Close() error
}

// Provider открывает сессии аккаунтов.
type Provider interface {
	Open(ctx context.Context, creds Credentials) (Session, error)
}

var (
	// ErrCodeExpired — код входа истёк, нужно запросить новый.
	ErrCodeExpired = errors.New("login code expired")
	// ErrCodeInvalid — введён неверный код.
	ErrCodeInvalid = errors.New("login code invalid")
	// ErrPasswordRequired — у аккаунта включена двухфакторная защита.
	ErrPasswordRequired = errors.New("two-factor password required")
	// ErrPasswordInvalid — неверный пароль двухфакторной защиты.
	ErrPasswordInvalid = errors.New("two-factor password invalid")
	// ErrCodeNotRequested — попытка входа без запроса кода.
	ErrCodeNotRequested = errors.New("login code was not requested")
	// ErrAlreadyAuthorized — Telegram авторизовал сессию без ввода кода.
	ErrAlreadyAuthorized = errors.New("session authorized without code")
	// ErrNotRegistered — номер не зарегистрирован в Telegram.
	ErrNotRegistered = errors.New("phone number is not registered")
)

// RateLimitError — Telegram попросил подождать перед следующим запросом.
type RateLimitError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited for %s", e.Wait)
}

func (e *RateLimitError) Unwrap() error { return e.Err }

// AsRateLimit сообщает, является ли err ограничением частоты запросов, и сколько нужно ждать.
func AsRateLimit(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Wait, true
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return d, true
	}
	return 0, false
}

// Classify приводит ошибки gotd к ошибкам пакета.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if d, ok := tgerr.AsFloodWait(err); ok {
		return &RateLimitError{Wait: d, Err: err}
	}
	switch {
	case errors.Is(err, auth.ErrPasswordAuthNeeded):
		return ErrPasswordRequired
	case errors.Is(err, auth.ErrPasswordInvalid):
		return ErrPasswordInvalid
	case tgerr.Is(err, "PHONE_CODE_EXPIRED"):
		return ErrCodeExpired
	case tgerr.Is(err, "PHONE_CODE_INVALID", "PHONE_CODE_EMPTY"):
		return ErrCodeInvalid
	case tgerr.Is(err, "PASSWORD_HASH_INVALID"):
		return ErrPasswordInvalid
	case tgerr.Is(err, "PHONE_NUMBER_UNOCCUPIED"):
		return ErrNotRegistered
	}
	var signUp *auth.SignUpRequired
	if errors.As(err, &signUp) {
		return ErrNotRegistered
	}
	return err
}
