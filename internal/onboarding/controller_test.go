package onboarding

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autoclick_go/models"
	"autoclick_go/pkg/storage"
	"autoclick_go/pkg/telegram/client"
)

type fakeSession struct {
	mu          sync.Mutex
	authorized  bool
	requestErrs []error
	signInErr   error
	passwordErr error
	requests    int
	closed      int
}

func (s *fakeSession) IsAuthorized(ctx context.Context) (bool, error) { return s.authorized, nil }

func (s *fakeSession) RequestCode(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if len(s.requestErrs) > 0 {
		err := s.requestErrs[0]
		s.requestErrs = s.requestErrs[1:]
		return err
	}
	return nil
}

func (s *fakeSession) SignIn(ctx context.Context, code string) error { return s.signInErr }

func (s *fakeSession) SignInPassword(ctx context.Context, password string) error {
	return s.passwordErr
}

func (s *fakeSession) SendMessage(ctx context.Context, contact, text string) error { return nil }

func (s *fakeSession) RecentMessages(ctx context.Context, contact string, limit int) ([]models.Message, error) {
	return nil, nil
}

func (s *fakeSession) Click(ctx context.Context, contact string, msg models.Message, btn models.Button) error {
	return nil
}

func (s *fakeSession) Subscribe(ctx context.Context, contact string, fn func(ctx context.Context, msg models.Message)) error {
	return nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// fakeProvider выдаёт заранее подготовленные сессии по очереди.
type fakeProvider struct {
	sessions []*fakeSession
	openErr  error
	opened   int
}

func (p *fakeProvider) Open(ctx context.Context, creds client.Credentials) (client.Session, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	s := p.sessions[p.opened]
	p.opened++
	return s, nil
}

type fakeReplier struct {
	replies []string
}

func (r *fakeReplier) Reply(ctx context.Context, chatID int64, text string) error {
	r.replies = append(r.replies, text)
	return nil
}

func (r *fakeReplier) last() string {
	if len(r.replies) == 0 {
		return ""
	}
	return r.replies[len(r.replies)-1]
}

const chat int64 = 100

func newTestController(p client.Provider, hook AuthorizedFunc) (*Controller, *fakeReplier) {
	r := &fakeReplier{}
	return NewController(p, r, hook), r
}

// toCode проводит чат до шага ввода кода.
func toCode(t *testing.T, c *Controller) {
	t.Helper()
	ctx := context.Background()
	c.Start(ctx, chat)
	c.Handle(ctx, chat, "+79991234567")
	c.Handle(ctx, chat, "12345")
	c.Handle(ctx, chat, "0123456789abcdef")
	if step, _ := c.Step(chat); step != AwaitingCode {
		t.Fatalf("ожидался шаг %s, получено %s", AwaitingCode, step)
	}
}

func TestInvalidPhoneKeepsState(t *testing.T) {
	c, r := newTestController(&fakeProvider{}, nil)
	ctx := context.Background()
	c.Start(ctx, chat)

	for _, phone := range []string{"79991234567", "+123456", "+7999abc4567", "", "+ 79991234567"} {
		before := len(r.replies)
		c.Handle(ctx, chat, phone)
		if step, ok := c.Step(chat); !ok || step != AwaitingPhone {
			t.Fatalf("%q: ожидался шаг %s, получено %s", phone, AwaitingPhone, step)
		}
		if len(r.replies) != before+1 || r.last() != msgBadPhone {
			t.Fatalf("%q: ожидался повторный запрос номера, получено %q", phone, r.last())
		}
	}
}

func TestNonDigitInputKeepsState(t *testing.T) {
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{{}}}, nil)
	ctx := context.Background()
	c.Start(ctx, chat)
	c.Handle(ctx, chat, "+79991234567")

	c.Handle(ctx, chat, "12ab")
	if step, _ := c.Step(chat); step != AwaitingApiID || r.last() != msgBadApiID {
		t.Fatalf("api_id: шаг %s, ответ %q", step, r.last())
	}

	c.Handle(ctx, chat, "12345")
	c.Handle(ctx, chat, "hash")
	c.Handle(ctx, chat, "12 345")
	if step, _ := c.Step(chat); step != AwaitingCode || r.last() != msgBadCode {
		t.Fatalf("код: шаг %s, ответ %q", step, r.last())
	}
}

func TestAlreadyAuthorizedPersistedOnce(t *testing.T) {
	reg := storage.NewFileRegistry(filepath.Join(t.TempDir(), "accounts.json"))
	sessions := []*fakeSession{{authorized: true}, {authorized: true}}
	var handed []client.Session
	hook := func(ctx context.Context, acc models.Account, s client.Session) error {
		handed = append(handed, s)
		_, err := reg.Append(ctx, acc)
		return err
	}
	c, _ := newTestController(&fakeProvider{sessions: sessions}, hook)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		c.Start(ctx, chat)
		c.Handle(ctx, chat, "+79991234567")
		c.Handle(ctx, chat, "12345")
		c.Handle(ctx, chat, "hash")
		if c.Pending(chat) {
			t.Fatalf("запуск %d: подключение должно быть завершено", i)
		}
	}

	accounts, err := reg.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("ожидалась одна запись, получено %d", len(accounts))
	}
	if accounts[0].ApiID != 12345 || accounts[0].SessionName != "79991234567" {
		t.Fatalf("неверная запись: %+v", accounts[0])
	}
	if len(handed) != 2 || sessions[0].closed != 0 {
		t.Fatalf("сессии должны передаваться дальше открытыми")
	}
}

func TestRateLimitDropsPending(t *testing.T) {
	limited := &client.RateLimitError{Wait: 30 * time.Second}

	t.Run("open", func(t *testing.T) {
		c, r := newTestController(&fakeProvider{openErr: limited}, nil)
		ctx := context.Background()
		c.Start(ctx, chat)
		c.Handle(ctx, chat, "+79991234567")
		c.Handle(ctx, chat, "12345")
		c.Handle(ctx, chat, "hash")
		if c.Pending(chat) {
			t.Fatal("подключение должно быть удалено")
		}
		if r.last() == "" {
			t.Fatal("пользователь должен получить сообщение")
		}
	})

	t.Run("request code", func(t *testing.T) {
		s := &fakeSession{requestErrs: []error{limited}}
		c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
		ctx := context.Background()
		c.Start(ctx, chat)
		c.Handle(ctx, chat, "+79991234567")
		c.Handle(ctx, chat, "12345")
		c.Handle(ctx, chat, "hash")
		if c.Pending(chat) || s.closed != 1 {
			t.Fatalf("ожидалось удаление и закрытие, pending=%v closed=%d", c.Pending(chat), s.closed)
		}
	})

	t.Run("sign in", func(t *testing.T) {
		s := &fakeSession{signInErr: limited}
		c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
		toCode(t, c)
		c.Handle(context.Background(), chat, "12345")
		if c.Pending(chat) || s.closed != 1 {
			t.Fatalf("ожидалось удаление и закрытие, pending=%v closed=%d", c.Pending(chat), s.closed)
		}
	})

	t.Run("resend", func(t *testing.T) {
		s := &fakeSession{requestErrs: []error{nil, limited}}
		c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
		toCode(t, c)
		c.Resend(context.Background(), chat)
		if c.Pending(chat) || s.closed != 1 {
			t.Fatalf("ожидалось удаление и закрытие, pending=%v closed=%d", c.Pending(chat), s.closed)
		}
	})
}

func TestTwoFactorFlow(t *testing.T) {
	s := &fakeSession{signInErr: client.ErrPasswordRequired}
	var got models.Account
	hook := func(ctx context.Context, acc models.Account, sess client.Session) error {
		got = acc
		return nil
	}
	c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, hook)
	toCode(t, c)
	ctx := context.Background()

	c.Handle(ctx, chat, "12345")
	if step, _ := c.Step(chat); step != AwaitingTwoFactor {
		t.Fatalf("ожидался шаг %s, получено %s", AwaitingTwoFactor, step)
	}
	c.Handle(ctx, chat, "secret")
	if c.Pending(chat) {
		t.Fatal("подключение должно быть завершено")
	}
	if got.Phone != "+79991234567" {
		t.Fatalf("обработчик успеха не вызван: %+v", got)
	}
}

func TestWrongPasswordAborts(t *testing.T) {
	s := &fakeSession{signInErr: client.ErrPasswordRequired, passwordErr: client.ErrPasswordInvalid}
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
	toCode(t, c)
	ctx := context.Background()
	c.Handle(ctx, chat, "12345")
	c.Handle(ctx, chat, "wrong")
	if c.Pending(chat) || s.closed != 1 {
		t.Fatalf("ожидалось удаление и закрытие, pending=%v closed=%d", c.Pending(chat), s.closed)
	}
	if r.last() != describe(client.ErrPasswordInvalid) {
		t.Fatalf("неожиданный ответ %q", r.last())
	}
}

func TestCodeExpiredThenResend(t *testing.T) {
	s := &fakeSession{signInErr: client.ErrCodeExpired}
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
	toCode(t, c)
	ctx := context.Background()

	c.Handle(ctx, chat, "12345")
	if step, ok := c.Step(chat); !ok || step != AwaitingCode || r.last() != msgCodeExpired {
		t.Fatalf("после истечения кода: шаг %s, ответ %q", step, r.last())
	}
	if s.closed != 0 {
		t.Fatal("сессия должна остаться открытой для /resend")
	}

	c.Resend(ctx, chat)
	if step, _ := c.Step(chat); step != AwaitingCode || r.last() != msgCodeResent || s.requests != 2 {
		t.Fatalf("после /resend: шаг %s, ответ %q, запросов %d", step, r.last(), s.requests)
	}

	s.signInErr = nil
	c.Handle(ctx, chat, "54321")
	if c.Pending(chat) {
		t.Fatal("подключение должно быть завершено")
	}
}

func TestResendWithoutPending(t *testing.T) {
	c, r := newTestController(&fakeProvider{}, nil)
	ctx := context.Background()
	c.Resend(ctx, chat)
	if r.last() != msgNoCodePending {
		t.Fatalf("неожиданный ответ %q", r.last())
	}
	c.Start(ctx, chat)
	c.Resend(ctx, chat)
	if step, _ := c.Step(chat); step != AwaitingPhone || r.last() != msgNoCodePending {
		t.Fatalf("шаг %s, ответ %q", step, r.last())
	}
}

func TestStartClosesPreviousSession(t *testing.T) {
	s := &fakeSession{}
	c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
	toCode(t, c)

	c.Start(context.Background(), chat)
	if s.closed != 1 {
		t.Fatalf("прежняя сессия должна быть закрыта, closed=%d", s.closed)
	}
	if step, _ := c.Step(chat); step != AwaitingPhone {
		t.Fatalf("ожидался шаг %s, получено %s", AwaitingPhone, step)
	}
}

func TestCancel(t *testing.T) {
	s := &fakeSession{}
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
	toCode(t, c)
	ctx := context.Background()

	c.Cancel(ctx, chat)
	if c.Pending(chat) || s.closed != 1 || r.last() != msgCancelled {
		t.Fatalf("pending=%v closed=%d ответ %q", c.Pending(chat), s.closed, r.last())
	}
	c.Cancel(ctx, chat)
	if r.last() != msgNothingToCancel {
		t.Fatalf("неожиданный ответ %q", r.last())
	}
}

func TestConcurrentStepRejected(t *testing.T) {
	c, r := newTestController(&fakeProvider{}, nil)
	ctx := context.Background()
	c.Start(ctx, chat)

	release, busy := c.lock(chat)
	if busy {
		t.Fatal("блокировка чата должна быть свободна")
	}
	c.Handle(ctx, chat, "+79991234567")
	release()

	if step, _ := c.Step(chat); step != AwaitingPhone || r.last() != msgBusy {
		t.Fatalf("шаг %s, ответ %q", step, r.last())
	}
}

func TestHookErrorReported(t *testing.T) {
	s := &fakeSession{authorized: true}
	hook := func(ctx context.Context, acc models.Account, sess client.Session) error {
		return errors.New("реестр недоступен")
	}
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, hook)
	ctx := context.Background()
	c.Start(ctx, chat)
	c.Handle(ctx, chat, "+79991234567")
	c.Handle(ctx, chat, "12345")
	c.Handle(ctx, chat, "hash")
	if c.Pending(chat) {
		t.Fatal("подключение должно быть завершено")
	}
	if r.last() == "" || r.last() == "Аккаунт +79991234567 подключён, автоматизация запущена." {
		t.Fatalf("ожидалось предупреждение, получено %q", r.last())
	}
}

func TestCodeSkippedByTelegramSucceeds(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		s := &fakeSession{requestErrs: []error{client.ErrAlreadyAuthorized}}
		var handed []client.Session
		hook := func(ctx context.Context, acc models.Account, sess client.Session) error {
			handed = append(handed, sess)
			return nil
		}
		c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, hook)
		ctx := context.Background()
		c.Start(ctx, chat)
		c.Handle(ctx, chat, "+79991234567")
		c.Handle(ctx, chat, "12345")
		c.Handle(ctx, chat, "hash")
		if c.Pending(chat) || len(handed) != 1 || s.closed != 0 {
			t.Fatalf("pending=%v передано=%d closed=%d", c.Pending(chat), len(handed), s.closed)
		}
	})

	t.Run("resend", func(t *testing.T) {
		s := &fakeSession{requestErrs: []error{nil, client.ErrAlreadyAuthorized}}
		var handed int
		hook := func(ctx context.Context, acc models.Account, sess client.Session) error {
			handed++
			return nil
		}
		c, _ := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, hook)
		toCode(t, c)
		c.Resend(context.Background(), chat)
		if c.Pending(chat) || handed != 1 || s.closed != 0 {
			t.Fatalf("pending=%v передано=%d closed=%d", c.Pending(chat), handed, s.closed)
		}
	})
}

func TestSweepIdleClosesAbandoned(t *testing.T) {
	s := &fakeSession{}
	c, r := newTestController(&fakeProvider{sessions: []*fakeSession{s}}, nil)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	toCode(t, c)
	ctx := context.Background()

	const other int64 = 200
	now = now.Add(10 * time.Minute)
	c.Start(ctx, other)

	if n := c.SweepIdle(ctx); n != 0 {
		t.Fatalf("до истечения срока ничего не должно закрываться, закрыто %d", n)
	}

	now = now.Add(6 * time.Minute)
	if n := c.SweepIdle(ctx); n != 1 {
		t.Fatalf("ожидалось одно закрытое подключение, получено %d", n)
	}
	if c.Pending(chat) || s.closed != 1 || r.last() != msgIdleExpired {
		t.Fatalf("pending=%v closed=%d ответ %q", c.Pending(chat), s.closed, r.last())
	}
	if !c.Pending(other) {
		t.Fatal("свежее подключение другого чата должно остаться")
	}
	if c.chats.Held() != 0 {
		t.Fatalf("блокировки чатов должны быть освобождены, занято %d", c.chats.Held())
	}
}

func TestSweepIdleSkipsBusyChat(t *testing.T) {
	c, _ := newTestController(&fakeProvider{}, nil)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()
	c.Start(ctx, chat)
	now = now.Add(time.Hour)

	release, busy := c.lock(chat)
	if busy {
		t.Fatal("блокировка чата должна быть свободна")
	}
	if n := c.SweepIdle(ctx); n != 0 || !c.Pending(chat) {
		t.Fatalf("чат с выполняющимся шагом не должен закрываться, закрыто %d", n)
	}
	release()
	if n := c.SweepIdle(ctx); n != 1 {
		t.Fatalf("ожидалось одно закрытое подключение, получено %d", n)
	}
}
