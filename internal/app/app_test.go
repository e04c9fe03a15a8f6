package app

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"autoclick_go/internal/supervisor"
	"autoclick_go/models"
	"autoclick_go/pkg/storage"
	"autoclick_go/pkg/telegram/automation"
	"autoclick_go/pkg/telegram/client"
)

type fakeSession struct {
	authorized bool
	mu         sync.Mutex
	closed     int
}

func (s *fakeSession) IsAuthorized(ctx context.Context) (bool, error)              { return s.authorized, nil }
func (s *fakeSession) RequestCode(ctx context.Context) error                       { return nil }
func (s *fakeSession) SignIn(ctx context.Context, code string) error               { return nil }
func (s *fakeSession) SignInPassword(ctx context.Context, pw string) error         { return nil }
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

func (s *fakeSession) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*fakeSession
	opened   []string
}

func (p *fakeProvider) Open(ctx context.Context, creds client.Credentials) (client.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = append(p.opened, creds.Phone)
	s, ok := p.sessions[creds.Phone]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return s, nil
}

func testSettings() automation.Settings {
	return automation.Settings{
		Contact:        "fruit_farm_bot",
		StartCommand:   "/start",
		ClaimMarker:    "Собрать урожай",
		Interval:       time.Hour,
		HistoryLimit:   5,
		HistoryTimeout: time.Second,
	}
}

func newTestApp(t *testing.T, reg storage.Registry, p client.Provider) (*App, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})
	return New(reg, p, sup, testSettings(), 2), sup
}

func TestResumeMissingRegistry(t *testing.T) {
	reg := storage.NewFileRegistry(filepath.Join(t.TempDir(), "missing", "accounts.json"))
	p := &fakeProvider{}
	a, sup := newTestApp(t, reg, p)

	n, err := a.Resume(context.Background())
	if err != nil {
		t.Fatalf("отсутствующий реестр не должен давать ошибку: %v", err)
	}
	if n != 0 || len(p.opened) != 0 || len(sup.Status()) != 0 {
		t.Fatalf("ожидалось ноль восстановлений, получено %d", n)
	}
}

func TestResumeSkipsUnauthorized(t *testing.T) {
	ctx := context.Background()
	reg := storage.NewFileRegistry(filepath.Join(t.TempDir(), "accounts.json"))
	for _, phone := range []string{"+7001", "+7002", "+7003"} {
		if _, err := reg.Append(ctx, models.Account{Phone: phone, ApiID: 1, ApiHash: "h", SessionName: phone[1:]}); err != nil {
			t.Fatal(err)
		}
	}
	good := &fakeSession{authorized: true}
	stale := &fakeSession{}
	p := &fakeProvider{sessions: map[string]*fakeSession{"+7001": good, "+7002": stale}}
	a, sup := newTestApp(t, reg, p)

	n, err := a.Resume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("ожидалось одно восстановление, получено %d", n)
	}
	if !sup.Running("+7001") || sup.Running("+7002") || sup.Running("+7003") {
		t.Fatalf("неверный набор задач: %+v", sup.Status())
	}
	if stale.Closed() != 1 || good.Closed() != 0 {
		t.Fatalf("неавторизованная сессия должна быть закрыта: stale=%d good=%d", stale.Closed(), good.Closed())
	}
}

func TestOnAuthorizedIdempotent(t *testing.T) {
	ctx := context.Background()
	reg := storage.NewFileRegistry(filepath.Join(t.TempDir(), "accounts.json"))
	a, sup := newTestApp(t, reg, &fakeProvider{})
	acc := models.Account{Phone: "+79991234567", ApiID: 1, ApiHash: "h", SessionName: "79991234567"}

	first := &fakeSession{authorized: true}
	if err := a.OnAuthorized(ctx, acc, first); err != nil {
		t.Fatalf("первый вход: %v", err)
	}
	second := &fakeSession{authorized: true}
	if err := a.OnAuthorized(ctx, acc, second); err == nil {
		t.Fatal("повторный запуск той же задачи должен вернуть ошибку")
	}
	if second.Closed() != 1 {
		t.Fatal("лишняя сессия должна быть закрыта")
	}

	accounts, _ := reg.Load(ctx)
	if len(accounts) != 1 {
		t.Fatalf("ожидалась одна запись, получено %d", len(accounts))
	}
	if !sup.Running(acc.Phone) || len(a.Sessions()) != 1 {
		t.Fatal("задача аккаунта должна работать")
	}
}

type brokenRegistry struct{}

func (brokenRegistry) Load(ctx context.Context) ([]models.Account, error) { return nil, nil }

func (brokenRegistry) Append(ctx context.Context, acc models.Account) (bool, error) {
	return false, errors.New("disk full")
}

func TestOnAuthorizedRegistryFailureStillStarts(t *testing.T) {
	a, sup := newTestApp(t, brokenRegistry{}, &fakeProvider{})
	sess := &fakeSession{authorized: true}
	err := a.OnAuthorized(context.Background(), models.Account{Phone: "+7001"}, sess)
	if err == nil {
		t.Fatal("ошибка реестра должна вернуться")
	}
	if !sup.Running("+7001") {
		t.Fatal("задача должна быть запущена несмотря на ошибку реестра")
	}
}

func TestSessionClosedOnShutdown(t *testing.T) {
	a, sup := newTestApp(t, brokenRegistry{}, &fakeProvider{})
	sess := &fakeSession{authorized: true}
	if err := a.StartAutomation(models.Account{Phone: "+7001"}, sess); err != nil {
		t.Fatal(err)
	}
	if err := sup.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if sess.Closed() != 1 || len(a.Sessions()) != 0 {
		t.Fatalf("сессия должна быть закрыта, closed=%d", sess.Closed())
	}
}

func TestConcurrentStartKeepsWinnerSession(t *testing.T) {
	for i := 0; i < 50; i++ {
		a, sup := newTestApp(t, brokenRegistry{}, &fakeProvider{})
		acc := models.Account{Phone: "+7001"}
		sessions := []*fakeSession{{authorized: true}, {authorized: true}}
		errs := make([]error, len(sessions))

		var wg sync.WaitGroup
		for j, s := range sessions {
			wg.Add(1)
			go func(j int, s *fakeSession) {
				defer wg.Done()
				errs[j] = a.StartAutomation(acc, s)
			}(j, s)
		}
		wg.Wait()

		started := 0
		for _, err := range errs {
			switch {
			case err == nil:
				started++
			case !errors.Is(err, supervisor.ErrAlreadyRunning):
				t.Fatalf("неожиданная ошибка: %v", err)
			}
		}
		if started != 1 {
			t.Fatalf("должна запуститься ровно одна задача, запущено %d", started)
		}
		if got := a.Sessions(); len(got) != 1 || got[0] != acc.Phone || !sup.Running(acc.Phone) {
			t.Fatalf("сессия запущенной задачи должна остаться в карте: %v", got)
		}
	}
}
