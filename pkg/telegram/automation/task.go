// Package automation реализует фоновую задачу аккаунта: периодический сбор
// урожая у бота-собеседника и автоматические ответы на его задания.
package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autoclick_go/internal/common"
	"autoclick_go/logger"
	"autoclick_go/models"
	"autoclick_go/pkg/telegram/client"

	"github.com/sirupsen/logrus"
)

// Client — то, что задаче нужно от сессии аккаунта.
type Client interface {
	SendMessage(ctx context.Context, contact, text string) error
	RecentMessages(ctx context.Context, contact string, limit int) ([]models.Message, error)
	Click(ctx context.Context, contact string, msg models.Message, btn models.Button) error
	Subscribe(ctx context.Context, contact string, fn func(ctx context.Context, msg models.Message)) error
}

// Settings — маркеры и тайминги задачи.
type Settings struct {
	Contact         string
	StartCommand    string
	ClaimMarker     string
	SubscribeMarker string
	ChannelMarker   string
	VerifyMarker    string
	RewardMarker    string
	Interval        time.Duration
	ReplyWait       time.Duration
	HistoryLimit    int
	HistoryTimeout  time.Duration
	ClickDelay      [2]int
	Symbols         map[string]string
}

type clickKey struct {
	msgID    int
	row, col int
	label    string
}

// Task — фоновая задача одного аккаунта. Работает до отмены контекста.
type Task struct {
	phone  string
	client Client
	set    Settings
	log    *logrus.Entry

	// OnCycle вызывается после каждого витка основного цикла с его результатом.
	OnCycle func(err error)

	mu      sync.Mutex
	clicked map[clickKey]struct{}
}

// New создаёт задачу для аккаунта phone.
func New(phone string, c Client, set Settings) *Task {
	return &Task{
		phone:   phone,
		client:  c,
		set:     set,
		log:     logger.For("automation").WithField("phone", phone),
		clicked: make(map[clickKey]struct{}),
	}
}

// Run крутит основной цикл и обработчик входящих сообщений.
// Ошибки Telegram не завершают задачу; возврат происходит только при отмене ctx.
func (t *Task) Run(ctx context.Context) error {
	t.log.Infof("[AUTOMATION] запуск задачи, собеседник @%s", t.set.Contact)
	subscribed := false
	for {
		if !subscribed {
			if err := t.client.Subscribe(ctx, t.set.Contact, t.HandleMessage); err != nil {
				t.log.Warnf("[AUTOMATION] не удалось подписаться на сообщения: %v", err)
			} else {
				subscribed = true
			}
		}

		wait := t.set.Interval
		err := t.Cycle(ctx)
		if ctx.Err() != nil {
			t.log.Infof("[AUTOMATION] задача остановлена")
			return ctx.Err()
		}
		if err != nil {
			if d, ok := client.AsRateLimit(err); ok {
				t.log.Warnf("[AUTOMATION] FLOOD_WAIT, ждём %s", d)
				wait = d
			} else {
				t.log.Errorf("[AUTOMATION] ошибка цикла: %v", err)
			}
		}
		if t.OnCycle != nil {
			t.OnCycle(err)
		}

		if err := common.Sleep(ctx, wait); err != nil {
			t.log.Infof("[AUTOMATION] задача остановлена")
			return err
		}
	}
}

// Cycle выполняет один виток: отправляет стартовую команду, ждёт ответа,
// читает историю и нажимает кнопку сбора, если она есть.
func (t *Task) Cycle(ctx context.Context) error {
	if err := t.client.SendMessage(ctx, t.set.Contact, t.set.StartCommand); err != nil {
		return fmt.Errorf("send %s: %w", t.set.StartCommand, err)
	}
	if err := common.Sleep(ctx, t.set.ReplyWait); err != nil {
		return err
	}

	historyCtx, cancel := context.WithTimeout(ctx, t.set.HistoryTimeout)
	msgs, err := t.client.RecentMessages(historyCtx, t.set.Contact, t.set.HistoryLimit)
	cancel()
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	for _, m := range msgs {
		btn, ok := m.FindButton(t.set.ClaimMarker)
		if !ok {
			continue
		}
		clicked, err := t.click(ctx, m, btn)
		if err != nil {
			return fmt.Errorf("click %q: %w", btn.Label, err)
		}
		if clicked {
			t.log.Infof("[AUTOMATION] нажата кнопка %q", btn.Label)
		}
		return nil
	}
	t.log.Debugf("[AUTOMATION] кнопка %q не найдена среди %d сообщений", t.set.ClaimMarker, len(msgs))
	return nil
}

// click нажимает кнопку не более одного раза за время жизни задачи.
// Неудачное нажатие можно повторить.
func (t *Task) click(ctx context.Context, msg models.Message, btn models.Button) (bool, error) {
	key := clickKey{msgID: msg.ID, row: btn.Row, col: btn.Col, label: btn.Label}

	t.mu.Lock()
	if _, done := t.clicked[key]; done {
		t.mu.Unlock()
		t.log.Debugf("[AUTOMATION] кнопка %q сообщения %d уже нажата", btn.Label, msg.ID)
		return false, nil
	}
	t.clicked[key] = struct{}{}
	t.mu.Unlock()

	if err := t.client.Click(ctx, t.set.Contact, msg, btn); err != nil {
		t.mu.Lock()
		delete(t.clicked, key)
		t.mu.Unlock()
		return false, err
	}
	return true, nil
}
