package client

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"autoclick_go/logger"
	"autoclick_go/models"
	module "autoclick_go/pkg/telegram/module"

	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/message"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// GotdProvider открывает сессии через gotd/td.
type GotdProvider struct {
	Proxy          *models.Proxy
	Storage        module.StorageFactory
	ConnectTimeout time.Duration
}

// Open подключает клиента в фоне и возвращает готовую к работе сессию.
// Подключение живёт до вызова Close, независимо от ctx.
func (p *GotdProvider) Open(ctx context.Context, creds Credentials) (Session, error) {
	s := newGotdSession(creds)

	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewMessage(s.onNewMessage)

	c, err := module.Modf_AccountInitialization(creds.ApiID, creds.ApiHash, creds.Phone, p.Proxy, p.Storage(creds.SessionName), dispatcher)
	if err != nil {
		return nil, err
	}

	timeout := p.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// Клиент живёт в собственном контексте до вызова Close
	runCtx, cancelRun := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- c.Run(runCtx, func(ctx context.Context) error {
			close(ready)
			<-ctx.Done()
			return nil
		})
	}()

	select {
	case <-ready:
	case err := <-done:
		cancelRun()
		if err == nil {
			err = errors.New("client stopped before ready")
		}
		return nil, Classify(err)
	case <-connectCtx.Done():
		cancelRun()
		<-done
		return nil, fmt.Errorf("connect %s: %w", creds.Phone, connectCtx.Err())
	}

	s.client = c
	s.attach(runCtx, c.API())
	s.stop = func() error {
		cancelRun()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}
	return s, nil
}

type gotdSession struct {
	creds  Credentials
	client *telegram.Client
	api    *tg.Client
	sender *message.Sender
	runCtx context.Context
	stop   func() error

	mu        sync.Mutex
	codeHash  string
	peers     map[string]*tg.InputPeerUser
	handlers  map[int64][]func(context.Context, models.Message)
	closeOnce sync.Once
	closeErr  error
}

func newGotdSession(creds Credentials) *gotdSession {
	return &gotdSession{
		creds:    creds,
		peers:    make(map[string]*tg.InputPeerUser),
		handlers: make(map[int64][]func(context.Context, models.Message)),
	}
}

// attach подключает сессию к API клиента; обработчики обновлений живут в runCtx.
func (s *gotdSession) attach(runCtx context.Context, api *tg.Client) {
	s.api = api
	s.sender = message.NewSender(api)
	s.runCtx = runCtx
}

func (s *gotdSession) IsAuthorized(ctx context.Context) (bool, error) {
	status, err := s.client.Auth().Status(ctx)
	if err != nil {
		return false, Classify(err)
	}
	return status.Authorized, nil
}

func (s *gotdSession) RequestCode(ctx context.Context) error {
	sentCode, err := s.client.Auth().SendCode(ctx, s.creds.Phone, auth.SendCodeOptions{})
	if err != nil {
		return Classify(err)
	}
	switch sent := sentCode.(type) {
	case *tg.AuthSentCode:
		s.mu.Lock()
		s.codeHash = sent.PhoneCodeHash
		s.mu.Unlock()
		return nil
	case *tg.AuthSentCodeSuccess:
		// Telegram авторизовал сессию без кода
		return ErrAlreadyAuthorized
	default:
		return fmt.Errorf("unexpected sent code type: %T", sentCode)
	}
}

func (s *gotdSession) SignIn(ctx context.Context, code string) error {
	s.mu.Lock()
	hash := s.codeHash
	s.mu.Unlock()
	if hash == "" {
		return ErrCodeNotRequested
	}
	if _, err := s.client.Auth().SignIn(ctx, s.creds.Phone, code, hash); err != nil {
		return Classify(err)
	}
	return nil
}

func (s *gotdSession) SignInPassword(ctx context.Context, password string) error {
	if _, err := s.client.Auth().Password(ctx, password); err != nil {
		return Classify(err)
	}
	return nil
}

// resolve возвращает InputPeer собеседника по username, кэшируя результат.
func (s *gotdSession) resolve(ctx context.Context, contact string) (*tg.InputPeerUser, error) {
	contact = strings.TrimPrefix(contact, "@")
	key := strings.ToLower(contact)

	s.mu.Lock()
	peer, ok := s.peers[key]
	s.mu.Unlock()
	if ok {
		return peer, nil
	}

	resolved, err := s.api.ContactsResolveUsername(ctx, contact)
	if err != nil {
		return nil, Classify(err)
	}
	target, ok := resolved.Peer.(*tg.PeerUser)
	if !ok {
		return nil, fmt.Errorf("%s не является пользователем или ботом", contact)
	}
	for _, u := range resolved.Users {
		if user, ok := u.(*tg.User); ok && user.ID == target.UserID {
			peer = &tg.InputPeerUser{UserID: user.ID, AccessHash: user.AccessHash}
			break
		}
	}
	if peer == nil {
		return nil, fmt.Errorf("пользователь %s не найден в ответе", contact)
	}

	s.mu.Lock()
	s.peers[key] = peer
	s.mu.Unlock()
	return peer, nil
}

func (s *gotdSession) SendMessage(ctx context.Context, contact, text string) error {
	peer, err := s.resolve(ctx, contact)
	if err != nil {
		return err
	}
	if _, err := s.sender.To(peer).Text(ctx, text); err != nil {
		return Classify(err)
	}
	return nil
}

// RecentMessages возвращает последние входящие сообщения собеседника, новые первыми.
func (s *gotdSession) RecentMessages(ctx context.Context, contact string, limit int) ([]models.Message, error) {
	peer, err := s.resolve(ctx, contact)
	if err != nil {
		return nil, err
	}
	history, err := s.api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer:  peer,
		Limit: limit,
	})
	if err != nil {
		return nil, Classify(err)
	}

	var raw []tg.MessageClass
	switch h := history.(type) {
	case *tg.MessagesMessages:
		raw = h.Messages
	case *tg.MessagesMessagesSlice:
		raw = h.Messages
	case *tg.MessagesChannelMessages:
		raw = h.Messages
	default:
		return nil, fmt.Errorf("unexpected messages type %T", history)
	}

	var tgMessages []*tg.Message
	for _, m := range raw {
		if msg, ok := m.(*tg.Message); ok && !msg.Out {
			tgMessages = append(tgMessages, msg)
		}
	}
	// Сортируем сообщения по убыванию ID, чтобы новые были первыми
	sort.Slice(tgMessages, func(i, j int) bool {
		return tgMessages[i].ID > tgMessages[j].ID
	})

	out := make([]models.Message, 0, len(tgMessages))
	for _, m := range tgMessages {
		out = append(out, ConvertMessage(m))
	}
	return out, nil
}

// Click нажимает кнопку сообщения.
// Callback-кнопка отправляет боту данные, ссылка на канал приводит к подписке,
// обычная кнопка клавиатуры отправляет свой текст.
func (s *gotdSession) Click(ctx context.Context, contact string, msg models.Message, btn models.Button) error {
	switch btn.Kind {
	case models.ButtonCallback:
		peer, err := s.resolve(ctx, contact)
		if err != nil {
			return err
		}
		_, err = s.api.MessagesGetBotCallbackAnswer(ctx, &tg.MessagesGetBotCallbackAnswerRequest{
			Peer:  peer,
			MsgID: msg.ID,
			Data:  btn.Data,
		})
		// Бот мог не ответить вовремя, но нажатие уже засчитано
		if tgerr.Is(err, "BOT_RESPONSE_TIMEOUT") {
			return nil
		}
		return Classify(err)
	case models.ButtonURL:
		return Classify(module.Modf_JoinByURL(ctx, s.api, btn.URL))
	case models.ButtonText:
		return s.SendMessage(ctx, contact, btn.Label)
	default:
		return fmt.Errorf("unsupported button kind %q", btn.Kind)
	}
}

// Subscribe регистрирует обработчик новых сообщений от собеседника.
func (s *gotdSession) Subscribe(ctx context.Context, contact string, fn func(ctx context.Context, msg models.Message)) error {
	peer, err := s.resolve(ctx, contact)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.handlers[peer.UserID] = append(s.handlers[peer.UserID], fn)
	s.mu.Unlock()
	return nil
}

func (s *gotdSession) onNewMessage(ctx context.Context, _ tg.Entities, upd *tg.UpdateNewMessage) error {
	msg, ok := upd.Message.(*tg.Message)
	if !ok || msg.Out {
		return nil
	}
	from, ok := msg.PeerID.(*tg.PeerUser)
	if !ok {
		return nil
	}

	s.mu.Lock()
	handlers := append([]func(context.Context, models.Message){}, s.handlers[from.UserID]...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		return nil
	}

	converted := ConvertMessage(msg)
	// Обработчики ждут и ходят в сеть, поэтому не держим на них диспетчер обновлений
	for _, h := range handlers {
		go h(s.runCtx, converted)
	}
	return nil
}

func (s *gotdSession) Close() error {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.closeErr = s.stop()
		}
		logger.For("session").Debugf("[SESSION] %s: подключение закрыто", s.creds.Phone)
	})
	return s.closeErr
}

// ConvertMessage переводит сообщение Telegram в модель с плоским списком кнопок.
func ConvertMessage(m *tg.Message) models.Message {
	out := models.Message{ID: m.ID, Text: m.Message}

	var rows []tg.KeyboardButtonRow
	switch markup := m.ReplyMarkup.(type) {
	case *tg.ReplyInlineMarkup:
		rows = markup.Rows
	case *tg.ReplyKeyboardMarkup:
		rows = markup.Rows
	}

	for i, row := range rows {
		for j, b := range row.Buttons {
			btn := models.Button{Row: i, Col: j}
			switch kb := b.(type) {
			case *tg.KeyboardButtonCallback:
				btn.Label, btn.Kind, btn.Data = kb.Text, models.ButtonCallback, kb.Data
			case *tg.KeyboardButtonURL:
				btn.Label, btn.Kind, btn.URL = kb.Text, models.ButtonURL, kb.URL
			case *tg.KeyboardButton:
				btn.Label, btn.Kind = kb.Text, models.ButtonText
			default:
				continue
			}
			out.Buttons = append(out.Buttons, btn)
		}
	}
	return out
}
