package module

import (
	"context"
	"fmt"
	"strings"

	"autoclick_go/logger"
	"autoclick_go/models"

	"go.uber.org/zap"
	"golang.org/x/net/proxy"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// подписывает аккаунт на указанный канал (или группу обсуждения).
// Повторная подписка не считается ошибкой.
func Modf_JoinChannel(ctx context.Context, api *tg.Client, channel *tg.Channel) error {
	_, err := api.ChannelsJoinChannel(ctx, &tg.InputChannel{
		ChannelID:  channel.ID,
		AccessHash: channel.AccessHash,
	})
	if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
		return nil
	}
	return err
}

// Modf_JoinByURL подписывается на канал по ссылке вида https://t.me/name
// или по пригласительной ссылке https://t.me/+hash (https://t.me/joinchat/hash).
func Modf_JoinByURL(ctx context.Context, api *tg.Client, url string) error {
	username, err := Modf_ExtractUsername(url)
	if err != nil {
		return err
	}

	if hash, ok := inviteHash(username); ok {
		_, err := api.MessagesImportChatInvite(ctx, hash)
		if tgerr.Is(err, "USER_ALREADY_PARTICIPANT") {
			return nil
		}
		return err
	}

	resolved, err := api.ContactsResolveUsername(ctx, username)
	if err != nil {
		return fmt.Errorf("не удалось распознать канал %s: %w", username, err)
	}
	channel, err := Modf_FindChannel(resolved.GetChats())
	if err != nil {
		return err
	}
	return Modf_JoinChannel(ctx, api, channel)
}

// извлекает username из URL канала
func Modf_ExtractUsername(url string) (string, error) {
	trimmed := strings.TrimSpace(url)
	for _, prefix := range []string{"https://t.me/", "http://t.me/", "https://telegram.me/", "t.me/"} {
		if strings.HasPrefix(trimmed, prefix) {
			name := strings.TrimPrefix(trimmed, prefix)
			// Отбрасываем параметры и номер поста: t.me/name/123?start=x
			if i := strings.IndexAny(name, "?#"); i >= 0 {
				name = name[:i]
			}
			if strings.HasPrefix(name, "joinchat/") {
				return name, nil
			}
			if i := strings.Index(name, "/"); i >= 0 {
				name = name[:i]
			}
			if name == "" {
				break
			}
			return name, nil
		}
	}
	return "", fmt.Errorf("invalid URL format")
}

// inviteHash распознаёт пригласительные ссылки, у которых вместо имени хеш.
func inviteHash(name string) (string, bool) {
	switch {
	case strings.HasPrefix(name, "+"):
		return strings.TrimPrefix(name, "+"), true
	case strings.HasPrefix(name, "joinchat/"):
		return strings.TrimPrefix(name, "joinchat/"), true
	}
	return "", false
}

// находит канал в списке чатов
func Modf_FindChannel(chats []tg.ChatClass) (*tg.Channel, error) {
	var fallback *tg.Channel
	for _, peer := range chats {
		if ch, ok := peer.(*tg.Channel); ok {
			// Возвращаем первый найденный вещательный канал
			if ch.Broadcast {
				return ch, nil
			}
			// Мегагруппу запоминаем на случай, если канала в ответе нет
			if fallback == nil {
				fallback = ch
			}
		}
	}
	if fallback != nil {
		return fallback, nil
	}
	return nil, fmt.Errorf("broadcast channel not found")
}

// Создаем клиент Telegram с указанными параметрами, прокси и хранилищем сессии.
func Modf_AccountInitialization(apiID int, apiHash, phone string, p *models.Proxy, storage session.Storage, h telegram.UpdateHandler) (*telegram.Client, error) {
	opts := telegram.Options{
		SessionStorage: storage,
		Logger:         logger.Zap().With(zap.String("phone", phone)),
	}
	if h != nil {
		opts.UpdateHandler = h
	}
	if p.Enabled() {
		addr := p.Addr()
		var auth *proxy.Auth
		if p.Login != "" || p.Password != "" {
			auth = &proxy.Auth{User: p.Login, Password: p.Password}
		}
		d, err := proxy.SOCKS5("tcp", addr, auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxy dialer: %w", err)
		}
		dc, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("proxy dialer missing context")
		}
		opts.Resolver = dcs.Plain(dcs.PlainOptions{Dial: dc.DialContext})
		logger.For("proxy").Infof("[PROXY] %s via %s", phone, addr)
	}
	client := telegram.NewClient(apiID, apiHash, opts)
	return client, nil
}
