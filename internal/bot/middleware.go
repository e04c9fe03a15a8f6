package bot

import (
	"runtime/debug"
	"strings"

	"autoclick_go/logger"

	tele "gopkg.in/telebot.v4"
)

// Цепочка объявляется в New в порядке: Recover, Logging, ActiveGuard.

// Recover не даёт панике в обработчике уронить бота.
func Recover(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.For("bot").Errorf("[BOT] паника в обработчике: %v\n%s", r, debug.Stack())
				err = nil
			}
		}()
		return next(c)
	}
}

// Logging пишет строку на каждое обновление. Текст вне команд не логируется:
// в нём бывают api_hash, коды и пароли.
func Logging(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		entry := logger.For("bot")
		if chat := c.Chat(); chat != nil {
			entry = entry.WithField("chat_id", chat.ID)
		}
		if user := c.Sender(); user != nil {
			entry = entry.WithField("user_id", user.ID)
		}
		text := c.Text()
		if strings.HasPrefix(text, "/") {
			entry.Debugf("[BOT] команда %s", strings.Fields(text)[0])
		} else {
			entry.Debugf("[BOT] сообщение, %d символов", len([]rune(text)))
		}
		return next(c)
	}
}

// ActiveGuard отклоняет обновления, пока бот приостановлен. Администратор проходит всегда.
func (b *Bot) ActiveGuard(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if !b.Active() && !b.isAdmin(c) {
			return c.Send("Бот временно приостановлен, попробуйте позже.")
		}
		return next(c)
	}
}

// AdminOnly пропускает только администратора. Без настроенного admin_id команда недоступна.
func (b *Bot) AdminOnly(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if !b.isAdmin(c) {
			return c.Send("Команда доступна только администратору.")
		}
		return next(c)
	}
}
