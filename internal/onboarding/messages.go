package onboarding

const (
	msgAskPhone        = "Отправьте номер телефона в международном формате, например +79991234567."
	msgBadPhone        = "Номер должен начинаться с + и содержать не меньше 7 цифр. Попробуйте ещё раз."
	msgAskApiID        = "Отправьте api_id с my.telegram.org."
	msgBadApiID        = "api_id состоит только из цифр. Попробуйте ещё раз."
	msgAskApiHash      = "Отправьте api_hash."
	msgAskCode         = "Код входа отправлен в Telegram. Введите его цифрами."
	msgBadCode         = "Код состоит только из цифр. Попробуйте ещё раз."
	msgCodeExpired     = "Код истёк. Запросите новый командой /resend или начните заново: /login"
	msgCodeResent      = "Новый код отправлен. Введите его цифрами."
	msgAskPassword     = "Включена двухфакторная защита. Отправьте пароль."
	msgNoCodePending   = "Нет подключения, ожидающего код. Начните с /login."
	msgNoPending       = "Чтобы подключить аккаунт, отправьте /login."
	msgNothingToCancel = "Нечего отменять."
	msgCancelled       = "Подключение отменено."
	msgBusy            = "Предыдущий шаг ещё выполняется, подождите."
	msgIdleExpired     = "Подключение отменено: долго не было ответа. Начните заново: /login"
)
