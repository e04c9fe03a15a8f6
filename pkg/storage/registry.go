package storage

import (
	"context"

	"autoclick_go/models"
)

// Registry — долговременный реестр авторизованных аккаунтов.
// Записи только добавляются; телефон уникален.
type Registry interface {
	// Load возвращает все записи. Отсутствующее или повреждённое хранилище даёт пустой список.
	Load(ctx context.Context) ([]models.Account, error)
	// Append добавляет запись, если аккаунта с таким телефоном ещё нет.
	// added сообщает, была ли запись действительно добавлена.
	Append(ctx context.Context, acc models.Account) (added bool, err error)
}
