package account_mutex

import (
	"errors"
	"sync"

	"autoclick_go/logger"
)

// ErrBusy возвращается, если ключ уже захвачен.
var ErrBusy = errors.New("уже используется")

// Locker выдаёт неблокирующие блокировки по строковому ключу:
// номеру телефона или идентификатору чата.
// Запись о ключе живёт только пока он захвачен.
type Locker struct {
	name string
	mu   sync.Mutex
	held map[string]struct{}
}

// New создаёт набор блокировок; name попадает в журнал.
func New(name string) *Locker {
	return &Locker{name: name, held: make(map[string]struct{})}
}

// TryLock пытается захватить key.
// Если ключ уже занят, сразу возвращается ErrBusy.
func (l *Locker) TryLock(key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		logger.For("mutex").Debugf("[MUTEX] %s %s занят", l.name, key)
		return ErrBusy
	}
	l.held[key] = struct{}{}
	return nil
}

// Unlock освобождает key. Освобождение свободного ключа ничего не делает.
func (l *Locker) Unlock(key string) {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
}

// Held возвращает число захваченных ключей.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.held)
}
