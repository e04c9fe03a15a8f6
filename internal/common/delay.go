package common

import (
	"context"
	"math/rand"
	"time"
)

// RandomDelay выбирает задержку в секундах из диапазона [min, max].
func RandomDelay(delayRange [2]int) time.Duration {
	if delayRange[1] <= delayRange[0] {
		return time.Duration(delayRange[0]) * time.Second
	}
	return time.Duration(rand.Intn(delayRange[1]-delayRange[0]+1)+delayRange[0]) * time.Second
}

// WaitWithCancellation выполняет ожидание в случайном диапазоне и
// прерывается при отмене контекста.
func WaitWithCancellation(ctx context.Context, delayRange [2]int) error {
	return Sleep(ctx, RandomDelay(delayRange))
}

// Sleep ждёт d или отмены контекста, в этом случае возвращает ctx.Err().
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
