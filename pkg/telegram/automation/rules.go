package automation

import (
	"context"
	"regexp"
	"strings"

	"autoclick_go/internal/common"
	"autoclick_go/models"
)

var quotedToken = regexp.MustCompile(`«(.+?)»`)

// HandleMessage реагирует на новое сообщение собеседника.
// Задание на подписку и задание «найди картинку» обрабатываются, остальное игнорируется.
// Ошибки только пишутся в журнал.
func (t *Task) HandleMessage(ctx context.Context, msg models.Message) {
	switch {
	case t.set.SubscribeMarker != "" && strings.Contains(msg.Text, t.set.SubscribeMarker):
		t.handleSubscribe(ctx, msg)
	case t.set.RewardMarker != "" && strings.Contains(msg.Text, t.set.RewardMarker):
		t.handleReward(ctx, msg)
	}
}

func (t *Task) handleSubscribe(ctx context.Context, msg models.Message) {
	channels := msg.FilterButtons(t.set.ChannelMarker)
	t.log.Infof("[AUTOMATION] задание на подписку, каналов: %d", len(channels))
	for _, btn := range channels {
		if _, err := t.click(ctx, msg, btn); err != nil {
			t.log.Warnf("[AUTOMATION] подписка %q не удалась: %v", btn.Label, err)
		}
	}

	verify, ok := msg.FindButton(t.set.VerifyMarker)
	if !ok {
		t.log.Warnf("[AUTOMATION] кнопка %q не найдена", t.set.VerifyMarker)
		return
	}
	if err := common.WaitWithCancellation(ctx, t.set.ClickDelay); err != nil {
		return
	}
	if _, err := t.click(ctx, msg, verify); err != nil {
		t.log.Warnf("[AUTOMATION] проверка подписки не удалась: %v", err)
	}
}

func (t *Task) handleReward(ctx context.Context, msg models.Message) {
	match := quotedToken.FindStringSubmatch(msg.Text)
	if match == nil {
		t.log.Debugf("[AUTOMATION] в задании нет названия в кавычках")
		return
	}
	name := strings.TrimSpace(match[1])
	symbol, ok := t.set.Symbols[name]
	if !ok {
		t.log.Warnf("[AUTOMATION] неизвестное название %q", name)
		return
	}
	btn, ok := msg.FindButton(symbol)
	if !ok {
		t.log.Warnf("[AUTOMATION] кнопка с %s не найдена", symbol)
		return
	}
	if err := common.WaitWithCancellation(ctx, t.set.ClickDelay); err != nil {
		return
	}
	if _, err := t.click(ctx, msg, btn); err != nil {
		t.log.Warnf("[AUTOMATION] не удалось выбрать %s: %v", symbol, err)
		return
	}
	t.log.Infof("[AUTOMATION] выбран %s (%s)", symbol, name)
}
