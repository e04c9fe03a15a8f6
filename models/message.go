package models

import "strings"

// ButtonKind — тип кнопки под сообщением.
type ButtonKind string

const (
	ButtonCallback ButtonKind = "callback"
	ButtonURL      ButtonKind = "url"
	ButtonText     ButtonKind = "text"
)

// Button — интерактивная кнопка, предложенная в сообщении.
type Button struct {
	Label string
	Kind  ButtonKind
	Data  []byte
	URL   string
	Row   int
	Col   int
}

// Message — сообщение собеседника вместе с его кнопками.
type Message struct {
	ID      int
	Text    string
	Buttons []Button
}

// FindButton возвращает первую кнопку, подпись которой содержит marker.
func (m Message) FindButton(marker string) (Button, bool) {
	if marker == "" {
		return Button{}, false
	}
	for _, b := range m.Buttons {
		if strings.Contains(b.Label, marker) {
			return b, true
		}
	}
	return Button{}, false
}

// FilterButtons возвращает все кнопки, подписи которых содержат marker, в порядке следования.
func (m Message) FilterButtons(marker string) []Button {
	if marker == "" {
		return nil
	}
	var out []Button
	for _, b := range m.Buttons {
		if strings.Contains(b.Label, marker) {
			out = append(out, b)
		}
	}
	return out
}
