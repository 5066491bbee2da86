package client

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/roomchat/internal/model"
)

// MessageView — всё, что нужно для отрисовки одного сообщения.
type MessageView struct {
	ID         string
	Text       string
	ImageURL   string
	SenderName string
	Initials   string
	Timestamp  string
	Own        bool
	CanDelete  bool
}

// RenderMessage готовит сообщение к показу от лица пользователя currentUID.
// Удалять можно только свои сообщения — у чужих действие не показывается.
func RenderMessage(m model.Message, currentUID string, now time.Time) MessageView {
	name := strings.TrimSpace(m.SenderName)
	if name == "" {
		name = "Anonymous"
	}
	own := m.SenderID == currentUID
	return MessageView{
		ID:         m.ID,
		Text:       m.Text,
		ImageURL:   m.ImageURL,
		SenderName: name,
		Initials:   Initials(name),
		Timestamp:  RelativeTime(m.CreatedAt, now),
		Own:        own,
		CanDelete:  own,
	}
}

// Initials — до двух заглавных букв из первых слов имени.
func Initials(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		for _, r := range word {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
		if b.Len() >= 2 {
			break
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// RelativeTime форматирует время относительно now. Нулевое время означает
// «сообщение ещё не подтверждено сервером» — показываем "now", не падаем.
func RelativeTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "now"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	default:
		return t.Format("Jan 2, 2006")
	}
}
