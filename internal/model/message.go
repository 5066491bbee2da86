package model

import "time"

// Message — сообщение комнаты. Создаётся ровно один раз, не редактируется;
// удалить может только отправитель (удаление необратимо для всех подписчиков).
/// Инвариант: хотя бы одно из Text/ImageURL непустое.
type Message struct {
	ID       string `json:"id"`
	ChatID   string `json:"chat_id"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`

	SenderID string `json:"sender_id"`
	// SenderName — денормализованная копия имени на момент отправки.
	// Со сменой профиля не обновляется (осознанный компромисс).
	SenderName string `json:"sender_name,omitempty"`

	// CreatedAt назначается сервером (UTC). Нулевое значение у клиента — «ещё не доставлено».
	CreatedAt time.Time `json:"created_at"`

	// Reactions объявлено в схеме, но операций над ним нет.
	Reactions map[string][]string `json:"reactions,omitempty"`
}

// HasContent сообщает, проходит ли сообщение инвариант «текст или картинка».
func (m *Message) HasContent() bool {
	return m.Text != "" || m.ImageURL != ""
}
