package ws

import "github.com/roomchat/internal/model"

type EventType string

const (
	// Клиент -> сервер
	EventNewMessage    EventType = "new_message"
	EventDeleteMessage EventType = "delete_message"

	// Сервер -> клиент
	EventSnapshot       EventType = "snapshot"
	EventMessageAdded   EventType = "message_added"
	EventMessageDeleted EventType = "message_deleted"
	EventError          EventType = "error"
)

// IncomingMessage is what the client sends to the server.
type IncomingMessage struct {
	Type     EventType `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL string    `json:"image_url,omitempty"`

	// For delete
	MessageID string `json:"message_id,omitempty"`
}

// OutgoingMessage is what the server sends to the client.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingMessage struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// SnapshotPayload отправляется сразу после подписки: полное упорядоченное
// состояние комнаты. Дальше идут только инкрементальные события.
type SnapshotPayload struct {
	ChatID   string          `json:"chat_id"`
	Messages []model.Message `json:"messages"`
}

// MessageDeletedPayload is broadcast when a message is deleted.
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}
