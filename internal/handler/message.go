package handler

import (
	"net/http"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/repository"
)

type MessageHandler struct {
	msgRepo *repository.MessageRepository
	chatID  string
}

func NewMessageHandler(msgRepo *repository.MessageRepository, chatID string) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, chatID: chatID}
}

// List отдаёт историю комнаты в каноническом порядке (created_at, id).
// Основной путь доставки — WebSocket snapshot; REST нужен для отладки и инструментов.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	messages, err := h.msgRepo.ListByChat(r.Context(), h.chatID)
	if err != nil {
		logger.Errorf("list messages chat=%s: %v", h.chatID, err)
		writeError(w, http.StatusInternalServerError, "failed to load messages")
		return
	}
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(messages) {
		messages = messages[len(messages)-limit:]
	}
	writeJSON(w, http.StatusOK, map[string]any{"chat_id": h.chatID, "messages": messages})
}
