package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/model"
)

// Типы событий live-подписки (зеркало серверного протокола).
const (
	EventSnapshot       = "snapshot"
	EventMessageAdded   = "message_added"
	EventMessageDeleted = "message_deleted"
	EventError          = "error"
)

// ServerEvent — одно событие подписки. Ровно одно из полей payload заполнено
// в зависимости от Type.
type ServerEvent struct {
	Type     string
	Snapshot *SnapshotData
	Added    *model.Message
	Deleted  *DeletedData
	ErrorMsg string
}

type SnapshotData struct {
	ChatID   string          `json:"chat_id"`
	Messages []model.Message `json:"messages"`
}

type DeletedData struct {
	MessageID string `json:"message_id"`
	ChatID    string `json:"chat_id"`
}

// Subscription — активная live-подписка на комнату. Events закрывается при
// обрыве соединения или Close — это сигнал окончания подписки для ленты.
type Subscription struct {
	conn   *websocket.Conn
	events chan ServerEvent

	once sync.Once
	err  error
	mu   sync.Mutex
}

// Subscribe открывает WebSocket-подписку. Креды передаются в query:
// браузерный WebSocket не умеет ставить заголовки при рукопожатии.
func (c *Client) Subscribe(ctx context.Context) (*Subscription, error) {
	wsURL := "ws" + strings.TrimPrefix(c.baseURL, "http")
	sessionID, timestamp, signature := c.Sign(http.MethodGet, "/ws", nil)
	q := url.Values{}
	q.Set("session_id", sessionID)
	q.Set("timestamp", timestamp)
	q.Set("signature", signature)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL+"/ws?"+q.Encode(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, &APIError{StatusCode: http.StatusUnauthorized, Message: "unauthorized"}
		}
		return nil, err
	}

	sub := &Subscription{
		conn:   conn,
		events: make(chan ServerEvent, 64),
	}
	go sub.readLoop()
	return sub, nil
}

// Events — поток событий подписки.
func (s *Subscription) Events() <-chan ServerEvent { return s.events }

// Err возвращает причину завершения подписки (nil при штатном Close).
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close разрывает подписку. Events будет закрыт.
func (s *Subscription) Close() error {
	s.once.Do(func() {
		s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})
	return s.conn.Close()
}

// SendMessage отправляет новое сообщение комнаты через подписку.
func (s *Subscription) SendMessage(text, imageURL string) error {
	return s.conn.WriteJSON(map[string]string{
		"type": "new_message", "text": text, "image_url": imageURL,
	})
}

// DeleteMessage запрашивает удаление собственного сообщения.
func (s *Subscription) DeleteMessage(messageID string) error {
	return s.conn.WriteJSON(map[string]string{
		"type": "delete_message", "message_id": messageID,
	})
}

func (s *Subscription) readLoop() {
	defer close(s.events)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.mu.Lock()
				s.err = err
				s.mu.Unlock()
			}
			return
		}
		ev, err := parseEvent(raw)
		if err != nil {
			continue
		}
		s.events <- ev
	}
}

func parseEvent(raw []byte) (ServerEvent, error) {
	var envelope struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return ServerEvent{}, err
	}
	ev := ServerEvent{Type: envelope.Type}
	switch envelope.Type {
	case EventSnapshot:
		ev.Snapshot = &SnapshotData{}
		if err := json.Unmarshal(envelope.Payload, ev.Snapshot); err != nil {
			return ServerEvent{}, err
		}
	case EventMessageAdded:
		ev.Added = &model.Message{}
		if err := json.Unmarshal(envelope.Payload, ev.Added); err != nil {
			return ServerEvent{}, err
		}
	case EventMessageDeleted:
		ev.Deleted = &DeletedData{}
		if err := json.Unmarshal(envelope.Payload, ev.Deleted); err != nil {
			return ServerEvent{}, err
		}
	case EventError:
		_ = json.Unmarshal(envelope.Payload, &ev.ErrorMsg)
	}
	return ev, nil
}
