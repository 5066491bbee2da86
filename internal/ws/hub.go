package ws

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/push"
	"github.com/roomchat/internal/repository"
	"github.com/samber/lo"
)

// MessageStore — часть репозитория сообщений, нужная хабу.
type MessageStore interface {
	Create(ctx context.Context, m *model.Message) error
	ListByChat(ctx context.Context, chatID string) ([]model.Message, error)
	DeleteOwn(ctx context.Context, id, requesterID string) error
}

// UserDirectory отдаёт профиль отправителя и список адресатов пушей.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*model.User, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID string, payload push.NotifyPayload)
}

// Hub обслуживает одну комнату: при подписке клиент получает snapshot,
// дальше — только message_added/message_deleted. Порядок событий для всех
// клиентов одинаков: запись в хранилище и рассылка идут под мьютексом order,
// снапшот при подписке берётся под ним же. Инвариант: порядок доставки
// совпадает с порядком хранилища, и сообщение не приходит дважды —
// и в снапшоте, и отдельным событием.
type Hub struct {
	// order сериализует пары «мутация хранилища → рассылка» и снятие снапшота.
	// Берётся раньше mu; обратный порядок запрещён.
	order sync.Mutex

	mu         sync.RWMutex
	clients    map[string]map[*Client]struct{}
	total      int
	maxConns   int
	chatID     string
	msgStore   MessageStore
	users      UserDirectory
	pushClient PushNotifier

	sendBufSize    int
	maxMessageSize int64

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(chatID string, msgStore MessageStore, users UserDirectory, maxConns int, pushClient PushNotifier) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:        make(map[string]map[*Client]struct{}),
		maxConns:       maxConns,
		chatID:         chatID,
		msgStore:       msgStore,
		users:          users,
		pushClient:     pushClient,
		sendBufSize:    defaultSendBufSize,
		maxMessageSize: defaultMaxMessageSize,
		register:       make(chan *Client, 64),
		unregister:     make(chan *Client, 64),
		done:           make(chan struct{}),
	}
}

// SetLimits переопределяет размеры буферов из конфига (до запуска Run).
func (h *Hub) SetLimits(sendBufSize int, maxMessageSize int64) {
	if sendBufSize > 0 {
		h.sendBufSize = sendBufSize
	}
	if maxMessageSize > 0 {
		h.maxMessageSize = maxMessageSize
	}
}

func (h *Hub) ChatID() string { return h.chatID }

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	// Под order регистрация атомарна относительно рассылок: клиент либо
	// получает сообщение в снапшоте, либо событием — никогда и так, и так.
	h.order.Lock()
	defer h.order.Unlock()

	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	h.mu.Unlock()

	// Подписка начинается с полного снимка — клиент не мёржит историю сам.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	messages, err := h.msgStore.ListByChat(ctx, h.chatID)
	if err != nil {
		logger.Errorf("ws snapshot user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to load messages"})
		c.Close()
		return
	}
	h.sendToClient(c, OutgoingMessage{Type: EventSnapshot, Payload: SnapshotPayload{
		ChatID:   h.chatID,
		Messages: messages,
	}})
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

// HandleMessage dispatches incoming WebSocket messages.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	switch msg.Type {
	case EventNewMessage:
		h.handleNewMessage(ctx, c, msg)
	case EventDeleteMessage:
		h.handleDeleteMessage(ctx, c, msg)
	default:
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleNewMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleNewMessage", time.Now())()
	text := strings.TrimSpace(msg.Text)
	imageURL := strings.TrimSpace(msg.ImageURL)
	if text == "" && imageURL == "" {
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "text or image_url required"})
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	senderName := "Anonymous"
	sender, err := h.users.GetByID(ctx, c.userID)
	if err != nil {
		logger.Errorf("ws get sender user=%s: %v", c.userID, err)
	} else if sender.DisplayName != "" {
		senderName = sender.DisplayName
	}

	// Метка времени, запись и рассылка — одна критическая секция: события
	// у всех подписчиков идут в порядке created_at, как и снапшот.
	h.order.Lock()
	m := &model.Message{
		ID:         uuid.New().String(),
		ChatID:     h.chatID,
		Text:       text,
		ImageURL:   imageURL,
		SenderID:   c.userID,
		SenderName: senderName,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.msgStore.Create(ctx, m); err != nil {
		h.order.Unlock()
		logger.Errorf("ws save message user=%s: %v", c.userID, err)
		h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to save message"})
		return
	}
	h.broadcast(OutgoingMessage{Type: EventMessageAdded, Payload: m})
	h.order.Unlock()

	h.notifyOffline(c.userID, m)
}

func (h *Hub) handleDeleteMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	defer logger.DeferLogDuration("ws.handleDeleteMessage", time.Now())()
	if msg.MessageID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	h.order.Lock()
	if err := h.msgStore.DeleteOwn(ctx, msg.MessageID, c.userID); err != nil {
		h.order.Unlock()
		switch {
		case errors.Is(err, repository.ErrNotOwner):
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "can only delete own messages"})
		case errors.Is(err, repository.ErrNotFound):
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "message not found"})
		default:
			logger.Errorf("ws delete message %s: %v", msg.MessageID, err)
			h.sendToClient(c, OutgoingMessage{Type: EventError, Payload: "failed to delete"})
		}
		return
	}
	h.broadcast(OutgoingMessage{Type: EventMessageDeleted, Payload: MessageDeletedPayload{
		MessageID: msg.MessageID,
		ChatID:    h.chatID,
	}})
	h.order.Unlock()
}

// notifyOffline шлёт пуши всем пользователям, кроме отправителя и тех, кто
// сейчас подключён (им событие уже доставлено по WebSocket).
func (h *Hub) notifyOffline(senderID string, m *model.Message) {
	if h.pushClient == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ids, err := h.users.ListIDs(ctx)
	if err != nil {
		logger.Errorf("ws push list users: %v", err)
		return
	}

	h.mu.RLock()
	online := lo.Keys(h.clients)
	h.mu.RUnlock()

	body := m.Text
	if body == "" {
		body = "Image"
	}
	if len(body) > 120 {
		body = body[:117] + "..."
	}
	payload := push.NotifyPayload{
		Title: m.SenderName,
		Body:  body,
		Data:  map[string]string{"chat_id": m.ChatID, "message_id": m.ID},
	}

	targets := lo.Without(ids, append(online, senderID)...)
	for _, uid := range targets {
		uid := uid
		go h.pushClient.Notify(context.Background(), uid, payload)
	}
}

// broadcast рассылает событие всем подключённым клиентам.
func (h *Hub) broadcast(msg OutgoingMessage) {
	h.mu.RLock()
	targets := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, msg)
	}
}

func (h *Hub) sendToClient(c *Client, msg OutgoingMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
