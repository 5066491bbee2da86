package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMessageStore struct {
	mu       sync.Mutex
	messages []model.Message
}

func (f *fakeMessageStore) Create(ctx context.Context, m *model.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, *m)
	return nil
}

func (f *fakeMessageStore) ListByChat(ctx context.Context, chatID string) ([]model.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Message, 0, len(f.messages))
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeMessageStore) DeleteOwn(ctx context.Context, id, requesterID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, m := range f.messages {
		if m.ID == id {
			if m.SenderID != requesterID {
				return repository.ErrNotOwner
			}
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotFound
}

type fakeUserDirectory struct {
	users map[string]*model.User
}

func (f *fakeUserDirectory) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserDirectory) ListIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.users))
	for id := range f.users {
		ids = append(ids, id)
	}
	return ids, nil
}

// testServer поднимает hub и endpoint, который регистрирует клиента с user_id из query.
func testServer(t *testing.T, store MessageStore, users *fakeUserDirectory) (*httptest.Server, *Hub, context.CancelFunc) {
	t.Helper()
	hub := NewHub("global_chat", store, users, 100, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		client := NewClient(hub, conn, r.URL.Query().Get("user_id"))
		hub.Register(client)
		clientCtx, clientCancel := context.WithCancel(ctx)
		client.Start(clientCtx, clientCancel)
	}))
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, hub, cancel
}

func dial(t *testing.T, srv *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?user_id=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) (EventType, json.RawMessage) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var out struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &out))
	return out.Type, out.Payload
}

func TestHubSnapshotOnSubscribe(t *testing.T) {
	store := &fakeMessageStore{messages: []model.Message{
		{ID: "m1", ChatID: "global_chat", Text: "first", SenderID: "u1", CreatedAt: time.Unix(1, 0).UTC()},
		{ID: "m2", ChatID: "global_chat", Text: "second", SenderID: "u2", CreatedAt: time.Unix(2, 0).UTC()},
		{ID: "x1", ChatID: "other", Text: "elsewhere", SenderID: "u1", CreatedAt: time.Unix(3, 0).UTC()},
	}}
	users := &fakeUserDirectory{users: map[string]*model.User{"u1": {ID: "u1", DisplayName: "Ada"}}}
	srv, _, _ := testServer(t, store, users)

	conn := dial(t, srv, "u1")
	typ, payload := readEvent(t, conn)
	require.Equal(t, EventSnapshot, typ)

	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(payload, &snap))
	assert.Equal(t, "global_chat", snap.ChatID)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, "m1", snap.Messages[0].ID)
	assert.Equal(t, "m2", snap.Messages[1].ID)
}

func TestHubNewMessageBroadcast(t *testing.T) {
	store := &fakeMessageStore{}
	users := &fakeUserDirectory{users: map[string]*model.User{
		"u1": {ID: "u1", DisplayName: "Ada"},
		"u2": {ID: "u2", DisplayName: "Grace"},
	}}
	srv, _, _ := testServer(t, store, users)

	connA := dial(t, srv, "u1")
	connB := dial(t, srv, "u2")
	readEvent(t, connA) // snapshot
	readEvent(t, connB) // snapshot

	require.NoError(t, connA.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "hello"}))

	for _, conn := range []*websocket.Conn{connA, connB} {
		typ, payload := readEvent(t, conn)
		require.Equal(t, EventMessageAdded, typ)
		var m model.Message
		require.NoError(t, json.Unmarshal(payload, &m))
		assert.Equal(t, "hello", m.Text)
		assert.Equal(t, "u1", m.SenderID)
		assert.Equal(t, "Ada", m.SenderName)
		assert.False(t, m.CreatedAt.IsZero())
	}
}

func TestHubRejectsEmptyMessage(t *testing.T) {
	store := &fakeMessageStore{}
	users := &fakeUserDirectory{users: map[string]*model.User{"u1": {ID: "u1"}}}
	srv, _, _ := testServer(t, store, users)

	conn := dial(t, srv, "u1")
	readEvent(t, conn) // snapshot

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "   "}))
	typ, _ := readEvent(t, conn)
	assert.Equal(t, EventError, typ)

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.messages)
}

func TestHubDeleteMessage(t *testing.T) {
	store := &fakeMessageStore{messages: []model.Message{
		{ID: "m1", ChatID: "global_chat", Text: "mine", SenderID: "u1", CreatedAt: time.Unix(1, 0).UTC()},
	}}
	users := &fakeUserDirectory{users: map[string]*model.User{
		"u1": {ID: "u1", DisplayName: "Ada"},
		"u2": {ID: "u2", DisplayName: "Grace"},
	}}
	srv, _, _ := testServer(t, store, users)

	connA := dial(t, srv, "u1")
	connB := dial(t, srv, "u2")
	readEvent(t, connA)
	readEvent(t, connB)

	// Чужое сообщение удалить нельзя.
	require.NoError(t, connB.WriteJSON(IncomingMessage{Type: EventDeleteMessage, MessageID: "m1"}))
	typ, _ := readEvent(t, connB)
	assert.Equal(t, EventError, typ)

	// Своё — можно, событие получают все.
	require.NoError(t, connA.WriteJSON(IncomingMessage{Type: EventDeleteMessage, MessageID: "m1"}))
	for _, conn := range []*websocket.Conn{connA, connB} {
		typ, payload := readEvent(t, conn)
		require.Equal(t, EventMessageDeleted, typ)
		var del MessageDeletedPayload
		require.NoError(t, json.Unmarshal(payload, &del))
		assert.Equal(t, "m1", del.MessageID)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.messages)
}

// stallFirstCreateStore задерживает первую запись до закрытия release.
// Сигнал stalled — запись началась.
type stallFirstCreateStore struct {
	*fakeMessageStore
	first   sync.Once
	stalled chan struct{}
	release chan struct{}
}

func newStallFirstCreateStore() *stallFirstCreateStore {
	return &stallFirstCreateStore{
		fakeMessageStore: &fakeMessageStore{},
		stalled:          make(chan struct{}),
		release:          make(chan struct{}),
	}
}

func (s *stallFirstCreateStore) Create(ctx context.Context, m *model.Message) error {
	var isFirst bool
	s.first.Do(func() { isFirst = true })
	if isFirst {
		close(s.stalled)
		<-s.release
	}
	return s.fakeMessageStore.Create(ctx, m)
}

func TestHubConcurrentSendsKeepStoreOrder(t *testing.T) {
	store := newStallFirstCreateStore()
	users := &fakeUserDirectory{users: map[string]*model.User{
		"u1": {ID: "u1", DisplayName: "Ada"},
		"u2": {ID: "u2", DisplayName: "Grace"},
	}}
	srv, _, _ := testServer(t, store, users)

	connA := dial(t, srv, "u1")
	connB := dial(t, srv, "u2")
	readEvent(t, connA) // snapshot
	readEvent(t, connB) // snapshot

	// Первая отправка виснет на записи; вторая приходит, пока первая не завершена.
	require.NoError(t, connA.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "first"}))
	<-store.stalled
	require.NoError(t, connB.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "second"}))
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	// Подписчик видит события в порядке хранилища: метки времени не убывают,
	// "second" не обгоняет "first".
	var got []model.Message
	for i := 0; i < 2; i++ {
		typ, payload := readEvent(t, connA)
		require.Equal(t, EventMessageAdded, typ)
		var m model.Message
		require.NoError(t, json.Unmarshal(payload, &m))
		got = append(got, m)
	}
	require.Equal(t, "first", got[0].Text)
	require.Equal(t, "second", got[1].Text)
	assert.False(t, got[1].CreatedAt.Before(got[0].CreatedAt))
}

func TestHubSubscribeDuringSendNoDuplicate(t *testing.T) {
	store := newStallFirstCreateStore()
	users := &fakeUserDirectory{users: map[string]*model.User{
		"u1": {ID: "u1", DisplayName: "Ada"},
		"u2": {ID: "u2", DisplayName: "Grace"},
	}}
	srv, _, _ := testServer(t, store, users)

	connA := dial(t, srv, "u1")
	readEvent(t, connA) // snapshot

	// Подписка в момент, когда запись уже закоммичена не до конца: клиент
	// обязан получить сообщение ровно один раз — в снапшоте или событием.
	require.NoError(t, connA.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "hello"}))
	<-store.stalled
	connB := dial(t, srv, "u2")
	time.Sleep(50 * time.Millisecond)
	close(store.release)

	typ, payload := readEvent(t, connB)
	require.Equal(t, EventSnapshot, typ)
	var snap SnapshotPayload
	require.NoError(t, json.Unmarshal(payload, &snap))
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "hello", snap.Messages[0].Text)

	// Следующее событие у нового подписчика — уже следующее сообщение, не дубль.
	require.NoError(t, connA.WriteJSON(IncomingMessage{Type: EventNewMessage, Text: "again"}))
	typ, payload = readEvent(t, connB)
	require.Equal(t, EventMessageAdded, typ)
	var m model.Message
	require.NoError(t, json.Unmarshal(payload, &m))
	assert.Equal(t, "again", m.Text)
}

func TestHubUnknownEventType(t *testing.T) {
	store := &fakeMessageStore{}
	users := &fakeUserDirectory{users: map[string]*model.User{"u1": {ID: "u1"}}}
	srv, _, _ := testServer(t, store, users)

	conn := dial(t, srv, "u1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(IncomingMessage{Type: "typing"}))
	typ, _ := readEvent(t, conn)
	assert.Equal(t, EventError, typ)
}
