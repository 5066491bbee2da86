package push

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/storage"
)

// Subscription — подписка из браузера.
type Subscription struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

// NotifyPayload — тело пуш-уведомления.
type NotifyPayload struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Notifier отправляет Web Push напрямую (VAPID). Если ключи не заданы — методы no-op,
// подписки при этом сохраняются и будут использоваться после включения.
type Notifier struct {
	store      storage.SessionStore
	subscriber string // контактный email/URL для заголовка VAPID sub
	publicKey  string
	privateKey string
}

func NewNotifier(store storage.SessionStore, subscriber, publicKey, privateKey string) *Notifier {
	return &Notifier{store: store, subscriber: subscriber, publicKey: publicKey, privateKey: privateKey}
}

func (n *Notifier) Enabled() bool {
	return n.publicKey != "" && n.privateKey != ""
}

func (n *Notifier) PublicKey() string { return n.publicKey }

// Subscribe сохраняет подписку пользователя.
func (n *Notifier) Subscribe(ctx context.Context, userID string, sub Subscription) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return n.store.AddPushSubscription(ctx, userID, sub.Endpoint, string(raw))
}

// Unsubscribe удаляет подписку по endpoint.
func (n *Notifier) Unsubscribe(ctx context.Context, userID, endpoint string) error {
	return n.store.RemovePushSubscription(ctx, userID, endpoint)
}

// Notify отправляет уведомление на все подписки пользователя.
// Протухшие подписки (404/410 от пуш-шлюза) удаляются.
func (n *Notifier) Notify(ctx context.Context, userID string, payload NotifyPayload) {
	if !n.Enabled() {
		return
	}
	subs, err := n.store.ListPushSubscriptions(ctx, userID)
	if err != nil {
		logger.Errorf("push notify list user_id=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		logger.Errorf("push notify marshal: %v", err)
		return
	}
	for _, raw := range subs {
		var sub webpush.Subscription
		if err := json.Unmarshal([]byte(raw), &sub); err != nil {
			logger.Errorf("push notify bad subscription user_id=%s: %v", userID, err)
			continue
		}
		resp, err := webpush.SendNotificationWithContext(ctx, body, &sub, &webpush.Options{
			Subscriber:      n.subscriber,
			VAPIDPublicKey:  n.publicKey,
			VAPIDPrivateKey: n.privateKey,
			TTL:             int((24 * time.Hour).Seconds()),
		})
		if err != nil {
			logger.Errorf("push notify send user_id=%s: %v", userID, err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := n.store.RemovePushSubscription(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push notify cleanup user_id=%s: %v", userID, err)
			}
		}
		resp.Body.Close()
	}
}
