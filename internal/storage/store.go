package storage

import "context"

// SessionStore — хранилище секретов сессий, rate limit входа и push-подписок.
// Реализации: redis.Client, memory.Client (для -dev без Redis).
type SessionStore interface {
	SetSessionSecret(ctx context.Context, sessionID, secret string) error
	GetSessionSecret(ctx context.Context, sessionID string) (string, error)
	DeleteSessionSecret(ctx context.Context, sessionID string) error

	// CheckSignInRateLimit ограничивает попытки входа по email.
	CheckSignInRateLimit(ctx context.Context, email string) (allowed bool, err error)

	// Push-подписки: JSON подписки браузера, ключ — endpoint.
	AddPushSubscription(ctx context.Context, userID, endpoint, subJSON string) error
	ListPushSubscriptions(ctx context.Context, userID string) ([]string, error)
	RemovePushSubscription(ctx context.Context, userID, endpoint string) error

	Close() error
}
