package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Секрет сессии живёт 30 дней; вход — не более 10 попыток за 10 минут на email.
const (
	SessionSecretTTL    = 30 * 24 * 3600
	SignInLimitWindow   = 600
	SignInLimitMax      = 10
	PushSubscriptionTTL = 30 * 24 * 3600
	MaxSubsPerUser      = 10
)

type Client struct {
	cli *redis.Client
}

func New(ctx context.Context, url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis parse url: %w", err)
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		if closeErr := cli.Close(); closeErr != nil {
			return nil, fmt.Errorf("redis ping: %w (close: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Close() error {
	return c.cli.Close()
}

func (c *Client) SetSessionSecret(ctx context.Context, sessionID, secret string) error {
	return c.cli.Set(ctx, "session_secret:"+sessionID, secret, SessionSecretTTL*time.Second).Err()
}

func (c *Client) GetSessionSecret(ctx context.Context, sessionID string) (string, error) {
	val, err := c.cli.Get(ctx, "session_secret:"+sessionID).Result()
	if err == redis.Nil {
		return "", nil
	}
	return val, err
}

func (c *Client) DeleteSessionSecret(ctx context.Context, sessionID string) error {
	return c.cli.Del(ctx, "session_secret:"+sessionID).Err()
}

// CheckSignInRateLimit проверяет signin_limit:{email}: макс. SignInLimitMax попыток за окно. При превышении — HTTP 429.
func (c *Client) CheckSignInRateLimit(ctx context.Context, email string) (bool, error) {
	key := "signin_limit:" + email
	n, err := c.cli.Incr(ctx, key).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		c.cli.Expire(ctx, key, SignInLimitWindow*time.Second)
	}
	return n <= int64(SignInLimitMax), nil
}

// AddPushSubscription сохраняет подписку в hash push:subs:{user}, поле — endpoint.
// Лишние подписки сверх MaxSubsPerUser не добавляются (защита от мусора).
func (c *Client) AddPushSubscription(ctx context.Context, userID, endpoint, subJSON string) error {
	key := "push:subs:" + userID
	n, err := c.cli.HLen(ctx, key).Result()
	if err != nil {
		return err
	}
	exists, err := c.cli.HExists(ctx, key, endpoint).Result()
	if err != nil {
		return err
	}
	if !exists && n >= MaxSubsPerUser {
		return fmt.Errorf("too many push subscriptions for user")
	}
	if err := c.cli.HSet(ctx, key, endpoint, subJSON).Err(); err != nil {
		return err
	}
	return c.cli.Expire(ctx, key, PushSubscriptionTTL*time.Second).Err()
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	vals, err := c.cli.HVals(ctx, "push:subs:"+userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return vals, err
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	return c.cli.HDel(ctx, "push:subs:"+userID, endpoint).Err()
}

// FlushDB очищает текущую БД Redis (для сброса секретов и лимитов при тестах/перезапуске).
func (c *Client) FlushDB(ctx context.Context) error {
	return c.cli.FlushDB(ctx).Err()
}
