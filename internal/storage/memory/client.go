package memory

import (
	"context"
	"sync"
	"time"
)

const (
	signInLimitWindow = 600 * time.Second
	signInLimitMax    = 10
	sessionSecretTTL  = 30 * 24 * time.Hour
	maxSubsPerUser    = 10
)

type item struct {
	val string
	exp time.Time
}

type Client struct {
	mu      sync.RWMutex
	secrets map[string]item
	limit   map[string][]time.Time
	subs    map[string]map[string]string // userID -> endpoint -> subJSON
}

func New() *Client {
	return &Client{
		secrets: make(map[string]item),
		limit:   make(map[string][]time.Time),
		subs:    make(map[string]map[string]string),
	}
}

func (c *Client) Close() error { return nil }

func (c *Client) SetSessionSecret(ctx context.Context, sessionID, secret string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.secrets[sessionID] = item{val: secret, exp: time.Now().Add(sessionSecretTTL)}
	return nil
}

func (c *Client) GetSessionSecret(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.secrets[sessionID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) DeleteSessionSecret(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.secrets, sessionID)
	return nil
}

func (c *Client) CheckSignInRateLimit(ctx context.Context, email string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	cut := now.Add(-signInLimitWindow)
	var kept []time.Time
	for _, t := range c.limit[email] {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= signInLimitMax {
		c.limit[email] = kept
		return false, nil
	}
	c.limit[email] = append(kept, now)
	return true, nil
}

func (c *Client) AddPushSubscription(ctx context.Context, userID, endpoint, subJSON string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.subs[userID]
	if !ok {
		m = make(map[string]string)
		c.subs[userID] = m
	}
	if _, exists := m[endpoint]; !exists && len(m) >= maxSubsPerUser {
		return nil
	}
	m[endpoint] = subJSON
	return nil
}

func (c *Client) ListPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m := c.subs[userID]
	if len(m) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(m))
	for _, v := range m {
		out = append(out, v)
	}
	return out, nil
}

func (c *Client) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.subs[userID]; ok {
		delete(m, endpoint)
	}
	return nil
}
