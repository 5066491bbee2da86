package service

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"testing"
	"time"

	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	byEmail map[string]*model.User
	byID    map[string]*model.User
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{byEmail: map[string]*model.User{}, byID: map[string]*model.User{}}
}

func (f *fakeUserStore) Create(ctx context.Context, u *model.User) error {
	if _, ok := f.byEmail[u.Email]; ok {
		return repository.ErrEmailTaken
	}
	f.byEmail[u.Email] = u
	f.byID[u.ID] = u
	return nil
}

func (f *fakeUserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	u, ok := f.byEmail[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

type fakeSessionRepo struct {
	sessions map[string]*model.Session
	revoked  map[string]bool
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*model.Session{}, revoked: map[string]bool{}}
}

func (f *fakeSessionRepo) Create(ctx context.Context, s *model.Session) error {
	f.sessions[s.ID] = s
	return nil
}

func (f *fakeSessionRepo) RevokeByID(ctx context.Context, sessionID string) (bool, error) {
	if _, ok := f.sessions[sessionID]; !ok || f.revoked[sessionID] {
		return false, nil
	}
	f.revoked[sessionID] = true
	return true, nil
}

type fakeStore struct {
	secrets     map[string]string
	rateLimited bool
	limitCalls  int
	subs        map[string]map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{secrets: map[string]string{}, subs: map[string]map[string]string{}}
}

func (f *fakeStore) SetSessionSecret(ctx context.Context, id, secret string) error {
	f.secrets[id] = secret
	return nil
}

func (f *fakeStore) GetSessionSecret(ctx context.Context, id string) (string, error) {
	return f.secrets[id], nil
}

func (f *fakeStore) DeleteSessionSecret(ctx context.Context, id string) error {
	delete(f.secrets, id)
	return nil
}

func (f *fakeStore) CheckSignInRateLimit(ctx context.Context, email string) (bool, error) {
	f.limitCalls++
	return !f.rateLimited, nil
}

func (f *fakeStore) AddPushSubscription(ctx context.Context, userID, endpoint, subJSON string) error {
	if f.subs[userID] == nil {
		f.subs[userID] = map[string]string{}
	}
	f.subs[userID][endpoint] = subJSON
	return nil
}

func (f *fakeStore) ListPushSubscriptions(ctx context.Context, userID string) ([]string, error) {
	var out []string
	for _, v := range f.subs[userID] {
		out = append(out, v)
	}
	return out, nil
}

func (f *fakeStore) RemovePushSubscription(ctx context.Context, userID, endpoint string) error {
	delete(f.subs[userID], endpoint)
	return nil
}

func (f *fakeStore) Close() error { return nil }

func newTestAuth() (*AuthService, *fakeUserStore, *fakeSessionRepo, *fakeStore) {
	users := newFakeUserStore()
	sessions := newFakeSessionRepo()
	store := newFakeStore()
	return NewAuthService(users, sessions, store), users, sessions, store
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()

	t.Run("creates user and session", func(t *testing.T) {
		svc, users, sessions, store := newTestAuth()
		creds, err := svc.SignUp(ctx, SignUpRequest{Email: "Ada@Example.com", Password: "secret1", DisplayName: "Ada"})
		require.NoError(t, err)
		require.NotNil(t, creds)

		// Email нормализован.
		u, ok := users.byEmail["ada@example.com"]
		require.True(t, ok)
		assert.Equal(t, "Ada", u.DisplayName)
		assert.NotEqual(t, "secret1", u.PasswordHash)
		assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("secret1")))

		// Сессия выдана: секрет в store, хеш в репозитории.
		sess, ok := sessions.sessions[creds.SessionID]
		require.True(t, ok)
		assert.Equal(t, u.ID, sess.UserID)
		raw, err := base64.StdEncoding.DecodeString(creds.SessionSecret)
		require.NoError(t, err)
		sum := sha256.Sum256(raw)
		assert.Equal(t, hex.EncodeToString(sum[:]), sess.SecretHash)
		assert.Equal(t, creds.SessionSecret, store.secrets[creds.SessionID])
	})

	t.Run("duplicate email", func(t *testing.T) {
		svc, _, _, _ := newTestAuth()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "secret1"})
		require.NoError(t, err)
		_, err = svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "other123"})
		assert.ErrorIs(t, err, ErrEmailTaken)
	})

	t.Run("weak password", func(t *testing.T) {
		svc, _, _, _ := newTestAuth()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "12345"})
		assert.ErrorIs(t, err, ErrWeakPassword)
	})

	t.Run("malformed email", func(t *testing.T) {
		svc, _, _, _ := newTestAuth()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "not-an-email", Password: "secret1"})
		assert.ErrorIs(t, err, ErrInvalidEmail)
	})

	t.Run("display name falls back to email local part", func(t *testing.T) {
		svc, users, _, _ := newTestAuth()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "grace@navy.mil", Password: "secret1"})
		require.NoError(t, err)
		assert.Equal(t, "grace", users.byEmail["grace@navy.mil"].DisplayName)
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*AuthService, *fakeStore) {
		svc, _, _, store := newTestAuth()
		_, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "secret1"})
		require.NoError(t, err)
		return svc, store
	}

	t.Run("ok", func(t *testing.T) {
		svc, _ := setup(t)
		creds, err := svc.SignIn(ctx, SignInRequest{Email: "A@B.com", Password: "secret1"})
		require.NoError(t, err)
		assert.NotEmpty(t, creds.SessionID)
		assert.NotEmpty(t, creds.SessionSecret)
		assert.Equal(t, "a@b.com", creds.User.Email)
	})

	t.Run("wrong password", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.com", Password: "wrong12"})
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("unknown email maps to same error", func(t *testing.T) {
		svc, _ := setup(t)
		_, err := svc.SignIn(ctx, SignInRequest{Email: "nobody@b.com", Password: "secret1"})
		assert.ErrorIs(t, err, ErrBadCredentials)
	})

	t.Run("rate limited", func(t *testing.T) {
		svc, store := setup(t)
		store.rateLimited = true
		_, err := svc.SignIn(ctx, SignInRequest{Email: "a@b.com", Password: "secret1"})
		assert.ErrorIs(t, err, ErrRateLimitExceeded)
	})
}

func TestSignOut(t *testing.T) {
	ctx := context.Background()
	svc, _, sessions, store := newTestAuth()
	creds, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "secret1"})
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, creds.SessionID))
	assert.True(t, sessions.revoked[creds.SessionID])
	assert.Empty(t, store.secrets[creds.SessionID])

	// Повторный выход не ошибка.
	assert.NoError(t, svc.SignOut(ctx, creds.SessionID))
}

func TestDisplayNameFallback(t *testing.T) {
	assert.Equal(t, "Ada", DisplayNameFallback(" Ada ", "ada@example.com"))
	assert.Equal(t, "ada", DisplayNameFallback("", "ada@example.com"))
	assert.Equal(t, "Anonymous", DisplayNameFallback("", "@example.com"))
	assert.Equal(t, "Anonymous", DisplayNameFallback("", ""))
}

func TestSessionsHaveUTCTimestamps(t *testing.T) {
	ctx := context.Background()
	svc, _, sessions, _ := newTestAuth()
	creds, err := svc.SignUp(ctx, SignUpRequest{Email: "a@b.com", Password: "secret1"})
	require.NoError(t, err)
	sess := sessions.sessions[creds.SessionID]
	assert.Equal(t, time.UTC, sess.CreatedAt.Location())
	assert.Equal(t, time.UTC, sess.LastSeenAt.Location())
}
