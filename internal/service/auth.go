package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/model"
	"github.com/roomchat/internal/repository"
	"github.com/roomchat/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

// Категории ошибок идентификации — маппятся на сообщения пользователю в handler.
var (
	ErrEmailTaken        = errors.New("email already in use")
	ErrBadCredentials    = errors.New("invalid email or password")
	ErrWeakPassword      = errors.New("password too weak")
	ErrInvalidEmail      = errors.New("invalid email format")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// UserStore и SessionStore — минимум, который нужен сервису от репозиториев.
type UserStore interface {
	Create(ctx context.Context, u *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
}

type SessionRepo interface {
	Create(ctx context.Context, s *model.Session) error
	RevokeByID(ctx context.Context, sessionID string) (bool, error)
}

type AuthService struct {
	users    UserStore
	sessions SessionRepo
	store    storage.SessionStore
	validate *validator.Validate
}

func NewAuthService(users UserStore, sessions SessionRepo, store storage.SessionStore) *AuthService {
	return &AuthService{
		users:    users,
		sessions: sessions,
		store:    store,
		validate: validator.New(),
	}
}

type SignUpRequest struct {
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=6"`
	DisplayName string `json:"display_name"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Credentials — результат входа/регистрации. Секрет показывается клиенту
// ровно один раз; на сервере хранится только его хеш.
type Credentials struct {
	SessionID     string            `json:"session_id"`
	SessionSecret string            `json:"session_secret"`
	User          model.UserProfile `json:"user"`
}

// DisplayNameFallback выбирает отображаемое имя: явное имя → локальная часть email → "Anonymous".
func DisplayNameFallback(displayName, email string) string {
	if s := strings.TrimSpace(displayName); s != "" {
		return s
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return "Anonymous"
}

func (s *AuthService) SignUp(ctx context.Context, req SignUpRequest) (*Credentials, error) {
	defer logger.DeferLogDuration("auth.SignUp", time.Now())()
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, classifyValidation(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("auth.SignUp hash: %w", err)
	}
	u := &model.User{
		ID:           uuid.New().String(),
		Email:        req.Email,
		DisplayName:  DisplayNameFallback(req.DisplayName, req.Email),
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("auth.SignUp create: %w", err)
	}
	return s.issueSession(ctx, u)
}

func (s *AuthService) SignIn(ctx context.Context, req SignInRequest) (*Credentials, error) {
	defer logger.DeferLogDuration("auth.SignIn", time.Now())()
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := s.validate.Struct(req); err != nil {
		return nil, classifyValidation(err)
	}

	allowed, err := s.store.CheckSignInRateLimit(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("auth.SignIn ratelimit: %w", err)
	}
	if !allowed {
		return nil, ErrRateLimitExceeded
	}

	u, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Одна и та же ошибка для «нет пользователя» и «не тот пароль» — не раскрываем, что именно.
			return nil, ErrBadCredentials
		}
		return nil, fmt.Errorf("auth.SignIn lookup: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, ErrBadCredentials
	}
	return s.issueSession(ctx, u)
}

// SignOut отзывает сессию и удаляет её секрет. Повторный вызов безопасен.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	defer logger.DeferLogDuration("auth.SignOut", time.Now())()
	if _, err := s.sessions.RevokeByID(ctx, sessionID); err != nil {
		return fmt.Errorf("auth.SignOut revoke: %w", err)
	}
	if err := s.store.DeleteSessionSecret(ctx, sessionID); err != nil {
		logger.Errorf("auth.SignOut delete secret session_id=%s: %v", maskSessionID(sessionID), err)
	}
	return nil
}

// issueSession создаёт сессию: uuid + случайный 32-байтный секрет.
// Секрет кладётся в store (Redis/memory), в БД — только SHA-256 хеш.
func (s *AuthService) issueSession(ctx context.Context, u *model.User) (*Credentials, error) {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("auth.issueSession rand: %w", err)
	}
	secretB64 := base64.StdEncoding.EncodeToString(secret)
	sum := sha256.Sum256(secret)

	now := time.Now().UTC()
	sess := &model.Session{
		ID:         uuid.New().String(),
		UserID:     u.ID,
		SecretHash: hex.EncodeToString(sum[:]),
		LastSeenAt: now,
		CreatedAt:  now,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("auth.issueSession create: %w", err)
	}
	if err := s.store.SetSessionSecret(ctx, sess.ID, secretB64); err != nil {
		return nil, fmt.Errorf("auth.issueSession secret: %w", err)
	}
	return &Credentials{
		SessionID:     sess.ID,
		SessionSecret: secretB64,
		User:          u.ToProfile(),
	}, nil
}

// classifyValidation сводит ошибки валидатора к категориям спецификации.
func classifyValidation(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			switch fe.Field() {
			case "Email":
				return ErrInvalidEmail
			case "Password":
				return ErrWeakPassword
			}
		}
	}
	return err
}

func maskSessionID(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
