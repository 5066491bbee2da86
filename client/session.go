package client

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/roomchat/internal/model"
)

// Status — фаза жизненного цикла сессии.
type Status int

const (
	// StatusUninitialized — до первого Resolve: про пользователя ничего не известно.
	StatusUninitialized Status = iota
	// StatusResolving — идёт первая проверка сохранённой сессии.
	StatusResolving
	// StatusReady — состояние определено: User() либо профиль, либо nil.
	StatusReady
)

// Session отслеживает текущего пользователя. Переходы: uninitialized →
// resolving → ready; дальше состояние меняют только SignIn/SignUp/SignOut.
// Защёлка InitialLoadDone закрывается ровно один раз — после первого
// разрешения, независимо от исхода.
type Session struct {
	api *Client

	mu     sync.RWMutex
	status Status
	user   *model.UserProfile

	initialOnce sync.Once
	initialDone chan struct{}
}

func NewSession(api *Client) *Session {
	return &Session{
		api:         api,
		status:      StatusUninitialized,
		initialDone: make(chan struct{}),
	}
}

// Resolve выполняет первичную проверку сохранённой сессии. Если кредов нет
// или они невалидны — пользователь nil, но загрузка считается завершённой.
func (s *Session) Resolve(ctx context.Context) {
	s.mu.Lock()
	s.status = StatusResolving
	s.mu.Unlock()

	var user *model.UserProfile
	if s.api.HasCredentials() {
		profile, err := s.api.Me(ctx)
		if err == nil {
			user = profile
		} else {
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				// Сессия жива, профиля нет — синтезируем и сохраняем.
				user = s.synthesizeProfile(ctx)
			} else {
				s.api.ClearCredentials()
			}
		}
	}

	s.mu.Lock()
	s.status = StatusReady
	s.user = user
	s.mu.Unlock()
	s.markLoaded()
}

// synthesizeProfile создаёт профиль по данным сессии, когда записи ещё нет.
// Имя — по цепочке: явное имя из кредов → локальная часть email → "Anonymous".
func (s *Session) synthesizeProfile(ctx context.Context) *model.UserProfile {
	name := "Anonymous"
	if creds := s.api.Credentials(); creds != nil {
		name = displayNameOf(creds.User.DisplayName, creds.User.Email)
	}
	profile, err := s.api.UpdateMe(ctx, name, "")
	if err != nil {
		return nil
	}
	return profile
}

func (s *Session) markLoaded() {
	s.initialOnce.Do(func() { close(s.initialDone) })
}

// InitialLoadDone закрывается после первого разрешения сессии (успешного или нет).
func (s *Session) InitialLoadDone() <-chan struct{} { return s.initialDone }

// InitialLoadComplete сообщает, произошло ли первое разрешение.
func (s *Session) InitialLoadComplete() bool {
	select {
	case <-s.initialDone:
		return true
	default:
		return false
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// User возвращает текущего пользователя или nil, если не вошёл.
func (s *Session) User() *model.UserProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SignedIn сообщает, есть ли активный пользователь.
func (s *Session) SignedIn() bool { return s.User() != nil }

// SignUp регистрирует пользователя и делает его текущим.
func (s *Session) SignUp(ctx context.Context, email, password, displayName string) error {
	creds, err := s.api.SignUp(ctx, email, password, displayName)
	if err != nil {
		return err
	}
	s.setUser(&creds.User)
	return nil
}

// SignIn входит и делает пользователя текущим.
func (s *Session) SignIn(ctx context.Context, email, password string) error {
	creds, err := s.api.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.setUser(&creds.User)
	return nil
}

// SignOut выходит: пользователь становится nil даже при ошибке сервера.
func (s *Session) SignOut(ctx context.Context) error {
	err := s.api.SignOut(ctx)
	s.setUser(nil)
	return err
}

func (s *Session) setUser(u *model.UserProfile) {
	s.mu.Lock()
	s.status = StatusReady
	s.user = u
	s.mu.Unlock()
	s.markLoaded()
}

// DisplayName — имя текущего пользователя для отображения:
// display_name → локальная часть email → "Anonymous".
func (s *Session) DisplayName() string {
	u := s.User()
	if u == nil {
		return "Anonymous"
	}
	return displayNameOf(u.DisplayName, u.Email)
}

func displayNameOf(displayName, email string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return "Anonymous"
}
