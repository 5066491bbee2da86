package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/roomchat/internal/logger"
	"github.com/roomchat/internal/middleware"
	"github.com/roomchat/internal/service"
)

type AuthHandler struct {
	authSvc *service.AuthService
}

func NewAuthHandler(authSvc *service.AuthService) *AuthHandler {
	return &AuthHandler{authSvc: authSvc}
}

func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req service.SignUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds, err := h.authSvc.SignUp(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrEmailTaken):
			writeError(w, http.StatusConflict, "email already in use")
		case errors.Is(err, service.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email format")
		case errors.Is(err, service.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password must be at least 6 characters")
		default:
			logger.Errorf("signup failed for %s: %v", req.Email, err)
			writeError(w, http.StatusInternalServerError, "sign up failed")
		}
		return
	}
	writeJSON(w, http.StatusCreated, creds)
}

func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req service.SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	creds, err := h.authSvc.SignIn(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadCredentials):
			writeError(w, http.StatusUnauthorized, "invalid email or password")
		case errors.Is(err, service.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "invalid email format")
		case errors.Is(err, service.ErrWeakPassword):
			writeError(w, http.StatusBadRequest, "password is required")
		case errors.Is(err, service.ErrRateLimitExceeded):
			writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
		default:
			logger.Errorf("signin failed for %s: %v", req.Email, err)
			writeError(w, http.StatusInternalServerError, "sign in failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

// SignOut отзывает текущую сессию (ту, которой подписан запрос).
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	sessionID := middleware.GetSessionID(r.Context())
	if sessionID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if err := h.authSvc.SignOut(r.Context(), sessionID); err != nil {
		logger.Errorf("signout session_id=%s: %v", middleware.MaskSessionID(sessionID), err)
		writeError(w, http.StatusInternalServerError, "sign out failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
