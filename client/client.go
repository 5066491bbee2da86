// Package client реализует клиентское ядро комнаты: подписанный HTTP-доступ,
// live-подписку по WebSocket и состояния сессии, ленты и композера.
package client

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/roomchat/internal/model"
)

// Credentials — сессия, выданная сервером при входе/регистрации.
type Credentials struct {
	SessionID     string            `json:"session_id"`
	SessionSecret string            `json:"session_secret"`
	User          model.UserProfile `json:"user"`
}

// APIError несёт HTTP-статус и сообщение сервера.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: %d %s", e.StatusCode, e.Message)
}

// Client — HTTP-клиент API. Запросы к защищённым маршрутам подписываются
// HMAC-SHA256(secret, method+path+body+timestamp).
type Client struct {
	baseURL    string
	httpClient *http.Client

	sessionID string
	secret    []byte
	creds     *Credentials
}

func decodeSecret(secretB64 string) ([]byte, error) {
	secret, err := base64.StdEncoding.DecodeString(secretB64)
	if err != nil {
		return nil, fmt.Errorf("decode session secret: %w", err)
	}
	if len(secret) != 32 {
		return nil, errors.New("session secret must be 32 bytes")
	}
	return secret, nil
}

func New(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// SetCredentials запоминает сессию для подписи последующих запросов.
func (c *Client) SetCredentials(creds *Credentials) error {
	secret, err := decodeSecret(creds.SessionSecret)
	if err != nil {
		return err
	}
	c.sessionID = creds.SessionID
	c.secret = secret
	c.creds = creds
	return nil
}

// ClearCredentials сбрасывает сессию (после выхода).
func (c *Client) ClearCredentials() {
	c.sessionID = ""
	c.secret = nil
	c.creds = nil
}

// Credentials возвращает текущую сессию (nil, если не вошли).
// Используется для сохранения сессии между запусками.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// HasCredentials сообщает, есть ли у клиента сохранённая сессия.
func (c *Client) HasCredentials() bool {
	return c.sessionID != "" && len(c.secret) > 0
}

// Sign возвращает session_id, timestamp и подпись для произвольного запроса
// (используется и для query-параметров WebSocket).
func (c *Client) Sign(method, path string, body []byte) (sessionID, timestamp, signature string) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(method + path + string(body) + timestamp))
	return c.sessionID, timestamp, hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, signed bool, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		sessionID, timestamp, signature := c.Sign(method, path, body)
		req.Header.Set("X-Session-Id", sessionID)
		req.Header.Set("X-Timestamp", timestamp)
		req.Header.Set("X-Signature", signature)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SignUp регистрирует пользователя и запоминает выданную сессию.
func (c *Client) SignUp(ctx context.Context, email, password, displayName string) (*Credentials, error) {
	body, _ := json.Marshal(map[string]string{
		"email": email, "password": password, "display_name": displayName,
	})
	var creds Credentials
	if err := c.do(ctx, http.MethodPost, "/api/auth/signup", body, false, &creds); err != nil {
		return nil, err
	}
	if err := c.SetCredentials(&creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SignIn входит по email и паролю и запоминает выданную сессию.
func (c *Client) SignIn(ctx context.Context, email, password string) (*Credentials, error) {
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	var creds Credentials
	if err := c.do(ctx, http.MethodPost, "/api/auth/signin", body, false, &creds); err != nil {
		return nil, err
	}
	if err := c.SetCredentials(&creds); err != nil {
		return nil, err
	}
	return &creds, nil
}

// SignOut отзывает сессию на сервере и сбрасывает её локально.
// Локальный сброс выполняется в любом случае.
func (c *Client) SignOut(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, "/api/auth/signout", nil, true, nil)
	c.ClearCredentials()
	return err
}

// Me возвращает профиль текущего пользователя.
func (c *Client) Me(ctx context.Context) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/users/me", nil, true, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetUser возвращает публичный профиль по uid.
func (c *Client) GetUser(ctx context.Context, id string) (*model.UserProfile, error) {
	var p model.UserProfile
	if err := c.do(ctx, http.MethodGet, "/api/users/"+id, nil, true, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateMe обновляет отображаемое имя и фото.
func (c *Client) UpdateMe(ctx context.Context, displayName, photoURL string) (*model.UserProfile, error) {
	body, _ := json.Marshal(map[string]string{"display_name": displayName, "photo_url": photoURL})
	var p model.UserProfile
	if err := c.do(ctx, http.MethodPut, "/api/users/me", body, true, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListMessages возвращает историю комнаты (канонический порядок сервера).
func (c *Client) ListMessages(ctx context.Context) ([]model.Message, error) {
	var resp struct {
		ChatID   string          `json:"chat_id"`
		Messages []model.Message `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/messages", nil, true, &resp); err != nil {
		return nil, err
	}
	return resp.Messages, nil
}

// UploadResult — результат загрузки вложения.
type UploadResult struct {
	URL         string `json:"url"`
	FileName    string `json:"file_name"`
	FileSize    int64  `json:"file_size"`
	ContentType string `json:"content_type"`
}

// UploadImage загружает изображение и возвращает ссылку на blob.
// Multipart-тело буферизуется целиком: подпись считается по полному телу запроса.
func (c *Client) UploadImage(ctx context.Context, filename string, r io.Reader) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(fw, r); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	const path = "/api/files/upload"
	body := buf.Bytes()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	sessionID, timestamp, signature := c.Sign(http.MethodPost, path, body)
	req.Header.Set("X-Session-Id", sessionID)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", signature)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var result UploadResult
	if err := decodeResponse(resp, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
