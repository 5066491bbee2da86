package model

import "time"

// User — учётная запись с хешем пароля. Наружу отдаётся только Profile.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	PhotoURL     string    `json:"photo_url,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserProfile — публичный профиль пользователя (uid неизменяем, первичный ключ).
// DisplayName денормализуется в сообщения при отправке и не синхронизируется задним числом.
type UserProfile struct {
	UID         string `json:"uid"`
	Email       string `json:"email,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	PhotoURL    string `json:"photo_url,omitempty"`
}

func (u *User) ToProfile() UserProfile {
	return UserProfile{
		UID:         u.ID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		PhotoURL:    u.PhotoURL,
	}
}
