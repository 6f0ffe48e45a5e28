package models

import "time"

type User struct {
	ID             string    `json:"id" yaml:"id"`
	Name           string    `json:"name" yaml:"name"`
	Email          string    `json:"email" yaml:"email"`
	Phone          string    `json:"phone,omitempty" yaml:"phone"`
	Role           Role      `json:"role" yaml:"role"`
	TelegramChatID int64     `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" yaml:"-"`
	UpdatedAt      time.Time `json:"updated_at" yaml:"-"`
}

// Actor is the resolved identity behind a request.
type Actor struct {
	UserID string `json:"user_id"`
	Role   Role   `json:"role"`
}

// SystemActor is used for transitions not initiated by a user.
var SystemActor = Actor{Role: RoleSystem}

func (a Actor) IsSystem() bool {
	return a.UserID == ""
}
