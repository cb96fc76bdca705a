package models

import "time"

// ChatMessage is an append-only chat line. Messages are never edited or deleted.
type ChatMessage struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	UserName  string    `json:"user_name"`
	UserRole  Role      `json:"user_role"`
	CreatedAt time.Time `json:"created_at"`
}
