package chat

import "time"

// Session captures one user's conversation state.
type Session struct {
	UserID    string    `json:"userId"`
	Turns     []Turn    `json:"turns"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
