package types

import (
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Valid reports whether s is a status a user may select.
func (s Status) Valid() bool {
	switch s {
	case StatusOnline, StatusAway, StatusBusy:
		return true
	}
	return false
}

type RoomType string

const (
	RoomTypePublic  RoomType = "public"
	RoomTypePrivate RoomType = "private"
	RoomTypeDM      RoomType = "dm"
)

type User struct {
	Id       int    `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Status   Status `json:"status"`
}

type UserStatus struct {
	Username string `json:"username"`
	Status   Status `json:"status"`
}

type Message struct {
	Id        int       `json:"id"`
	Message   string    `json:"message"`
	Username  string    `json:"username"`
	RoomId    int       `json:"room_id"`
	Timestamp time.Time `json:"timestamp"`
	ReplyTo   *int      `json:"reply_to,omitempty"`
	Type      string    `json:"type,omitempty"`
}

type DMSummary struct {
	Id              int        `json:"id"`
	Name            string     `json:"name"`
	Type            RoomType   `json:"type"`
	WithUser        string     `json:"with_user"`
	WithUserId      int        `json:"with_user_id"`
	LastMessage     string     `json:"last_message,omitempty"`
	LastMessageTime *time.Time `json:"last_message_time,omitempty"`
	UnreadCount     int        `json:"unread_count"`
}
