package database

import "time"

type User struct {
	Id           int
	Username     string
	EmailAddress string
	PasswordHash string
	IsOnline     bool
	Status       string
	LastSeen     time.Time
	CreatedAt    time.Time
}

type Room struct {
	Id          int
	Name        string
	Description string
	IsPrivate   bool
	Type        string
	CreatedBy   int
	CreatedAt   time.Time
}

// DMRoom is a dm room as seen by one of its two members.
type DMRoom struct {
	Room
	LastReadAt    time.Time
	OtherUserId   int
	OtherUsername string
}

type Message struct {
	Id          int
	Content     string
	MessageType string
	SenderId    int
	Username    string
	RoomId      int
	ReplyTo     *int
	Reactions   []string
	CreatedAt   time.Time
}

type CreateUserParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateDMRoomParams struct {
	Name        string
	Description string
	CreatorId   int
	MemberIds   [2]int
}

type CreateMessageParams struct {
	RoomId    int
	SenderId  int
	Content   string
	ReplyTo   *int
	CreatedAt time.Time
}
