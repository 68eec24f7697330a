package database

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

type ChatRepository interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserById(ctx context.Context, userId int) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	SetUserOnline(ctx context.Context, userId int, status string, at time.Time) error
	SetUserOffline(ctx context.Context, userId int, at time.Time) error
	UpdateUserStatus(ctx context.Context, userId int, status string) error

	GetRoomById(ctx context.Context, roomId int) (Room, error)
	FindDMRoom(ctx context.Context, names ...string) (Room, error)
	CreateDMRoom(ctx context.Context, params CreateDMRoomParams) (Room, error)
	ListDMRooms(ctx context.Context, userId int) ([]DMRoom, error)

	MembershipExists(ctx context.Context, userId, roomId int) (bool, error)
	MarkRoomRead(ctx context.Context, userId, roomId int, at time.Time) error

	CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error)
	GetMessages(ctx context.Context, roomId, before, limit int) ([]Message, error)
	GetMessageById(ctx context.Context, id int) (Message, error)
	GetLastMessage(ctx context.Context, roomId int) (Message, error)
	CountUnread(ctx context.Context, userId, roomId int) (int, error)

	Close() error
}
