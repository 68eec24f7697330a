package database

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

type MockChatRepository struct {
	mock.Mock
}

func (m *MockChatRepository) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}
func (m *MockChatRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserById(ctx context.Context, userId int) (User, error) {
	args := m.Called(ctx, userId)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockChatRepository) SetUserOnline(ctx context.Context, userId int, status string, at time.Time) error {
	args := m.Called(ctx, userId, status, at)
	return args.Error(0)
}
func (m *MockChatRepository) SetUserOffline(ctx context.Context, userId int, at time.Time) error {
	args := m.Called(ctx, userId, at)
	return args.Error(0)
}
func (m *MockChatRepository) UpdateUserStatus(ctx context.Context, userId int, status string) error {
	args := m.Called(ctx, userId, status)
	return args.Error(0)
}
func (m *MockChatRepository) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) FindDMRoom(ctx context.Context, names ...string) (Room, error) {
	args := m.Called(ctx, names)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) CreateDMRoom(ctx context.Context, params CreateDMRoomParams) (Room, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockChatRepository) ListDMRooms(ctx context.Context, userId int) ([]DMRoom, error) {
	args := m.Called(ctx, userId)
	if rooms, ok := args.Get(0).([]DMRoom); ok {
		return rooms, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) MembershipExists(ctx context.Context, userId, roomId int) (bool, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Bool(0), args.Error(1)
}
func (m *MockChatRepository) MarkRoomRead(ctx context.Context, userId, roomId int, at time.Time) error {
	args := m.Called(ctx, userId, roomId, at)
	return args.Error(0)
}
func (m *MockChatRepository) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetMessages(ctx context.Context, roomId, before, limit int) ([]Message, error) {
	args := m.Called(ctx, roomId, before, limit)
	if messages, ok := args.Get(0).([]Message); ok {
		return messages, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *MockChatRepository) GetMessageById(ctx context.Context, id int) (Message, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) GetLastMessage(ctx context.Context, roomId int) (Message, error) {
	args := m.Called(ctx, roomId)
	return args.Get(0).(Message), args.Error(1)
}
func (m *MockChatRepository) CountUnread(ctx context.Context, userId, roomId int) (int, error) {
	args := m.Called(ctx, userId, roomId)
	return args.Int(0), args.Error(1)
}
func (m *MockChatRepository) Close() error {
	args := m.Called()
	return args.Error(0)
}
