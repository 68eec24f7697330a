package server

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/sirupsen/logrus"
)

const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

var (
	ErrNoSession    = errors.New("no authenticated session")
	ErrEmptyMessage = errors.New("empty message")
	ErrUnknownRoom  = errors.New("room not found")
	ErrNotMember    = errors.New("not a member of room")
)

// RoomKind selects which rooms a post may address.
type RoomKind int

const (
	SharedRoom RoomKind = iota
	DirectRoom
)

type MessagePipeline struct {
	log   logrus.FieldLogger
	db    database.ChatRepository
	stats stats.StatsProvider
}

func NewMessagePipeline(logger logrus.FieldLogger, db database.ChatRepository, su stats.StatsProvider) *MessagePipeline {
	return &MessagePipeline{log: logger, db: db, stats: su}
}

// PostMessage validates and persists a message from sess. Nothing is
// written when validation fails, and store errors are returned as is.
func (p *MessagePipeline) PostMessage(ctx context.Context, sess Session, kind RoomKind, roomId int, content string, replyTo *int) (database.Message, error) {
	if sess.UserId == 0 {
		return database.Message{}, ErrNoSession
	}
	if strings.TrimSpace(content) == "" {
		return database.Message{}, ErrEmptyMessage
	}

	room, err := p.db.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return database.Message{}, fmt.Errorf("%w: %d", ErrUnknownRoom, roomId)
		}
		return database.Message{}, fmt.Errorf("get room %d: %w", roomId, err)
	}

	isDM := room.Type == string(types.RoomTypeDM)
	if isDM != (kind == DirectRoom) {
		return database.Message{}, fmt.Errorf("%w: %d", ErrUnknownRoom, roomId)
	}

	if room.Type != string(types.RoomTypePublic) {
		if err := p.checkMembership(ctx, sess.UserId, roomId); err != nil {
			return database.Message{}, err
		}
	}

	replyTo, err = p.replyTarget(ctx, roomId, replyTo)
	if err != nil {
		return database.Message{}, err
	}

	msg, err := p.db.CreateMessage(ctx, database.CreateMessageParams{
		RoomId:    roomId,
		SenderId:  sess.UserId,
		Content:   content,
		ReplyTo:   replyTo,
		CreatedAt: Now(),
	})
	if err != nil {
		return database.Message{}, err
	}

	p.stats.Incr("NumMessagesPersisted")
	return msg, nil
}

// replyTarget drops a reply reference that does not point at an existing
// message of the same room.
func (p *MessagePipeline) replyTarget(ctx context.Context, roomId int, replyTo *int) (*int, error) {
	if replyTo == nil || *replyTo <= 0 {
		return nil, nil
	}

	parent, err := p.db.GetMessageById(ctx, *replyTo)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			p.log.WithField("reply_to", *replyTo).Debug("dropping reply to unknown message")
			return nil, nil
		}
		return nil, fmt.Errorf("get message %d: %w", *replyTo, err)
	}
	if parent.RoomId != roomId {
		p.log.WithFields(logrus.Fields{"reply_to": *replyTo, "room_id": roomId}).Debug("dropping reply to message of another room")
		return nil, nil
	}

	return replyTo, nil
}

// FetchHistory returns up to limit messages of a room older than the
// message id before (0 for the newest), oldest first.
func (p *MessagePipeline) FetchHistory(ctx context.Context, userId, roomId, limit, before int) ([]database.Message, error) {
	room, err := p.db.GetRoomById(ctx, roomId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownRoom, roomId)
		}
		return nil, fmt.Errorf("get room %d: %w", roomId, err)
	}

	if room.Type != string(types.RoomTypePublic) {
		if err := p.checkMembership(ctx, userId, roomId); err != nil {
			return nil, err
		}
	}

	switch {
	case limit <= 0:
		limit = DefaultHistoryLimit
	case limit > MaxHistoryLimit:
		limit = MaxHistoryLimit
	}
	if before < 0 {
		before = 0
	}

	return p.db.GetMessages(ctx, roomId, before, limit)
}

// ListDMs summarizes every dm room the user belongs to.
func (p *MessagePipeline) ListDMs(ctx context.Context, userId int) ([]types.DMSummary, error) {
	rooms, err := p.db.ListDMRooms(ctx, userId)
	if err != nil {
		return nil, fmt.Errorf("list dm rooms: %w", err)
	}

	dms := make([]types.DMSummary, 0, len(rooms))
	for _, room := range rooms {
		dm := types.DMSummary{
			Id:         room.Id,
			Name:       room.Name,
			Type:       types.RoomTypeDM,
			WithUser:   room.OtherUsername,
			WithUserId: room.OtherUserId,
		}

		last, err := p.db.GetLastMessage(ctx, room.Id)
		switch {
		case err == nil:
			dm.LastMessage = last.Content
			dm.LastMessageTime = &last.CreatedAt
		case !errors.Is(err, database.ErrNotFound):
			return nil, fmt.Errorf("last message for room %d: %w", room.Id, err)
		}

		dm.UnreadCount, err = p.db.CountUnread(ctx, userId, room.Id)
		if err != nil {
			return nil, fmt.Errorf("unread count for room %d: %w", room.Id, err)
		}

		dms = append(dms, dm)
	}

	return dms, nil
}

// MarkRead moves the user's read mark in a room to now.
func (p *MessagePipeline) MarkRead(ctx context.Context, userId, roomId int) error {
	err := p.db.MarkRoomRead(ctx, userId, roomId, Now())
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrNotMember, roomId)
	}
	return err
}

func (p *MessagePipeline) checkMembership(ctx context.Context, userId, roomId int) error {
	ok, err := p.db.MembershipExists(ctx, userId, roomId)
	if err != nil {
		return fmt.Errorf("check membership: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotMember, roomId)
	}
	return nil
}
