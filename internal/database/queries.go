package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	userColumns    = "id, username, email, hashed_password, is_online, status, last_seen, created_at"
	roomColumns    = "r.id, r.name, r.description, r.is_private, r.room_type, r.created_by, r.created_at"
	messageColumns = "m.id, m.content, m.message_type, m.sender_id, u.username, m.room_id, m.reply_to, m.reactions, m.created_at"
)

// neverRead is the read mark of a new membership; every message in the
// room is unread.
var neverRead = time.Unix(0, 0).UTC()

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(row scanner) (User, error) {
	var u User
	err := row.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.PasswordHash,
		&u.IsOnline,
		&u.Status,
		&u.LastSeen,
		&u.CreatedAt,
	)
	u.LastSeen = u.LastSeen.UTC()
	u.CreatedAt = u.CreatedAt.UTC()
	return u, err
}

func scanRoom(row scanner, extra ...any) (Room, error) {
	var (
		r         Room
		createdBy sql.NullInt64
	)
	dest := append([]any{
		&r.Id,
		&r.Name,
		&r.Description,
		&r.IsPrivate,
		&r.Type,
		&createdBy,
		&r.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Room{}, err
	}
	r.CreatedBy = int(createdBy.Int64)
	r.CreatedAt = r.CreatedAt.UTC()
	return r, nil
}

func scanMessage(row scanner) (Message, error) {
	var (
		m         Message
		replyTo   sql.NullInt64
		reactions string
	)
	err := row.Scan(
		&m.Id,
		&m.Content,
		&m.MessageType,
		&m.SenderId,
		&m.Username,
		&m.RoomId,
		&replyTo,
		&reactions,
		&m.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if replyTo.Valid {
		id := int(replyTo.Int64)
		m.ReplyTo = &id
	}
	m.Reactions = []string{}
	if reactions != "" {
		if err := json.Unmarshal([]byte(reactions), &m.Reactions); err != nil {
			return Message{}, fmt.Errorf("decode reactions for message %d: %w", m.Id, err)
		}
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	row := s.conn.QueryRowContext(ctx,
		s.rebind("INSERT INTO users (username, email, hashed_password, is_online, status, last_seen, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id"),
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		false,
		"online",
		s.timeArg(now),
		s.timeArg(now),
	)

	u := User{
		Username:     params.Username,
		EmailAddress: params.EmailAddress,
		PasswordHash: params.PasswordHash,
		Status:       "online",
		LastSeen:     now,
		CreatedAt:    now,
	}
	if err := row.Scan(&u.Id); err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("create user %q: %w", params.Username, ErrDuplicate)
		}
		return User{}, err
	}

	return u, nil
}

func (s *SQLStore) GetUserById(ctx context.Context, userId int) (User, error) {
	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+userColumns+" FROM users WHERE id = ? LIMIT 1"),
		userId,
	)

	u, err := scanUser(row)
	return u, notFound(err)
}

func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1"),
		email,
	)

	u, err := scanUser(row)
	return u, notFound(err)
}

func (s *SQLStore) execOne(ctx context.Context, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) SetUserOnline(ctx context.Context, userId int, status string, at time.Time) error {
	return s.execOne(ctx,
		"UPDATE users SET is_online = ?, status = ?, last_seen = ? WHERE id = ?",
		true,
		status,
		s.timeArg(at),
		userId,
	)
}

func (s *SQLStore) SetUserOffline(ctx context.Context, userId int, at time.Time) error {
	return s.execOne(ctx,
		"UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?",
		false,
		s.timeArg(at),
		userId,
	)
}

func (s *SQLStore) UpdateUserStatus(ctx context.Context, userId int, status string) error {
	return s.execOne(ctx,
		"UPDATE users SET status = ? WHERE id = ?",
		status,
		userId,
	)
}

func (s *SQLStore) GetRoomById(ctx context.Context, roomId int) (Room, error) {
	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+roomColumns+" FROM rooms r WHERE r.id = ? LIMIT 1"),
		roomId,
	)

	r, err := scanRoom(row)
	return r, notFound(err)
}

// FindDMRoom returns the lowest-id dm room whose name is one of names.
func (s *SQLStore) FindDMRoom(ctx context.Context, names ...string) (Room, error) {
	if len(names) == 0 {
		return Room{}, ErrNotFound
	}

	args := make([]any, 0, len(names))
	for _, n := range names {
		args = append(args, n)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+roomColumns+" FROM rooms r "+
			"WHERE r.room_type = 'dm' AND r.name IN ("+placeholders+") ORDER BY r.id LIMIT 1"),
		args...,
	)

	r, err := scanRoom(row)
	return r, notFound(err)
}

// CreateDMRoom inserts the room and both memberships in one transaction.
// A concurrent insert of the same name fails with ErrDuplicate.
func (s *SQLStore) CreateDMRoom(ctx context.Context, params CreateDMRoomParams) (Room, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	room := Room{
		Name:        params.Name,
		Description: params.Description,
		IsPrivate:   true,
		Type:        "dm",
		CreatedBy:   params.CreatorId,
		CreatedAt:   now,
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.rebind("INSERT INTO rooms (name, description, is_private, room_type, created_by, created_at) "+
				"VALUES (?, ?, ?, ?, ?, ?) RETURNING id"),
			room.Name,
			room.Description,
			room.IsPrivate,
			room.Type,
			room.CreatedBy,
			s.timeArg(now),
		).Scan(&room.Id)
		if err != nil {
			return err
		}

		for _, userId := range params.MemberIds {
			_, err = tx.ExecContext(ctx,
				s.rebind("INSERT INTO room_memberships (user_id, room_id, joined_at, is_admin, last_read_at) "+
					"VALUES (?, ?, ?, ?, ?)"),
				userId,
				room.Id,
				s.timeArg(now),
				false,
				s.timeArg(neverRead),
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return Room{}, fmt.Errorf("create dm room %q: %w", params.Name, ErrDuplicate)
		}
		return Room{}, err
	}

	return room, nil
}

func (s *SQLStore) ListDMRooms(ctx context.Context, userId int) ([]DMRoom, error) {
	rows, err := s.conn.QueryContext(ctx,
		s.rebind("SELECT "+roomColumns+", me.last_read_at, other.user_id, u.username "+
			"FROM room_memberships me "+
			"JOIN rooms r ON r.id = me.room_id AND r.room_type = 'dm' "+
			"JOIN room_memberships other ON other.room_id = r.id AND other.user_id <> me.user_id "+
			"JOIN users u ON u.id = other.user_id "+
			"WHERE me.user_id = ? ORDER BY r.id"),
		userId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	dms := make([]DMRoom, 0)
	for rows.Next() {
		var dm DMRoom
		dm.Room, err = scanRoom(rows, &dm.LastReadAt, &dm.OtherUserId, &dm.OtherUsername)
		if err != nil {
			return nil, fmt.Errorf("scan dm room: %w", err)
		}
		dm.LastReadAt = dm.LastReadAt.UTC()
		dms = append(dms, dm)
	}

	return dms, rows.Err()
}

func (s *SQLStore) MembershipExists(ctx context.Context, userId, roomId int) (bool, error) {
	var id int
	err := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT id FROM room_memberships WHERE user_id = ? AND room_id = ? LIMIT 1"),
		userId,
		roomId,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (s *SQLStore) MarkRoomRead(ctx context.Context, userId, roomId int, at time.Time) error {
	return s.execOne(ctx,
		"UPDATE room_memberships SET last_read_at = ? WHERE user_id = ? AND room_id = ?",
		s.timeArg(at),
		userId,
		roomId,
	)
}

func (s *SQLStore) CreateMessage(ctx context.Context, params CreateMessageParams) (Message, error) {
	msg := Message{
		Content:     params.Content,
		MessageType: "text",
		SenderId:    params.SenderId,
		RoomId:      params.RoomId,
		ReplyTo:     params.ReplyTo,
		Reactions:   []string{},
		CreatedAt:   params.CreatedAt.UTC(),
	}

	var replyTo sql.NullInt64
	if params.ReplyTo != nil {
		replyTo = sql.NullInt64{Int64: int64(*params.ReplyTo), Valid: true}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx,
			s.rebind("INSERT INTO messages (content, message_type, sender_id, room_id, reply_to, reactions, created_at) "+
				"VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id"),
			msg.Content,
			msg.MessageType,
			msg.SenderId,
			msg.RoomId,
			replyTo,
			"[]",
			s.timeArg(msg.CreatedAt),
		).Scan(&msg.Id)
		if err != nil {
			return err
		}

		return tx.QueryRowContext(ctx,
			s.rebind("SELECT username FROM users WHERE id = ?"),
			msg.SenderId,
		).Scan(&msg.Username)
	})
	if err != nil {
		return Message{}, fmt.Errorf("create message: %w", err)
	}

	return msg, nil
}

// GetMessages returns up to limit messages with id below before (0 means no
// upper bound), newest-bounded and ordered oldest first.
func (s *SQLStore) GetMessages(ctx context.Context, roomId, before, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT " + messageColumns + " FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.room_id = ?"
	args := []any{roomId}
	if before > 0 {
		query += " AND m.id < ?"
		args = append(args, before)
	}
	query += " ORDER BY m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.conn.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

func (s *SQLStore) GetMessageById(ctx context.Context, id int) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id WHERE m.id = ?"),
		id,
	)

	msg, err := scanMessage(row)
	return msg, notFound(err)
}

func (s *SQLStore) GetLastMessage(ctx context.Context, roomId int) (Message, error) {
	row := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT "+messageColumns+" FROM messages m JOIN users u ON u.id = m.sender_id "+
			"WHERE m.room_id = ? ORDER BY m.id DESC LIMIT 1"),
		roomId,
	)

	msg, err := scanMessage(row)
	return msg, notFound(err)
}

// CountUnread counts messages from other members created after the user's
// last read mark.
func (s *SQLStore) CountUnread(ctx context.Context, userId, roomId int) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx,
		s.rebind("SELECT COUNT(*) FROM messages m "+
			"JOIN room_memberships rm ON rm.room_id = m.room_id AND rm.user_id = ? "+
			"WHERE m.room_id = ? AND m.created_at > rm.last_read_at AND m.sender_id <> ?"),
		userId,
		roomId,
		userId,
	).Scan(&n)

	return n, err
}
