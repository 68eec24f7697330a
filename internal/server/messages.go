package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/types"
)

// Inbound events.
const (
	EventAuthenticate = "authenticate"
	EventJoinRoom     = "join_room"
	EventSendMessage  = "send_message"
	EventTypingStart  = "typing_start"
	EventTypingStop   = "typing_stop"
	EventUpdateStatus = "update_status"
	EventCreateDM     = "create_dm"
	EventSendDM       = "send_dm"
)

// Outbound events.
const (
	EventConnected           = "connected"
	EventAuthenticated       = "authenticated"
	EventAuthError           = "auth_error"
	EventUsersListWithStatus = "users_list_with_status"
	EventUserJoinedRoom      = "user_joined_room"
	EventNewMessage          = "new_message"
	EventNewDMMessage        = "new_dm_message"
	EventStatusChanged       = "status_changed"
	EventDMCreated           = "dm_created"
	EventDMError             = "dm_error"
	EventError               = "error"
)

const defaultRoomId = 1

type ClientMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// decode unmarshals the event payload into v. A missing or null payload
// leaves v at its zero value.
func (m *ClientMessage) decode(v any) error {
	if len(m.Data) == 0 || bytes.Equal(m.Data, []byte("null")) {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// RoomID accepts a room id sent either as a JSON number or a numeric string.
type RoomID int

func (id *RoomID) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*id = 0
		return nil
	}

	s := strings.Trim(string(b), `"`)
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid room id %s", b)
	}
	*id = RoomID(n)
	return nil
}

// orDefault returns the general room when no id was supplied.
func (id RoomID) orDefault() int {
	if id <= 0 {
		return defaultRoomId
	}
	return int(id)
}

type AuthenticatePayload struct {
	Token string `json:"token"`
}

type RoomPayload struct {
	RoomId RoomID `json:"room_id"`
}

type SendMessagePayload struct {
	RoomId  RoomID `json:"room_id"`
	Message string `json:"message"`
	ReplyTo *int   `json:"reply_to,omitempty"`
}

type UpdateStatusPayload struct {
	Status types.Status `json:"status"`
}

type CreateDMPayload struct {
	TargetUsername string `json:"target_username"`
}

type ServerMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type Notice struct {
	Message string `json:"message"`
}

type Authenticated struct {
	User types.User `json:"user"`
}

type UsersList struct {
	Users []types.UserStatus `json:"users"`
}

type UserJoinedRoom struct {
	User   string `json:"user"`
	RoomId int    `json:"room_id"`
}

type Typing struct {
	Username string `json:"username"`
	RoomId   int    `json:"room_id"`
}

type DMCreated struct {
	Id         int            `json:"id"`
	Name       string         `json:"name"`
	Type       types.RoomType `json:"type"`
	WithUser   string         `json:"with_user"`
	WithUserId int            `json:"with_user_id"`
}

func NewConnected() *ServerMessage {
	return &ServerMessage{Event: EventConnected, Data: Notice{Message: "Connected"}}
}

func NewAuthenticated(user types.User) *ServerMessage {
	return &ServerMessage{Event: EventAuthenticated, Data: Authenticated{User: user}}
}

func NewUsersList(users []types.UserStatus) *ServerMessage {
	if users == nil {
		users = []types.UserStatus{}
	}
	return &ServerMessage{Event: EventUsersListWithStatus, Data: UsersList{Users: users}}
}

func NewUserJoinedRoom(username string, roomId int) *ServerMessage {
	return &ServerMessage{Event: EventUserJoinedRoom, Data: UserJoinedRoom{User: username, RoomId: roomId}}
}

func NewChatMessage(msg database.Message) *ServerMessage {
	return &ServerMessage{Event: EventNewMessage, Data: toWireMessage(msg, "")}
}

func NewDMMessage(msg database.Message) *ServerMessage {
	return &ServerMessage{Event: EventNewDMMessage, Data: toWireMessage(msg, "dm")}
}

func NewTyping(event, username string, roomId int) *ServerMessage {
	return &ServerMessage{Event: event, Data: Typing{Username: username, RoomId: roomId}}
}

func NewStatusChanged(username string, status types.Status) *ServerMessage {
	return &ServerMessage{Event: EventStatusChanged, Data: types.UserStatus{Username: username, Status: status}}
}

func NewDMCreated(room database.Room, withUser Session) *ServerMessage {
	return &ServerMessage{
		Event: EventDMCreated,
		Data: DMCreated{
			Id:         room.Id,
			Name:       room.Name,
			Type:       types.RoomTypeDM,
			WithUser:   withUser.Username,
			WithUserId: withUser.UserId,
		},
	}
}

func ErrTokenRequired() *ServerMessage {
	return &ServerMessage{Event: EventAuthError, Data: Notice{Message: "Token required"}}
}

func ErrInvalidToken() *ServerMessage {
	return &ServerMessage{Event: EventAuthError, Data: Notice{Message: "Invalid token"}}
}

func ErrNotAuthenticated() *ServerMessage {
	return &ServerMessage{Event: EventAuthError, Data: Notice{Message: "Not authenticated"}}
}

func ErrDM(message string) *ServerMessage {
	return &ServerMessage{Event: EventDMError, Data: Notice{Message: message}}
}

func ErrInternalError() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "internal server error"}}
}

func ErrInvalidMessage() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "invalid message format"}}
}

func ErrUnknownEvent() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "unknown event"}}
}

func ErrRoomNotFound() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "room not found"}}
}

func ErrForbidden() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "not a member of this room"}}
}

func ErrInvalidStatus() *ServerMessage {
	return &ServerMessage{Event: EventError, Data: Notice{Message: "invalid status"}}
}

func toWireMessage(msg database.Message, kind string) types.Message {
	return types.Message{
		Id:        msg.Id,
		Message:   msg.Content,
		Username:  msg.Username,
		RoomId:    msg.RoomId,
		Timestamp: msg.CreatedAt,
		ReplyTo:   msg.ReplyTo,
		Type:      kind,
	}
}

func serializeMessage(msg *ServerMessage) ([]byte, error) {
	return json.Marshal(msg)
}

func Now() time.Time {
	return time.Now().UTC().Round(time.Millisecond)
}
