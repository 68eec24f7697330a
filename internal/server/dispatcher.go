package server

import (
	"context"
	"errors"

	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/sirupsen/logrus"
)

// dispatch routes one inbound event. Events run on the connection's read
// goroutine, so a connection's events are handled in order.
func (cs *ChatServer) dispatch(c *Client, msg *ClientMessage) {
	ctx := context.Background()

	if msg.Event == EventAuthenticate {
		cs.handleAuthenticate(ctx, c, msg)
		return
	}

	var handler func(context.Context, *Client, Session, *ClientMessage)
	switch msg.Event {
	case EventJoinRoom:
		handler = cs.handleJoinRoom
	case EventSendMessage:
		handler = cs.handleSendMessage
	case EventTypingStart, EventTypingStop:
		handler = cs.handleTyping
	case EventUpdateStatus:
		handler = cs.handleUpdateStatus
	case EventCreateDM:
		handler = cs.handleCreateDM
	case EventSendDM:
		handler = cs.handleSendDM
	default:
		c.log.Debugf("unknown event %q", msg.Event)
		c.queueMessage(ErrUnknownEvent())
		return
	}

	sess, ok := cs.presence.Session(c)
	if !ok {
		c.queueMessage(ErrNotAuthenticated())
		return
	}

	handler(ctx, c, sess, msg)
}

func (cs *ChatServer) handleAuthenticate(ctx context.Context, c *Client, msg *ClientMessage) {
	var payload AuthenticatePayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	sess, err := cs.presence.Authenticate(ctx, c, payload.Token)
	switch {
	case errors.Is(err, ErrMissingCredential):
		c.queueMessage(ErrTokenRequired())
		return
	case errors.Is(err, ErrAuthenticationFailed):
		c.log.Infof("authentication failed: %s", err)
		c.queueMessage(ErrInvalidToken())
		return
	case err != nil:
		c.log.Errorf("authenticate: %s", err)
		c.queueMessage(ErrInternalError())
		return
	}

	c.log.WithFields(logrus.Fields{
		"user_id":  sess.UserId,
		"username": sess.Username,
	}).Info("authenticated")

	c.queueMessage(NewAuthenticated(sess.User()))
	cs.broadcastPresence()
}

func (cs *ChatServer) handleJoinRoom(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload RoomPayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	roomId := payload.RoomId.orDefault()
	channel := PublicRoomChannel(roomId)
	if !cs.presence.SubscribeSession(c, sess.UserId, channel, nil) {
		c.queueMessage(ErrNotAuthenticated())
		return
	}

	cs.hub.Broadcast(channel, NewUserJoinedRoom(sess.Username, roomId), nil)
}

func (cs *ChatServer) handleSendMessage(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload SendMessagePayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	roomId := payload.RoomId.orDefault()
	saved, ok := cs.post(ctx, c, sess, SharedRoom, roomId, payload)
	if !ok {
		return
	}

	cs.hub.Broadcast(PublicRoomChannel(roomId), NewChatMessage(saved), nil)
}

func (cs *ChatServer) handleSendDM(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload SendMessagePayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	// a dm has no default room
	if payload.RoomId <= 0 {
		return
	}

	roomId := int(payload.RoomId)
	saved, ok := cs.post(ctx, c, sess, DirectRoom, roomId, payload)
	if !ok {
		return
	}

	cs.hub.Broadcast(DMRoomChannel(roomId), NewDMMessage(saved), nil)
}

func (cs *ChatServer) post(ctx context.Context, c *Client, sess Session, kind RoomKind, roomId int, payload SendMessagePayload) (database.Message, bool) {
	saved, err := cs.pipeline.PostMessage(ctx, sess, kind, roomId, payload.Message, payload.ReplyTo)
	switch {
	case err == nil:
		return saved, true
	case errors.Is(err, ErrEmptyMessage):
		// dropped without telling the sender
	case errors.Is(err, ErrUnknownRoom):
		c.queueMessage(ErrRoomNotFound())
	case errors.Is(err, ErrNotMember):
		c.queueMessage(ErrForbidden())
	default:
		c.log.WithField("room_id", roomId).Errorf("post message: %s", err)
		c.queueMessage(ErrInternalError())
	}

	return database.Message{}, false
}

func (cs *ChatServer) handleTyping(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload RoomPayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	roomId := payload.RoomId.orDefault()
	cs.hub.Broadcast(PublicRoomChannel(roomId), NewTyping(msg.Event, sess.Username, roomId), c)
}

func (cs *ChatServer) handleUpdateStatus(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload UpdateStatusPayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}
	if payload.Status == "" {
		payload.Status = types.StatusOnline
	}

	sess, ok, err := cs.presence.SetStatus(ctx, c, payload.Status)
	switch {
	case !ok:
		c.queueMessage(ErrNotAuthenticated())
		return
	case errors.Is(err, ErrUnsupportedStatus):
		c.queueMessage(ErrInvalidStatus())
		return
	case err != nil:
		c.log.Errorf("update status: %s", err)
		c.queueMessage(ErrInternalError())
		return
	}

	cs.broadcastAll(NewStatusChanged(sess.Username, sess.Status))
	cs.broadcastPresence()
}

func (cs *ChatServer) handleCreateDM(ctx context.Context, c *Client, sess Session, msg *ClientMessage) {
	var payload CreateDMPayload
	if err := msg.decode(&payload); err != nil {
		c.queueMessage(ErrInvalidMessage())
		return
	}

	if payload.TargetUsername == "" {
		c.queueMessage(ErrDM("Target username required"))
		return
	}
	if payload.TargetUsername == sess.Username {
		c.queueMessage(ErrDM("Cannot create a DM with yourself"))
		return
	}

	_, target, ok := cs.presence.SessionByUsername(payload.TargetUsername)
	if !ok {
		c.queueMessage(ErrDM("User not found or offline"))
		return
	}

	room, err := cs.resolver.ResolveOrCreateDM(ctx, sess, target)
	if errors.Is(err, ErrInvalidUsername) {
		c.log.Warnf("resolve dm: %s", err)
		c.queueMessage(ErrDM("Cannot create a DM with this user"))
		return
	}
	if err != nil {
		c.log.Errorf("resolve dm: %s", err)
		c.queueMessage(ErrInternalError())
		return
	}

	// either side may have been evicted or disconnected while the room was
	// resolved, so subscribe whoever holds the sessions now
	channel := DMRoomChannel(room.Id)
	if !cs.presence.SubscribeSession(c, sess.UserId, channel, NewDMCreated(room, target)) {
		return
	}
	if !cs.presence.SubscribeUser(target.UserId, channel, NewDMCreated(room, sess)) {
		c.log.WithField("user_id", target.UserId).Debug("dm target went offline before subscribing")
	}
}
