package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/npezzotti/go-realtime-chat/internal/auth"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/npezzotti/go-realtime-chat/internal/types"
	"github.com/sirupsen/logrus"
)

var (
	ErrMissingCredential    = errors.New("missing credential")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrUnsupportedStatus    = errors.New("invalid status")
)

// Session is the live, in-memory identity bound to one connection.
type Session struct {
	UserId   int
	Username string
	Email    string
	Status   types.Status
	ConnId   string
}

func (s Session) User() types.User {
	return types.User{
		Id:       s.UserId,
		Username: s.Username,
		Email:    s.Email,
		Status:   s.Status,
	}
}

// PresenceRegistry maps live connections to authenticated sessions and
// guarantees at most one session per user.
type PresenceRegistry struct {
	log      logrus.FieldLogger
	db       database.ChatRepository
	verifier auth.Verifier
	hub      *Hub
	stats    stats.StatsProvider

	// transitionLock serializes every read-then-write sequence, store
	// flushes included. sessionsLock only guards the maps.
	transitionLock sync.Mutex
	sessionsLock   sync.RWMutex
	sessions       map[*Client]*Session
	users          map[int]*Client
}

func NewPresenceRegistry(logger logrus.FieldLogger, db database.ChatRepository, verifier auth.Verifier, hub *Hub, su stats.StatsProvider) *PresenceRegistry {
	return &PresenceRegistry{
		log:      logger,
		db:       db,
		verifier: verifier,
		hub:      hub,
		stats:    su,
		sessions: make(map[*Client]*Session),
		users:    make(map[int]*Client),
	}
}

// Authenticate verifies credential and installs a session for c. Any
// session the same user holds on another connection is evicted first.
// Failures leave the registry untouched.
func (p *PresenceRegistry) Authenticate(ctx context.Context, c *Client, credential string) (Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Session{}, ErrMissingCredential
	}

	userId, err := p.verifier.Verify(ctx, credential)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	user, err := p.db.GetUserById(ctx, userId)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return Session{}, fmt.Errorf("%w: user %d does not exist", ErrAuthenticationFailed, userId)
		}
		return Session{}, fmt.Errorf("get user %d: %w", userId, err)
	}

	p.transitionLock.Lock()
	defer p.transitionLock.Unlock()

	if err := p.db.SetUserOnline(ctx, user.Id, string(types.StatusOnline), Now()); err != nil {
		return Session{}, fmt.Errorf("set user %d online: %w", user.Id, err)
	}

	sess := &Session{
		UserId:   user.Id,
		Username: user.Username,
		Email:    user.EmailAddress,
		Status:   types.StatusOnline,
		ConnId:   c.id,
	}

	p.sessionsLock.Lock()
	defer p.sessionsLock.Unlock()

	if old, ok := p.users[user.Id]; ok && old != c {
		delete(p.sessions, old)
		p.hub.UnsubscribeAll(old)
		p.stats.Incr("NumSessionEvictions")
		p.stats.Decr("NumActiveSessions")
		p.log.WithFields(logrus.Fields{
			"user_id": user.Id,
			"conn_id": old.id,
		}).Info("evicted superseded session")
	}

	prev, reauth := p.sessions[c]
	if reauth && prev.UserId != user.Id {
		// the connection switched identity; the previous user is gone
		delete(p.users, prev.UserId)
		p.hub.UnsubscribeAll(c)
		if err := p.db.SetUserOffline(ctx, prev.UserId, Now()); err != nil {
			p.log.WithField("user_id", prev.UserId).Errorf("SetUserOffline: %s", err)
		}
	}

	p.sessions[c] = sess
	p.users[user.Id] = c
	if !reauth {
		p.stats.Incr("NumActiveSessions")
	}

	return *sess, nil
}

// Disconnect removes the session owned by c, marking the user offline. It
// reports false when c held no session, e.g. after being superseded.
func (p *PresenceRegistry) Disconnect(ctx context.Context, c *Client) (Session, bool, error) {
	p.transitionLock.Lock()
	defer p.transitionLock.Unlock()

	sess, ok := p.Session(c)
	if !ok {
		return Session{}, false, nil
	}

	err := p.db.SetUserOffline(ctx, sess.UserId, Now())
	if err != nil {
		err = fmt.Errorf("set user %d offline: %w", sess.UserId, err)
	}

	p.sessionsLock.Lock()
	delete(p.sessions, c)
	if p.users[sess.UserId] == c {
		delete(p.users, sess.UserId)
	}
	p.sessionsLock.Unlock()

	p.stats.Decr("NumActiveSessions")
	return sess, true, err
}

// SetStatus changes the status of the session owned by c. It reports false
// without touching anything when c has no session.
func (p *PresenceRegistry) SetStatus(ctx context.Context, c *Client, status types.Status) (Session, bool, error) {
	p.transitionLock.Lock()
	defer p.transitionLock.Unlock()

	sess, ok := p.Session(c)
	if !ok {
		return Session{}, false, nil
	}

	if !status.Valid() {
		return sess, true, fmt.Errorf("%w: %q", ErrUnsupportedStatus, status)
	}

	if err := p.db.UpdateUserStatus(ctx, sess.UserId, string(status)); err != nil {
		return sess, true, fmt.Errorf("update status for user %d: %w", sess.UserId, err)
	}

	p.sessionsLock.Lock()
	if s, ok := p.sessions[c]; ok {
		s.Status = status
		sess = *s
	}
	p.sessionsLock.Unlock()

	return sess, true, nil
}

// Session returns the session owned by c.
func (p *PresenceRegistry) Session(c *Client) (Session, bool) {
	p.sessionsLock.RLock()
	defer p.sessionsLock.RUnlock()

	if s, ok := p.sessions[c]; ok {
		return *s, true
	}
	return Session{}, false
}

// SessionByUsername finds the live connection of the user with the given
// username.
func (p *PresenceRegistry) SessionByUsername(username string) (*Client, Session, bool) {
	p.sessionsLock.RLock()
	defer p.sessionsLock.RUnlock()

	for c, s := range p.sessions {
		if s.Username == username {
			return c, *s, true
		}
	}
	return nil, Session{}, false
}

// SubscribeSession subscribes c to channel and queues msg to it, provided
// c still holds a session for userId. Holding transitionLock keeps a
// concurrent eviction or disconnect from slipping in between the check and
// the subscription.
func (p *PresenceRegistry) SubscribeSession(c *Client, userId int, channel string, msg *ServerMessage) bool {
	p.transitionLock.Lock()
	defer p.transitionLock.Unlock()

	p.sessionsLock.RLock()
	s, ok := p.sessions[c]
	owned := ok && s.UserId == userId
	p.sessionsLock.RUnlock()
	if !owned {
		return false
	}

	p.hub.Subscribe(channel, c)
	if msg != nil {
		c.queueMessage(msg)
	}
	return true
}

// SubscribeUser is SubscribeSession for whichever connection currently
// holds the session of userId. It reports false when the user is offline.
func (p *PresenceRegistry) SubscribeUser(userId int, channel string, msg *ServerMessage) bool {
	p.transitionLock.Lock()
	defer p.transitionLock.Unlock()

	p.sessionsLock.RLock()
	c, ok := p.users[userId]
	p.sessionsLock.RUnlock()
	if !ok {
		return false
	}

	p.hub.Subscribe(channel, c)
	if msg != nil {
		c.queueMessage(msg)
	}
	return true
}

// Snapshot lists the connected users. Order is unspecified.
func (p *PresenceRegistry) Snapshot() []types.UserStatus {
	p.sessionsLock.RLock()
	defer p.sessionsLock.RUnlock()

	users := make([]types.UserStatus, 0, len(p.sessions))
	for _, s := range p.sessions {
		users = append(users, types.UserStatus{Username: s.Username, Status: s.Status})
	}
	return users
}

func (p *PresenceRegistry) Len() int {
	p.sessionsLock.RLock()
	defer p.sessionsLock.RUnlock()

	return len(p.sessions)
}
