package server

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-realtime-chat/internal/auth"
	"github.com/npezzotti/go-realtime-chat/internal/database"
	"github.com/npezzotti/go-realtime-chat/internal/stats"
	"github.com/sirupsen/logrus"
)

var metrics = []string{
	"NumActiveClients",
	"NumActiveSessions",
	"NumSessionEvictions",
	"NumMessagesPersisted",
}

type ChatServer struct {
	log         logrus.FieldLogger
	db          database.ChatRepository
	stats       stats.StatsProvider
	presence    *PresenceRegistry
	hub         *Hub
	resolver    *RoomResolver
	pipeline    *MessagePipeline
	clients     map[*Client]struct{}
	clientsLock sync.Mutex
	wg          sync.WaitGroup
}

func NewChatServer(logger logrus.FieldLogger, db database.ChatRepository, verifier auth.Verifier, su stats.StatsProvider) (*ChatServer, error) {
	for _, m := range metrics {
		su.RegisterMetric(m)
	}

	hub := NewHub(logger.WithField("component", "hub"))
	return &ChatServer{
		log:      logger.WithField("component", "chat"),
		db:       db,
		stats:    su,
		hub:      hub,
		presence: NewPresenceRegistry(logger.WithField("component", "presence"), db, verifier, hub, su),
		resolver: NewRoomResolver(logger.WithField("component", "resolver"), db),
		pipeline: NewMessagePipeline(logger.WithField("component", "pipeline"), db, su),
		clients:  make(map[*Client]struct{}),
	}, nil
}

func (cs *ChatServer) Presence() *PresenceRegistry {
	return cs.presence
}

func (cs *ChatServer) Pipeline() *MessagePipeline {
	return cs.pipeline
}

// Serve runs the connection until it closes. The connection starts
// unauthenticated and is greeted with a connected event.
func (cs *ChatServer) Serve(conn *websocket.Conn) {
	c := NewClient(conn, cs, cs.log)
	cs.addClient(c)
	c.queueMessage(NewConnected())
	c.log.Info("client connected")

	cs.wg.Add(1)
	go c.Write()
	go func() {
		defer cs.wg.Done()
		c.Read()
	}()
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	cs.clients[c] = struct{}{}
	cs.stats.Incr("NumActiveClients")
}

func (cs *ChatServer) removeClient(c *Client) bool {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()

	if _, ok := cs.clients[c]; !ok {
		return false
	}
	delete(cs.clients, c)
	cs.stats.Decr("NumActiveClients")
	return true
}

// broadcastAll queues msg to every open connection.
func (cs *ChatServer) broadcastAll(msg *ServerMessage) {
	cs.clientsLock.Lock()
	clients := make([]*Client, 0, len(cs.clients))
	for c := range cs.clients {
		clients = append(clients, c)
	}
	cs.clientsLock.Unlock()

	for _, c := range clients {
		c.queueMessage(msg)
	}
}

func (cs *ChatServer) broadcastPresence() {
	cs.broadcastAll(NewUsersList(cs.presence.Snapshot()))
}

// disconnect tears down everything owned by c. It is safe to call more
// than once.
func (cs *ChatServer) disconnect(c *Client) {
	c.stopClient()
	defer cs.hub.UnsubscribeAll(c)
	if !cs.removeClient(c) {
		return
	}

	sess, ok, err := cs.presence.Disconnect(context.Background(), c)
	if err != nil {
		c.log.Errorf("disconnect: %s", err)
	}

	if ok {
		c.log.WithField("user_id", sess.UserId).Info("user disconnected")
		cs.broadcastPresence()
	}
}

// Shutdown stops every connection and waits for them to be torn down.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Info("shutting down chat server")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
