package server

import (
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// PublicRoomChannel is the subscriber channel of a shared room.
func PublicRoomChannel(roomId int) string {
	return "room_" + strconv.Itoa(roomId)
}

// DMRoomChannel is the subscriber channel of a direct message room.
func DMRoomChannel(roomId int) string {
	return "dm_" + strconv.Itoa(roomId)
}

// Hub tracks which connections are subscribed to which room channels.
type Hub struct {
	log         logrus.FieldLogger
	lock        sync.RWMutex
	channels    map[string]map[*Client]struct{}
	memberships map[*Client]map[string]struct{}
}

func NewHub(logger logrus.FieldLogger) *Hub {
	return &Hub{
		log:         logger,
		channels:    make(map[string]map[*Client]struct{}),
		memberships: make(map[*Client]map[string]struct{}),
	}
}

func (h *Hub) Subscribe(channel string, c *Client) {
	h.lock.Lock()
	defer h.lock.Unlock()

	if h.channels[channel] == nil {
		h.channels[channel] = make(map[*Client]struct{})
	}
	h.channels[channel][c] = struct{}{}

	if h.memberships[c] == nil {
		h.memberships[c] = make(map[string]struct{})
	}
	h.memberships[c][channel] = struct{}{}

	h.log.WithField("conn_id", c.id).Debugf("subscribed to %q", channel)
}

func (h *Hub) unsubscribe(channel string, c *Client) {
	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}

	if chans, ok := h.memberships[c]; ok {
		delete(chans, channel)
		if len(chans) == 0 {
			delete(h.memberships, c)
		}
	}
}

// UnsubscribeAll removes c from every channel and returns how many it left.
func (h *Hub) UnsubscribeAll(c *Client) int {
	h.lock.Lock()
	defer h.lock.Unlock()

	chans := h.memberships[c]
	n := len(chans)
	for channel := range chans {
		h.unsubscribe(channel, c)
	}

	return n
}

func (h *Hub) IsSubscribed(channel string, c *Client) bool {
	h.lock.RLock()
	defer h.lock.RUnlock()

	_, ok := h.channels[channel][c]
	return ok
}

func (h *Hub) Subscribers(channel string) []*Client {
	h.lock.RLock()
	defer h.lock.RUnlock()

	subs := make([]*Client, 0, len(h.channels[channel]))
	for c := range h.channels[channel] {
		subs = append(subs, c)
	}
	return subs
}

// Broadcast queues msg to every subscriber of channel except skip and
// returns the number of connections it was queued to.
func (h *Hub) Broadcast(channel string, msg *ServerMessage, skip *Client) int {
	n := 0
	for _, c := range h.Subscribers(channel) {
		if c == skip {
			continue
		}
		if c.queueMessage(msg) {
			n++
		}
	}

	h.log.Debugf("broadcast %q to %d subscribers of %q", msg.Event, n, channel)
	return n
}
