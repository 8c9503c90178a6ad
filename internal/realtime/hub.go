package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Envelope is the wire frame for every realtime message, inbound and
// outbound.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub is the connection registry: sockets register on accept, bind to a
// bidder identity on authentication, and join per-auction rooms.
// Broadcasts to a room reach only its members; ToBidder reaches every
// socket bound to that identity. The hub never mutates domain state.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*Conn]struct{}
	rooms    map[string]map[*Conn]struct{}
	byBidder map[string]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		conns:    make(map[*Conn]struct{}),
		rooms:    make(map[string]map[*Conn]struct{}),
		byBidder: make(map[string]map[*Conn]struct{}),
	}
}

// Register adds a socket to the registry.
func (h *Hub) Register(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

// Bind associates an authenticated socket with its bidder identity.
func (h *Hub) Bind(c *Conn, bidderID string) {
	c.setBidderID(bidderID)

	h.mu.Lock()
	defer h.mu.Unlock()

	conns := h.byBidder[bidderID]
	if conns == nil {
		conns = make(map[*Conn]struct{})
		h.byBidder[bidderID] = conns
	}
	conns[c] = struct{}{}
}

// Deregister removes a socket from the registry, every room and the
// identity index. Called exactly once, on disconnect.
func (h *Hub) Deregister(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.conns, c)
	for room, members := range h.rooms {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	if bidderID := c.BidderID(); bidderID != "" {
		if conns := h.byBidder[bidderID]; conns != nil {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.byBidder, bidderID)
			}
		}
	}
	c.closeSend()
}

// Join adds the socket to an auction room.
func (h *Hub) Join(c *Conn, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	members := h.rooms[auctionID]
	if members == nil {
		members = make(map[*Conn]struct{})
		h.rooms[auctionID] = members
	}
	members[c] = struct{}{}
}

// Leave removes the socket from an auction room.
func (h *Hub) Leave(c *Conn, auctionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if members := h.rooms[auctionID]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, auctionID)
		}
	}
}

// RoomSize returns the current member count of an auction room.
func (h *Hub) RoomSize(auctionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[auctionID])
}

// ToRoom fans an event out to every member of an auction room.
func (h *Hub) ToRoom(auctionID, event string, payload any) {
	frame, ok := marshalFrame(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[auctionID] {
		c.enqueue(frame)
	}
}

// ToBidder fans an event out to every socket bound to one identity.
func (h *Hub) ToBidder(bidderID, event string, payload any) {
	frame, ok := marshalFrame(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.byBidder[bidderID] {
		c.enqueue(frame)
	}
}

// BroadcastAll reaches every connected socket. Reserved for global
// system and security alerts.
func (h *Hub) BroadcastAll(event string, payload any) {
	frame, ok := marshalFrame(event, payload)
	if !ok {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.conns {
		c.enqueue(frame)
	}
}

func marshalFrame(event string, payload any) ([]byte, bool) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[REALTIME] marshal %s payload: %v", event, err)
		return nil, false
	}
	frame, err := json.Marshal(Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("[REALTIME] marshal %s frame: %v", event, err)
		return nil, false
	}
	return frame, true
}
