package realtime

import (
	"sync"
)

// Client is one websocket connection subscribed to a set of rooms.
type Client struct {
	Send   chan []byte
	Rooms  []string
	UserID string
}

type broadcastMsg struct {
	Room string
	Data []byte
}

// Hub fans messages out to the clients of a room.  All bookkeeping happens on
// the Run goroutine; the other methods only talk to it over channels.
type Hub struct {
	rooms      map[string]map[*Client]bool
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	stopOnce   sync.Once

	mu     sync.Mutex
	counts map[string]int
}

// NewHub returns a hub; call Run to start it.
func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg, 256),
		quit:       make(chan struct{}),
		counts:     make(map[string]int),
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			for _, room := range c.Rooms {
				if h.rooms[room] == nil {
					h.rooms[room] = make(map[*Client]bool)
				}
				h.rooms[room][c] = true
			}
			h.updateCounts()

		case c := <-h.unregister:
			h.drop(c)

		case m := <-h.broadcast:
			for c := range h.rooms[m.Room] {
				select {
				case c.Send <- m.Data:
				default:
					// slow consumer
					h.drop(c)
				}
			}

		case <-h.quit:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

// drop removes c from every room and closes its send channel once.
func (h *Hub) drop(c *Client) {
	if !h.clients[c] {
		return
	}
	delete(h.clients, c)
	for _, room := range c.Rooms {
		if conns := h.rooms[room]; conns != nil {
			delete(conns, c)
			if len(conns) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	close(c.Send)
	h.updateCounts()
}

func (h *Hub) updateCounts() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.counts = make(map[string]int, len(h.rooms))
	for room, conns := range h.rooms {
		h.counts[room] = len(conns)
	}
}

// Register subscribes c to its rooms.  It returns false once the hub is stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes c and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Broadcast queues data for every client of room.
func (h *Hub) Broadcast(room string, data []byte) {
	select {
	case h.broadcast <- broadcastMsg{Room: room, Data: data}:
	case <-h.quit:
	}
}

// RoomSize reports how many clients are subscribed to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[room]
}

// Stop terminates Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.quit) })
}
