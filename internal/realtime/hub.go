// Package realtime pushes committed appointment changes to connected clients.
// Updates are keyed by room: "doctor:<id>" and "patient:<id>".
package realtime

import (
	"context"
	"sync"

	"github.com/hackgods/telehealth-scheduling/internal/metrics"
)

// Client is one websocket connection and the rooms it listens on.
type Client struct {
	ID    string
	Rooms []string
	Send  chan []byte
}

// Hub tracks clients and their room subscriptions. It is the local
// Transport: Publish fans a payload out to every client in the room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	all   map[*Client]struct{}
}

func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		all:   make(map[*Client]struct{}),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.all[client] = struct{}{}
	for _, room := range client.Rooms {
		h.join(client, room)
	}
	metrics.WebsocketClients.Set(float64(len(h.all)))
}

// Unregister removes the client everywhere and closes its Send channel.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, room := range client.Rooms {
		h.leave(client, room)
	}
	delete(h.all, client)
	close(client.Send)
	metrics.WebsocketClients.Set(float64(len(h.all)))
}

func (h *Hub) Subscribe(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.all[client]; !ok {
		return
	}
	for _, room := range rooms {
		if hasRoom(client.Rooms, room) {
			continue
		}
		h.join(client, room)
		client.Rooms = append(client.Rooms, room)
	}
}

func (h *Hub) Unsubscribe(client *Client, rooms []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	remaining := client.Rooms[:0]
	for _, room := range client.Rooms {
		if hasRoom(rooms, room) {
			h.leave(client, room)
			continue
		}
		remaining = append(remaining, room)
	}
	client.Rooms = remaining
}

// Broadcast delivers payload to every client in room. A client whose buffer
// is full misses the message rather than stalling the others.
func (h *Hub) Broadcast(room string, payload []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[room] {
		select {
		case client.Send <- payload:
			delivered++
		default:
		}
	}
	return delivered
}

func (h *Hub) Publish(_ context.Context, room string, payload []byte) error {
	h.Broadcast(room, payload)
	return nil
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.all)
}

func (h *Hub) RoomCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) join(client *Client, room string) {
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
}

func (h *Hub) leave(client *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func hasRoom(rooms []string, room string) bool {
	for _, r := range rooms {
		if r == room {
			return true
		}
	}
	return false
}
