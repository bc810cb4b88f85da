package realtime

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/telehealth-scheduling/internal/auth"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

// ClientMessage is an inbound subscription request.
type ClientMessage struct {
	Action string   `json:"action"` // subscribe | unsubscribe
	Rooms  []string `json:"rooms"`
}

// Reply acknowledges a ClientMessage.
type Reply struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms,omitempty"`
	Error string   `json:"error,omitempty"`
}

// Handler upgrades authenticated requests to websocket connections. Each
// connection starts in the caller's own room; further rooms can be joined
// only if the session may see them.
type Handler struct {
	hub      *Hub
	log      *logrus.Logger
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, log *logrus.Logger) *Handler {
	return &Handler{
		hub: hub,
		log: log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	session, ok := auth.FromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBuffer),
	}
	if room := session.Room(); room != "" {
		client.Rooms = []string{room}
	}
	h.hub.Register(client)

	h.log.WithFields(logrus.Fields{
		"client_id": client.ID,
		"user_id":   session.UserID,
		"role":      session.Role,
	}).Debug("websocket client connected")

	go h.writePump(client, conn)
	h.readPump(client, conn, session)
}

func (h *Handler) readPump(client *Client, conn *websocket.Conn, session auth.Session) {
	defer func() {
		h.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(client, Reply{Type: "error", Error: "malformed message"})
			continue
		}
		h.reply(client, h.process(client, session, msg))
	}
}

func (h *Handler) process(client *Client, session auth.Session, msg ClientMessage) Reply {
	switch msg.Action {
	case "subscribe":
		for _, room := range msg.Rooms {
			if !CanJoin(session, room) {
				return Reply{Type: "error", Rooms: []string{room}, Error: "room not permitted"}
			}
		}
		h.hub.Subscribe(client, msg.Rooms)
		return Reply{Type: "subscribed", Rooms: msg.Rooms}
	case "unsubscribe":
		h.hub.Unsubscribe(client, msg.Rooms)
		return Reply{Type: "unsubscribed", Rooms: msg.Rooms}
	}
	return Reply{Type: "error", Error: "unknown action"}
}

func (h *Handler) reply(client *Client, r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	select {
	case client.Send <- data:
	default:
	}
}

func (h *Handler) writePump(client *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.Send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// CanJoin reports whether session may listen on room. Admins may join any
// well-formed room, everybody else only their own.
func CanJoin(session auth.Session, room string) bool {
	kind, id, ok := strings.Cut(room, ":")
	if !ok || (kind != "doctor" && kind != "patient") {
		return false
	}
	if _, err := uuid.Parse(id); err != nil {
		return false
	}
	if session.Role == auth.RoleAdmin {
		return true
	}
	return room == session.Room()
}
