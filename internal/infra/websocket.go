package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Rooms a change-stream client can subscribe to.
const (
	RoomState   = "state"
	RoomTickets = "tickets"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
	wsSendBuffer = 64
)

// WSHub manages WebSocket connections and room-based message delivery.
type WSHub struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]*WSConn // room -> connID -> conn
	conns    map[string]*WSConn
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// WSConn represents a WebSocket connection (abstracted for testability).
type WSConn struct {
	ID   string
	Send chan []byte

	// closed is only written with the hub lock held.
	closed bool
}

// NewWSConn creates a connection with a fresh id and buffered send queue.
func NewWSConn() *WSConn {
	return &WSConn{ID: uuid.NewString(), Send: make(chan []byte, wsSendBuffer)}
}

func (c *WSConn) close() {
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// WSMessage is the payload sent over WebSocket.
type WSMessage struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// wsCommand is what clients send to change their subscriptions.
type wsCommand struct {
	Type  string   `json:"type"`
	Rooms []string `json:"rooms"`
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub(logger *slog.Logger) *WSHub {
	return &WSHub{
		rooms: make(map[string]map[string]*WSConn),
		conns: make(map[string]*WSConn),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Join adds a connection to a room.
func (h *WSHub) Join(room string, conn *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conn.closed {
		return
	}
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]*WSConn)
	}
	h.rooms[room][conn.ID] = conn
	h.conns[conn.ID] = conn
}

// Leave removes a connection from a room.
func (h *WSHub) Leave(room string, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(room, connID)
}

func (h *WSHub) leaveLocked(room, connID string) {
	if conns, ok := h.rooms[room]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Disconnect removes a connection from every room and closes its send queue.
func (h *WSHub) Disconnect(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conn, ok := h.conns[connID]
	if !ok {
		return
	}
	for room := range h.rooms {
		h.leaveLocked(room, connID)
	}
	delete(h.conns, connID)
	conn.close()
}

// Publish sends a message to all connections in a room.
func (h *WSHub) Publish(room string, event string, data interface{}) {
	msg := WSMessage{Event: event, Data: data}
	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("ws marshal error", "error", err, "room", room, "event", event)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	conns, ok := h.rooms[room]
	if !ok {
		return
	}

	for _, conn := range conns {
		select {
		case conn.Send <- payload:
		default:
			h.logger.Warn("ws send buffer full", "conn_id", conn.ID, "room", room)
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *WSHub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// RoomCount returns the number of active rooms.
func (h *WSHub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// Shutdown closes all connections gracefully.
func (h *WSHub) Shutdown(_ context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, conn := range h.conns {
		conn.close()
		delete(h.conns, id)
	}
	h.rooms = make(map[string]map[string]*WSConn)
}

// ServeWS upgrades the request and streams published events to the client.
// New clients join the state and tickets rooms; a client may narrow that
// with {"type":"subscribe","rooms":[...]}.
func (h *WSHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	conn := NewWSConn()
	h.Join(RoomState, conn)
	h.Join(RoomTickets, conn)
	h.logger.Debug("ws client connected", "conn_id", conn.ID, "connections", h.ConnectionCount())

	go h.writePump(ws, conn)
	h.readPump(ws, conn)
}

func (h *WSHub) readPump(ws *websocket.Conn, conn *WSConn) {
	defer func() {
		h.Disconnect(conn.ID)
		ws.Close()
		h.logger.Debug("ws client disconnected", "conn_id", conn.ID)
	}()

	ws.SetReadLimit(4096)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("ws read error", "conn_id", conn.ID, "error", err)
			}
			return
		}

		var cmd wsCommand
		if err := json.Unmarshal(data, &cmd); err != nil {
			continue
		}
		h.applyCommand(conn, cmd)
	}
}

func (h *WSHub) applyCommand(conn *WSConn, cmd wsCommand) {
	switch cmd.Type {
	case "subscribe":
		h.mu.Lock()
		for room := range h.rooms {
			h.leaveLocked(room, conn.ID)
		}
		h.mu.Unlock()
		for _, room := range cmd.Rooms {
			h.Join(room, conn)
		}
	case "unsubscribe":
		for _, room := range cmd.Rooms {
			h.Leave(room, conn.ID)
		}
	}
}

func (h *WSHub) writePump(ws *websocket.Conn, conn *WSConn) {
	ping := time.NewTicker(wsPingPeriod)
	defer func() {
		ping.Stop()
		ws.Close()
	}()

	for {
		select {
		case msg, ok := <-conn.Send:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
