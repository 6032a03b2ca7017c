package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mcdev12/pennyauction/go/internal/auction/events"
	"github.com/mcdev12/pennyauction/go/internal/auction/metrics"
	"github.com/rs/zerolog/log"
)

// lobby is the room of viewers that are not watching a single auction.
var lobby = uuid.Nil

// ErrBroadcastBufferFull is returned by Emit when the broadcast queue is saturated.
var ErrBroadcastBufferFull = errors.New("broadcast channel full")

// ConnectionManager manages viewer WebSocket connections, grouped into rooms.
type ConnectionManager struct {
	// Connection pools organized by auction ID; uuid.Nil is the lobby
	rooms map[uuid.UUID]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	metrics  metrics.Recorder

	broadcastCh chan events.Event
}

// Connection represents a WebSocket connection to a viewer
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn
	Send   chan []byte

	manager *ConnectionManager
	room    uuid.UUID // guarded by manager.mu
	closed  bool      // guarded by manager.mu

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	BroadcastBuffer int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		BroadcastBuffer: 1000,
		CheckOrigin: func(r *http.Request) bool {
			// Viewers are anonymous and read-only
			return true
		},
	}
}

// clientMessage is what viewers send: {"type":"joinAuction","auction_id":"..."} or {"type":"leaveAuction"}.
type clientMessage struct {
	Type      string `json:"type"`
	AuctionID string `json:"auction_id,omitempty"`
}

const (
	msgJoinAuction  = "joinAuction"
	msgLeaveAuction = "leaveAuction"
)

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, m metrics.Recorder) *ConnectionManager {
	if m == nil {
		m = metrics.NoOp{}
	}
	if config.SendBufferSize <= 0 {
		config.SendBufferSize = 256
	}
	if config.BroadcastBuffer <= 0 {
		config.BroadcastBuffer = 1000
	}
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		metrics:     m,
		broadcastCh: make(chan events.Event, config.BroadcastBuffer),
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case e := <-cm.broadcastCh:
			cm.handleBroadcast(e)
		}
	}
}

// Emit queues an event for viewers. It never blocks on slow clients.
func (cm *ConnectionManager) Emit(_ context.Context, e events.Event) error {
	select {
	case cm.broadcastCh <- e:
		return nil
	default:
		log.Warn().
			Str("event_type", string(e.Type)).
			Str("auction_id", e.AuctionID).
			Msg("broadcast channel full, dropping message")
		return fmt.Errorf("%s event: %w", e.Type, ErrBroadcastBufferFull)
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and places it in room.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, userID string, room uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.New().String(),
		UserID:      userID,
		Conn:        conn,
		Send:        make(chan []byte, cm.config.SendBufferSize),
		manager:     cm,
		room:        room,
		ConnectedAt: time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("user_id", userID).
		Str("auction_id", roomName(room)).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	cm.addToRoomLocked(conn, conn.room)
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.SetViewerConnections(total)
}

func (cm *ConnectionManager) addToRoomLocked(conn *Connection, room uuid.UUID) {
	if cm.rooms[room] == nil {
		cm.rooms[room] = make(map[*Connection]bool)
	}
	cm.rooms[room][conn] = true
	conn.room = room
}

func (cm *ConnectionManager) removeFromRoomLocked(conn *Connection) {
	if members, ok := cm.rooms[conn.room]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(cm.rooms, conn.room)
		}
	}
}

// unregisterConnection removes a connection and closes its send channel. Safe to call twice.
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if conn.closed {
		cm.mu.Unlock()
		return
	}
	conn.closed = true
	cm.removeFromRoomLocked(conn)
	close(conn.Send)
	total := cm.totalLocked()
	cm.mu.Unlock()

	cm.metrics.SetViewerConnections(total)
	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.UserID).
		Msg("connection unregistered")
}

// move puts a connection into another room.
func (cm *ConnectionManager) move(conn *Connection, room uuid.UUID) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if conn.closed || conn.room == room {
		return
	}
	cm.removeFromRoomLocked(conn)
	cm.addToRoomLocked(conn, room)

	log.Debug().
		Str("connection_id", conn.ID).
		Str("auction_id", roomName(room)).
		Msg("connection changed room")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	var all []*Connection
	for _, members := range cm.rooms {
		for conn := range members {
			all = append(all, conn)
		}
	}
	cm.mu.RUnlock()

	for _, conn := range all {
		cm.unregisterConnection(conn)
	}
}

// targets returns the connections an event goes to: the auction's room plus the lobby, or
// everyone for events that are not about a single auction.
func (cm *ConnectionManager) targets(e events.Event) []*Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	var out []*Connection
	if e.AuctionID == "" {
		for _, members := range cm.rooms {
			for conn := range members {
				out = append(out, conn)
			}
		}
		return out
	}

	for conn := range cm.rooms[lobby] {
		out = append(out, conn)
	}
	if id, err := uuid.Parse(e.AuctionID); err == nil && id != lobby {
		for conn := range cm.rooms[id] {
			out = append(out, conn)
		}
	}
	return out
}

func (cm *ConnectionManager) handleBroadcast(e events.Event) {
	targets := cm.targets(e)
	if len(targets) == 0 {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if !cm.send(conn, data) {
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.UserID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(e.Type)).
		Str("auction_id", e.AuctionID).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// send enqueues data unless the connection was closed in the meantime.
func (cm *ConnectionManager) send(conn *Connection, data []byte) bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	if conn.closed {
		return true
	}
	select {
	case conn.Send <- data:
		return true
	default:
		return false
	}
}

func (cm *ConnectionManager) totalLocked() int {
	total := 0
	for _, members := range cm.rooms {
		total += len(members)
	}
	return total
}

// ConnectionStats summarizes the rooms.
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	LobbyConnections int            `json:"lobby_connections"`
	ActiveAuctions   int            `json:"active_auctions"`
	Auctions         map[string]int `json:"auction_connections"`
}

// Stats returns statistics about active connections
func (cm *ConnectionManager) Stats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{Auctions: make(map[string]int)}
	for room, members := range cm.rooms {
		stats.TotalConnections += len(members)
		if room == lobby {
			stats.LobbyConnections = len(members)
			continue
		}
		stats.Auctions[room.String()] = len(members)
	}
	stats.ActiveAuctions = len(stats.Auctions)
	return stats
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		c.handleClientMessage(message)
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

// handleClientMessage switches the viewer between an auction room and the lobby.
func (c *Connection) handleClientMessage(message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", c.ID).Msg("ignoring malformed client message")
		return
	}

	switch msg.Type {
	case msgJoinAuction:
		id, err := uuid.Parse(msg.AuctionID)
		if err != nil {
			log.Debug().Str("connection_id", c.ID).Str("auction_id", msg.AuctionID).Msg("join with invalid auction id")
			return
		}
		c.manager.move(c, id)
	case msgLeaveAuction:
		c.manager.move(c, lobby)
	default:
		log.Debug().
			Str("connection_id", c.ID).
			Str("type", msg.Type).
			Msg("ignoring unknown client message")
	}
}

func roomName(room uuid.UUID) string {
	if room == lobby {
		return "lobby"
	}
	return room.String()
}
