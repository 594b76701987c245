package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ConnectionManager manages WebSocket connections for table session events.
// One logical room per table session id; a guest device can additionally
// be targeted directly for device-scoped events.
type ConnectionManager struct {
	// Connection pools organized by table session ID
	rooms map[uuid.UUID]map[*Connection]bool
	mu    sync.RWMutex

	// Upgrader for WebSocket connections
	upgrader websocket.Upgrader

	// Connection configuration
	config ConnectionConfig

	// Event broadcasting
	broadcastCh chan BroadcastMessage

	metrics MetricsCollector
}

// Connection represents a WebSocket connection to one guest device
type Connection struct {
	ID             string
	GuestSessionID string
	TableSessionID uuid.UUID
	Conn           *websocket.Conn
	Send           chan []byte
	Manager        *ConnectionManager

	// Connection metadata
	ConnectedAt time.Time
	LastPing    time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to connections
type BroadcastMessage struct {
	TableSessionID uuid.UUID
	Event          *SessionEvent
	GuestSessionID string // Optional: if set, only send to this guest's device
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, metrics MetricsCollector) *ConnectionManager {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
		metrics:     metrics,
	}
}

// Start begins processing broadcast messages
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and joins
// the guest to the session's room
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, guestSessionID string, tableSessionID uuid.UUID) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:             uuid.New().String(),
		GuestSessionID: guestSessionID,
		TableSessionID: tableSessionID,
		Conn:           conn,
		Send:           make(chan []byte, 256),
		Manager:        cm,
		ConnectedAt:    time.Now(),
		LastPing:       time.Now(),
	}

	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("guest_session_id", guestSessionID).
		Str("table_session_id", tableSessionID.String()).
		Msg("WebSocket connection established")

	return nil
}

// registerConnection adds a connection to its session room
func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[conn.TableSessionID] == nil {
		cm.rooms[conn.TableSessionID] = make(map[*Connection]bool)
	}
	cm.rooms[conn.TableSessionID][conn] = true
	cm.metrics.ConnectionOpened()

	log.Debug().
		Str("connection_id", conn.ID).
		Str("table_session_id", conn.TableSessionID.String()).
		Int("room_size", len(cm.rooms[conn.TableSessionID])).
		Msg("connection registered")
}

// unregisterConnection removes a connection from its session room
func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if connections, exists := cm.rooms[conn.TableSessionID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			close(conn.Send)
			cm.metrics.ConnectionClosed()

			// Clean up empty rooms
			if len(connections) == 0 {
				delete(cm.rooms, conn.TableSessionID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("guest_session_id", conn.GuestSessionID).
				Str("table_session_id", conn.TableSessionID.String()).
				Msg("connection unregistered")
		}
	}
}

// BroadcastToSession sends an event to every device in a session's room
func (cm *ConnectionManager) BroadcastToSession(tableSessionID uuid.UUID, event *SessionEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{TableSessionID: tableSessionID, Event: event}:
	default:
		log.Warn().Str("table_session_id", tableSessionID.String()).Msg("broadcast channel full, dropping message")
		cm.metrics.EventDropped(string(event.Type))
	}
}

// BroadcastToGuest sends an event only to one guest's device, for
// device-targeted notifications such as "your session was replaced"
func (cm *ConnectionManager) BroadcastToGuest(tableSessionID uuid.UUID, guestSessionID string, event *SessionEvent) {
	select {
	case cm.broadcastCh <- BroadcastMessage{TableSessionID: tableSessionID, Event: event, GuestSessionID: guestSessionID}:
	default:
		log.Warn().
			Str("table_session_id", tableSessionID.String()).
			Str("guest_session_id", guestSessionID).
			Msg("broadcast channel full, dropping guest message")
		cm.metrics.EventDropped(string(event.Type))
	}
}

// handleBroadcast processes a broadcast message
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.rooms[message.TableSessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the room so the lock is not held during writes
	var targets []*Connection
	for conn := range connections {
		if message.GuestSessionID != "" && conn.GuestSessionID != message.GuestSessionID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	// Marshal the event once
	eventData, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		select {
		case conn.Send <- eventData:
		default:
			// Connection is slow/dead, close it; the client re-fetches
			// authoritative state on reconnect
			log.Warn().
				Str("connection_id", conn.ID).
				Str("guest_session_id", conn.GuestSessionID).
				Msg("connection send buffer full, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}

	cm.metrics.EventBroadcast(string(message.Event.Type), len(targets))

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("table_session_id", message.TableSessionID.String()).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// GetConnectionStats returns statistics about active connections
func (cm *ConnectionManager) GetConnectionStats() map[string]interface{} {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	totalConnections := 0
	roomCounts := make(map[string]int)

	for tableSessionID, connections := range cm.rooms {
		count := len(connections)
		totalConnections += count
		roomCounts[tableSessionID.String()] = count
	}

	return map[string]interface{}{
		"total_connections": totalConnections,
		"active_sessions":   len(cm.rooms),
		"room_connections":  roomCounts,
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
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
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
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
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}

// handleClientMessage processes messages received from the client.
// The channel is server-push; client frames are only logged.
func (c *Connection) handleClientMessage(message []byte) {
	log.Debug().
		Str("connection_id", c.ID).
		Str("guest_session_id", c.GuestSessionID).
		RawJSON("message", message).
		Msg("received client message")
}
