package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/lox/bingohall/internal/room"
)

// Connection is one participant's WebSocket. It implements room.Subscriber;
// delivery never blocks the room loop.
type Connection struct {
	conn        *websocket.Conn
	send        chan *Message
	participant string
	server      *Server
	logger      *log.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	superseded  atomic.Bool

	mu   sync.RWMutex
	room *room.Room
}

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Outbound messages buffered before the peer counts as too slow
	sendBufferSize = 256
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSlowConsumer     = errors.New("send buffer full")
)

func newConnection(conn *websocket.Conn, participant string, s *Server) *Connection {
	ctx, cancel := context.WithCancel(s.ctx)
	return &Connection{
		conn:        conn,
		send:        make(chan *Message, sendBufferSize),
		participant: participant,
		server:      s,
		logger:      s.logger.WithPrefix("conn").With("participant", participant),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start begins handling the connection
func (c *Connection) Start() {
	go c.writePump()
	go c.readPump()
}

// Close closes the connection. Safe to call from any goroutine, including
// the room loop.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is shutting down.
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Participant returns the identity the connection was opened with.
func (c *Connection) Participant() string {
	return c.participant
}

// Room returns the room the connection has joined, if any.
func (c *Connection) Room() *room.Room {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.room
}

func (c *Connection) setRoom(r *room.Room) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.room = r
}

// SendMessage queues msg for the write pump. A full buffer closes the
// connection.
func (c *Connection) SendMessage(msg *Message) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return ErrSlowConsumer
	}
}

// Deliver forwards a room event to the client.
func (c *Connection) Deliver(e room.Event) {
	msg, err := NewMessage(MessageType(e.Type), e.Data)
	if err != nil {
		c.logger.Error("Failed to encode room event", "type", e.Type, "error", err)
		return
	}
	msg.Timestamp = e.At
	_ = c.SendMessage(msg)
}

// readPump handles incoming messages from the client
func (c *Connection) readPump() {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		err := c.conn.ReadJSON(&msg)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("WebSocket read failed", "error", err)
			}
			return
		}
		c.handleMessage(&msg)
	}
}

// writePump handles outgoing messages to the client
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// handleMessage processes incoming messages from the client
func (c *Connection) handleMessage(msg *Message) {
	c.logger.Debug("Received message", "type", msg.Type)

	switch msg.Type {
	case MessageTypeJoinRoom:
		var data JoinRoomData
		if err := decodeData(msg, &data); err != nil {
			c.sendError(msg.RequestID, CodeInvalidMessage, "Failed to parse join room data")
			return
		}
		c.handleJoinRoom(msg.RequestID, data)

	case MessageTypeLeaveRoom:
		c.handleLeaveRoom(msg.RequestID)

	case MessageTypeSelectCard:
		var data SelectCardData
		if err := decodeData(msg, &data); err != nil {
			c.sendError(msg.RequestID, CodeInvalidMessage, "Failed to parse select card data")
			return
		}
		c.handleSelectCard(msg.RequestID, data)

	case MessageTypeClaimWin:
		c.handleClaimWin(msg.RequestID)

	case MessageTypeGetBalance:
		c.handleGetBalance(msg.RequestID)

	case MessageTypeGetSnapshot:
		c.handleGetSnapshot(msg.RequestID)

	default:
		c.sendError(msg.RequestID, CodeUnknownMessageType, "Unknown message type: "+msg.Type.String())
	}
}

// decodeData unmarshals the message payload. An absent payload leaves v
// untouched.
func decodeData(msg *Message, v any) error {
	if len(msg.Data) == 0 || string(msg.Data) == "null" {
		return nil
	}
	return json.Unmarshal(msg.Data, v)
}

func (c *Connection) reply(requestID string, typ MessageType, data any) {
	msg, err := NewMessage(typ, data)
	if err != nil {
		c.logger.Error("Failed to create message", "type", typ, "error", err)
		return
	}
	msg.RequestID = requestID
	_ = c.SendMessage(msg)
}

// sendError sends an error message to the client
func (c *Connection) sendError(requestID, code, message string) {
	c.reply(requestID, MessageTypeError, ErrorData{Code: code, Message: message})
}

func (c *Connection) fail(requestID string, err error) {
	code := errorCode(err)
	if code == CodeInternal || code == CodeStorageUnavailable {
		c.logger.Error("Request failed", "error", err)
	}
	c.sendError(requestID, code, err.Error())
}

func (c *Connection) handleJoinRoom(requestID string, data JoinRoomData) {
	target, err := c.server.registry.Room(data.Stake)
	if err != nil {
		c.fail(requestID, err)
		return
	}

	if current := c.Room(); current != nil && current != target {
		if err := current.Leave(c.ctx, c.participant, c); err != nil {
			c.logger.Warn("Leaving previous room failed", "room", current.Name(), "error", err)
		}
		c.setRoom(nil)
	}
	c.join(requestID, target)
}

func (c *Connection) join(requestID string, target *room.Room) {
	snap, err := target.Join(c.ctx, c.participant, c)
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.setRoom(target)
	c.logger.Info("Joined room", "room", target.Name(), "phase", snap.Phase)
	c.reply(requestID, MessageTypeSnapshot, snap)
}

func (c *Connection) handleLeaveRoom(requestID string) {
	current := c.Room()
	if current == nil {
		c.sendError(requestID, CodeNotJoined, "Not in a room")
		return
	}
	c.setRoom(nil)
	if err := current.Leave(c.ctx, c.participant, c); err != nil {
		c.fail(requestID, err)
		return
	}
	c.logger.Info("Left room", "room", current.Name())
	c.reply(requestID, MessageTypeRoomLeft, RoomLeftData{Stake: current.Stake()})
}

func (c *Connection) handleSelectCard(requestID string, data SelectCardData) {
	current := c.Room()
	if current == nil {
		c.sendError(requestID, CodeNotJoined, "Join a room first")
		return
	}
	sel, err := current.SelectCard(c.ctx, c.participant, data.Card)
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.reply(requestID, MessageTypeCardSelected, sel)
}

func (c *Connection) handleClaimWin(requestID string) {
	current := c.Room()
	if current == nil {
		c.sendError(requestID, CodeNotJoined, "Join a room first")
		return
	}
	claim, err := current.ClaimWin(c.ctx, c.participant)
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.reply(requestID, MessageTypeClaimAccepted, claim)
}

func (c *Connection) handleGetBalance(requestID string) {
	b, err := c.server.ledger.GetBalance(c.ctx, c.participant)
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.reply(requestID, MessageTypeBalance, balanceData(c.participant, b))
}

func (c *Connection) handleGetSnapshot(requestID string) {
	current := c.Room()
	if current == nil {
		c.sendError(requestID, CodeNotJoined, "Join a room first")
		return
	}
	snap, err := current.SnapshotFor(c.ctx, c.participant)
	if err != nil {
		c.fail(requestID, err)
		return
	}
	c.reply(requestID, MessageTypeSnapshot, snap)
}
