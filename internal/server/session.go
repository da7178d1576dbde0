package server

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256

	updatesPerSecond       = 10
	updateBurst            = 20
	maxRateLimitViolations = 200
)

// Session is one participant's live connection to one room.
type Session struct {
	id       string
	roomID   string
	role     string
	conn     *websocket.Conn
	hub      *Hub
	room     *Room
	log      *log.Logger
	send     chan *ServerMessage
	limiter  *rate.Limiter
	stop     chan struct{}
	stopOnce sync.Once
}

// NewSession wraps conn as a participant of roomID. Role is a display
// label only.
func NewSession(conn *websocket.Conn, hub *Hub, roomID, role string, l *log.Logger) *Session {
	return &Session{
		id:      uuid.NewString(),
		roomID:  normalizeRoomID(roomID),
		role:    role,
		conn:    conn,
		hub:     hub,
		log:     l,
		send:    make(chan *ServerMessage, sendBufferSize),
		limiter: rate.NewLimiter(rate.Limit(updatesPerSecond), updateBurst),
		stop:    make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) RoomID() string {
	return s.roomID
}

func (s *Session) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case msg := <-s.send:
			bytes, err := serializeMessage(msg)
			if err != nil {
				s.log.Println("failed to serialize message:", err)
				continue
			}

			if !s.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-s.stop:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
			return
		case <-ticker.C:
			if !s.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (s *Session) Read() {
	defer func() {
		s.conn.Close()
		s.cleanup()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error { s.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	violations := 0
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				s.log.Printf("ws: read: %v", err)
			}
			return
		}

		// every frame counts, including ones that fail to parse
		if !s.limiter.Allow() {
			violations++
			if violations%50 == 1 {
				s.log.Printf("rate limit exceeded for session %s in room %q (warning #%d)", s.id, s.roomID, violations)
			}
			if violations > maxRateLimitViolations {
				s.log.Printf("disconnecting session %s for excessive rate limit violations", s.id)
				return
			}
			s.queueMessage(ErrTooManyUpdates())
			continue
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.log.Println("error parsing message:", err)
			s.queueMessage(ErrInvalidMessage())
			continue
		}

		if msg.Event != EventChangeState {
			s.queueMessage(ErrUnknownEvent())
			continue
		}

		s.handleChangeState(msg.Data)
	}
}

func (s *Session) handleChangeState(data json.RawMessage) {
	u, skipped, err := ParseUpdate(data)
	if err != nil {
		s.log.Printf("session %s: %v", s.id, err)
		s.queueMessage(ErrInvalidUpdate())
		return
	}

	if _, err := s.hub.OnUpdate(s.roomID, u); err != nil {
		s.log.Printf("session %s: update room %q: %v", s.id, s.roomID, err)
		if errors.Is(err, ErrHubClosed) || errors.Is(err, ErrRoomClosed) {
			s.queueMessage(ErrServiceUnavailable())
		}
		return
	}

	// the valid fields are applied; only the sender hears about the rest
	if len(skipped) > 0 {
		s.log.Printf("session %s: ignored malformed fields %v", s.id, skipped)
		s.queueMessage(ErrIgnoredFields(skipped))
	}
}

// queueMessage hands msg to the write pump without blocking. It reports
// false when the mailbox is full.
func (s *Session) queueMessage(msg *ServerMessage) bool {
	select {
	case s.send <- msg:
	default:
		s.log.Printf("send buffer full for session %s", s.id)
		return false
	}

	return true
}

func (s *Session) sendMessage(msgType int, msg []byte) bool {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := s.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			s.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

// stopClient signals the write pump to close the connection. Safe to call
// more than once.
func (s *Session) stopClient() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Session) cleanup() {
	s.hub.OnLeave(s)
	s.stopClient()
}
