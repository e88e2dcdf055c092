package eventbus

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fszontagh/sdcpp-orchestrator/pkg/diffusion"
)

const (
	maxBackpressureBytes = 1 << 20 // 1 MiB, per spec §4.1
	writeWait            = 10 * time.Second
	pongWait             = 45 * time.Second
	pingInterval         = 15 * time.Second
)

// clientMessage is the shape of the two control messages a client may
// send: {"type":"ping"} and {"type":"get_status"}.
type clientMessage struct {
	Type string `json:"type"`
}

// Subscriber wraps one WebSocket connection. All writes to conn happen on
// its own writePump goroutine; send() only ever touches the channel.
type Subscriber struct {
	conn   *websocket.Conn
	logger *slog.Logger
	bus    *Bus

	sendCh chan []byte

	mu          sync.Mutex
	pending     int
	closed      bool
	closeOnce   sync.Once
	doneCh      chan struct{}
}

// NewSubscriber wraps conn and starts its read/write pumps. Call
// bus.Subscribe(sub) once construction is complete.
func NewSubscriber(bus *Bus, conn *websocket.Conn, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Subscriber{
		conn:   conn,
		logger: logger,
		bus:    bus,
		sendCh: make(chan []byte, 256),
		doneCh: make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	return s
}

// send queues payload for delivery. It never blocks the caller (the bus's
// event-loop goroutine): if the subscriber's backpressure budget is
// exceeded, send returns false and the bus closes the subscriber.
func (s *Subscriber) send(payload []byte) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	if s.pending+len(payload) > maxBackpressureBytes {
		s.mu.Unlock()
		return false
	}
	s.pending += len(payload)
	s.mu.Unlock()

	select {
	case s.sendCh <- payload:
		return true
	default:
		return false
	}
}

func (s *Subscriber) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer s.conn.Close()

	for {
		select {
		case payload := <-s.sendCh:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.mu.Lock()
			s.pending -= len(payload)
			s.mu.Unlock()
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.doneCh:
			return
		}
	}
}

// readPump handles the two client->server control messages; anything
// malformed or unrecognized is ignored per spec §6's WebSocket protocol.
func (s *Subscriber) readPump() {
	defer s.bus.Unsubscribe(s)

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			s.send(mustMarshalEvent(diffusion.EventType("pong"), nil))
		case "get_status":
			if s.bus.status != nil {
				s.send(mustMarshalEvent(diffusion.EventServerStatus, s.bus.status.SnapshotStatus()))
			}
		}
	}
}

func mustMarshalEvent(eventType diffusion.EventType, data any) []byte {
	payload, err := json.Marshal(diffusion.Event{Type: eventType, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return []byte(`{}`)
	}
	return payload
}

// close shuts down the subscriber's pumps and underlying connection. Safe
// to call more than once.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.doneCh)
		// sendCh is deliberately never closed: send() already guards on the
		// closed flag, and leaving the channel open avoids a send-on-closed
		// panic if a producer race loses to this close.
	})
}
