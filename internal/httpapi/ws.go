package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/fszontagh/sdcpp-orchestrator/internal/eventbus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// the server is single-tenant and unauthenticated by design; the
	// UI may be served from a different origin than the ws port
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and hands it to the event bus.
// From here on, the subscriber's own pumps own the connection; the bus
// sends the initial server_status during Subscribe.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	sub := eventbus.NewSubscriber(s.deps.Bus, conn, s.logger)
	s.deps.Bus.Subscribe(sub)
}
