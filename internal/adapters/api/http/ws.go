package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/username/branchtalk/internal/adapters/delivery"
	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/pkg/constants"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Identity is enforced by headers, not origin
		return true
	},
}

// wsTransport writes session events as websocket text frames. The websocket
// protocol allows exactly one concurrent writer, so writes are serialized.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSTransport(conn *websocket.Conn) *wsTransport {
	return &wsTransport{conn: conn}
}

// Send writes one event as a JSON text frame
func (t *wsTransport) Send(ev entities.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return t.conn.WriteJSON(ev)
}

// Keepalive sends a websocket ping control frame
func (t *wsTransport) Keepalive() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
	return t.conn.WriteMessage(websocket.PingMessage, nil)
}

// Close closes the websocket connection
func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// readPump drains client frames until the socket dies. Inbound frames carry
// no commands (those arrive over the REST surface); the pump exists to
// notice the peer going away and to surface protocol pongs as session-level
// liveness.
func readPump(conn *websocket.Conn, dc *delivery.Connection, pong func()) {
	defer dc.Close()

	conn.SetReadLimit(constants.WebSocketMaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
		pong()
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(constants.WebSocketPongWait))
	}
}
