package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/username/branchtalk/internal/domain/entities"
	"github.com/username/branchtalk/internal/domain/ports"
)

// Config holds the delivery timing knobs
type Config struct {
	// QueueTimeout is the wait window before a keepalive is emitted
	QueueTimeout time.Duration

	// PingInterval is how often the liveness probe pings a connection
	PingInterval time.Duration

	// PongGrace is how long past the ping interval a pong may arrive before
	// the connection is considered dead
	PongGrace time.Duration
}

// DefaultConfig mirrors the delivery timings of the persistent stream
var DefaultConfig = Config{
	QueueTimeout: 30 * time.Second,
	PingInterval: 25 * time.Second,
	PongGrace:    10 * time.Second,
}

// SessionHub is the process-local registry of session key → live
// connections. It subscribes to the session event subjects and multicasts
// each event to every connection registered for that session. The registry
// is volatile: a restart drops all live connections and clients reconnect.
type SessionHub struct {
	cfg       Config
	messaging ports.MessagingPort
	logger    zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	key string

	mu    sync.Mutex
	conns []*Connection
}

// NewSessionHub creates an empty hub
func NewSessionHub(messaging ports.MessagingPort, cfg Config, logger zerolog.Logger) *SessionHub {
	return &SessionHub{
		cfg:       cfg,
		messaging: messaging,
		logger:    logger.With().Str("component", "delivery").Logger(),
		sessions:  make(map[string]*session),
	}
}

// Start subscribes the hub to the session event plane
func (h *SessionHub) Start(ctx context.Context) error {
	if err := h.messaging.Subscribe(ctx, ports.SubjectSessionEvents, h.handleEvent); err != nil {
		return fmt.Errorf("failed to subscribe to session events: %w", err)
	}
	return nil
}

// handleEvent routes a published event to the local connections of its
// session, if any are registered with this process
func (h *SessionHub) handleEvent(ctx context.Context, subject string, data []byte) error {
	key, err := sessionKeyFromSubject(subject)
	if err != nil {
		return err
	}

	var ev entities.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("failed to unmarshal event on %s: %w", subject, err)
	}

	h.Dispatch(key, ev)
	return nil
}

// Dispatch multicasts an event to every live connection of the session.
// Connections registered on other processes receive it through their own
// hub's subscription.
func (h *SessionHub) Dispatch(sessionKey string, ev entities.Event) {
	h.mu.RLock()
	sess := h.sessions[sessionKey]
	h.mu.RUnlock()

	if sess == nil {
		return
	}

	sess.mu.Lock()
	conns := make([]*Connection, len(sess.conns))
	copy(conns, sess.conns)
	sess.mu.Unlock()

	for _, conn := range conns {
		conn.Enqueue(ev)
	}
}

// Register adds a live transport to the session and starts its delivery and
// probe loops. The "connected" acknowledgment goes to the new connection's
// queue only. Returns the connection; it removes itself from the hub when
// its delivery loop exits.
func (h *SessionHub) Register(sessionKey string, transport Transport) *Connection {
	conn := newConnection(sessionKey, transport, h.logger)

	// The registry lock is held across the append: remove() holds it for the
	// whole removal, so a session emptied by a concurrent teardown cannot be
	// deleted between the lookup here and the append.
	h.mu.Lock()
	sess := h.sessions[sessionKey]
	if sess == nil {
		sess = &session{key: sessionKey}
		h.sessions[sessionKey] = sess
	}
	sess.mu.Lock()
	sess.conns = append(sess.conns, conn)
	sess.mu.Unlock()
	h.mu.Unlock()

	conn.Enqueue(entities.NewConnectedEvent(sessionKey))

	go func() {
		conn.deliverLoop(h.cfg.QueueTimeout)
		h.remove(conn)
	}()
	go conn.probeLoop(h.cfg.PingInterval, h.cfg.PongGrace)

	h.logger.Debug().Str("session_key", sessionKey).Str("connection_id", conn.ID).Msg("connection registered")
	return conn
}

// Pong refreshes the liveness deadline of every connection of the session
func (h *SessionHub) Pong(sessionKey string) {
	h.mu.RLock()
	sess := h.sessions[sessionKey]
	h.mu.RUnlock()

	if sess == nil {
		return
	}

	sess.mu.Lock()
	for _, conn := range sess.conns {
		conn.Pong()
	}
	sess.mu.Unlock()
}

// remove drops one connection; an emptied session is deleted from the
// registry. Sibling connections are untouched.
func (h *SessionHub) remove(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess := h.sessions[conn.SessionKey]
	if sess == nil {
		return
	}

	sess.mu.Lock()
	for i, c := range sess.conns {
		if c == conn {
			sess.conns = append(sess.conns[:i], sess.conns[i+1:]...)
			break
		}
	}
	empty := len(sess.conns) == 0
	sess.mu.Unlock()

	if empty {
		delete(h.sessions, conn.SessionKey)
	}

	h.logger.Debug().Str("session_key", conn.SessionKey).Str("connection_id", conn.ID).Msg("connection removed")
}

// Stats returns registry counters for the health endpoint
func (h *SessionHub) Stats() map[string]interface{} {
	h.mu.RLock()
	defer h.mu.RUnlock()

	connections := 0
	for _, sess := range h.sessions {
		sess.mu.Lock()
		connections += len(sess.conns)
		sess.mu.Unlock()
	}

	return map[string]interface{}{
		"sessions":    len(h.sessions),
		"connections": connections,
	}
}

// sessionKeyFromSubject extracts the session key from "session.<key>.event"
func sessionKeyFromSubject(subject string) (string, error) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "session" || parts[2] != "event" {
		return "", fmt.Errorf("unexpected session subject: %s", subject)
	}
	return parts[1], nil
}
