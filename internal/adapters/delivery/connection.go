package delivery

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/username/branchtalk/internal/domain/entities"
)

// Transport writes events to one live client connection. Implementations
// exist for server-sent events and websockets; the delivery loop does not
// care which.
type Transport interface {
	// Send delivers one event
	Send(ev entities.Event) error

	// Keepalive emits a no-op so intermediaries do not close an idle
	// transport
	Keepalive() error

	// Close tears the transport down
	Close() error
}

// Connection is one live transport of a session: a private FIFO queue, a
// delivery loop and a liveness probe. Its teardown never affects sibling
// connections of the same session.
type Connection struct {
	ID         string
	SessionKey string

	queue     *Queue
	transport Transport
	logger    zerolog.Logger

	mu       sync.Mutex
	lastPong time.Time
}

func newConnection(sessionKey string, transport Transport, logger zerolog.Logger) *Connection {
	id := entities.NewSessionKey()
	return &Connection{
		ID:         id,
		SessionKey: sessionKey,
		queue:      NewQueue(),
		transport:  transport,
		logger:     logger.With().Str("connection_id", id).Str("session_key", sessionKey).Logger(),
		lastPong:   time.Now(),
	}
}

// Enqueue pushes an event onto this connection's private queue
func (c *Connection) Enqueue(ev entities.Event) {
	c.queue.Push(ev)
}

// Pong refreshes the liveness deadline. Pongs arrive out-of-band, keyed by
// session, and are applied to every connection of that session.
func (c *Connection) Pong() {
	c.mu.Lock()
	c.lastPong = time.Now()
	c.mu.Unlock()
}

// Close pushes the close sentinel, unblocking the delivery loop
func (c *Connection) Close() {
	c.queue.Close()
}

// Done is closed when the connection's queue is finished. Handlers block on
// it to keep the underlying request alive for the delivery loop.
func (c *Connection) Done() <-chan struct{} {
	return c.queue.Done()
}

func (c *Connection) lastPongTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPong
}

// deliverLoop drains the queue in FIFO order. A timeout becomes a transport
// keepalive; a write failure or the close sentinel ends the loop. Returns
// only when the connection is finished.
func (c *Connection) deliverLoop(queueTimeout time.Duration) {
	defer c.transport.Close()

	for {
		ev, status := c.queue.Pop(queueTimeout)
		switch status {
		case PopItem:
			if err := c.transport.Send(ev); err != nil {
				c.logger.Debug().Err(err).Msg("transport write failed")
				c.queue.Close()
				return
			}
		case PopTimedOut:
			if err := c.transport.Keepalive(); err != nil {
				c.logger.Debug().Err(err).Msg("keepalive failed")
				c.queue.Close()
				return
			}
		case PopClosed:
			return
		}
	}
}

// probeLoop periodically enqueues a ping and tears the connection down if no
// pong arrived within the grace window. Detects transports that died without
// either side noticing.
func (c *Connection) probeLoop(pingInterval, pongGrace time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if time.Since(c.lastPongTime()) > pingInterval+pongGrace {
				c.logger.Debug().Msg("connection unresponsive, closing")
				c.queue.Close()
				return
			}
			c.Enqueue(entities.NewPingEvent())
		case <-c.queue.Done():
			return
		}
	}
}
