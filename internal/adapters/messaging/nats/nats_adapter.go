package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/username/branchtalk/internal/domain/ports"
)

// Adapter implements the MessagingPort interface using core NATS.
// Session events are ephemeral fan-out traffic: a consumer that is not
// connected has no use for them later, so there is no JetStream layer.
type Adapter struct {
	conn      *nats.Conn
	logger    zerolog.Logger
	subs      map[string]*nats.Subscription
	subsMutex sync.RWMutex
}

// NewAdapter creates a new NATS messaging adapter
func NewAdapter(url string, logger zerolog.Logger) (*Adapter, error) {
	conn, err := nats.Connect(url,
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectBufSize(5*1024*1024),
		nats.Name("branchtalk-messaging"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	return &Adapter{
		conn:   conn,
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends a message to the specified subject
func (a *Adapter) Publish(ctx context.Context, subject string, data []byte) error {
	if err := a.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to subject %s: %w", subject, err)
	}
	return nil
}

// PublishJSON publishes a JSON-serializable object to the subject
func (a *Adapter) PublishJSON(ctx context.Context, subject string, obj interface{}) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("failed to marshal object for subject %s: %w", subject, err)
	}

	return a.Publish(ctx, subject, data)
}

// Subscribe listens for messages on the specified subject
func (a *Adapter) Subscribe(ctx context.Context, subject string, handler ports.MessageHandler) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	if _, exists := a.subs[subject]; exists {
		return fmt.Errorf("already subscribed to subject: %s", subject)
	}

	sub, err := a.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := handler(ctx, msg.Subject, msg.Data); err != nil {
			// Handler errors must not tear down the subscription
			a.logger.Error().Err(err).Str("subject", msg.Subject).Msg("message handler failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to subject %s: %w", subject, err)
	}

	a.subs[subject] = sub
	return nil
}

// Unsubscribe stops listening to a subject
func (a *Adapter) Unsubscribe(ctx context.Context, subject string) error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	sub, exists := a.subs[subject]
	if !exists {
		return fmt.Errorf("not subscribed to subject: %s", subject)
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("failed to unsubscribe from subject %s: %w", subject, err)
	}

	delete(a.subs, subject)
	return nil
}

// Close closes the messaging connection
func (a *Adapter) Close() error {
	a.subsMutex.Lock()
	defer a.subsMutex.Unlock()

	for subject, sub := range a.subs {
		if err := sub.Unsubscribe(); err != nil {
			a.logger.Warn().Err(err).Str("subject", subject).Msg("failed to unsubscribe during close")
		}
	}
	a.subs = make(map[string]*nats.Subscription)

	if a.conn != nil {
		a.conn.Close()
	}

	return nil
}

// Ping checks messaging connectivity
func (a *Adapter) Ping() error {
	if a.conn == nil {
		return fmt.Errorf("connection is nil")
	}

	if !a.conn.IsConnected() {
		return fmt.Errorf("NATS connection is not active")
	}

	rtt, err := a.conn.RTT()
	if err != nil {
		return fmt.Errorf("failed to get RTT: %w", err)
	}

	if rtt > 5*time.Second {
		return fmt.Errorf("high latency detected: %v", rtt)
	}

	return nil
}

// GetConnectionStatus returns detailed connection information
func (a *Adapter) GetConnectionStatus() map[string]interface{} {
	status := make(map[string]interface{})

	if a.conn == nil {
		status["connected"] = false
		status["error"] = "connection is nil"
		return status
	}

	status["connected"] = a.conn.IsConnected()
	status["url"] = a.conn.ConnectedUrl()
	status["server_id"] = a.conn.ConnectedServerId()

	stats := a.conn.Stats()
	status["messages_in"] = stats.InMsgs
	status["messages_out"] = stats.OutMsgs
	status["reconnects"] = stats.Reconnects

	a.subsMutex.RLock()
	status["active_subscriptions"] = len(a.subs)
	a.subsMutex.RUnlock()

	return status
}
