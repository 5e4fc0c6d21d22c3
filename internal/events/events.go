// Package events announces pipeline changes on the message bus.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/metrics"
)

const (
	SubjectNewsSaved      = "newsdesk.news.saved"
	SubjectIncomingPulled = "newsdesk.incoming.pulled"
	SubjectItemStatus     = "newsdesk.incoming.status"
)

// Publisher sends events. Failures are logged by Emit and never undo a write.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close()
}

// Message is the envelope written to the bus.
type Message struct {
	Subject   string    `json:"subject"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
	Payload   any       `json:"payload"`
}

// NATSPublisher publishes JSON messages on a NATS connection.
type NATSPublisher struct {
	conn *nats.Conn
}

// NewNATSPublisher connects to the NATS server at url.
func NewNATSPublisher(url string) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("newsdesk"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(_ context.Context, subject string, payload any) error {
	data, err := json.Marshal(Message{
		Subject:   subject,
		Timestamp: time.Now().UTC(),
		Source:    "newsdesk",
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		metrics.EventsPublished.WithLabelValues(subject, "error").Inc()
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	metrics.EventsPublished.WithLabelValues(subject, "ok").Inc()
	return nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		if err := p.conn.Drain(); err != nil {
			p.conn.Close()
		}
	}
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close()                                     {}

// Emit publishes and logs a failure instead of returning it.
func Emit(ctx context.Context, p Publisher, subject string, payload any) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, subject, payload); err != nil {
		log.Warn().Err(err).Str("subject", subject).Msg("Failed to publish event")
	}
}

// NewsSaved is published after a successful publish store save.
type NewsSaved struct {
	Version  int64 `json:"version"`
	Articles int   `json:"articles"`
}

// IncomingPulled is published after a feed pull run.
type IncomingPulled struct {
	Added     int `json:"added"`
	Skipped   int `json:"skipped"`
	Truncated int `json:"truncated"`
	Evicted   int `json:"evicted"`
}

// ItemStatus is published when an incoming item changes state.
type ItemStatus struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}
