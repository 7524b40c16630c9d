// Package notify fans submission state changes out to NATS and Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix is prepended to the lower-cased status.
const DefaultSubjectPrefix = "creverse.submissions"

// Event is published whenever a submission completes or fails.
type Event struct {
	SubmissionID uint      `json:"submissionId"`
	TraceID      string    `json:"traceId"`
	Status       string    `json:"status"`
	Phase        string    `json:"phase,omitempty"`
	Message      string    `json:"message,omitempty"`
	Score        *int      `json:"score,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Publisher writes events to every configured transport. A Publisher with no
// transports is a no-op.
type Publisher struct {
	nats   *nats.Conn
	redis  *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewPublisher builds a Publisher. Either connection may be nil.
func NewPublisher(natsConn *nats.Conn, redisClient *redis.Client, prefix string, logger zerolog.Logger) *Publisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{
		nats:   natsConn,
		redis:  redisClient,
		prefix: prefix,
		logger: logger.With().Str("component", "submission_notifier").Logger(),
	}
}

// Subject returns the subject or channel name used for a status.
func (p *Publisher) Subject(status string) string {
	return p.prefix + "." + strings.ToLower(status)
}

// Publish encodes the event and sends it on each transport.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	subject := p.Subject(event.Status)
	if p.redis != nil {
		if err := p.redis.Publish(ctx, subject, payload).Err(); err != nil {
			return err
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(subject, payload); err != nil {
			return err
		}
	}

	p.logger.Debug().
		Uint("submission_id", event.SubmissionID).
		Str("trace_id", event.TraceID).
		Str("subject", subject).
		Msg("submission event published")
	return nil
}

// Connect dials NATS when a URL is configured and returns nil otherwise.
func Connect(url, name string) (*nats.Conn, error) {
	if strings.TrimSpace(url) == "" {
		return nil, nil
	}
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1), nats.ReconnectWait(2*time.Second))
}
