package supervisor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailmind/internal/domain"
	"github.com/ignite/mailmind/internal/pkg/logger"
)

// eventChannel is the pub/sub channel watchers subscribe to.
const eventChannel = "mailmind:events"

// Event notifies watchers of job transitions and tree updates.
type Event struct {
	Type      string          `json:"type"` // "job_update" | "tree_updated"
	JobID     string          `json:"job_id,omitempty"`
	AccountID string          `json:"account_id"`
	State     domain.JobState `json:"state,omitempty"`
	Phase     domain.Phase    `json:"phase,omitempty"`
	Progress  float64         `json:"progress,omitempty"`
	Message   string          `json:"message,omitempty"`
	TreeID    string          `json:"tree_id,omitempty"`
	At        time.Time       `json:"at"`
}

// EventSink publishes events. Sink failures must never affect the job.
type EventSink interface {
	Publish(ctx context.Context, e Event)
}

// NopSink drops events; used when Redis is not configured.
type NopSink struct{}

func (NopSink) Publish(context.Context, Event) {}

// RedisSink publishes events over Redis pub/sub. Publish failures are logged
// and swallowed.
type RedisSink struct {
	client *redis.Client
}

// NewRedisSink builds a sink over an existing client.
func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Publish(ctx context.Context, e Event) {
	e.At = time.Now().UTC()
	payload, err := json.Marshal(e)
	if err != nil {
		logger.Warn("event marshal failed", "type", e.Type, "error", err)
		return
	}
	if err := s.client.Publish(ctx, eventChannel, payload).Err(); err != nil {
		logger.Warn("event publish failed", "type", e.Type, "error", err)
	}
}
