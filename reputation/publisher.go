// Package reputation forwards dispute outcomes to the reputation service
// through a Redis stream.
package reputation

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"disputeflow/settlement"
)

// publishOnce adds the event to the stream unless the marker key for its
// idempotency key already exists. KEYS[1] is the stream, KEYS[2] the marker.
var publishOnce = redis.NewScript(`
if redis.call('SET', KEYS[2], '1', 'NX', 'PX', ARGV[1]) then
	return redis.call('XADD', KEYS[1], '*', unpack(ARGV, 2))
end
return false
`)

const markerTTL = 7 * 24 * time.Hour

// Publisher implements settlement.Reputation.
type Publisher struct {
	client *redis.Client
	stream string
	logger *slog.Logger
}

func NewPublisher(client *redis.Client, stream string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, stream: stream, logger: logger}
}

// DisputeResolved appends one message per idempotency key. Replays return nil
// without writing.
func (p *Publisher) DisputeResolved(ctx context.Context, idempotencyKey string, event settlement.ReputationEvent) error {
	args := []any{markerTTL.Milliseconds(), "idempotency_key", idempotencyKey}
	args = append(args, Fields(event)...)

	id, err := publishOnce.Run(ctx, p.client, []string{p.stream, p.markerKey(idempotencyKey)}, args...).Text()
	switch {
	case err == redis.Nil:
		p.logger.DebugContext(ctx, "reputation event already published", "idempotency_key", idempotencyKey)
		return nil
	case err != nil:
		return fmt.Errorf("reputation: publish: %w", err)
	}

	p.logger.InfoContext(ctx, "published reputation event",
		"stream_id", id, "dispute_id", event.DisputeID, "outcome", event.Outcome, "tier", int(event.Tier))
	return nil
}

func (p *Publisher) Close() error {
	return p.client.Close()
}

func (p *Publisher) markerKey(idempotencyKey string) string {
	return p.stream + ":sent:" + idempotencyKey
}

// Fields flattens an event into stream field/value pairs.
func Fields(event settlement.ReputationEvent) []any {
	return []any{
		"dispute_id", event.DisputeID,
		"task_id", event.TaskID,
		"worker_id", event.WorkerID,
		"requester_id", event.RequesterID,
		"outcome", string(event.Outcome),
		"tier", strconv.Itoa(int(event.Tier)),
		"previous_score", strconv.FormatFloat(event.PreviousScore, 'f', 2, 64),
		"new_score", strconv.FormatFloat(event.NewScore, 'f', 2, 64),
		"resolved_at", event.ResolvedAt.UTC().Format(time.RFC3339Nano),
	}
}
