package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultStream is the Redis stream events are appended to.
const DefaultStream = "roundhouse_events"

// streamClient abstracts the go-redis method we use, enabling test mocks.
type streamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// RedisStream appends every event to a Redis stream.
type RedisStream struct {
	client streamClient
	stream string
	maxLen int64
}

// RedisStreamOpts holds parameters for creating a RedisStream.
type RedisStreamOpts struct {
	Client streamClient // typically *redis.Client
	Stream string       // defaults to DefaultStream
	MaxLen int64        // approximate cap; 0 = unbounded
}

// NewRedisStream creates a RedisStream subscriber.
func NewRedisStream(opts RedisStreamOpts) (*RedisStream, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("notify: redis: client is required")
	}
	stream := opts.Stream
	if stream == "" {
		stream = DefaultStream
	}
	return &RedisStream{client: opts.Client, stream: stream, maxLen: opts.MaxLen}, nil
}

// Notify implements Subscriber.
func (r *RedisStream) Notify(ctx context.Context, evt Event) error {
	args := &redis.XAddArgs{
		Stream: r.stream,
		Values: streamFields(evt),
	}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("notify: redis: xadd %s: %w", r.stream, err)
	}
	return nil
}

func streamFields(evt Event) map[string]any {
	fields := map[string]any{
		"type":    string(evt.Type),
		"task_id": evt.TaskID,
		"time":    evt.Time.UTC().Format(time.RFC3339Nano),
	}
	if evt.Variant != "" {
		fields["variant"] = string(evt.Variant)
	}
	if evt.Status != "" {
		fields["status"] = string(evt.Status)
	}
	if evt.Detail != "" {
		fields["detail"] = evt.Detail
	}
	if m := evt.Message; m != nil {
		fields["message_id"] = m.ID
		fields["author"] = string(m.Author)
		fields["content"] = m.Content
		if m.Kind != "" {
			fields["kind"] = string(m.Kind)
		}
		if m.TargetAuthor != "" {
			fields["target_author"] = string(m.TargetAuthor)
		}
	}
	return fields
}
