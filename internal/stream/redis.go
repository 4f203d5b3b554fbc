package stream

import (
	"context"
	"fmt"

	redis "github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"
)

const (
	fieldPartition = "partition"
	fieldEventID   = "event_id"
	fieldPayload   = "payload"
)

// Record is one entry read back from a shard.
type Record struct {
	ID        string
	Partition string
	Event     Event
}

// RedisLog appends events to a fixed set of redis streams. A partition
// always maps to the same shard, so per-partition order follows XADD order.
type RedisLog struct {
	client *redis.Client
	shards int
	maxLen int64
}

func NewRedisLog(client *redis.Client, shards int, maxLen int64) *RedisLog {
	if shards <= 0 {
		shards = 1
	}
	return &RedisLog{client: client, shards: shards, maxLen: maxLen}
}

func ShardKey(n int) string {
	return fmt.Sprintf("events:%d", n)
}

func (l *RedisLog) ShardFor(partition string) int {
	return int(murmur3.Sum32([]byte(partition)) % uint32(l.shards))
}

func (l *RedisLog) Append(ctx context.Context, partition string, event Event) error {
	payload, err := Encode(event)
	if err != nil {
		return err
	}
	args := &redis.XAddArgs{
		Stream: ShardKey(l.ShardFor(partition)),
		Values: map[string]any{
			fieldPartition: partition,
			fieldEventID:   event.EventID,
			fieldPayload:   payload,
		},
	}
	if l.maxLen > 0 {
		args.MaxLen = l.maxLen
		args.Approx = true
	}
	return l.client.XAdd(ctx, args).Err()
}

// Range reads up to count records of a shard from the beginning.
func (l *RedisLog) Range(ctx context.Context, shard int, count int64) ([]Record, error) {
	msgs, err := l.client.XRangeN(ctx, ShardKey(shard), "-", "+", count).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		payload, _ := msg.Values[fieldPayload].(string)
		event, err := Decode([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", msg.ID, err)
		}
		partition, _ := msg.Values[fieldPartition].(string)
		out = append(out, Record{ID: msg.ID, Partition: partition, Event: event})
	}
	return out, nil
}
