package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPublishAppendsDecodableEvent(t *testing.T) {
	q, ctx := newTestQueue(t)

	want := MessageEvent{
		Type:           EventMessageSent,
		ConversationID: 11,
		MessageID:      42,
		SenderID:       1,
		ReceiverID:     2,
		Preview:        "hi",
		SentAt:         time.Now().UTC().Truncate(time.Second),
	}
	if err := q.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}

	entries, err := q.client.XRange(ctx, q.stream, "-", "+").Result()
	if err != nil {
		t.Fatalf("xrange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one stream entry, got %d", len(entries))
	}
	got, err := decodeEvent(entries[0])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != want.Type || got.ConversationID != want.ConversationID ||
		got.MessageID != want.MessageID || got.SenderID != want.SenderID ||
		got.ReceiverID != want.ReceiverID || got.Preview != want.Preview ||
		!got.SentAt.Equal(want.SentAt) {
		t.Fatalf("event mismatch:\n got %+v\nwant %+v", got, want)
	}
}

func TestHandleMessageAcksOnSuccess(t *testing.T) {
	q, ctx := newTestQueue(t)

	if err := q.Publish(ctx, MessageEvent{MessageID: 7, ReceiverID: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := readOne(t, ctx, q, "consumer-1")

	var handled MessageEvent
	q.handleMessage(ctx, msg, func(_ context.Context, event MessageEvent) error {
		handled = event
		return nil
	})
	if handled.MessageID != 7 {
		t.Fatalf("handler saw wrong event: %+v", handled)
	}

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 0 {
		t.Fatalf("expected no pending entries after ack, got %d", pending.Count)
	}
}

func TestHandleMessageKeepsPendingOnHandlerError(t *testing.T) {
	q, ctx := newTestQueue(t)

	if err := q.Publish(ctx, MessageEvent{MessageID: 9, ReceiverID: 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := readOne(t, ctx, q, "consumer-1")

	q.handleMessage(ctx, msg, func(context.Context, MessageEvent) error {
		return errors.New("notifier down")
	})

	pending, err := q.client.XPending(ctx, q.stream, q.group).Result()
	if err != nil {
		t.Fatalf("xpending: %v", err)
	}
	if pending.Count != 1 {
		t.Fatalf("expected entry to stay pending for retry, got %d", pending.Count)
	}
}

func newTestQueue(t *testing.T) (*RedisEventQueue, context.Context) {
	t.Helper()
	redisSrv := miniredis.RunT(t)
	q, err := NewRedisEventQueue(RedisQueueConfig{
		Addr:     redisSrv.Addr(),
		Stream:   "test:events",
		Group:    "test-group",
		Consumer: "consumer",
	})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	return q, context.Background()
}

func readOne(t *testing.T, ctx context.Context, q *RedisEventQueue, consumer string) redis.XMessage {
	t.Helper()
	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: consumer,
		Streams:  []string{q.stream, ">"},
		Count:    1,
		Block:    0,
	}).Result()
	if err != nil {
		t.Fatalf("read group: %v", err)
	}
	if len(streams) != 1 || len(streams[0].Messages) != 1 {
		t.Fatalf("expected one message, got %+v", streams)
	}
	return streams[0].Messages[0]
}
