package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"directmsg/internal/metrics"
)

// EventMessageSent is published once per committed SendMessage. Delivery to
// devices is the notification collaborator's concern, not this core's.
const EventMessageSent = "message.sent"

// MessageEvent is the payload handed to the notification collaborator.
type MessageEvent struct {
	Type           string    `json:"type"`
	ConversationID int64     `json:"conversationId"`
	MessageID      int64     `json:"messageId"`
	SenderID       int64     `json:"senderId"`
	ReceiverID     int64     `json:"receiverId"`
	Preview        string    `json:"preview"`
	SentAt         time.Time `json:"sentAt"`
}

// RedisEventQueue publishes message events to a Redis stream and lets a
// consumer group drain them. Unacked entries are reclaimed after claimIdle,
// so a crashed consumer's events are retried rather than lost.
type RedisEventQueue struct {
	client       *redis.Client
	stream       string
	group        string
	consumerBase string
	block        time.Duration
	claimIdle    time.Duration
	maxLen       int64
	readCount    int64
}

type RedisQueueConfig struct {
	Addr      string
	Password  string
	Stream    string
	Group     string
	Consumer  string
	Block     time.Duration
	ClaimIdle time.Duration
	MaxLen    int64
	ReadCount int64
}

func NewRedisEventQueue(cfg RedisQueueConfig) (*RedisEventQueue, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	stream := strings.TrimSpace(cfg.Stream)
	if stream == "" {
		return nil, errors.New("queue stream required")
	}
	group := strings.TrimSpace(cfg.Group)
	if group == "" {
		group = "notifier"
	}
	consumer := strings.TrimSpace(cfg.Consumer)
	if consumer == "" {
		consumer = uuid.NewString()
	}
	block := cfg.Block
	if block <= 0 {
		block = 5 * time.Second
	}
	claimIdle := cfg.ClaimIdle
	if claimIdle <= 0 {
		claimIdle = 30 * time.Second
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10000
	}
	readCount := cfg.ReadCount
	if readCount <= 0 {
		readCount = 10
	}

	q := &RedisEventQueue{
		client:       redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password}),
		stream:       stream,
		group:        group,
		consumerBase: consumer,
		block:        block,
		claimIdle:    claimIdle,
		maxLen:       maxLen,
		readCount:    readCount,
	}
	if err := q.ensureGroup(context.Background()); err != nil {
		return nil, err
	}
	return q, nil
}

// Publish appends one event to the stream.
func (q *RedisEventQueue) Publish(ctx context.Context, event MessageEvent) error {
	if event.Type == "" {
		event.Type = EventMessageSent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":    event.Type,
			"payload": payload,
		},
	}).Err(); err != nil {
		return err
	}
	metrics.EventsPublished.Inc()
	return nil
}

// Start launches consumer goroutines that run until ctx is cancelled.
func (q *RedisEventQueue) Start(ctx context.Context, concurrency int, handler func(context.Context, MessageEvent) error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", q.consumerBase, i)
		go q.consumeLoop(ctx, consumer, handler)
	}
}

func (q *RedisEventQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "$").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

func (q *RedisEventQueue) consumeLoop(ctx context.Context, consumer string, handler func(context.Context, MessageEvent) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if msgs, err := q.claimStale(ctx, consumer); err == nil {
			for _, msg := range msgs {
				q.handleMessage(ctx, msg, handler)
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    q.readCount,
			Block:    q.block,
		}).Result()
		if err != nil {
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(ctx, msg, handler)
			}
		}
	}
}

// claimStale takes over entries another consumer read but never acked.
func (q *RedisEventQueue) claimStale(ctx context.Context, consumer string) ([]redis.XMessage, error) {
	res, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: consumer,
		MinIdle:  q.claimIdle,
		Start:    "0-0",
		Count:    q.readCount,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// handleMessage decodes and dispatches one entry. Undecodable entries are
// acked away; handler failures leave the entry pending so claimStale retries
// it later.
func (q *RedisEventQueue) handleMessage(ctx context.Context, msg redis.XMessage, handler func(context.Context, MessageEvent) error) {
	event, err := decodeEvent(msg)
	if err != nil {
		q.ack(ctx, msg.ID)
		return
	}
	if err := handler(ctx, event); err != nil {
		return
	}
	q.ack(ctx, msg.ID)
}

func (q *RedisEventQueue) ack(ctx context.Context, msgID string) {
	_, _ = q.client.XAck(ctx, q.stream, q.group, msgID).Result()
	_, _ = q.client.XDel(ctx, q.stream, msgID).Result()
}

func decodeEvent(msg redis.XMessage) (MessageEvent, error) {
	raw, _ := msg.Values["payload"].(string)
	if raw == "" {
		return MessageEvent{}, errors.New("event payload missing")
	}
	var event MessageEvent
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return MessageEvent{}, fmt.Errorf("decode event: %w", err)
	}
	return event, nil
}
