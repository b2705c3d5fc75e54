package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisQueue implements Queue on top of a single Redis instance:
//
//   - "<prefix>:ready" — a sorted set of message ids scored by enqueue time,
//     the FIFO-ish pool of messages available for delivery.
//   - "<prefix>:processing" — a sorted set of in-flight message ids scored
//     by their visibility deadline (unix seconds).
//   - "<prefix>:bodies" — a hash of message id -> JSON body.
//   - "<prefix>:dlq" — a list of dead-lettered entries.
//
// Visibility timeout is enforced both lazily (Receive reclaims expired
// entries before popping new ones) and via the explicit ReclaimExpired sweep
// for processes where nothing is calling Receive to trigger the lazy path.
type RedisQueue struct {
	client            redis.UniversalClient
	prefix            string
	visibilityTimeout time.Duration
	log               *zap.Logger
}

type dlqRecord struct {
	Body         json.RawMessage `json:"body"`
	ErrorMessage string          `json:"errorMessage"`
	EnqueuedAtMs int64           `json:"enqueuedAtMs"`
}

// NewRedisQueue returns a RedisQueue using the given client and key prefix
// (so multiple logical queues, e.g. the main queue and a differently-named
// DLQ, can share one Redis instance).
func NewRedisQueue(client redis.UniversalClient, prefix string, visibilityTimeout time.Duration, log *zap.Logger) *RedisQueue {
	return &RedisQueue{
		client:            client,
		prefix:            prefix,
		visibilityTimeout: visibilityTimeout,
		log:               log.Named("queue"),
	}
}

func (q *RedisQueue) readyKey() string      { return q.prefix + ":ready" }
func (q *RedisQueue) processingKey() string { return q.prefix + ":processing" }
func (q *RedisQueue) bodiesKey() string     { return q.prefix + ":bodies" }
func (q *RedisQueue) dlqKey() string        { return q.prefix + ":dlq" }

// Send enqueues body onto the ready set, scored by current time so older
// messages are popped first.
func (q *RedisQueue) Send(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	now := float64(time.Now().UnixNano())

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.bodiesKey(), id, body)
	pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: now, Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("queue: send: %w", err)
	}
	return id, nil
}

// Receive reclaims any expired in-flight messages, then pops up to
// maxMessages from the ready set, blocking up to waitSeconds for the first
// one (long poll). Each popped message is moved into the processing set with
// a fresh visibility deadline.
func (q *RedisQueue) Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error) {
	if maxMessages <= 0 {
		maxMessages = 1
	}

	if _, err := q.ReclaimExpired(ctx); err != nil {
		q.log.Warn("reclaim expired failed before receive", zap.Error(err))
	}

	var out []Message

	first, err := q.popOne(ctx, time.Duration(waitSeconds)*time.Second)
	if err != nil {
		return nil, err
	}
	if first == nil {
		return out, nil
	}
	out = append(out, *first)

	for len(out) < maxMessages {
		m, err := q.popOne(ctx, 0)
		if err != nil {
			return out, err
		}
		if m == nil {
			break
		}
		out = append(out, *m)
	}

	return out, nil
}

// popOne blocks up to wait for a single ready message (wait == 0 means
// "check once, don't block"), moves it into the processing set, and returns
// it. Returns a nil message with no error if nothing was available.
func (q *RedisQueue) popOne(ctx context.Context, wait time.Duration) (*Message, error) {
	var id string

	if wait > 0 {
		res, err := q.client.BZPopMin(ctx, wait, q.readyKey()).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue: receive: %w", err)
		}
		id, _ = res.Member.(string)
	} else {
		res, err := q.client.ZPopMin(ctx, q.readyKey(), 1).Result()
		if err != nil {
			return nil, fmt.Errorf("queue: receive: %w", err)
		}
		if len(res) == 0 {
			return nil, nil
		}
		id, _ = res[0].Member.(string)
	}

	if id == "" {
		return nil, nil
	}

	deadline := float64(time.Now().Add(q.visibilityTimeout).Unix())
	if err := q.client.ZAdd(ctx, q.processingKey(), redis.Z{Score: deadline, Member: id}).Err(); err != nil {
		return nil, fmt.Errorf("queue: mark processing: %w", err)
	}

	body, err := q.client.HGet(ctx, q.bodiesKey(), id).Bytes()
	if err != nil {
		return nil, fmt.Errorf("queue: fetch body: %w", err)
	}

	return &Message{ID: id, Body: body, ReceiptHandle: id}, nil
}

// Delete removes a message from the processing set and its body hash,
// acknowledging it permanently.
func (q *RedisQueue) Delete(ctx context.Context, receiptHandle string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processingKey(), receiptHandle)
	pipe.HDel(ctx, q.bodiesKey(), receiptHandle)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: delete: %w", err)
	}
	return nil
}

// SendDLQ appends body and errorMessage to the dead-letter list. It does not
// touch the main queue's processing set — callers call Delete separately
// once the DLQ copy is durable (spec §7).
func (q *RedisQueue) SendDLQ(ctx context.Context, body []byte, errorMessage string) error {
	rec := dlqRecord{Body: body, ErrorMessage: errorMessage, EnqueuedAtMs: time.Now().UnixMilli()}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("queue: marshal dlq record: %w", err)
	}
	if err := q.client.RPush(ctx, q.dlqKey(), data).Err(); err != nil {
		return fmt.Errorf("queue: send dlq: %w", err)
	}
	return nil
}

// ListDLQ returns up to limit dead-lettered entries, oldest first, for the
// DLQ housekeeping endpoint (SPEC_FULL.md §C).
func (q *RedisQueue) ListDLQ(ctx context.Context, limit int) ([]DLQEntry, error) {
	raw, err := q.client.LRange(ctx, q.dlqKey(), 0, int64(limit)-1).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: list dlq: %w", err)
	}
	entries := make([]DLQEntry, 0, len(raw))
	for _, r := range raw {
		var rec dlqRecord
		if err := json.Unmarshal([]byte(r), &rec); err != nil {
			q.log.Warn("skipping malformed dlq record", zap.Error(err))
			continue
		}
		entries = append(entries, DLQEntry{Body: rec.Body, ErrorMessage: rec.ErrorMessage, EnqueuedAtMs: rec.EnqueuedAtMs})
	}
	return entries, nil
}

// ReclaimExpired moves every processing-set member whose visibility deadline
// has passed back onto the ready set, causing redelivery — the mechanism
// behind spec §8 property S7 (duplicate delivery after a long backend call).
func (q *RedisQueue) ReclaimExpired(ctx context.Context) (int, error) {
	now := float64(time.Now().Unix())
	expired, err := q.client.ZRangeByScore(ctx, q.processingKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: scan expired: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	requeuedAt := float64(time.Now().UnixNano())
	for _, id := range expired {
		pipe := q.client.TxPipeline()
		pipe.ZRem(ctx, q.processingKey(), id)
		pipe.ZAdd(ctx, q.readyKey(), redis.Z{Score: requeuedAt, Member: id})
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, fmt.Errorf("queue: requeue %s: %w", id, err)
		}
	}

	q.log.Info("reclaimed expired in-flight messages", zap.Int("count", len(expired)))
	return len(expired), nil
}

// Depth returns the number of messages currently waiting in the ready set,
// for periodic sampling into the timetablex_queue_depth gauge.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.ZCard(ctx, q.readyKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: depth: %w", err)
	}
	return n, nil
}
