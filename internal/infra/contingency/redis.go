package contingency

import (
	"context"
	"encoding/json"
	"time"

	"github.com/boddenberg/pdv-fiscal-go/internal/domain"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisKey is the list holding queued records.
const DefaultRedisKey = "fiscal:contingency"

// NewRedisClient creates a client tuned for short queue operations.
func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        password,
		DB:              db,
		PoolSize:        20,
		MinIdleConns:    2,
		ConnMaxIdleTime: 5 * time.Minute,
		DialTimeout:     2 * time.Second,
		ReadTimeout:     time.Second,
		WriteTimeout:    time.Second,
		MaxRetries:      2,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 100 * time.Millisecond,
	})
}

// Redis keeps the queue in a Redis list (RPUSH to append, head is oldest).
type Redis struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedis creates a queue on key. An empty key uses DefaultRedisKey.
func NewRedis(client *redis.Client, key string, now func() time.Time) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	if now == nil {
		now = time.Now
	}
	return &Redis{client: client, key: key, now: now}
}

func (q *Redis) Enqueue(ctx context.Context, reference, payload string, reason *string) (domain.ContingencyRecord, error) {
	record := domain.ContingencyRecord{
		Reference: reference,
		Payload:   payload,
		CreatedAt: q.now().UTC(),
		Reason:    reason,
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return domain.ContingencyRecord{}, &domain.ErrQueue{Op: "enqueue", Err: err}
	}
	if err := q.client.RPush(ctx, q.key, raw).Err(); err != nil {
		return domain.ContingencyRecord{}, &domain.ErrQueue{Op: "enqueue", Err: err}
	}
	return record, nil
}

func (q *Redis) Pending(ctx context.Context) ([]domain.ContingencyRecord, error) {
	members, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return nil, &domain.ErrQueue{Op: "pending", Err: err}
	}
	out, err := decodeMembers(members)
	if err != nil {
		return nil, &domain.ErrQueue{Op: "pending", Err: err}
	}
	return out, nil
}

// Flush reads and deletes the list inside MULTI/EXEC.
func (q *Redis) Flush(ctx context.Context) ([]domain.ContingencyRecord, error) {
	var lrange *redis.StringSliceCmd
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, q.key, 0, -1)
		pipe.Del(ctx, q.key)
		return nil
	})
	if err != nil {
		return nil, &domain.ErrQueue{Op: "flush", Err: err}
	}
	out, err := decodeMembers(lrange.Val())
	if err != nil {
		return nil, &domain.ErrQueue{Op: "flush", Err: err}
	}
	return out, nil
}

func (q *Redis) Remove(ctx context.Context, reference string) (bool, error) {
	members, err := q.client.LRange(ctx, q.key, 0, -1).Result()
	if err != nil {
		return false, &domain.ErrQueue{Op: "remove", Err: err}
	}
	for _, m := range members {
		var r domain.ContingencyRecord
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			continue
		}
		if r.Reference != reference {
			continue
		}
		n, err := q.client.LRem(ctx, q.key, 1, m).Result()
		if err != nil {
			return false, &domain.ErrQueue{Op: "remove", Err: err}
		}
		return n > 0, nil
	}
	return false, nil
}

func (q *Redis) Len(ctx context.Context) (int, error) {
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, &domain.ErrQueue{Op: "len", Err: err}
	}
	return int(n), nil
}

func decodeMembers(members []string) ([]domain.ContingencyRecord, error) {
	out := make([]domain.ContingencyRecord, 0, len(members))
	for _, m := range members {
		var r domain.ContingencyRecord
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
