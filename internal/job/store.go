package job

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/knoguchi/rag/internal/apperr"
)

const (
	// DefaultJobTTL is how long a finished job's state stays readable.
	DefaultJobTTL = 48 * time.Hour

	jobKeyPrefix = "job:"
	queueKey     = "jobs:queue"
)

// RedisStore persists job state under job:<uuid> keys with a TTL and
// dispatches tasks through a Redis list between the HTTP edge and the
// worker process. Dequeue removes a task from the list when it pops it;
// a task whose worker stops before finishing it is not redelivered.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisStore connects to Redis using a redis:// URL and pings it;
// connection failure is returned so startup can treat it as fatal.
func NewRedisStore(ctx context.Context, url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = DefaultJobTTL
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

// Get reads a job's state; unknown IDs are JOB_NOT_FOUND.
func (s *RedisStore) Get(ctx context.Context, jobID string) (State, error) {
	val, err := s.client.Get(ctx, jobKeyPrefix+jobID).Result()
	if errors.Is(err, redis.Nil) {
		return State{}, apperr.New(apperr.KindJobNotFound, "job "+jobID+" not found")
	}
	if err != nil {
		return State{}, err
	}

	var state State
	if err := json.Unmarshal([]byte(val), &state); err != nil {
		return State{}, err
	}
	return state, nil
}

// Set writes a job's state, refreshing its TTL.
func (s *RedisStore) Set(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, jobKeyPrefix+state.JobID, data, s.ttl).Err()
}

// Enqueue pushes a task onto the dispatch queue.
func (s *RedisStore) Enqueue(ctx context.Context, task Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.client.LPush(ctx, queueKey, data).Err()
}

// Dequeue blocks up to wait for the next task; returns nil when the
// queue stayed empty.
func (s *RedisStore) Dequeue(ctx context.Context, wait time.Duration) (*Task, error) {
	res, err := s.client.BRPop(ctx, wait, queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BRPOP returns [key, value].
	if len(res) != 2 {
		return nil, nil
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, err
	}
	return &task, nil
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
