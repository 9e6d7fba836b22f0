package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"

	"shorts-pipeline/types"
)

// Redis keeps pending jobs in a list. Pop moves a job onto a processing
// list until it is acked, and Recover puts jobs a dead worker left there
// back at the head of the queue. In-flight claims are per-key strings with
// a TTL, so a claim left by a killed worker expires on its own.
type Redis struct {
	rdb           *redis.Client
	key           string
	processingKey string
	claimPrefix   string
	claimTTL      time.Duration

	mu     sync.Mutex
	popped map[string]string
}

// DialRedis connects to url (redis:// or rediss://) and pings it.
func DialRedis(ctx context.Context, url, key, inFlightKey string, claimTTL time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opts.DialTimeout = 10 * time.Second
	opts.ReadTimeout = 30 * time.Second
	opts.WriteTimeout = 30 * time.Second
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "redis ping")
	}
	return NewRedis(rdb, key, inFlightKey, claimTTL), nil
}

// NewRedis wraps an existing client. Claims live under inFlightKey + ":".
func NewRedis(rdb *redis.Client, key, inFlightKey string, claimTTL time.Duration) *Redis {
	if claimTTL <= 0 {
		claimTTL = 6 * time.Hour
	}
	return &Redis{
		rdb:           rdb,
		key:           key,
		processingKey: key + ":processing",
		claimPrefix:   inFlightKey + ":",
		claimTTL:      claimTTL,
		popped:        make(map[string]string),
	}
}

// Push appends job to the pending list.
func (r *Redis) Push(ctx context.Context, job *types.GenerationJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encode job")
	}
	return r.rdb.RPush(ctx, r.key, data).Err()
}

// Pop moves the oldest pending job onto the processing list.
func (r *Redis) Pop(ctx context.Context) (*types.GenerationJob, error) {
	data, err := r.rdb.LMove(ctx, r.key, r.processingKey, "LEFT", "RIGHT").Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis pop")
	}
	var job types.GenerationJob
	if err := json.Unmarshal([]byte(data), &job); err != nil {
		_ = r.rdb.LRem(ctx, r.processingKey, 1, data).Err()
		return nil, errors.Wrap(err, "decode job")
	}
	r.mu.Lock()
	r.popped[job.ID] = data
	r.mu.Unlock()
	return &job, nil
}

// Ack removes a finished job from the processing list.
func (r *Redis) Ack(ctx context.Context, job *types.GenerationJob) error {
	r.mu.Lock()
	data, ok := r.popped[job.ID]
	delete(r.popped, job.ID)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.rdb.LRem(ctx, r.processingKey, 1, data).Err()
}

// Recover moves every job on the processing list back to the head of the
// pending list, oldest first, and renews its claim. Call it before the
// worker starts; with a single worker anything still processing belongs to
// a worker that died.
func (r *Redis) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		data, err := r.rdb.LMove(ctx, r.processingKey, r.key, "RIGHT", "LEFT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, errors.Wrap(err, "redis recover")
		}
		n++
		var job types.GenerationJob
		if err := json.Unmarshal([]byte(data), &job); err != nil {
			continue
		}
		if err := r.rdb.Set(ctx, r.claimPrefix+job.DedupeKey(), job.ID, r.claimTTL).Err(); err != nil {
			return n, errors.Wrap(err, "renew claim")
		}
	}
}

// Claim sets the key's claim if none exists. The claim expires after the
// claim TTL even if Release is never called.
func (r *Redis) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.claimPrefix+key, time.Now().UTC().Format(time.RFC3339), r.claimTTL).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis claim")
	}
	return ok, nil
}

// Release drops the key's claim.
func (r *Redis) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.claimPrefix+key).Err()
}

// Len returns the number of pending jobs.
func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.LLen(ctx, r.key).Result()
	return int(n), err
}

// Close closes the client.
func (r *Redis) Close() error { return r.rdb.Close() }

var (
	_ Backend   = (*Redis)(nil)
	_ Recoverer = (*Redis)(nil)
	_ Backend   = (*Memory)(nil)
)
