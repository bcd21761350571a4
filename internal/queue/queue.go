// Package queue implements the Redis-backed job store shared by the API
// and worker processes.
//
// Layout in Redis:
//   - demo2apk:job:<id>    hash with the task payload, state, progress, result
//   - demo2apk:waiting     list of job ids awaiting a worker (FIFO)
//   - demo2apk:active      list of job ids currently leased
//   - demo2apk:completed   zset of finished ids scored by finish time
//   - demo2apk:failed      zset of failed ids scored by finish time
//   - demo2apk:ratelimit:* per-client submission counters
//
// Admission is idempotent per job id, the waiting→active move is a single
// atomic LMOVE so at most one worker holds a job, and finished jobs are
// evicted by age (completed 24h, failed 7d) and by count (oldest first
// past 1000 entries).
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
)

const (
	keyJobPrefix  = "demo2apk:job:"
	keyWaiting    = "demo2apk:waiting"
	keyActive     = "demo2apk:active"
	keyCompleted  = "demo2apk:completed"
	keyFailed     = "demo2apk:failed"
	keyRatePrefix = "demo2apk:ratelimit:"
)

const (
	// CompletedRetention is how long completed jobs stay queryable.
	CompletedRetention = 24 * time.Hour
	// FailedRetention is how long failed jobs stay queryable.
	FailedRetention = 7 * 24 * time.Hour
	// FinishedCap bounds the finished sets; the oldest entries are
	// evicted first once the cap is reached.
	FinishedCap = 1000
	// positionScanLimit bounds the waiting-list scan when computing a
	// job's 1-based queue position.
	positionScanLimit = 100
)

var (
	// ErrNotFound is returned when no job exists for a task id.
	ErrNotFound = errors.New("job not found")
	// ErrActive is returned when removing a job a worker currently holds.
	ErrActive = errors.New("job is active")
)

// enqueueScript creates the job hash and pushes the id onto the waiting
// list only if the hash does not exist yet. ARGV[1] is the job id, the
// rest are hash field/value pairs.
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1], unpack(ARGV, 2))
redis.call("RPUSH", KEYS[2], ARGV[1])
return 1
`)

// progressScript updates the progress message and clamps the percent so a
// poller never observes it going backwards.
var progressScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
local cur = tonumber(redis.call("HGET", KEYS[1], "progress_pct") or "0")
local pct = tonumber(ARGV[2])
if pct < cur then
  pct = cur
end
redis.call("HSET", KEYS[1], "progress_msg", ARGV[1], "progress_pct", pct)
return pct
`)

// removeScript deletes a job unless a worker holds it. Returns -1 when the
// job is unknown and -2 when it is active.
var removeScript = redis.NewScript(`
local state = redis.call("HGET", KEYS[1], "state")
if not state then
  return -1
end
if state == "active" then
  return -2
end
redis.call("LREM", KEYS[2], 1, ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[1])
redis.call("ZREM", KEYS[4], ARGV[1])
redis.call("DEL", KEYS[1])
return 1
`)

// rateScript bumps a client's submission counter, arming the window TTL on
// first use. Returns {count, remaining window in ms}.
var rateScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {c, ttl}
`)

// Queue is the job store handle. Safe for concurrent use.
type Queue struct {
	rdb *redis.Client
	log *logging.Logger
}

// New connects to the queue backend and verifies the connection.
func New(redisURL string, log *logging.Logger) (*Queue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	log.Info().Str("redis", logging.MaskURL(redisURL)).Msg("Queue backend connected")
	return &Queue{rdb: rdb, log: log}, nil
}

// NewFromClient wraps an existing client. Used by tests with miniredis.
func NewFromClient(rdb *redis.Client, log *logging.Logger) *Queue {
	return &Queue{rdb: rdb, log: log}
}

// Close releases the backend connection.
func (q *Queue) Close() error {
	return q.rdb.Close()
}

// Ping verifies the backend connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

// Enqueue admits a task. It reports false when a job with the same id
// already exists; re-submission is a no-op.
func (q *Queue) Enqueue(ctx context.Context, task models.Task) (bool, error) {
	rec := recordFromTask(task)
	args := append([]interface{}{task.ID}, rec.pairs()...)
	created, err := enqueueScript.Run(ctx, q.rdb, []string{jobKey(task.ID), keyWaiting}, args...).Int()
	if err != nil {
		return false, fmt.Errorf("enqueue %s: %w", task.ID, err)
	}
	return created == 1, nil
}

// Lease atomically moves the oldest waiting job to the active list and
// marks it owned by the caller. Blocks up to timeout when it is positive;
// returns (nil, nil) when no job is available.
func (q *Queue) Lease(ctx context.Context, owner string, timeout time.Duration) (*models.Job, error) {
	var id string
	var err error
	if timeout > 0 {
		id, err = q.rdb.BLMove(ctx, keyWaiting, keyActive, "LEFT", "RIGHT", timeout).Result()
	} else {
		id, err = q.rdb.LMove(ctx, keyWaiting, keyActive, "LEFT", "RIGHT").Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lease: %w", err)
	}

	now := time.Now()
	fields := map[string]interface{}{
		"state":      string(models.StateActive),
		"owner":      owner,
		"started_at": now.UnixMilli(),
	}
	if err := q.rdb.HSet(ctx, jobKey(id), fields).Err(); err != nil {
		return nil, fmt.Errorf("lease %s: %w", id, err)
	}

	job, err := q.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		// The job record was removed while the id sat in the waiting
		// list. Drop the orphan and report no work.
		q.rdb.LRem(ctx, keyActive, 1, id)
		return nil, nil
	}
	return job, err
}

// UpdateProgress writes build progress into the job record without a state
// transition. Percent is clamped to [0,100] and never decreases.
func (q *Queue) UpdateProgress(ctx context.Context, id, message string, percent int) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	res, err := progressScript.Run(ctx, q.rdb, []string{jobKey(id)}, message, percent).Int()
	if err != nil {
		return fmt.Errorf("progress %s: %w", id, err)
	}
	if res < 0 {
		return ErrNotFound
	}
	return nil
}

// Complete records a terminal result and transitions the job to completed.
// Logical build failures are still "completed" here; the status surface
// collapses them to failed.
func (q *Queue) Complete(ctx context.Context, id string, result models.Result) error {
	return q.finish(ctx, id, models.StateCompleted, result)
}

// Fail transitions the job to failed. Reserved for infrastructure-level
// failures; the worker reports build failures through Complete.
func (q *Queue) Fail(ctx context.Context, id string, errMsg string) error {
	return q.finish(ctx, id, models.StateFailed, models.Result{Success: false, Error: errMsg})
}

func (q *Queue) finish(ctx context.Context, id string, state models.State, result models.Result) error {
	now := time.Now()
	doneKey := keyCompleted
	ttl := CompletedRetention
	if state == models.StateFailed {
		doneKey = keyFailed
		ttl = FailedRetention
	}

	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, jobKey(id), map[string]interface{}{
			"state":       string(state),
			"has_result":  true,
			"success":     result.Success,
			"apk_path":    result.APKPath,
			"error":       result.Error,
			"duration_ms": result.Duration.Milliseconds(),
			"finished_at": now.UnixMilli(),
		})
		pipe.LRem(ctx, keyActive, 1, id)
		pipe.ZAdd(ctx, doneKey, redis.Z{Score: float64(now.UnixMilli()), Member: id})
		pipe.Expire(ctx, jobKey(id), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("finish %s: %w", id, err)
	}

	q.trimFinished(ctx, doneKey, ttl)
	return nil
}

// trimFinished evicts finished jobs past their retention window and past
// the entry cap, oldest first. Best-effort; failures are logged only.
func (q *Queue) trimFinished(ctx context.Context, doneKey string, ttl time.Duration) {
	cutoff := time.Now().Add(-ttl).UnixMilli()
	expired, err := q.rdb.ZRangeByScore(ctx, doneKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
	if err == nil && len(expired) > 0 {
		q.dropFinished(ctx, doneKey, expired)
	}

	card, err := q.rdb.ZCard(ctx, doneKey).Result()
	if err != nil || card <= FinishedCap {
		return
	}
	oldest, err := q.rdb.ZRange(ctx, doneKey, 0, card-FinishedCap-1).Result()
	if err == nil && len(oldest) > 0 {
		q.dropFinished(ctx, doneKey, oldest)
	}
}

func (q *Queue) dropFinished(ctx context.Context, doneKey string, ids []string) {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		members := make([]interface{}, len(ids))
		for i, id := range ids {
			members[i] = id
			pipe.Del(ctx, jobKey(id))
		}
		pipe.ZRem(ctx, doneKey, members...)
		return nil
	})
	if err != nil {
		q.log.Warn().Err(err).Int("count", len(ids)).Msg("Failed to evict finished jobs")
	}
}

// Get loads a job by task id.
func (q *Queue) Get(ctx context.Context, id string) (*models.Job, error) {
	cmd := q.rdb.HGetAll(ctx, jobKey(id))
	res, err := cmd.Result()
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", id, err)
	}
	if len(res) == 0 {
		return nil, ErrNotFound
	}

	var rec jobRecord
	if err := cmd.Scan(&rec); err != nil {
		return nil, fmt.Errorf("scan %s: %w", id, err)
	}
	return rec.toJob(), nil
}

// Remove deletes a job from the store. Returns ErrActive while a worker
// holds the job and ErrNotFound for unknown ids.
func (q *Queue) Remove(ctx context.Context, id string) error {
	res, err := removeScript.Run(ctx, q.rdb,
		[]string{jobKey(id), keyWaiting, keyCompleted, keyFailed}, id).Int()
	if err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	switch res {
	case -1:
		return ErrNotFound
	case -2:
		return ErrActive
	}
	return nil
}

// Position reports a waiting job's 1-based place in the queue, scanning at
// most the first 100 waiting entries, plus the total number of waiting and
// active jobs. Position 0 means "not in the scanned window".
func (q *Queue) Position(ctx context.Context, id string) (int, int64, error) {
	waiting, err := q.rdb.LRange(ctx, keyWaiting, 0, positionScanLimit-1).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("position %s: %w", id, err)
	}
	pos := 0
	for i, w := range waiting {
		if w == id {
			pos = i + 1
			break
		}
	}

	var totals []int64
	cmds, err := q.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LLen(ctx, keyWaiting)
		pipe.LLen(ctx, keyActive)
		return nil
	})
	if err != nil {
		return pos, 0, fmt.Errorf("position %s: %w", id, err)
	}
	for _, cmd := range cmds {
		if c, ok := cmd.(*redis.IntCmd); ok {
			totals = append(totals, c.Val())
		}
	}
	var total int64
	for _, t := range totals {
		total += t
	}
	return pos, total, nil
}

func jobKey(id string) string {
	return keyJobPrefix + id
}
