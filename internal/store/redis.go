package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"meeting-insights-go/internal/types"
)

// Redis layout:
//
//	meeting:<id>  => JSON(job)
//	meetings:seq  => insertion counter
//	meetings      => sorted set of "<seq>:<id>" scored by created_at (unix micros)
//
// Members sharing a score sort lexically, so the zero-padded seq prefix keeps
// same-instant jobs in insertion order.
const (
	redisIndexKey   = "meetings"
	redisSeqKey     = "meetings:seq"
	redisMaxRetries = 5
)

// redisRecord keeps the source path, which is hidden from the public JSON form,
// and the seq that names the job's index member.
type redisRecord struct {
	types.Job
	SourcePath string `json:"source_path,omitempty"`
	Seq        int64  `json:"seq"`
}

func (r redisRecord) job() types.Job {
	j := r.Job
	j.SourcePath = r.SourcePath
	return j
}

type Redis struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Redis) key(id string) string { return fmt.Sprintf("meeting:%s", id) }

func member(seq int64, id string) string { return fmt.Sprintf("%020d:%s", seq, id) }

func memberID(m string) string {
	if _, id, ok := strings.Cut(m, ":"); ok {
		return id
	}
	return m
}

func memberIDs(members []string) []string {
	ids := make([]string, len(members))
	for i, m := range members {
		ids[i] = memberID(m)
	}
	return ids
}

func (r *Redis) Create(ctx context.Context, job types.Job) error {
	if err := validateNew(job); err != nil {
		return err
	}
	seq, err := r.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return wrap("create", err)
	}
	b, err := json.Marshal(redisRecord{Job: job, SourcePath: job.SourcePath, Seq: seq})
	if err != nil {
		return wrap("create", err)
	}
	key := r.key(job.ID)

	err = r.withRetry(ctx, key, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			pipe.ZAdd(ctx, redisIndexKey, redis.Z{Score: score(job.CreatedAt), Member: member(seq, job.ID)})
			return nil
		})
		return err
	})
	return wrap("create", err)
}

func (r *Redis) Get(ctx context.Context, id string) (types.Job, error) {
	rec, err := r.load(ctx, r.client, id)
	return rec.job(), wrap("get", err)
}

func (r *Redis) UpdateStatus(ctx context.Context, id string, status types.JobStatus, errMsg string) (types.Job, error) {
	return r.update(ctx, "update status", id, func(j *types.Job) error {
		return applyStatus(j, status, errMsg, r.now())
	})
}

func (r *Redis) UpdateResults(ctx context.Context, id string, result types.Result, status types.JobStatus) (types.Job, error) {
	return r.update(ctx, "update results", id, func(j *types.Job) error {
		return applyResults(j, result, status, r.now())
	})
}

// update runs a read-modify-write under WATCH so concurrent writers retry
// instead of overwriting each other.
func (r *Redis) update(ctx context.Context, op, id string, mutate func(*types.Job) error) (types.Job, error) {
	key := r.key(id)
	var out types.Job
	err := r.withRetry(ctx, key, func(tx *redis.Tx) error {
		rec, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		job := rec.job()
		if err := mutate(&job); err != nil {
			return err
		}
		b, err := json.Marshal(redisRecord{Job: job, SourcePath: job.SourcePath, Seq: rec.Seq})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, 0)
			return nil
		})
		if err == nil {
			out = job
		}
		return err
	})
	if err != nil {
		return types.Job{}, wrap(op, err)
	}
	return out, nil
}

func (r *Redis) withRetry(ctx context.Context, key string, fn func(*redis.Tx) error) error {
	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("%s: too many concurrent writers", key)
}

func (r *Redis) List(ctx context.Context, limit, offset int) ([]types.Job, error) {
	limit, offset = NormalizePage(limit, offset)
	members, err := r.client.ZRevRange(ctx, redisIndexKey, int64(offset), int64(offset+limit-1)).Result()
	if err != nil {
		return nil, wrap("list", err)
	}
	jobs, err := r.loadMany(ctx, memberIDs(members))
	return jobs, wrap("list", err)
}

func (r *Redis) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, redisIndexKey).Result()
	if err != nil {
		return 0, wrap("count", err)
	}
	return int(n), nil
}

func (r *Redis) ListByStatus(ctx context.Context, status types.JobStatus) ([]types.Job, error) {
	members, err := r.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, wrap("list by status", err)
	}
	all, err := r.loadMany(ctx, memberIDs(members))
	if err != nil {
		return nil, wrap("list by status", err)
	}
	jobs := []types.Job{}
	for _, j := range all {
		if j.Status == status {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	rec, err := r.load(ctx, r.client, id)
	if err != nil {
		return wrap("delete", err)
	}
	var del *redis.IntCmd
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, redisIndexKey, member(rec.Seq, id))
		return nil
	})
	if err != nil {
		return wrap("delete", err)
	}
	if del.Val() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Redis) Close() error { return r.client.Close() }

// getter is satisfied by both *redis.Client and *redis.Tx.
type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *Redis) load(ctx context.Context, c getter, id string) (redisRecord, error) {
	b, err := c.Get(ctx, r.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return redisRecord{}, ErrNotFound
	}
	if err != nil {
		return redisRecord{}, err
	}
	var rec redisRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return redisRecord{}, fmt.Errorf("decode %s: %w", id, err)
	}
	return rec, nil
}

// loadMany fetches ids in order. Ids whose key vanished between the index read
// and the MGET are skipped.
func (r *Redis) loadMany(ctx context.Context, ids []string) ([]types.Job, error) {
	jobs := []types.Job{}
	if len(ids) == 0 {
		return jobs, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.key(id)
	}
	vals, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec redisRecord
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", ids[i], err)
		}
		jobs = append(jobs, rec.job())
	}
	return jobs, nil
}

// score orders by creation time. Ties are broken by the member's seq prefix.
func score(t time.Time) float64 {
	return float64(t.UnixMicro())
}
