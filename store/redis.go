package store

import (
	"context"
	"encoding/json"
	"path"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"github.com/redis/go-redis/v9"
)

// The keys namespace is organized as follows:
// - `/<prefix>/transcripts/<sessionID>` holds the transcript JSON
// - `/<prefix>/transcripts` is a sorted set of session IDs scored by end time
type redisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore returns a store backed by Redis.
// Transcripts expire after ttl, unless ttl is 0.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration) Store {
	return &redisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

// NewRedisClient returns a client for the redis:// URL
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "invalid Redis URL")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "failed to connect to Redis at %s", opts.Addr)
	}
	return client, nil
}

func (m *redisStore) transcriptKey(sessionID string) string {
	return path.Join(m.prefix, "transcripts", sessionID)
}

func (m *redisStore) indexKey() string {
	return path.Join(m.prefix, "transcripts")
}

func (m *redisStore) Save(ctx context.Context, t *Transcript) error {
	if t == nil || t.SessionID == "" {
		return errors.New("session ID is required")
	}
	data, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transcript")
	}

	ended := t.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	pipe := m.client.Pipeline()
	pipe.Set(ctx, m.transcriptKey(t.SessionID), data, m.ttl)
	pipe.ZAdd(ctx, m.indexKey(), redis.Z{Score: float64(ended.UnixMilli()), Member: t.SessionID})
	if m.ttl > 0 {
		// drop index entries of expired transcripts
		pipe.ZRemRangeByScore(ctx, m.indexKey(), "-inf", formatScore(time.Now().Add(-m.ttl)))
	}
	if _, err = pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to store transcript in Redis")
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "saved",
		"session", t.SessionID,
		"bytes", len(data),
	)
	return nil
}

func (m *redisStore) Get(ctx context.Context, sessionID string) (*Transcript, error) {
	data, err := m.client.Get(ctx, m.transcriptKey(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errors.WithMessagef(ErrNotFound, "%s", sessionID)
		}
		return nil, errors.Wrap(err, "failed to get transcript from Redis")
	}

	t := new(Transcript)
	if err := json.Unmarshal(data, t); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transcript")
	}
	return t, nil
}

func (m *redisStore) List(ctx context.Context, limit int) ([]string, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := m.client.ZRevRange(ctx, m.indexKey(), 0, stop).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to list transcripts from Redis")
	}
	return ids, nil
}

func (m *redisStore) Delete(ctx context.Context, sessionID string) error {
	pipe := m.client.Pipeline()
	pipe.Del(ctx, m.transcriptKey(sessionID))
	pipe.ZRem(ctx, m.indexKey(), sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "failed to delete transcript in Redis")
	}
	return nil
}

func formatScore(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
