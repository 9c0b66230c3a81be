package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"logorender/internal/domain"
	"logorender/internal/infra/logging"
)

const keyPrefix = "rendercache:"

// Results caches completed storage-backed results so an identical request
// returns the existing presigned URL instead of rendering again.
type Results struct {
	rdb *redis.Client
	ttl time.Duration
}

// New wraps a Redis client. A nil client yields a cache that never hits.
func New(rdb *redis.Client, ttl time.Duration) *Results {
	return &Results{rdb: rdb, ttl: ttl}
}

// Key hashes the image bytes, every parameter that changes the output and the
// job id, which is part of the stored object key.
func Key(image []byte, p domain.Params) string {
	h := sha256.New()
	h.Write(image)
	h.Write([]byte{0})
	for _, field := range []string{
		p.Material,
		strconv.FormatFloat(p.ExtrudeDepth, 'f', -1, 64),
		strconv.FormatFloat(p.BevelDepth, 'f', -1, 64),
		strconv.FormatBool(p.Transparent),
		p.UserID,
		p.JobID,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached result, or nil on a miss or an unavailable Redis.
func (r *Results) Get(ctx context.Context, key string) *domain.Result {
	if r == nil || r.rdb == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	var res domain.Result
	if err := json.Unmarshal(data, &res); err != nil {
		logging.Warn("Discarding corrupt cache entry", "key", key, "error", err)
		return nil
	}
	logging.Info("Render cache hit", "key", key)
	res.Cached = true
	return &res
}

// Set stores res for ttl, capped by the configured TTL and never below a
// minute. A positive ttl under a minute is not cached at all since the entry
// would outlive the URL it holds.
func (r *Results) Set(ctx context.Context, key string, res *domain.Result, ttl time.Duration) {
	if r == nil || r.rdb == nil || res == nil {
		return
	}
	if ttl > 0 && ttl < time.Minute {
		return
	}
	if r.ttl > 0 && (ttl <= 0 || ttl > r.ttl) {
		ttl = r.ttl
	}
	if ttl < time.Minute {
		ttl = time.Minute
	}

	data, err := json.Marshal(res)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := r.rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
