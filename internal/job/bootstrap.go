package job

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"logorender/internal/config"
	"logorender/internal/infra/blender"
	"logorender/internal/infra/cache"
	"logorender/internal/infra/ffmpeg"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/s3store"
)

// NewFromConfig wires the production collaborators. rdb may be nil. The
// returned store is nil when object storage is disabled.
func NewFromConfig(ctx context.Context, cfg config.Config, rdb *redis.Client) (*Orchestrator, *s3store.Store, error) {
	opts := Options{Renderer: blender.NewRunner(cfg.Render)}

	if cfg.Render.MaxConcurrent > 0 {
		slots, err := blender.NewSlots(cfg.Render.MaxConcurrent)
		if err != nil {
			return nil, nil, err
		}
		opts.Slots = slots
	}

	if cfg.Transcode.Enabled {
		opts.Transcoder = ffmpeg.NewEncoder(cfg.Transcode)
	}

	var store *s3store.Store
	if cfg.Storage.Enabled {
		s, err := s3store.NewFromConfig(ctx, cfg.Storage)
		if err != nil {
			return nil, nil, fmt.Errorf("object storage: %w", err)
		}
		store = s
		opts.Uploader = s
		logging.Info("Object storage enabled", "bucket", cfg.Storage.Bucket, "region", cfg.Storage.Region)
	} else {
		logging.Warn("Object storage disabled, results are returned inline")
	}

	if rdb != nil && cfg.Cache.ResultCacheEnabled {
		opts.Cache = cache.New(rdb, cfg.Cache.ResultTTL)
	}

	return New(cfg, opts), store, nil
}
