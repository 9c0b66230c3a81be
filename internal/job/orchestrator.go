// Package job runs one logo render end to end: validation, the render host,
// transcoding and delivery of the artifact.
package job

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/xid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/infra/blender"
	"logorender/internal/infra/cache"
	"logorender/internal/infra/ffmpeg"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/s3store"
)

// Renderer runs the render host.
type Renderer interface {
	Render(ctx context.Context, job blender.Job) (*blender.Result, error)
}

// Transcoder turns a frame sequence into a video file.
type Transcoder interface {
	Encode(ctx context.Context, frames []string, prefix, outPath string, transparent bool) error
}

// Uploader stores an artifact and returns a presigned URL.
type Uploader interface {
	Upload(ctx context.Context, path, userID, jobID string) (*s3store.Upload, error)
	Expiry() time.Duration
}

// ResultCache remembers completed results.
type ResultCache interface {
	Get(ctx context.Context, key string) *domain.Result
	Set(ctx context.Context, key string, res *domain.Result, ttl time.Duration)
}

// Options are the collaborators of an Orchestrator. Nil members disable the
// matching step: no Transcoder keeps the first frame, no Uploader inlines
// the artifact, no Slots means unbounded concurrency, no Cache never hits.
type Options struct {
	Renderer   Renderer
	Transcoder Transcoder
	Uploader   Uploader
	Slots      *blender.Slots
	Cache      ResultCache
}

// Request is one render as received from a transport.
type Request struct {
	// Image is the base64 SVG payload, optionally a data URL.
	Image  string
	Params domain.Params
}

// Orchestrator executes render requests.
type Orchestrator struct {
	cfg        config.Config
	renderer   Renderer
	transcoder Transcoder
	uploader   Uploader
	slots      *blender.Slots
	cache      ResultCache
	tracer     trace.Tracer
}

// New builds an Orchestrator. In video output mode the host encodes the
// video itself and the transcoder is never used.
func New(cfg config.Config, opts Options) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		renderer:   opts.Renderer,
		transcoder: opts.Transcoder,
		uploader:   opts.Uploader,
		slots:      opts.Slots,
		cache:      opts.Cache,
		tracer:     otel.Tracer("logorender/job"),
	}
	if cfg.Render.OutputMode == "video" {
		o.transcoder = nil
	}
	return o
}

// Slots returns the render slots, nil when concurrency is unbounded.
func (o *Orchestrator) Slots() *blender.Slots { return o.slots }

// Run executes req. The returned result is never nil: on failure it carries
// the error message and kind, and LocalPath when an artifact was retained.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.Result, error) {
	p := req.Params
	keyParams := p
	if p.JobID == "" {
		p.JobID = xid.New().String()
	}

	ctx, span := o.tracer.Start(ctx, "job.Run", trace.WithAttributes(
		attribute.String("job.id", p.JobID),
		attribute.String("render.material", p.Material),
		attribute.Bool("render.transparent", p.Transparent),
	))
	defer span.End()

	res := &domain.Result{JobID: p.JobID, UserID: p.UserID}
	fail := func(err error) (*domain.Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logging.Error("Render job failed", "job_id", p.JobID, "kind", string(domain.KindOf(err)), "error", err)
		return res.Failed(err), err
	}

	if err := p.Validate(o.cfg.Render.MaxTimeout()); err != nil {
		return fail(err)
	}

	img, err := domain.DecodeImage(req.Image)
	if err != nil {
		return fail(err)
	}
	if limit := o.cfg.Limits.MaxInputBytes; limit > 0 && len(img) > limit {
		return fail(domain.Errorf(domain.KindInvalidParameter, "Image too large: %d bytes exceeds limit of %d", len(img), limit))
	}

	cacheKey := ""
	if o.cacheable() {
		// Only a caller-named job id is part of the key; a hit for a
		// generated id reports the job that produced the artifact.
		keyParams.Material = p.Material
		cacheKey = cache.Key(img, keyParams)
		if hit := o.cache.Get(ctx, cacheKey); hit != nil {
			span.SetAttributes(attribute.Bool("render.cached", true))
			return hit, nil
		}
	}

	if o.slots != nil {
		slot, err := o.acquire(ctx)
		if err != nil {
			return fail(err)
		}
		defer o.slots.Release(slot)
	}

	dir, err := o.workDir(p.JobID)
	if err != nil {
		return fail(domain.Wrap(domain.KindInternal, "Cannot create working directory", err))
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			logging.Warn("Failed to remove working directory", "dir", dir, "error", err)
		}
	}()

	inputPath := filepath.Join(dir, "input.svg")
	outDir := filepath.Join(dir, "out")
	if err := os.WriteFile(inputPath, img, 0o600); err != nil {
		return fail(domain.Wrap(domain.KindInternal, "Cannot write input image", err))
	}
	if err := os.Mkdir(outDir, 0o755); err != nil {
		return fail(domain.Wrap(domain.KindInternal, "Cannot create output directory", err))
	}

	rendered, err := o.render(ctx, blender.Job{InputPath: inputPath, OutputDir: outDir, Params: p})
	if err != nil {
		return fail(err)
	}
	res.FrameCount = rendered.FrameCount()
	res.RenderSeconds = math.Round(rendered.Elapsed.Seconds()*100) / 100

	artifact, err := o.artifact(ctx, dir, rendered, p)
	if err != nil {
		return fail(err)
	}
	res.ContentType = domain.ContentTypeFor(artifact)

	if o.uploader != nil {
		up, err := o.upload(ctx, artifact, p)
		if err != nil {
			if kept, rerr := o.retain(artifact, p.JobID); rerr == nil {
				res.LocalPath = kept
			} else {
				logging.Error("Failed to retain artifact", "job_id", p.JobID, "error", rerr)
			}
			return fail(err)
		}
		res.Status = domain.StatusCompleted
		res.Message = "Render completed successfully"
		res.OutputURL = up.URL
		res.ObjectKey = up.Key
		res.OutputBytes = up.Bytes
		res.ContentType = up.ContentType

		if cacheKey != "" {
			o.cache.Set(ctx, cacheKey, res, o.cacheTTL())
		}
		logging.Info("Render job completed", "job_id", p.JobID, "key", up.Key, "bytes", up.Bytes)
		return res, nil
	}

	url, size, err := o.inline(artifact)
	if err != nil {
		return fail(err)
	}
	res.Status = domain.StatusCompleted
	res.Message = "Render completed successfully"
	res.OutputURL = url
	res.OutputBytes = size
	logging.Info("Render job completed", "job_id", p.JobID, "bytes", size, "inline", true)
	return res, nil
}

func (o *Orchestrator) cacheable() bool {
	return o.cache != nil && o.uploader != nil && o.cfg.Cache.ResultCacheEnabled
}

func (o *Orchestrator) cacheTTL() time.Duration {
	ttl := o.cfg.Cache.ResultTTL
	if exp := o.uploader.Expiry(); exp > 0 && (ttl <= 0 || exp < ttl) {
		ttl = exp
	}
	return ttl
}

func (o *Orchestrator) acquire(ctx context.Context) (*blender.Slot, error) {
	ctx, span := o.tracer.Start(ctx, "job.acquire_slot")
	defer span.End()

	wait := o.cfg.Render.AcquireTimeout
	if wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}
	slot, err := o.slots.Acquire(ctx)
	if err != nil {
		st := o.slots.Stats()
		logging.Warn("No render slot available", "capacity", st.Capacity, "in_use", st.InUse, "error", err)
		return nil, domain.Wrap(domain.KindBusy, "Renderer busy, try again later", err)
	}
	return slot, nil
}

func (o *Orchestrator) workDir(jobID string) (string, error) {
	base := o.cfg.Render.WorkDir
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(base, "logorender-"+jobID+"-")
}

func (o *Orchestrator) render(ctx context.Context, job blender.Job) (*blender.Result, error) {
	ctx, span := o.tracer.Start(ctx, "job.render")
	defer span.End()

	if o.renderer == nil {
		return nil, domain.Errorf(domain.KindInternal, "No render host configured")
	}
	out, err := o.renderer.Render(ctx, job)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("render.frames", out.FrameCount()))
	return out, nil
}

// artifact picks the file to deliver: the host's video, an encoded video,
// or the first frame.
func (o *Orchestrator) artifact(ctx context.Context, dir string, r *blender.Result, p domain.Params) (string, error) {
	if r.Video != "" {
		return r.Video, nil
	}
	if len(r.Frames) == 0 {
		return "", domain.Errorf(domain.KindNoOutput, "No output files generated")
	}
	if o.transcoder == nil {
		return r.Frames[0], nil
	}

	ctx, span := o.tracer.Start(ctx, "job.transcode", trace.WithAttributes(attribute.Int("render.frames", len(r.Frames))))
	defer span.End()

	out := filepath.Join(dir, "render"+ffmpeg.Extension(p.Transparent))
	if err := o.transcoder.Encode(ctx, r.Frames, o.cfg.Render.FramePrefix, out, p.Transparent); err != nil {
		span.RecordError(err)
		return "", err
	}
	return out, nil
}

func (o *Orchestrator) upload(ctx context.Context, path string, p domain.Params) (*s3store.Upload, error) {
	ctx, span := o.tracer.Start(ctx, "job.upload")
	defer span.End()

	up, err := o.uploader.Upload(ctx, path, p.UserID, p.JobID)
	if err != nil {
		span.RecordError(err)
		if domain.KindOf(err) == domain.KindInternal {
			err = domain.Wrap(domain.KindUploadFailed, "Upload failed", err)
		}
		return nil, err
	}
	span.SetAttributes(attribute.String("storage.key", up.Key))
	return up, nil
}

func (o *Orchestrator) inline(path string) (string, int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindNoOutput, "No output files generated", err)
	}
	if limit := int64(o.cfg.Limits.MaxInlineBytes); limit > 0 && st.Size() > limit {
		return "", 0, domain.Errorf(domain.KindOutputTooLarge,
			"Output too large to return inline: %d bytes exceeds limit of %d; configure object storage", st.Size(), limit)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", 0, domain.Wrap(domain.KindInternal, "Cannot read output", err)
	}
	return "data:" + domain.ContentTypeFor(path) + ";base64," + base64.StdEncoding.EncodeToString(data), st.Size(), nil
}

// retain moves the artifact out of the working directory before it is
// removed and returns its new path.
func (o *Orchestrator) retain(path, jobID string) (string, error) {
	dir := o.cfg.Render.RetainDir
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "logorender-retained")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dst := filepath.Join(dir, jobID+filepath.Ext(path))
	if err := os.Rename(path, dst); err == nil {
		logging.Warn("Artifact retained after upload failure", "job_id", jobID, "path", dst)
		return dst, nil
	}
	if err := copyFile(path, dst); err != nil {
		return "", fmt.Errorf("retain %s: %w", path, err)
	}
	logging.Warn("Artifact retained after upload failure", "job_id", jobID, "path", dst)
	return dst, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(dst)
		}
	}()
	_, err = io.Copy(out, in)
	return err
}
