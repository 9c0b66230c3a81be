package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"logorender/internal/config"
	"logorender/internal/domain"
	"logorender/internal/infra/logging"
	"logorender/internal/infra/process"
)

// Encoder turns a numbered PNG sequence into a video file.
type Encoder struct {
	Executable string
	Framerate  int
	CRF        int
	Codec      string
	PixFmt     string
	Timeout    time.Duration
}

// NewEncoder builds an Encoder from configuration.
func NewEncoder(cfg config.TranscodeConfig) *Encoder {
	return &Encoder{
		Executable: cfg.FFmpegPath,
		Framerate:  cfg.Framerate,
		CRF:        cfg.CRF,
		Codec:      cfg.Codec,
		PixFmt:     cfg.PixFmt,
		Timeout:    cfg.Timeout(),
	}
}

// Extension is the container used for the given alpha requirement. H.264 in
// MP4 has no alpha channel, so transparent renders go to VP9 in WebM.
func Extension(transparent bool) string {
	if transparent {
		return ".webm"
	}
	return ".mp4"
}

// Pattern derives the ffmpeg input pattern (dir/frame_%04d.png) and the start
// number from the first frame of a sequence.
func Pattern(firstFrame, prefix string) (string, int, error) {
	base := filepath.Base(firstFrame)
	if !strings.HasPrefix(base, prefix) {
		return "", 0, fmt.Errorf("frame %q does not match prefix %q", base, prefix)
	}
	ext := filepath.Ext(base)
	digits := strings.TrimSuffix(strings.TrimPrefix(base, prefix), ext)
	start, err := strconv.Atoi(digits)
	if err != nil {
		return "", 0, fmt.Errorf("frame %q has no numeric index", base)
	}
	return filepath.Join(filepath.Dir(firstFrame), fmt.Sprintf("%s%%0%dd%s", prefix, len(digits), ext)), start, nil
}

// Args builds the ffmpeg command line for a frame sequence.
func (e *Encoder) Args(pattern string, startNumber int, outPath string, transparent bool) []string {
	codec, pixFmt := e.Codec, e.PixFmt
	if codec == "" {
		codec = "libx264"
	}
	if pixFmt == "" {
		pixFmt = "yuv420p"
	}
	if transparent {
		codec, pixFmt = "libvpx-vp9", "yuva420p"
	}
	args := []string{
		"-y",
		"-framerate", strconv.Itoa(e.Framerate),
		"-start_number", strconv.Itoa(startNumber),
		"-i", pattern,
		"-c:v", codec,
		"-pix_fmt", pixFmt,
		"-crf", strconv.Itoa(e.CRF),
	}
	if transparent {
		// VP9 constant-quality mode needs an explicit zero bitrate.
		args = append(args, "-b:v", "0")
	}
	return append(args, outPath)
}

// Encode writes frames (ordered, same directory, shared prefix) to outPath.
func (e *Encoder) Encode(ctx context.Context, frames []string, prefix, outPath string, transparent bool) error {
	if len(frames) == 0 {
		return domain.Errorf(domain.KindTranscodeFailed, "Video creation failed: no frames")
	}
	bin, err := process.Locate(e.Executable, "ffmpeg")
	if err != nil {
		return domain.Wrap(domain.KindExecutableNotFound, "ffmpeg not found", err)
	}

	pattern, start, err := Pattern(frames[0], prefix)
	if err != nil {
		return domain.Wrap(domain.KindTranscodeFailed, "Video creation failed", err)
	}

	args := e.Args(pattern, start, outPath, transparent)
	logging.Info("Creating video", "frames", len(frames), "output", filepath.Base(outPath), "transparent", transparent)

	out, err := process.Run(ctx, e.Timeout, "", bin, args...)
	if err != nil {
		switch {
		case errors.Is(err, process.ErrTimedOut):
			return domain.Errorf(domain.KindTranscodeFailed, "Video creation timed out after %d seconds", int(e.Timeout.Seconds()))
		case errors.Is(err, process.ErrNotFound):
			return domain.Wrap(domain.KindExecutableNotFound, "ffmpeg not found", err)
		}
		stderr := strings.TrimSpace(out.Stderr)
		logging.Error("FFmpeg failed", "exit_code", out.ExitCode, "stderr", stderr)
		if stderr == "" {
			return domain.Wrap(domain.KindTranscodeFailed, "Video creation failed", err)
		}
		return domain.Errorf(domain.KindTranscodeFailed, "Video creation failed: %s", stderr)
	}

	st, err := os.Stat(outPath)
	if err != nil || st.Size() == 0 {
		return domain.Errorf(domain.KindTranscodeFailed, "Video creation failed: no video written")
	}
	logging.Info("Video created", "bytes", st.Size(), "elapsed_secs", out.Elapsed.Seconds())
	return nil
}
